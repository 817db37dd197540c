// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf16"

	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
	"github.com/AleutianAI/pybridge/services/bridge/pyast"
	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

// syntaxCode is the rule code for syntax errors found by tree-sitter.
const syntaxCode = "E999"

// errNoInterpreterVerdict means the interpreter ran but did not produce a
// usable answer; the tree-sitter result is used instead.
var errNoInterpreterVerdict = errors.New("interpreter gave no syntax verdict")

// interpreterScript reads the buffer from stdin and reports ast.parse's
// verdict as one JSON line.
const interpreterScript = `import ast, json, sys
src = sys.stdin.buffer.read().decode("utf-8", "replace")
try:
    ast.parse(src, "<content>")
    print(json.dumps({"ok": True}))
except SyntaxError as exc:
    print(json.dumps({
        "ok": False,
        "kind": type(exc).__name__,
        "msg": exc.msg or "invalid syntax",
        "lineno": exc.lineno or 0,
        "offset": exc.offset or 0,
        "end_lineno": getattr(exc, "end_lineno", None) or 0,
        "end_offset": getattr(exc, "end_offset", None) or 0,
    }))
`

// interpreterVerdict is the JSON line printed by interpreterScript.
// Offsets are 1-based code point columns.
type interpreterVerdict struct {
	OK        bool   `json:"ok"`
	Kind      string `json:"kind"`
	Msg       string `json:"msg"`
	Lineno    int    `json:"lineno"`
	Offset    int    `json:"offset"`
	EndLineno int    `json:"end_lineno"`
	EndOffset int    `json:"end_offset"`
}

// syntax runs the syntax stage.
//
// Description:
//
//	With prefer_interpreter set and python available, asks CPython's
//	ast.parse for the exact message. Any interpreter problem falls back to
//	the in-process tree-sitter parse, which needs no external tool.
func (o *Orchestrator) syntax(ctx context.Context, r *round, code string) outcome {
	out := outcome{stage: StageSyntax}

	if o.preferInterpreter && r.available[capability.RolePython] {
		diags, err := o.interpreterSyntax(ctx, code)
		if err == nil {
			return syntaxOutcome(out, diags)
		}
		slog.Debug("Interpreter syntax check unusable, using tree-sitter",
			slog.String("error", err.Error()))
	}

	diags, err := treeSitterSyntax(ctx, code)
	if err != nil {
		slog.Error("Syntax parse failed", slog.String("error", err.Error()))
		out.diags = []diagnostics.Diagnostic{}
		out.fault = FaultBridge
		out.message = fmt.Sprintf("syntax check failed: %v", err)
		return out
	}
	return syntaxOutcome(out, diags)
}

func syntaxOutcome(out outcome, diags []diagnostics.Diagnostic) outcome {
	out.diags = diags
	out.ok = len(diags) == 0
	if !out.ok {
		out.message = diags[0].Message
	}
	return out
}

// treeSitterSyntax reports the first ERROR or MISSING node as an error
// diagnostic.
func treeSitterSyntax(ctx context.Context, code string) ([]diagnostics.Diagnostic, error) {
	tree, err := pyast.Parse(ctx, []byte(code))
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	issues := tree.SyntaxErrors(1)
	raws := make([]diagnostics.Raw, 0, len(issues))
	for _, is := range issues {
		raws = append(raws, diagnostics.Raw{
			Line:      is.Line,
			Column:    is.Column,
			EndLine:   is.EndLine,
			EndColumn: is.EndColumn,
			Message:   is.Message,
			Code:      syntaxCode,
			Severity:  string(diagnostics.SeverityError),
			Source:    diagnostics.SourceSyntax,
			Tool:      "tree-sitter",
		})
	}
	return diagnostics.NormalizeAll(raws), nil
}

// interpreterSyntax runs ast.parse in an isolated interpreter.
func (o *Orchestrator) interpreterSyntax(ctx context.Context, code string) ([]diagnostics.Diagnostic, error) {
	tool, ok := o.prober.Tool(capability.RolePython)
	if !ok {
		return nil, errNoInterpreterVerdict
	}

	res, err := o.prober.Runner().Run(ctx, tool,
		[]string{"-I", "-X", "utf8", "-c", interpreterScript},
		toolrun.WithStdin(strings.NewReader(code)),
		toolrun.WithRunTimeout(o.syntaxTimeout),
	)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 || res.StdoutTruncated {
		return nil, fmt.Errorf("%w: exit status %d", errNoInterpreterVerdict, res.ExitCode)
	}

	var v interpreterVerdict
	if err := json.Unmarshal([]byte(toolrun.FirstLine(string(res.Stdout))), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", errNoInterpreterVerdict, err)
	}
	if v.OK {
		return []diagnostics.Diagnostic{}, nil
	}

	lines := strings.Split(code, "\n")
	endLine := v.EndLineno
	if endLine == 0 {
		endLine = v.Lineno
	}
	return diagnostics.NormalizeAll([]diagnostics.Raw{{
		Line:      v.Lineno,
		Column:    utf16Column(lineAt(lines, v.Lineno), v.Offset),
		EndLine:   endLine,
		EndColumn: utf16Column(lineAt(lines, endLine), v.EndOffset),
		Message:   v.Msg,
		Code:      v.Kind,
		Severity:  string(diagnostics.SeverityError),
		Source:    diagnostics.SourceSyntax,
		Tool:      "python",
	}}), nil
}

func lineAt(lines []string, line int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	return lines[line-1]
}

// utf16Column converts a 1-based code point column on line into the
// 1-based UTF-16 column the editor uses. Zero stays zero.
func utf16Column(line string, col int) int {
	if col <= 0 {
		return 0
	}
	runes := []rune(strings.TrimRight(line, "\r"))
	if col-1 > len(runes) {
		return col - len(runes) + len(utf16.Encode(runes))
	}
	return len(utf16.Encode(runes[:col-1])) + 1
}
