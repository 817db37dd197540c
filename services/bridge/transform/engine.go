// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/pybridge/services/bridge/analysis"
	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
	"github.com/AleutianAI/pybridge/services/bridge/lint"
	"github.com/AleutianAI/pybridge/services/bridge/pyast"
)

// DefaultDiffContext is the number of context lines in the diff preview.
const DefaultDiffContext = 3

// Engine formats and fixes buffers with ruff.
//
// Thread Safety: Safe for concurrent use. Each call works in its own temp
// directory.
type Engine struct {
	prober      *capability.Prober
	linter      *lint.LintRunner
	tool        string
	diffContext int
}

// Option configures an Engine.
type Option func(*Engine)

// WithDiffContext sets the number of context lines in diff previews.
func WithDiffContext(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.diffContext = n
		}
	}
}

// NewEngine creates a transform engine.
func NewEngine(prober *capability.Prober, linter *lint.LintRunner, opts ...Option) *Engine {
	e := &Engine{
		prober:      prober,
		linter:      linter,
		tool:        lint.Ruff,
		diffContext: DefaultDiffContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Format proposes the ruff-formatted version of code.
//
// Description:
//
//	Runs "ruff format" on a private copy of the buffer. Changed is a byte
//	comparison, so formatting already formatted code gives Changed=false.
//
// Inputs:
//
//	ctx - Context for cancellation
//	code - The buffer to format
//
// Outputs:
//
//	Result - Code and CodeNew hold the formatted text
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Format(ctx context.Context, code string) Result {
	ctx, span := startTransformSpan(ctx, OpFormat, len(code))
	defer span.End()
	start := time.Now()

	res := e.format(ctx, code)

	setTransformSpanResult(span, res)
	recordTransformMetrics(ctx, OpFormat, time.Since(start), res)
	return res
}

func (e *Engine) format(ctx context.Context, code string) Result {
	available, ok := e.gate(ctx)
	if !ok {
		return e.unavailable(code, available)
	}
	if res, bad := e.syntaxFault(ctx, code, available); bad {
		return res
	}

	formatted, err := e.linter.FormatContent(ctx, []byte(code), e.tool)
	if err != nil {
		return e.failure(code, available, OpFormat, err)
	}

	newCode := string(formatted)
	res := e.proposal(code, newCode, available)
	res.Code = newCode
	if res.Changed {
		res.Message = "Code formatted."
	} else {
		res.Message = "No formatting changes were needed."
	}
	res.Summary = Summary{
		Text:    res.Message,
		Changes: ChangedLines(code, newCode),
		Rules:   []string{},
	}
	return res
}

// Fix proposes code with ruff's safe automatic fixes applied.
//
// Description:
//
//	Lints the buffer to record the rules present before, then runs ruff
//	with --fix --no-unsafe-fixes. Unsafe and display-only fixes stay in
//	Diagnostics. Summary.Rules lists, in first-seen order, the rules that
//	were present before and are gone after.
//
// Inputs:
//
//	ctx - Context for cancellation
//	code - The buffer to fix
//
// Outputs:
//
//	Result - CodeNew holds the proposal; Code is the untouched input
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Fix(ctx context.Context, code string) Result {
	ctx, span := startTransformSpan(ctx, OpFix, len(code))
	defer span.End()
	start := time.Now()

	res := e.fix(ctx, code)

	setTransformSpanResult(span, res)
	recordTransformMetrics(ctx, OpFix, time.Since(start), res)
	return res
}

func (e *Engine) fix(ctx context.Context, code string) Result {
	available, ok := e.gate(ctx)
	if !ok {
		return e.unavailable(code, available)
	}
	if res, bad := e.syntaxFault(ctx, code, available); bad {
		return res
	}

	before, err := e.linter.LintContent(ctx, []byte(code), e.tool)
	if err == nil && !before.LinterAvailable {
		return e.markUnavailable(code, available)
	}
	if err != nil {
		return e.failure(code, available, OpFix, err)
	}

	fixed, after, err := e.linter.AutoFixContent(ctx, []byte(code), e.tool)
	if err == nil && !after.LinterAvailable {
		return e.markUnavailable(code, available)
	}
	if err != nil {
		return e.failure(code, available, OpFix, err)
	}

	newCode := string(fixed)
	res := e.proposal(code, newCode, available)
	res.Code = code
	res.Diagnostics = after.Diagnostics()

	rules := appliedRules(before.RuleCodes(), before.RuleCounts(), after.RuleCounts())
	changes := ChangedLines(code, newCode)
	var text string
	switch {
	case res.Changed && len(rules) > 0:
		text = fmt.Sprintf("Applied %d change(s) across %d rule(s).", changes, len(rules))
	case res.Changed:
		text = fmt.Sprintf("Applied %d automatic change(s).", changes)
	default:
		text = "No automatic fixes were applicable."
	}
	res.Message = text
	res.Summary = Summary{Text: text, Changes: changes, Rules: rules}
	return res
}

// appliedRules returns the codes in order whose occurrence count dropped
// between before and after. A rule with one instance fixed and another
// left in place still counts as applied.
func appliedRules(order []string, before, after map[string]int) []string {
	rules := make([]string, 0, len(order))
	for _, code := range order {
		if after[code] < before[code] {
			rules = append(rules, code)
		}
	}
	return rules
}

// proposal builds an OK result with the diff preview filled in.
func (e *Engine) proposal(code, newCode string, available map[capability.Role]bool) Result {
	res := Result{
		OK:          true,
		Changed:     newCode != code,
		CodeNew:     newCode,
		Diagnostics: []diagnostics.Diagnostic{},
		Available:   available,
		CodeHash:    analysis.CodeHash(code),
	}
	text, stats, err := UnifiedDiff(code, newCode, e.diffContext)
	if err != nil {
		slog.Warn("Diff preview incomplete", slog.String("error", err.Error()))
	}
	res.Diff = text
	res.Stats = stats
	return res
}

// gate checks that ruff is usable and returns the availability snapshot.
func (e *Engine) gate(ctx context.Context) (map[capability.Role]bool, bool) {
	m := e.prober.Last(ctx)
	available := make(map[capability.Role]bool, len(m.Available))
	for role, ok := range m.Available {
		available[role] = ok
	}
	status, err := e.prober.ProbeRole(ctx, capability.RoleLint, false)
	ok := err == nil && status.Available
	available[capability.RoleLint] = ok
	return available, ok
}

func (e *Engine) markUnavailable(code string, available map[capability.Role]bool) Result {
	e.prober.Invalidate(capability.RoleLint)
	available[capability.RoleLint] = false
	return e.unavailable(code, available)
}

func (e *Engine) unavailable(code string, available map[capability.Role]bool) Result {
	msg := e.tool + " is not installed"
	return e.unchanged(code, available, msg)
}

// failure maps a tool error onto a result. A buffer the tool cannot parse
// is a user fault. Other failures and timeouts evict the capability cache
// entry so the next call probes again.
func (e *Engine) failure(code string, available map[capability.Role]bool, op Op, err error) Result {
	if errors.Is(err, lint.ErrLinterNotInstalled) {
		return e.markUnavailable(code, available)
	}

	var msg string
	var le *lint.LinterError
	if errors.As(err, &le) && strings.TrimSpace(le.Output) != "" {
		msg = strings.TrimSpace(le.Output)
	} else {
		msg = err.Error()
	}

	res := e.unchanged(code, available, msg)
	switch {
	case errors.Is(err, lint.ErrLinterFailed) && parseFailure(msg):
		slog.Info("Transform rejected unparsable buffer",
			slog.String("op", string(op)),
			slog.String("tool", e.tool))
		res.Fault = FaultUser
	case errors.Is(err, lint.ErrLinterFailed), errors.Is(err, lint.ErrLinterTimeout):
		slog.Warn("Transform tool failed",
			slog.String("op", string(op)),
			slog.String("tool", e.tool),
			slog.String("error", err.Error()))
		e.prober.Invalidate(capability.RoleLint)
	default:
		slog.Error("Transform failed",
			slog.String("op", string(op)),
			slog.String("tool", e.tool),
			slog.String("error", err.Error()))
		res.Fault = FaultBridge
	}
	return res
}

// syntaxFault refuses a buffer the in-process parser rejects. The tool is
// never launched, so a syntax error cannot mark it unavailable.
func (e *Engine) syntaxFault(ctx context.Context, code string, available map[capability.Role]bool) (Result, bool) {
	tree, err := pyast.Parse(ctx, []byte(code))
	if err != nil {
		// Leave the decision to the tool.
		return Result{}, false
	}
	defer tree.Close()

	issues := tree.SyntaxErrors(1)
	if len(issues) == 0 {
		return Result{}, false
	}
	first := issues[0]
	msg := fmt.Sprintf("Cannot change code with a syntax error: %s at line %d, column %d.",
		first.Message, first.Line, first.Column)
	res := e.unchanged(code, available, msg)
	res.Fault = FaultUser
	return res, true
}

// parseFailure reports whether tool output describes a buffer it could not
// parse.
func parseFailure(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "failed to parse") || strings.Contains(lower, "syntaxerror")
}

func (e *Engine) unchanged(code string, available map[capability.Role]bool, msg string) Result {
	return Result{
		Code:        code,
		CodeNew:     code,
		Summary:     Summary{Text: msg, Rules: []string{}},
		Diagnostics: []diagnostics.Diagnostic{},
		Message:     msg,
		Available:   available,
		CodeHash:    analysis.CodeHash(code),
	}
}
