// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lint

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
)

// ParserFunc parses raw linter output into issues.
type ParserFunc func(data []byte) ([]LintIssue, error)

var parserRegistry = map[string]ParserFunc{
	Ruff:    parseRuffOutput,
	Pyright: parsePyrightOutput,
}

// GetParser returns the registered parser for a linter, or nil.
func GetParser(linter string) ParserFunc {
	return parserRegistry[linter]
}

// =============================================================================
// RUFF PARSER
// =============================================================================

// ruffIssue represents a single issue from Ruff JSON output.
type ruffIssue struct {
	Code        *string      `json:"code"`
	EndLocation ruffLocation `json:"end_location"`
	Filename    string       `json:"filename"`
	Fix         *ruffFix     `json:"fix"`
	Location    ruffLocation `json:"location"`
	Message     string       `json:"message"`
	URL         *string      `json:"url"`
}

type ruffLocation struct {
	Column int `json:"column"`
	Row    int `json:"row"`
}

type ruffFix struct {
	Applicability string     `json:"applicability"`
	Edits         []ruffEdit `json:"edits"`
	Message       *string    `json:"message"`
}

type ruffEdit struct {
	Content     string       `json:"content"`
	EndLocation ruffLocation `json:"end_location"`
	Location    ruffLocation `json:"location"`
}

// parseRuffOutput parses JSON output from Ruff.
//
// Description:
//
//	Ruff produces a JSON array of issues with 1-based positions. Syntax
//	errors carry a null code. Only fixes with "safe" applicability are
//	marked auto-fixable; "unsafe" and "display-only" fixes remain plain
//	issues.
func parseRuffOutput(data []byte) ([]LintIssue, error) {
	var ruffIssues []ruffIssue
	if err := json.Unmarshal(data, &ruffIssues); err != nil {
		return nil, fmt.Errorf("parsing ruff output: %w", err)
	}

	issues := make([]LintIssue, 0, len(ruffIssues))
	for _, ri := range ruffIssues {
		msg := strings.TrimSpace(ri.Message)
		if msg == "" {
			continue
		}
		issue := LintIssue{
			File:      ri.Filename,
			Line:      ri.Location.Row,
			Column:    ri.Location.Column,
			EndLine:   ri.EndLocation.Row,
			EndColumn: ri.EndLocation.Column,
			Rule:      deref(ri.Code),
			RuleURL:   deref(ri.URL),
			Severity:  SeverityWarning,
			Message:   msg,
			Linter:    Ruff,
		}
		if issue.Rule == "" {
			issue.Severity = SeverityError
		}

		if ri.Fix != nil && len(ri.Fix.Edits) > 0 {
			issue.CanAutoFix = ri.Fix.Applicability == "safe"
			issue.Suggestion = deref(ri.Fix.Message)
			if len(ri.Fix.Edits) == 1 {
				issue.Replacement = ri.Fix.Edits[0].Content
			}
		}

		issues = append(issues, issue)
	}

	return issues, nil
}

// utf16Columns rewrites 1-based code-point columns as 1-based UTF-16
// columns. Rows outside content are left alone.
func utf16Columns(issues []LintIssue, content []byte) {
	if len(issues) == 0 {
		return
	}
	lines := strings.Split(string(content), "\n")
	for i := range issues {
		issues[i].Column = codePointToUTF16(lines, issues[i].Line, issues[i].Column)
		issues[i].EndColumn = codePointToUTF16(lines, issues[i].EndLine, issues[i].EndColumn)
	}
}

func codePointToUTF16(lines []string, row, col int) int {
	if row < 1 || row > len(lines) || col <= 1 {
		return col
	}
	runes := []rune(lines[row-1])
	n := col - 1
	extra := 0
	if n > len(runes) {
		extra = n - len(runes)
		n = len(runes)
	}
	return len(utf16.Encode(runes[:n])) + extra + 1
}

// =============================================================================
// PYRIGHT PARSER
// =============================================================================

type pyrightOutput struct {
	Version            string              `json:"version"`
	GeneralDiagnostics []pyrightDiagnostic `json:"generalDiagnostics"`
}

type pyrightDiagnostic struct {
	File     string       `json:"file"`
	Severity string       `json:"severity"`
	Message  string       `json:"message"`
	Rule     string       `json:"rule"`
	Range    pyrightRange `json:"range"`
}

type pyrightRange struct {
	Start pyrightPosition `json:"start"`
	End   pyrightPosition `json:"end"`
}

type pyrightPosition struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// parsePyrightOutput parses pyright --outputjson.
//
// Description:
//
//	Pyright positions are 0-based LSP positions and are shifted to
//	1-based here. Severity "information" maps to SeverityInfo.
func parsePyrightOutput(data []byte) ([]LintIssue, error) {
	var out pyrightOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing pyright output: %w", err)
	}

	issues := make([]LintIssue, 0, len(out.GeneralDiagnostics))
	for _, d := range out.GeneralDiagnostics {
		msg := strings.TrimSpace(d.Message)
		if msg == "" {
			continue
		}
		issues = append(issues, LintIssue{
			File:      d.File,
			Line:      d.Range.Start.Line + 1,
			Column:    d.Range.Start.Character + 1,
			EndLine:   d.Range.End.Line + 1,
			EndColumn: d.Range.End.Character + 1,
			Rule:      strings.TrimSpace(d.Rule),
			Severity:  SeverityFromString(d.Severity),
			Message:   msg,
			Linter:    Pyright,
		})
	}
	return issues, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
