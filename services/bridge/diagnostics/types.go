// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"strings"
)

// =============================================================================
// SEVERITY
// =============================================================================

// Severity is the wire severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// ParseSeverity maps a tool severity string to a Severity.
//
// Description:
//
//	Accepts the spellings used by ruff, pyright, CPython and the language
//	server. Matching is case-insensitive. Unknown and empty values map to
//	SeverityWarning.
//
// Inputs:
//
//	s - Raw severity string from a tool
//
// Outputs:
//
//	Severity - The normalized severity
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "fatal", "critical":
		return SeverityError
	case "warning", "warn":
		return SeverityWarning
	case "info", "information", "informational", "note":
		return SeverityInfo
	case "hint", "style":
		return SeverityHint
	default:
		return SeverityWarning
	}
}

// Rank orders severities from most to least severe (0 = error).
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	case SeverityHint:
		return 3
	default:
		return 1
	}
}

// =============================================================================
// SOURCE
// =============================================================================

// Source names the analysis stage that produced a diagnostic.
type Source string

const (
	SourceSyntax    Source = "syntax"
	SourceLint      Source = "lint"
	SourceTypecheck Source = "typecheck"
)

// =============================================================================
// DIAGNOSTIC
// =============================================================================

// Diagnostic is one reported issue in the uniform wire shape.
//
// Thread Safety: Immutable after creation by Normalize.
type Diagnostic struct {
	StartLineNumber int      `json:"startLineNumber"`
	StartColumn     int      `json:"startColumn"`
	EndLineNumber   int      `json:"endLineNumber"`
	EndColumn       int      `json:"endColumn"`
	Message         string   `json:"message"`
	Code            string   `json:"code"`
	Severity        Severity `json:"severity"`
	Source          Source   `json:"source"`

	// Tool is the concrete producer (python, tree-sitter, ruff, pyright).
	Tool string `json:"tool,omitempty"`
}

// Raw is a diagnostic as a parser extracted it from tool output.
//
// Positions must already be 1-based; a zero value means the tool did not
// report that coordinate.
type Raw struct {
	Line      int
	Column    int
	EndLine   int
	EndColumn int
	Message   string
	Code      string
	Severity  string
	Source    Source
	Tool      string
}

// CountBySeverity returns how many diagnostics carry each severity.
func CountBySeverity(diags []Diagnostic) map[Severity]int {
	counts := make(map[Severity]int, 4)
	for _, d := range diags {
		counts[d.Severity]++
	}
	return counts
}
