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

// Normalize converts a raw tool finding into a Diagnostic.
//
// Description:
//
//	Clamps every coordinate to at least 1, defaults the end position to the
//	start, pulls an end that precedes the start back onto the start, and
//	widens a zero-width range to one column. Messages are trimmed of
//	surrounding whitespace.
//
// Inputs:
//
//	r - Raw finding with 1-based (or absent) coordinates
//
// Outputs:
//
//	Diagnostic - The normalized record
//	bool - False when the finding has no message and must be dropped
func Normalize(r Raw) (Diagnostic, bool) {
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		return Diagnostic{}, false
	}

	startLine := atLeastOne(r.Line)
	startCol := atLeastOne(r.Column)

	endLine := r.EndLine
	endCol := r.EndColumn
	if endLine <= 0 {
		endLine = startLine
		if endCol <= 0 {
			endCol = startCol
		}
	}
	if endCol <= 0 {
		endCol = startCol
	}

	switch {
	case endLine < startLine:
		endLine, endCol = startLine, startCol
	case endLine == startLine && endCol < startCol:
		endCol = startCol
	}

	if endLine == startLine && endCol == startCol {
		endCol = startCol + 1
	}

	return Diagnostic{
		StartLineNumber: startLine,
		StartColumn:     startCol,
		EndLineNumber:   endLine,
		EndColumn:       endCol,
		Message:         msg,
		Code:            strings.TrimSpace(r.Code),
		Severity:        ParseSeverity(r.Severity),
		Source:          r.Source,
		Tool:            r.Tool,
	}, true
}

// NormalizeAll normalizes a batch, preserving order and dropping findings
// without a message. The result is never nil.
func NormalizeAll(raws []Raw) []Diagnostic {
	out := make([]Diagnostic, 0, len(raws))
	for _, r := range raws {
		if d, ok := Normalize(r); ok {
			out = append(out, d)
		}
	}
	return out
}

// Merge concatenates diagnostic groups in argument order.
//
// Callers pass syntax, lint and typecheck groups in that order; Merge does
// not sort. The result is never nil.
func Merge(groups ...[]Diagnostic) []Diagnostic {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	out := make([]Diagnostic, 0, total)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
