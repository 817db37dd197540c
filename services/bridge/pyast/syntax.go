// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pyast

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// SyntaxIssue is an ERROR or MISSING node found in the tree.
type SyntaxIssue struct {
	Line      int
	Column    int
	EndLine   int
	EndColumn int
	Message   string
	Missing   bool
}

// SyntaxErrors returns up to max syntax problems in source order.
//
// Description:
//
//	A MISSING node becomes "missing '<token>'" and an ERROR node becomes
//	"invalid syntax". Descendants of an ERROR node are not reported
//	separately. A max of zero or less returns every issue.
func (t *Tree) SyntaxErrors(max int) []SyntaxIssue {
	var out []SyntaxIssue
	if !t.Root().HasError() {
		return out
	}
	Walk(t.Root(), func(n *sitter.Node) bool {
		if max > 0 && len(out) >= max {
			return false
		}
		switch {
		case n.IsMissing():
			out = append(out, t.issue(n, fmt.Sprintf("missing '%s'", n.Type()), true))
			return false
		case n.IsError():
			out = append(out, t.issue(n, "invalid syntax", false))
			return false
		}
		return n.HasError()
	})
	return out
}

func (t *Tree) issue(n *sitter.Node, msg string, missing bool) SyntaxIssue {
	line, col := t.Position(n.StartPoint())
	endLine, endCol := t.Position(n.EndPoint())
	// Collapse ERROR spans that run across lines onto their first line so
	// the highlight stays readable.
	if endLine > line {
		endLine, endCol = line, col+1
	}
	return SyntaxIssue{
		Line:      line,
		Column:    col,
		EndLine:   endLine,
		EndColumn: endCol,
		Message:   msg,
		Missing:   missing,
	}
}
