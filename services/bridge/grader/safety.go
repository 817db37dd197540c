// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grader

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/pybridge/services/bridge/pyast"
)

// bannedCalls are builtins learner code may not call by name.
var bannedCalls = map[string]bool{
	"__import__": true,
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"open":       true,
	"input":      true,
	"globals":    true,
	"locals":     true,
	"vars":       true,
	"dir":        true,
	"help":       true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,
	"breakpoint": true,
}

// Safety scans code for constructs exercises do not allow.
//
// Description:
//
//	Walks the tree-sitter parse tree in source order and returns the first
//	import, global/nonlocal statement, dunder name or attribute, or call to
//	a banned builtin. Definition names and parameters are not names in this
//	sense and may contain dunders. Parts of the code that do not parse are
//	left to the interpreter, which rejects them before anything runs.
//
// Outputs:
//
//	*Violation - The first violation, nil if none
//	error - Non-nil only if parsing was cancelled
func Safety(ctx context.Context, code string) (*Violation, error) {
	tree, err := pyast.Parse(ctx, []byte(code))
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var found *Violation
	report := func(n *sitter.Node, rule Rule, msg string) {
		line, col := tree.Position(n.StartPoint())
		found = &Violation{Rule: rule, Message: msg, Line: line, Column: col}
	}

	pyast.Walk(tree.Root(), func(n *sitter.Node) bool {
		if found != nil {
			return false
		}
		switch n.Type() {
		case "import_statement", "import_from_statement", "future_import_statement":
			report(n, RuleImport, "Imports are not allowed in this exercise.")
			return false

		case "global_statement", "nonlocal_statement":
			report(n, RuleScope, "global/nonlocal is not allowed.")
			return false

		case "call":
			fn := n.ChildByFieldName("function")
			if fn != nil && fn.Type() == "identifier" && bannedCalls[tree.Text(fn)] {
				report(n, RuleBannedCall, fmt.Sprintf("Calling '%s' is not allowed.", tree.Text(fn)))
				return false
			}

		case "attribute":
			attr := n.ChildByFieldName("attribute")
			if attr != nil && strings.Contains(tree.Text(attr), "__") {
				report(attr, RuleDunderAttr, "Attributes containing '__' (dunder) are not allowed.")
				return false
			}

		case "identifier":
			if strings.Contains(tree.Text(n), "__") && !isBinding(n) && !isAttributeName(n) {
				report(n, RuleDunderName, "Names containing '__' (dunder) are not allowed.")
				return false
			}
		}
		return true
	})
	return found, nil
}

// isBinding reports whether an identifier names a definition, parameter or
// keyword argument rather than a variable reference.
func isBinding(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return false
	}
	switch parent.Type() {
	case "function_definition", "class_definition", "keyword_argument",
		"default_parameter", "typed_parameter", "typed_default_parameter":
		name := parent.ChildByFieldName("name")
		if name == nil && parent.ChildCount() > 0 {
			name = parent.Child(0)
		}
		return sameNode(name, n)
	case "parameters", "lambda_parameters", "list_splat_pattern", "dictionary_splat_pattern":
		return true
	}
	return false
}

// isAttributeName reports whether n is the member part of an attribute.
func isAttributeName(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil || parent.Type() != "attribute" {
		return false
	}
	return sameNode(parent.ChildByFieldName("attribute"), n)
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}
