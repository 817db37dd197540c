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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// ImportKind says how a module was imported.
type ImportKind string

const (
	ImportStatement  ImportKind = "import"
	ImportFrom       ImportKind = "from"
	ImportDunderCall ImportKind = "__import__"
	ImportModuleCall ImportKind = "import_module"
)

// Import is one module reference found in source.
type Import struct {
	// Module is the full dotted module name ("os.path").
	Module string

	// Root is the first component of Module ("os").
	Root string

	// Kind is the import form.
	Kind ImportKind

	// Line and Column are 1-based (UTF-16 columns).
	Line   int
	Column int
}

// Imports returns every absolute import in the tree, including imports
// nested in functions and classes, in source order.
//
// Description:
//
//	Recognizes `import a.b`, `import a as x`, `from a.b import c`,
//	`__import__("a")` and `importlib.import_module("a")` where the module
//	name is a plain string literal. Relative imports are skipped.
func (t *Tree) Imports() []Import {
	var out []Import
	Walk(t.Root(), func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				switch child.Type() {
				case "dotted_name":
					out = t.appendImport(out, t.Text(child), ImportStatement, child)
				case "aliased_import":
					if name := firstOfType(child, "dotted_name"); name != nil {
						out = t.appendImport(out, t.Text(name), ImportStatement, name)
					}
				}
			}
			return false

		case "import_from_statement":
			for i := 0; i < int(n.ChildCount()); i++ {
				child := n.Child(i)
				if child.Type() == "import" {
					break
				}
				if child.Type() == "dotted_name" {
					out = t.appendImport(out, t.Text(child), ImportFrom, child)
					break
				}
			}
			return false

		case "call":
			if mod, arg, kind := t.dynamicImport(n); mod != "" {
				out = t.appendImport(out, mod, kind, arg)
			}
		}
		return true
	})
	return out
}

// dynamicImport recognizes __import__("x") and importlib.import_module("x").
func (t *Tree) dynamicImport(call *sitter.Node) (module string, arg *sitter.Node, kind ImportKind) {
	fn := call.ChildByFieldName("function")
	args := call.ChildByFieldName("arguments")
	if fn == nil || args == nil || args.NamedChildCount() == 0 {
		return "", nil, ""
	}

	switch fn.Type() {
	case "identifier":
		if t.Text(fn) != "__import__" {
			return "", nil, ""
		}
		kind = ImportDunderCall
	case "attribute":
		obj := fn.ChildByFieldName("object")
		attr := fn.ChildByFieldName("attribute")
		if obj == nil || attr == nil || t.Text(attr) != "import_module" {
			return "", nil, ""
		}
		kind = ImportModuleCall
	default:
		return "", nil, ""
	}

	first := args.NamedChild(0)
	if first == nil || first.Type() != "string" {
		return "", nil, ""
	}
	lit, ok := StringLiteral(t.Text(first))
	if !ok {
		return "", nil, ""
	}
	return lit, first, kind
}

func (t *Tree) appendImport(out []Import, module string, kind ImportKind, at *sitter.Node) []Import {
	module = strings.Join(strings.Fields(module), "")
	if module == "" || strings.HasPrefix(module, ".") {
		return out
	}
	root, _, _ := strings.Cut(module, ".")
	line, col := t.Position(at.StartPoint())
	return append(out, Import{Module: module, Root: root, Kind: kind, Line: line, Column: col})
}

func firstOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

// StringLiteral returns the value of a simple Python string literal.
//
// Prefixes r, u and b are accepted; f-strings, implicit concatenation and
// literals containing backslash escapes are rejected.
func StringLiteral(src string) (string, bool) {
	s := strings.TrimSpace(src)
	i := 0
	for i < len(s) && strings.ContainsRune("rRuUbB", rune(s[i])) {
		i++
	}
	if i < len(s) && (s[i] == 'f' || s[i] == 'F') {
		return "", false
	}
	s = s[i:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			body := s[len(q) : len(s)-len(q)]
			if strings.ContainsAny(body, "\\\n") || strings.Contains(body, q) {
				return "", false
			}
			return body, true
		}
	}
	return "", false
}
