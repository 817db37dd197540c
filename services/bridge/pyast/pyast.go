// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pyast parses Python source in process with the tree-sitter Python
// grammar.
//
// It backs every check that must work with zero external tools installed:
// the syntax fallback, the sandbox's static import guard and the grader's
// safety rules. Positions are reported 1-based, with columns counted in
// UTF-16 code units to match the editor.
package pyast

import (
	"context"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// maxDepth bounds recursion on pathological inputs.
const maxDepth = 1000

// Tree is a parsed Python module.
//
// Thread Safety: Not safe for concurrent use. Close when done.
type Tree struct {
	tree   *sitter.Tree
	source []byte
	lines  [][]byte
}

// Parse parses source with the Python grammar.
//
// Tree-sitter always produces a tree; syntax errors appear as ERROR and
// MISSING nodes (see SyntaxErrors).
//
// Outputs:
//
//	*Tree - The parsed tree; caller must Close it
//	error - Non-nil if parsing was cancelled or failed internally
func Parse(ctx context.Context, source []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing python: %w", err)
	}
	return &Tree{tree: tree, source: source, lines: splitLines(source)}, nil
}

// Close releases the underlying tree.
func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
	}
}

// Root returns the module node.
func (t *Tree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Text returns the source text of n.
func (t *Tree) Text(n *sitter.Node) string {
	start, end := n.StartByte(), n.EndByte()
	if end > uint32(len(t.source)) {
		end = uint32(len(t.source))
	}
	if start > end {
		return ""
	}
	return string(t.source[start:end])
}

// Position converts a tree-sitter point (0-based row, byte column) into a
// 1-based line and 1-based UTF-16 column.
func (t *Tree) Position(p sitter.Point) (line, column int) {
	row := int(p.Row)
	line = row + 1
	if row >= len(t.lines) {
		return line, int(p.Column) + 1
	}
	return line, UTF16Column(t.lines[row], int(p.Column)) + 1
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the children of the visited node.
func Walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	walk(n, fn, 0)
}

func walk(n *sitter.Node, fn func(*sitter.Node) bool, depth int) {
	if n == nil || depth > maxDepth {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn, depth+1)
	}
}

// UTF16Column converts a byte offset within line to a count of UTF-16 code
// units. Offsets past the end of line are extended one unit per byte.
func UTF16Column(line []byte, byteCol int) int {
	if byteCol <= 0 {
		return 0
	}
	units := 0
	i := 0
	for i < len(line) && i < byteCol {
		r, size := utf8.DecodeRune(line[i:])
		if r == utf8.RuneError && size <= 1 {
			units++
			i++
			continue
		}
		units += len(utf16.Encode([]rune{r}))
		i += size
	}
	if byteCol > len(line) {
		units += byteCol - len(line)
	}
	return units
}

func splitLines(src []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range src {
		if b == '\n' {
			line := src[start:i]
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	return append(lines, src[start:])
}
