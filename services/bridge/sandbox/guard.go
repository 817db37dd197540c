// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/pybridge/services/bridge/pyast"
)

// Guard statically rejects imports of denylisted modules.
//
// Thread Safety: Immutable after creation; safe for concurrent use.
type Guard struct {
	denied map[string]struct{}
	list   []string
}

// NewGuard creates a guard for the given root module names.
func NewGuard(denylist []string) *Guard {
	g := &Guard{denied: make(map[string]struct{}, len(denylist))}
	for _, m := range denylist {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := g.denied[m]; dup {
			continue
		}
		g.denied[m] = struct{}{}
		g.list = append(g.list, m)
	}
	return g
}

// Denylist returns the denied root module names in configuration order.
func (g *Guard) Denylist() []string {
	return append([]string(nil), g.list...)
}

// Denied reports whether the root module name is blocked.
func (g *Guard) Denied(root string) bool {
	_, ok := g.denied[root]
	return ok
}

// Check returns the first blocked import in code, or nil.
//
// Description:
//
//	Parses code with tree-sitter and matches the root of every static
//	import, __import__("x") and importlib.import_module("x") against the
//	denylist. Code that does not parse is still scanned; tree-sitter
//	recovers around errors.
//
// Outputs:
//
//	*pyast.Import - The first violation in source order, nil if none
//	error - Non-nil only if parsing was cancelled
func (g *Guard) Check(ctx context.Context, code string) (*pyast.Import, error) {
	if len(g.denied) == 0 {
		return nil, nil
	}
	tree, err := pyast.Parse(ctx, []byte(code))
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	for _, imp := range tree.Imports() {
		if g.Denied(imp.Root) {
			found := imp
			return &found, nil
		}
	}
	return nil, nil
}

// BlockedMessage is the user-facing text for a blocked import. The harness
// raises ImportError with the same text.
func BlockedMessage(module string) string {
	return fmt.Sprintf("blocked import: '%s' is not allowed in the sandbox", module)
}

// blockedFromStderr extracts the module from a runtime ImportError raised by
// the harness guard.
func blockedFromStderr(lastLine string) (string, bool) {
	const marker = "blocked import: '"
	i := strings.Index(lastLine, marker)
	if i < 0 {
		return "", false
	}
	rest := lastLine[i+len(marker):]
	j := strings.IndexByte(rest, '\'')
	if j <= 0 {
		return "", false
	}
	return rest[:j], true
}
