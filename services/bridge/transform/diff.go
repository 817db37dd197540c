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
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// Names used in the diff preview headers.
const (
	beforeName = "before.py"
	afterName  = "after.py"
)

// ChangedLines counts changed lines between two snapshots.
//
// Walks the SequenceMatcher opcodes over the line lists and adds
// max(i2-i1, j2-j1) for every opcode that is not an equal run.
func ChangedLines(before, after string) int {
	m := difflib.NewMatcher(splitLines(before), splitLines(after))
	changed := 0
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		changed += max(op.I2-op.I1, op.J2-op.J1)
	}
	return changed
}

// UnifiedDiff renders a unified diff from before to after and counts it.
//
// Identical inputs give an empty diff and zero stats.
func UnifiedDiff(before, after string, context int) (string, DiffStats, error) {
	if before == after {
		return "", DiffStats{}, nil
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: beforeName,
		ToFile:   afterName,
		Context:  context,
	})
	if err != nil {
		return "", DiffStats{}, fmt.Errorf("rendering diff: %w", err)
	}
	if text == "" {
		return "", DiffStats{}, nil
	}

	stats, err := diffStats(text)
	if err != nil {
		return text, DiffStats{}, err
	}
	return text, stats, nil
}

// diffStats parses a single-file unified diff.
func diffStats(text string) (DiffStats, error) {
	fd, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return DiffStats{}, fmt.Errorf("parsing diff: %w", err)
	}
	st := fd.Stat()
	// Changed counts lines that were both removed and added.
	return DiffStats{
		Hunks:   len(fd.Hunks),
		Added:   int(st.Added + st.Changed),
		Removed: int(st.Deleted + st.Changed),
	}, nil
}

// splitLines splits on line endings without keeping them. A trailing
// newline does not produce an empty last line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
