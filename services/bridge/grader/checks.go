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
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/AleutianAI/pybridge/services/bridge/sandbox"
)

const (
	defaultCheckMessage = "Review your solution."
	correctMessage      = "Correct."
	mapNote             = "Note: your result is a map; convert it with list(map(...))."
)

// Evaluate runs the exercise checks against a successful execution.
//
// Description:
//
//	Checks run in order and stop at the first failure. A checked variable
//	that was not exported falls back to the accepted aliases. When it is
//	still missing, an output_contains match elsewhere in the exercise turns
//	the failure into a "store it in a variable" message. Notes collected on
//	the way are appended to the final message.
//
// Inputs:
//
//	ex - The exercise; must pass Validate
//	exports - Variables exported by the sandbox (nil treated as empty)
//	stdout - Captured standard output of the run
//
// Outputs:
//
//	Verdict - Passed plus the learner-facing message
func Evaluate(ex *Exercise, exports *sandbox.Exports, stdout string) Verdict {
	if err := ex.Validate(); err != nil {
		return Verdict{Message: err.Error()}
	}
	if exports == nil {
		exports = &sandbox.Exports{}
	}

	e := evaluation{ex: ex, exports: exports, stdout: stdout}
	msg, ok := e.run()
	return Verdict{Passed: ok, Message: joinNotes(msg, e.notes), Notes: e.notes}
}

type evaluation struct {
	ex      *Exercise
	exports *sandbox.Exports
	stdout  string
	notes   []string
}

func (e *evaluation) run() (string, bool) {
	outputMatched := false
	for _, c := range e.ex.Checks {
		if c.Type != CheckOutputContains {
			continue
		}
		if text := expectedText(c.Expected); text != "" && strings.Contains(e.stdout, text) {
			outputMatched = true
		}
	}

	for _, c := range e.ex.Checks {
		base := c.Message
		if base == "" {
			base = defaultCheckMessage
		}

		switch c.Type {
		case CheckEquals, CheckListClose:
			name, ok := e.selectVar(c.Var)
			if !ok {
				if outputMatched {
					return fmt.Sprintf("The result looks right, but it must be stored in a variable called '%s'.", name), false
				}
				return fmt.Sprintf("Variable '%s' was not created.", name), false
			}
			got := e.exports.Vars[name]
			if c.Type == CheckEquals {
				if !jsonEqual(got, c.Expected) {
					return fmt.Sprintf("%s (expected %s).", base, compact(c.Expected)), false
				}
				continue
			}
			if e.hasNote(name, "map") {
				e.notes = append(e.notes, mapNote)
			}
			if msg, ok := listClose(name, got, c); !ok {
				return msg, false
			}

		case CheckOutputContains:
			text := expectedText(c.Expected)
			if !strings.Contains(e.stdout, text) {
				return fmt.Sprintf("%s (the output must contain '%s').", base, text), false
			}

		default:
			return "Unsupported check type.", false
		}
	}
	return correctMessage, true
}

// selectVar resolves name, falling back to the accepted aliases.
func (e *evaluation) selectVar(name string) (string, bool) {
	if e.exports.Has(name) {
		return name, true
	}
	for _, alt := range e.ex.AcceptedVars {
		if e.exports.Has(alt) {
			return alt, true
		}
	}
	if len(e.ex.AcceptedVars) > 0 {
		all := append(append([]string(nil), e.ex.AcceptedVars...), name)
		e.notes = append(e.notes, fmt.Sprintf("Accepted variables: %s.", strings.Join(all, ", ")))
	}
	return name, false
}

func (e *evaluation) hasNote(name, note string) bool {
	for _, n := range e.exports.Notes[name] {
		if n == note {
			return true
		}
	}
	return false
}

// listClose compares a numeric list within Tolerance.
func listClose(name string, got json.RawMessage, c Check) (string, bool) {
	var expected []float64
	if err := json.Unmarshal(c.Expected, &expected); err != nil {
		return "Unsupported check type.", false
	}

	var value any
	if err := json.Unmarshal(got, &value); err != nil {
		return fmt.Sprintf("'%s' must be a list, tuple or iterable.", name), false
	}
	if _, isText := value.(string); isText {
		return fmt.Sprintf("'%s' is not a list (it is text).", name), false
	}
	items, isList := value.([]any)
	if !isList {
		return fmt.Sprintf("'%s' must be a list, tuple or iterable.", name), false
	}

	if len(items) != len(expected) {
		return withSummary(
			fmt.Sprintf("Your list has the wrong length (expected %d, got %d).", len(expected), len(items)),
			c, len(expected)), false
	}
	for i, item := range items {
		f, isNum := toFloat(item)
		if !isNum || math.Abs(f-expected[i]) > Tolerance {
			return withSummary("The values do not match within tolerance 1e-6.", c, len(expected)), false
		}
	}
	return "", true
}

func withSummary(msg string, c Check, n int) string {
	if c.ExpectedSummary != "" {
		return fmt.Sprintf("%s Expected: %s", msg, c.ExpectedSummary)
	}
	return fmt.Sprintf("%s Expected a list of %d numbers.", msg, n)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// jsonEqual compares two JSON documents structurally. Numbers compare by
// value, so 6 and 6.0 are equal.
func jsonEqual(a, b json.RawMessage) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	return reflect.DeepEqual(va, vb)
}

// expectedText renders an output_contains expectation: JSON strings are
// unquoted, other values use their JSON text.
func expectedText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func joinNotes(msg string, notes []string) string {
	if len(notes) == 0 {
		return msg
	}
	return strings.TrimSpace(msg + " " + strings.Join(notes, " "))
}
