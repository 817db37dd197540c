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
	"encoding/json"
	"errors"
)

// ErrNoChecks indicates an exercise without any checks.
var ErrNoChecks = errors.New("no checks defined")

// CheckType names a supported check.
type CheckType string

const (
	// CheckEquals compares a variable to the expected JSON value.
	CheckEquals CheckType = "equals"

	// CheckListClose compares a numeric list element-wise within 1e-6.
	CheckListClose CheckType = "list_close"

	// CheckOutputContains requires stdout to contain the expected text.
	CheckOutputContains CheckType = "output_contains"
)

// Tolerance is the absolute tolerance used by list_close.
const Tolerance = 1e-6

// Check is one exercise expectation.
type Check struct {
	Type            CheckType       `json:"type"`
	Var             string          `json:"var,omitempty"`
	Expected        json.RawMessage `json:"expected,omitempty"`
	Message         string          `json:"message,omitempty"`
	ExpectedSummary string          `json:"expectedSummary,omitempty"`
}

// Exercise is the grading input supplied by the caller.
type Exercise struct {
	ID           string                     `json:"id,omitempty"`
	Setup        map[string]json.RawMessage `json:"setup,omitempty"`
	Checks       []Check                    `json:"checks"`
	AcceptedVars []string                   `json:"acceptedVars,omitempty"`
}

// Validate reports ErrNoChecks when there is nothing to grade.
func (e *Exercise) Validate() error {
	if e == nil || len(e.Checks) == 0 {
		return ErrNoChecks
	}
	return nil
}

// ExportNames returns the variables the sandbox must export for grading:
// every checked variable plus the accepted aliases, deduplicated in order.
func ExportNames(e *Exercise) []string {
	if e == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, c := range e.Checks {
		add(c.Var)
	}
	if len(out) > 0 {
		for _, alt := range e.AcceptedVars {
			add(alt)
		}
	}
	return out
}

// Rule identifies which pre-execution rule rejected the code.
type Rule string

const (
	RuleTabs          Rule = "tabs"
	RuleTrailingSpace Rule = "trailing-space"
	RuleImport        Rule = "import"
	RuleScope         Rule = "global-nonlocal"
	RuleDunderName    Rule = "dunder-name"
	RuleDunderAttr    Rule = "dunder-attribute"
	RuleBannedCall    Rule = "banned-call"
)

// Violation is a rule failure found before execution.
type Violation struct {
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

// Policy reports whether the violation is a safety rule rather than a
// whitespace style issue.
func (v *Violation) Policy() bool {
	return v.Rule != RuleTabs && v.Rule != RuleTrailingSpace
}

// Verdict is the outcome of Evaluate.
type Verdict struct {
	// Passed is true when every check succeeded.
	Passed bool

	// Message is the learner-facing text, with notes appended.
	Message string

	// Notes are the individual notes that were appended to Message.
	Notes []string
}
