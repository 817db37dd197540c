// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lint

import (
	"strings"
	"sync"
)

// =============================================================================
// RULE POLICY
// =============================================================================

// RulePolicy maps linter rules to severities.
//
// Description:
//
//	Rules are matched by prefix. For example, "F" matches "F401" and
//	"reportOptional" matches "reportOptional/call". A rule matching none of
//	the lists keeps the severity the linter reported.
//
// Thread Safety: Treat as immutable after creation.
type RulePolicy struct {
	// BlockOn are rules reported as errors.
	BlockOn []string

	// WarnOn are rules reported as warnings.
	WarnOn []string

	// InfoOn are rules reported as information.
	InfoOn []string

	// Ignore are rules dropped entirely.
	Ignore []string
}

// ShouldBlock returns true if the rule should be reported as an error.
func (p *RulePolicy) ShouldBlock(rule string) bool {
	return matchesAny(rule, p.BlockOn)
}

// ShouldWarn returns true if the rule should be reported as a warning.
func (p *RulePolicy) ShouldWarn(rule string) bool {
	return matchesAny(rule, p.WarnOn)
}

// ShouldInform returns true if the rule should be reported as information.
func (p *RulePolicy) ShouldInform(rule string) bool {
	return matchesAny(rule, p.InfoOn)
}

// ShouldIgnore returns true if the rule should be dropped.
func (p *RulePolicy) ShouldIgnore(rule string) bool {
	return matchesAny(rule, p.Ignore)
}

// GetSeverity returns the severity for a rule based on policy.
//
// Description:
//
//	Ignore takes precedence, then BlockOn, then WarnOn, then InfoOn.
//	Unmatched rules keep native.
//
// Inputs:
//
//	rule - The rule identifier from the linter
//	native - The severity the linter reported
//
// Outputs:
//
//	Severity - The severity level for the rule
func (p *RulePolicy) GetSeverity(rule string, native Severity) Severity {
	switch {
	case p.ShouldIgnore(rule):
		return SeverityHint
	case p.ShouldBlock(rule):
		return SeverityError
	case p.ShouldWarn(rule):
		return SeverityWarning
	case p.ShouldInform(rule):
		return SeverityInfo
	}
	return native
}

func matchesAny(rule string, patterns []string) bool {
	rule = strings.ToLower(rule)
	for _, pattern := range patterns {
		if matchesRule(rule, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// matchesRule checks if a rule matches a pattern.
// Pattern matching is by prefix or exact match.
// Examples:
//   - "f401" matches "f401"
//   - "f401" matches "f" (prefix followed by a digit)
//   - "reportoptional/call" matches "reportoptional" (hierarchy)
func matchesRule(rule, pattern string) bool {
	if rule == "" || pattern == "" {
		return false
	}
	if rule == pattern {
		return true
	}
	if strings.HasPrefix(rule, pattern+"/") {
		return true
	}
	// Letter prefixes like "E" only match codes continuing with a digit, so
	// "E" does not swallow "ERA001".
	if strings.HasPrefix(rule, pattern) && len(rule) > len(pattern) {
		next := rule[len(pattern)]
		if next >= '0' && next <= '9' {
			return true
		}
	}
	return false
}

// =============================================================================
// DEFAULT POLICIES
// =============================================================================

// DefaultRuffPolicy is the default policy for ruff on learner code.
//
// Description:
//
//	Ruff JSON carries no severity, so every ruff issue starts as a
//	warning. Pyflakes findings that make a program fail at runtime are
//	raised to errors; import ordering and docstring style are demoted.
//	F = Pyflakes
//	E/W = pycodestyle
//	I = isort
//	D = pydocstyle
var DefaultRuffPolicy = RulePolicy{
	BlockOn: []string{
		"F821", // undefined name
		"F822", // undefined name in __all__
		"F823", // local variable referenced before assignment
		"F632", // is comparison with a literal
		"F7",   // F701-F707 syntax misuse (break outside loop, ...)
		"E9",   // runtime/syntax errors
	},
	WarnOn: []string{
		"F",
		"E",
		"W",
		"B",
		"C90",
	},
	InfoOn: []string{
		"I",
		"D",
		"UP",
	},
	Ignore: []string{
		// Line length is noise in short exercise buffers.
		"E501",
	},
}

// DefaultPyrightPolicy keeps pyright's own severities.
var DefaultPyrightPolicy = RulePolicy{}

// =============================================================================
// POLICY REGISTRY
// =============================================================================

// PolicyRegistry manages policies for different linters.
//
// Thread Safety: Safe for concurrent use after initialization.
type PolicyRegistry struct {
	mu       sync.RWMutex
	policies map[string]*RulePolicy
}

// NewPolicyRegistry creates a new registry with default policies.
func NewPolicyRegistry() *PolicyRegistry {
	r := &PolicyRegistry{
		policies: make(map[string]*RulePolicy),
	}
	r.policies[Ruff] = &DefaultRuffPolicy
	r.policies[Pyright] = &DefaultPyrightPolicy
	return r
}

// Get returns the policy for a linter, or nil if none is registered.
//
// Thread Safety: Safe for concurrent use.
func (r *PolicyRegistry) Get(linter string) *RulePolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[linter]
}

// Register adds or updates the policy for a linter.
//
// Thread Safety: Safe for concurrent use.
func (r *PolicyRegistry) Register(linter string, policy *RulePolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[linter] = policy
}

// ApplyPolicy applies a policy to lint issues, setting final severities.
//
// Description:
//
//	Categorizes raw issues into errors, warnings and infos (infos include
//	hints). Ignored rules are dropped. A nil policy keeps native severities.
//
// Outputs:
//
//	errors - Error-severity issues
//	warnings - Warning-severity issues
//	infos - Info and hint issues
func ApplyPolicy(issues []LintIssue, policy *RulePolicy) (errors, warnings, infos []LintIssue) {
	errors = make([]LintIssue, 0)
	warnings = make([]LintIssue, 0)
	infos = make([]LintIssue, 0)

	for _, issue := range issues {
		if policy != nil {
			if policy.ShouldIgnore(issue.Rule) {
				continue
			}
			issue.Severity = policy.GetSeverity(issue.Rule, issue.Severity)
		}

		switch issue.Severity {
		case SeverityError:
			errors = append(errors, issue)
		case SeverityWarning:
			warnings = append(warnings, issue)
		default:
			infos = append(infos, issue)
		}
	}

	return errors, warnings, infos
}
