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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
)

// =============================================================================
// SEVERITY
// =============================================================================

// Severity represents the severity level of a lint issue.
type Severity int

const (
	// SeverityHint represents suggestions the editor shows unobtrusively.
	SeverityHint Severity = iota

	// SeverityInfo represents informational/style issues.
	SeverityInfo

	// SeverityWarning represents issues worth noting that are not errors.
	SeverityWarning

	// SeverityError represents issues that make the program wrong.
	SeverityError
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityHint:
		return "hint"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// SeverityFromString parses a severity string.
//
// Description:
//
//	Parses common severity strings from different linters, including
//	pyright's "information". Unknown values default to SeverityWarning.
func SeverityFromString(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "fatal", "critical":
		return SeverityError
	case "warning", "warn":
		return SeverityWarning
	case "info", "information", "note", "style":
		return SeverityInfo
	case "hint":
		return SeverityHint
	default:
		return SeverityWarning
	}
}

// =============================================================================
// LINT RESULT
// =============================================================================

// LintResult contains the result of running a linter.
//
// Thread Safety: Immutable after creation by the runner.
type LintResult struct {
	// Valid is true if no error-severity issues were found.
	Valid bool `json:"valid"`

	// Errors are issues with SeverityError.
	Errors []LintIssue `json:"errors"`

	// Warnings are issues with SeverityWarning.
	Warnings []LintIssue `json:"warnings"`

	// Infos are informational issues and hints.
	Infos []LintIssue `json:"infos,omitempty"`

	// Raw are every parsed issue before policy, in tool order.
	Raw []LintIssue `json:"-"`

	// Duration is how long the linter took to run.
	Duration time.Duration `json:"duration"`

	// Linter is which linter produced this result.
	Linter string `json:"linter"`

	// Source is the diagnostic source the linter reports as.
	Source diagnostics.Source `json:"source"`

	// FilePath is the file that was linted ("<content>" for buffers).
	FilePath string `json:"file_path,omitempty"`

	// LinterAvailable indicates whether the linter was found.
	// When false, the result is empty.
	LinterAvailable bool `json:"linter_available"`
}

// HasErrors returns true if there are any error-severity issues.
func (r *LintResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasIssues returns true if there are any issues of any severity.
func (r *LintResult) HasIssues() bool {
	return len(r.Errors) > 0 || len(r.Warnings) > 0 || len(r.Infos) > 0
}

// AllIssues returns all issues combined.
func (r *LintResult) AllIssues() []LintIssue {
	total := len(r.Errors) + len(r.Warnings) + len(r.Infos)
	issues := make([]LintIssue, 0, total)
	issues = append(issues, r.Errors...)
	issues = append(issues, r.Warnings...)
	issues = append(issues, r.Infos...)
	return issues
}

// IssueCount returns the total number of issues.
func (r *LintResult) IssueCount() int {
	return len(r.Errors) + len(r.Warnings) + len(r.Infos)
}

// AutoFixableCount returns the count of issues with a safe fix.
func (r *LintResult) AutoFixableCount() int {
	count := 0
	for _, issue := range r.AllIssues() {
		if issue.CanAutoFix {
			count++
		}
	}
	return count
}

// RuleCodes returns the ordered, unique, non-empty rule codes of the raw
// issues.
func (r *LintResult) RuleCodes() []string {
	seen := make(map[string]bool)
	codes := make([]string, 0)
	for _, issue := range r.Raw {
		code := strings.TrimSpace(issue.Rule)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// RuleCounts returns how many raw issues each non-empty rule code has.
func (r *LintResult) RuleCounts() map[string]int {
	counts := make(map[string]int)
	for _, issue := range r.Raw {
		if code := strings.TrimSpace(issue.Rule); code != "" {
			counts[code]++
		}
	}
	return counts
}

// Diagnostics converts the policy-filtered issues into normalized editor
// diagnostics, ordered by position.
func (r *LintResult) Diagnostics() []diagnostics.Diagnostic {
	issues := r.AllIssues()
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Line != issues[j].Line {
			return issues[i].Line < issues[j].Line
		}
		return issues[i].Column < issues[j].Column
	})

	raws := make([]diagnostics.Raw, 0, len(issues))
	for _, issue := range issues {
		raws = append(raws, issue.raw(r.Source))
	}
	return diagnostics.NormalizeAll(raws)
}

// =============================================================================
// LINT ISSUE
// =============================================================================

// LintIssue represents a single issue found by a linter.
//
// Thread Safety: Immutable after creation.
type LintIssue struct {
	// File is the path to the file containing the issue.
	File string `json:"file"`

	// Line is the 1-indexed line number where the issue occurs.
	Line int `json:"line"`

	// Column is the 1-indexed column number where the issue occurs.
	Column int `json:"column,omitempty"`

	// EndLine is the ending line; 0 when the linter gives none.
	EndLine int `json:"end_line,omitempty"`

	// EndColumn is the ending column; 0 when the linter gives none.
	EndColumn int `json:"end_column,omitempty"`

	// Rule is the linter rule that triggered (e.g., "F401", "reportUndefinedVariable").
	Rule string `json:"rule"`

	// RuleURL is a link to documentation for the rule.
	RuleURL string `json:"rule_url,omitempty"`

	// Severity is the severity level of the issue.
	Severity Severity `json:"severity"`

	// Message is the human-readable description of the issue.
	Message string `json:"message"`

	// Suggestion is the fix title if one is available.
	Suggestion string `json:"suggestion,omitempty"`

	// CanAutoFix is true only for fixes the linter classifies as safe.
	CanAutoFix bool `json:"can_auto_fix"`

	// Replacement is the replacement text of a single-edit fix.
	Replacement string `json:"replacement,omitempty"`

	// Linter is the name of the linter that found this issue.
	Linter string `json:"linter,omitempty"`
}

// Location returns a formatted location string (file:line:col).
func (i *LintIssue) Location() string {
	if i.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", i.File, i.Line, i.Column)
	}
	return fmt.Sprintf("%s:%d", i.File, i.Line)
}

func (i *LintIssue) raw(source diagnostics.Source) diagnostics.Raw {
	return diagnostics.Raw{
		Line:      i.Line,
		Column:    i.Column,
		EndLine:   i.EndLine,
		EndColumn: i.EndColumn,
		Message:   i.Message,
		Code:      i.Rule,
		Severity:  i.Severity.String(),
		Source:    source,
		Tool:      i.Linter,
	}
}
