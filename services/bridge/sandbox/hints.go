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
	"strings"
)

// valueNames are assignment targets that suggest a computed result.
var valueNames = []string{"total =", "result =", "resultado =", "suma =", "answer ="}

// StudyHint derives a short pedagogical hint from a finished execution.
//
// Must only be called in study mode; Execute never calls it for exam runs.
//
// Inputs:
//
//	code - The user's source
//	res - The execution result (status, stderr, message and fault are read)
//
// Outputs:
//
//	string - The hint, or "" when nothing applies
func StudyHint(code string, res *Result) string {
	lowered := strings.ToLower(code)
	errs := strings.ToLower(res.Stderr + "\n" + res.Message)

	if res.Status == StatusTimeout {
		switch {
		case strings.Contains(lowered, "while true") || strings.Contains(lowered, "while 1"):
			return "Hint: this looks like an infinite loop. Check your while True and add an exit condition."
		case strings.Contains(lowered, "sleep("):
			return "Hint: sleep delays execution. Shorten the wait."
		default:
			return "Hint: execution took too long. Check your loops and long waits."
		}
	}

	if res.Fault == FaultPolicy && res.BlockedModule != "" {
		return "Hint: the sandbox does not allow importing '" + res.BlockedModule +
			"'. Solve the exercise with built-in features."
	}

	switch {
	case strings.Contains(errs, "zerodivisionerror") || strings.Contains(lowered, "/0") || strings.Contains(lowered, "/ 0"):
		return "Hint: check for division by zero before computing."
	case strings.Contains(errs, "indentationerror") || strings.Contains(errs, "taberror"):
		return "Hint: check the indentation. Use 4 spaces per level and do not mix tabs and spaces."
	case strings.Contains(errs, "nameerror"):
		return "Hint: a name is used before it is defined. Check the spelling and the order of assignments."
	case strings.Contains(errs, "syntaxerror"):
		return "Hint: look for a missing colon, bracket or quote near the reported line."
	}

	if !strings.Contains(lowered, "print(") {
		for _, name := range valueNames {
			if strings.Contains(lowered, name) {
				return "Hint: you computed a value but never displayed it with print()."
			}
		}
	}

	return ""
}
