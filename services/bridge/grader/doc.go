// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grader validates learner code against caller-supplied exercise
// checks.
//
// Grading runs in three steps around one sandboxed execution:
//
//	Whitespace - tabs in indentation and trailing spaces fail early
//	Safety     - imports, global/nonlocal, dunder names and a fixed set of
//	             builtin calls are refused before anything runs
//	Evaluate   - after a successful run, exported variables and captured
//	             stdout are compared against the exercise checks
//
// The grader never executes code itself. The caller runs the sandbox with
// ExportNames(ex) and hands the exports to Evaluate.
package grader
