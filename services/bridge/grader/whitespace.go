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
	"fmt"
	"strings"

	"github.com/AleutianAI/pybridge/services/bridge/pyast"
)

// Whitespace reports the first tab in indentation or trailing whitespace.
//
// Outputs:
//
//	*Violation - nil when the code is clean; Line and Column are 1-based
func Whitespace(code string) *Violation {
	for i, line := range strings.Split(code, "\n") {
		line = strings.TrimSuffix(line, "\r")
		lineNo := i + 1

		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if idx := strings.IndexByte(indent, '\t'); idx >= 0 {
			return &Violation{
				Rule:    RuleTabs,
				Message: fmt.Sprintf("Use spaces instead of tabs on line %d.", lineNo),
				Line:    lineNo,
				Column:  idx + 1,
			}
		}
		if strings.TrimRight(line, " \t\f\v") != line {
			return &Violation{
				Rule:    RuleTrailingSpace,
				Message: fmt.Sprintf("Remove the trailing spaces on line %d.", lineNo),
				Line:    lineNo,
				Column:  pyast.UTF16Column([]byte(line), len(line)),
			}
		}
	}
	return nil
}
