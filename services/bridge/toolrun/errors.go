// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolrun

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for tool invocation.
var (
	// ErrToolNotFound indicates no candidate command could be launched.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates the tool exceeded its timeout and was killed.
	ErrToolTimeout = errors.New("tool timed out")

	// ErrToolFailed indicates the tool could not be started or crashed
	// for a reason other than being absent.
	ErrToolFailed = errors.New("tool failed")

	// ErrInvalidTool indicates a Tool with no candidates.
	ErrInvalidTool = errors.New("invalid tool definition")
)

// ToolError describes a failed invocation.
type ToolError struct {
	// Tool is the logical tool name (e.g., "ruff").
	Tool string

	// Command is the command line that was attempted, if any.
	Command []string

	// Err is the underlying sentinel or wrapped error.
	Err error

	// Stderr holds captured error output, possibly truncated.
	Stderr string
}

// Error implements error.
func (e *ToolError) Error() string {
	var b strings.Builder
	b.WriteString(e.Tool)
	if len(e.Command) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Command, " "))
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if s := strings.TrimSpace(e.Stderr); s != "" {
		if len(s) > 500 {
			s = s[:500] + "..."
		}
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Err
}

func newToolError(tool string, command []string, err error, stderr string) *ToolError {
	return &ToolError{Tool: tool, Command: command, Err: err, Stderr: stderr}
}
