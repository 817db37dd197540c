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
	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
)

// Op names a transform.
type Op string

const (
	OpFormat Op = "format"
	OpFix    Op = "fix"
)

// Fault values.
const (
	// FaultUser marks a buffer the tool cannot process, such as one with a
	// syntax error.
	FaultUser = "user"

	// FaultBridge marks a transform that failed inside the bridge.
	FaultBridge = "bridge"
)

// Summary describes what a transform changed.
type Summary struct {
	Text    string   `json:"text"`
	Changes int      `json:"changes"`
	Rules   []string `json:"rules"`
}

// DiffStats counts the lines of the diff preview.
type DiffStats struct {
	Hunks   int `json:"hunks"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Result is the outcome of Format or Fix.
//
// OK reports whether the tool ran, independent of Changed. CodeNew is the
// proposal. For Format, Code is the proposal too; for Fix, Code is the
// untouched input. On failure both hold the input.
type Result struct {
	OK          bool                     `json:"ok"`
	Changed     bool                     `json:"changed"`
	Code        string                   `json:"code"`
	CodeNew     string                   `json:"code_new"`
	Summary     Summary                  `json:"summary"`
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics"`
	Diff        string                   `json:"diff"`
	Stats       DiffStats                `json:"stats"`
	Message     string                   `json:"message"`
	Available   map[capability.Role]bool `json:"available"`
	Fault       string                   `json:"fault,omitempty"`
	CodeHash    string                   `json:"codeHash"`
}
