// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
)

// Stage names one analysis pass.
type Stage string

const (
	StageSyntax    Stage = "syntax"
	StageLint      Stage = "lint"
	StageTypecheck Stage = "typecheck"
)

// FaultBridge marks a report whose stage failed inside the bridge rather
// than because of the user's code or a missing tool.
const FaultBridge = "bridge"

// Report is the result of one stage or of a full Analyze round.
//
// Diagnostics and Available are never nil. CodeHash is the hex SHA-256 of
// the analysed text so callers can discard results for a buffer that has
// since changed.
type Report struct {
	OK          bool                     `json:"ok"`
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics"`
	Message     string                   `json:"message"`
	Available   map[capability.Role]bool `json:"available"`
	Fault       string                   `json:"fault,omitempty"`
	Skipped     []Stage                  `json:"skipped,omitempty"`
	CodeHash    string                   `json:"codeHash"`
}

// CodeHash returns the hex SHA-256 of code.
func CodeHash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// outcome is what a single stage produced inside a round.
type outcome struct {
	stage   Stage
	diags   []diagnostics.Diagnostic
	ok      bool
	message string
	fault   string
	skipped bool

	// unavailable is set when the stage's tool could not be used.
	unavailable bool
}

// label is the metrics outcome for the stage.
func (o outcome) label() string {
	switch {
	case o.fault != "":
		return "fault"
	case o.skipped:
		return "skipped"
	case o.unavailable:
		return "unavailable"
	default:
		return "ok"
	}
}

// round carries capability observations across the stages of one call.
//
// available starts from the prober's map. observed records which roles
// were checked during this round; an observed role is not probed again.
type round struct {
	available map[capability.Role]bool
	observed  map[capability.Role]bool
}

func newRound(m capability.Map, observed bool) *round {
	r := &round{
		available: make(map[capability.Role]bool, len(m.Available)),
		observed:  make(map[capability.Role]bool, len(m.Available)),
	}
	for role, ok := range m.Available {
		r.available[role] = ok
		if observed {
			r.observed[role] = true
		}
	}
	return r
}

func (r *round) mark(role capability.Role, available bool) {
	r.available[role] = available
	r.observed[role] = true
}
