// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"slices"
	"time"

	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

// Role is a capability slot that a concrete tool fills.
type Role string

const (
	RolePython    Role = "python"
	RoleLint      Role = "lint"
	RoleTypecheck Role = "typecheck"
	RoleLSP       Role = "lsp"
)

// Roles lists every role in probe and display order.
var Roles = []Role{RolePython, RoleLint, RoleTypecheck, RoleLSP}

// Map is the capability map returned to callers.
type Map struct {
	Available map[Role]bool   `json:"available"`
	Versions  map[Role]string `json:"versions"`
	Tools     map[Role]string `json:"tools"`
	ProbedAt  time.Time       `json:"probedAt"`
	Assumed   bool            `json:"assumed"`
}

// Has reports whether role is available.
func (m Map) Has(role Role) bool {
	return m.Available[role]
}

func newMap() Map {
	return Map{
		Available: make(map[Role]bool, len(Roles)),
		Versions:  make(map[Role]string, len(Roles)),
		Tools:     make(map[Role]string, len(Roles)),
	}
}

// Status is the probe outcome for one role.
type Status struct {
	Role      Role          `json:"role"`
	Tool      string        `json:"tool"`
	Available bool          `json:"available"`
	Version   string        `json:"version"`
	Command   []string      `json:"command,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Spec describes how to probe one role.
type Spec struct {
	// Role is the slot this tool fills.
	Role Role

	// Tool is the launchable tool with candidate commands.
	Tool toolrun.Tool

	// ProbeArgs are appended to the candidate for the probe.
	ProbeArgs []string

	// AcceptExit lists exit codes that count as success. Defaults to {0}.
	AcceptExit []int

	// VersionFrom copies the version of another role instead of parsing
	// probe output. Used for the language server, which has no --version.
	VersionFrom Role
}

func (s Spec) accepts(code int) bool {
	if len(s.AcceptExit) == 0 {
		return code == 0
	}
	return slices.Contains(s.AcceptExit, code)
}

// DefaultSpecs returns the probe specs for the standard tool set.
//
// Inputs:
//
//	python - Preferred interpreter command (e.g., "python3")
func DefaultSpecs(python string) []Spec {
	if python == "" {
		python = "python3"
	}
	interpreters := [][]string{{python}}
	if python != "python" {
		interpreters = append(interpreters, []string{"python"})
	}

	return []Spec{
		{
			Role:      RolePython,
			Tool:      toolrun.Tool{Name: "python", Candidates: interpreters},
			ProbeArgs: []string{"--version"},
		},
		{
			Role:      RoleLint,
			Tool:      toolrun.Tool{Name: "ruff", Candidates: [][]string{{python, "-m", "ruff"}, {"ruff"}}},
			ProbeArgs: []string{"--version"},
		},
		{
			Role:      RoleTypecheck,
			Tool:      toolrun.Tool{Name: "pyright", Candidates: [][]string{{python, "-m", "pyright"}, {"pyright"}}},
			ProbeArgs: []string{"--version"},
		},
		{
			Role:        RoleLSP,
			Tool:        toolrun.Tool{Name: "pyright-langserver", Candidates: [][]string{{"pyright-langserver"}}},
			ProbeArgs:   []string{"--help"},
			AcceptExit:  []int{0, 1, 2},
			VersionFrom: RoleTypecheck,
		},
	}
}
