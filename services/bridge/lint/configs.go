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
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

// Linter names.
const (
	Ruff    = "ruff"
	Pyright = "pyright"
)

// =============================================================================
// LINTER CONFIG
// =============================================================================

// LinterConfig configures how to run a specific linter.
//
// Thread Safety: Treat as immutable after creation.
type LinterConfig struct {
	// Name is the linter name (e.g., "ruff").
	Name string

	// Tool holds the candidate command lines.
	Tool toolrun.Tool

	// Source is the diagnostic source for issues from this linter.
	Source diagnostics.Source

	// Args are the arguments for a JSON check run; the file path is appended.
	Args []string

	// FixArgs are arguments for fix mode. Empty if unsupported.
	FixArgs []string

	// FormatArgs are arguments for format mode. Empty if unsupported.
	FormatArgs []string

	// Timeout is the maximum time to wait for the linter.
	Timeout time.Duration
}

// Clone returns a deep copy of the config.
func (c *LinterConfig) Clone() *LinterConfig {
	clone := *c
	clone.Tool.Candidates = make([][]string, len(c.Tool.Candidates))
	for i, cand := range c.Tool.Candidates {
		clone.Tool.Candidates[i] = append([]string(nil), cand...)
	}
	clone.Args = append([]string(nil), c.Args...)
	clone.FixArgs = append([]string(nil), c.FixArgs...)
	clone.FormatArgs = append([]string(nil), c.FormatArgs...)
	return &clone
}

// RuffConfig returns the configuration for ruff.
//
// Description:
//
//	Check runs never fail on findings (--exit-zero). Fix runs apply only
//	fixes ruff classifies as safe and print the remaining findings.
func RuffConfig(tool toolrun.Tool) LinterConfig {
	return LinterConfig{
		Name:   Ruff,
		Tool:   tool,
		Source: diagnostics.SourceLint,
		Args: []string{
			"check",
			"--output-format=json",
			"--exit-zero",
		},
		FixArgs: []string{
			"check",
			"--fix",
			"--no-unsafe-fixes",
			"--exit-zero",
			"--output-format=json",
		},
		FormatArgs: []string{"format"},
		Timeout:    10 * time.Second,
	}
}

// PyrightConfig returns the configuration for pyright.
//
// Description:
//
//	pyright exits 1 when it reports errors; the runner accepts any exit
//	that still produced JSON on stdout.
func PyrightConfig(tool toolrun.Tool) LinterConfig {
	return LinterConfig{
		Name:    Pyright,
		Tool:    tool,
		Source:  diagnostics.SourceTypecheck,
		Args:    []string{"--outputjson"},
		Timeout: 20 * time.Second,
	}
}

// =============================================================================
// CONFIG REGISTRY
// =============================================================================

// ConfigRegistry manages linter configurations by name.
//
// Thread Safety: Safe for concurrent use.
type ConfigRegistry struct {
	mu      sync.RWMutex
	configs map[string]*LinterConfig
}

// NewConfigRegistry creates a registry with ruff and pyright, using the
// same candidate commands the capability prober checks.
//
// Inputs:
//
//	python - Interpreter used for the "python -m tool" candidates
func NewConfigRegistry(python string) *ConfigRegistry {
	r := &ConfigRegistry{configs: make(map[string]*LinterConfig)}
	for _, spec := range capability.DefaultSpecs(python) {
		switch spec.Role {
		case capability.RoleLint:
			cfg := RuffConfig(spec.Tool)
			r.Register(&cfg)
		case capability.RoleTypecheck:
			cfg := PyrightConfig(spec.Tool)
			r.Register(&cfg)
		}
	}
	return r
}

// Register adds or replaces a config.
func (r *ConfigRegistry) Register(config *LinterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[config.Name] = config.Clone()
}

// Get returns a copy of the config for name, or nil.
func (r *ConfigRegistry) Get(name string) *LinterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[name]
	if !ok {
		return nil
	}
	return c.Clone()
}

// SetTimeout overrides the timeout for name. Unknown names are ignored.
func (r *ConfigRegistry) SetTimeout(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.configs[name]; ok && d > 0 {
		c.Timeout = d
	}
}

// Names returns the registered linter names, sorted.
func (r *ConfigRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
