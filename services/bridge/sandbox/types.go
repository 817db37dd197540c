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
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MODE
// =============================================================================

// Mode selects whether hints are produced.
type Mode string

const (
	ModeStudy Mode = "study"
	ModeExam  Mode = "exam"
)

// ParseMode parses a mode string. Empty means study.
//
// Errors:
//
//	ErrInvalidMode - s is neither "study" nor "exam"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "study":
		return ModeStudy, nil
	case "exam":
		return ModeExam, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// =============================================================================
// STATUS AND FAULT
// =============================================================================

// Status is the outcome of an execution or check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"

	// StatusFail is produced by exercise checks, never by Execute.
	StatusFail Status = "fail"
)

// Fault says which side of the bridge boundary caused a failure.
type Fault string

const (
	FaultNone     Fault = ""
	FaultUser     Fault = "user"
	FaultPolicy   Fault = "policy"
	FaultResource Fault = "resource"
	FaultBridge   Fault = "bridge"
)

// BridgeFailurePrefix starts every message for a bridge-side failure.
const BridgeFailurePrefix = "bridge failure: "

// =============================================================================
// RESULT
// =============================================================================

// Result is the outcome of running user code.
type Result struct {
	Status        Status   `json:"status"`
	Stdout        string   `json:"stdout"`
	Stderr        string   `json:"stderr"`
	Message       string   `json:"message"`
	Hint          string   `json:"hint"`
	Warnings      []string `json:"warnings"`
	Fault         Fault    `json:"fault"`
	DurationMs    int64    `json:"durationMs"`
	Truncated     bool     `json:"truncated"`
	BlockedModule string   `json:"blockedModule,omitempty"`
	ExitCode      int      `json:"exitCode"`

	// Exports holds variables requested with WithExports. Only set when
	// the run succeeded.
	Exports *Exports `json:"-"`
}

// Exports are user variables serialized by the harness after a run.
type Exports struct {
	// Vars maps variable name to its JSON value.
	Vars map[string]json.RawMessage `json:"vars"`

	// Missing lists requested names the code did not define.
	Missing []string `json:"missing"`

	// Notes lists conversions applied per variable (e.g., "map").
	Notes map[string][]string `json:"notes"`
}

// Has reports whether name was exported.
func (e *Exports) Has(name string) bool {
	if e == nil {
		return false
	}
	_, ok := e.Vars[name]
	return ok
}

// =============================================================================
// CONFIG
// =============================================================================

// DefaultDenylist are the modules user code may not import.
var DefaultDenylist = []string{
	"os", "sys", "shutil", "subprocess", "pathlib", "socket", "requests", "ctypes",
	"importlib", "multiprocessing", "signal", "pty", "asyncio",
}

// Config configures an Executor.
type Config struct {
	// Python is the interpreter command or path.
	Python string

	// Root is the directory under which scratch directories are created.
	// Empty means the OS temp dir.
	Root string

	// Timeout is the wall-clock limit per execution.
	Timeout time.Duration

	// MemoryBytes, CPUSeconds and FileSizeBytes are OS resource limits.
	MemoryBytes   uint64
	CPUSeconds    uint64
	FileSizeBytes uint64

	// OutputLimit caps stdout and stderr each, in bytes.
	OutputLimit int

	// MaxConcurrent bounds simultaneous executions.
	MaxConcurrent int64

	// Denylist holds root module names that may not be imported.
	Denylist []string
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Python:        "python3",
		Timeout:       5 * time.Second,
		MemoryBytes:   256 << 20,
		CPUSeconds:    4,
		FileSizeBytes: 1 << 20,
		OutputLimit:   100 << 10,
		MaxConcurrent: 4,
		Denylist:      append([]string(nil), DefaultDenylist...),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Python == "" {
		c.Python = d.Python
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = d.OutputLimit
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.Denylist == nil {
		c.Denylist = d.Denylist
	}
	return c
}
