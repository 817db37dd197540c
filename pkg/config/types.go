// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads pybridge configuration.
//
// Sources, lowest precedence first:
//
//  1. Default()
//  2. The YAML file at --config, or <UserConfigDir>/pybridge/pybridge.yaml
//  3. A .env file in the working directory (sets environment variables only
//     when they are not already set)
//  4. PYBRIDGE_* environment variables
//
// The merged result is validated with struct tags; failures wrap
// ErrInvalidConfig.
package config

import (
	"time"
)

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Python     PythonConfig     `yaml:"python"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Tools      ToolsConfig      `yaml:"tools"`
	Capability CapabilityConfig `yaml:"capability"`
	LSP        LSPConfig        `yaml:"lsp"`
	Syntax     SyntaxConfig     `yaml:"syntax"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig configures the HTTP and WebSocket transport.
type ServerConfig struct {
	// Addr is the listen address. Loopback by default.
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// RunRate is the per-client token refill rate (per second) for
	// run_code and check_code. Zero disables rate limiting.
	RunRate float64 `yaml:"run_rate" validate:"gte=0"`

	// RunBurst is the token bucket size.
	RunBurst int `yaml:"run_burst" validate:"gte=0"`

	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// PythonConfig names the interpreter.
type PythonConfig struct {
	Command string `yaml:"command" validate:"required"`
}

// SandboxConfig bounds user code execution.
type SandboxConfig struct {
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	MemoryMB      uint64        `yaml:"memory_mb"`
	CPUSeconds    uint64        `yaml:"cpu_seconds"`
	FileSizeKB    uint64        `yaml:"file_size_kb"`
	OutputLimitKB int           `yaml:"output_limit_kb" validate:"gt=0"`
	MaxConcurrent int64         `yaml:"max_concurrent" validate:"gt=0"`

	// Denylist replaces the built-in blocked module list when non-empty.
	Denylist []string `yaml:"denylist,omitempty" validate:"dive,required"`

	// ScratchRoot holds per-run scratch directories. Empty means the OS
	// temp dir.
	ScratchRoot string `yaml:"scratch_root"`
}

// ToolsConfig applies to every analysis tool subprocess.
type ToolsConfig struct {
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	OutputLimitKB int           `yaml:"output_limit_kb" validate:"gt=0"`
}

// CapabilityConfig configures tool probing.
type CapabilityConfig struct {
	TTL          time.Duration `yaml:"ttl" validate:"gt=0"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" validate:"gt=0"`

	// WatchPath invalidates cached probes when a PATH directory changes.
	WatchPath bool `yaml:"watch_path"`
}

// LSPConfig configures the language server.
type LSPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	StartupTimeout time.Duration `yaml:"startup_timeout" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`

	// Workspace is the server root. Empty means <data_dir>/lsp-workspace.
	Workspace string `yaml:"workspace"`
}

// SyntaxConfig configures syntax_check.
type SyntaxConfig struct {
	// PreferInterpreter compiles with Python when available instead of
	// using the tree-sitter parser.
	PreferInterpreter bool          `yaml:"prefer_interpreter"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
}

// StorageConfig configures the draft store.
type StorageConfig struct {
	// DataDir holds drafts, logs and the LSP workspace. Empty means
	// DefaultDataDir().
	DataDir string `yaml:"data_dir"`

	// InMemory keeps drafts in memory only.
	InMemory bool `yaml:"in_memory"`

	// DefaultStarter is returned by load_initial_code when neither a draft
	// nor a starter exists.
	DefaultStarter string `yaml:"default_starter"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`

	// File enables app.log under <data_dir>/logs.
	File bool `yaml:"file"`
}

// TelemetryConfig configures pkg/telemetry.
type TelemetryConfig struct {
	Exporter    string `yaml:"exporter" validate:"oneof=none stdout otlp prometheus"`
	Endpoint    string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

// DefaultStarterCode is the editor content for a fresh exercise.
const DefaultStarterCode = "# Write your Python code here\n"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8765",
			RunRate:         2,
			RunBurst:        5,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Python: PythonConfig{Command: "python3"},
		Sandbox: SandboxConfig{
			Timeout:       5 * time.Second,
			MemoryMB:      256,
			CPUSeconds:    4,
			FileSizeKB:    1024,
			OutputLimitKB: 100,
			MaxConcurrent: 4,
		},
		Tools: ToolsConfig{
			Timeout:       10 * time.Second,
			OutputLimitKB: 1024,
		},
		Capability: CapabilityConfig{
			TTL:          30 * time.Second,
			ProbeTimeout: 5 * time.Second,
			WatchPath:    true,
		},
		LSP: LSPConfig{
			Enabled:        true,
			IdleTimeout:    10 * time.Minute,
			StartupTimeout: 30 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Syntax: SyntaxConfig{
			PreferInterpreter: true,
			Timeout:           3 * time.Second,
		},
		Storage: StorageConfig{
			DefaultStarter: DefaultStarterCode,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "pybridge",
		},
	}
}
