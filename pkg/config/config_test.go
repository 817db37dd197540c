// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pybridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Addr)
	assert.Equal(t, "python3", cfg.Python.Command)
	assert.Equal(t, 10*time.Minute, cfg.LSP.IdleTimeout)
	assert.Equal(t, 3*time.Second, cfg.Syntax.Timeout)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
python:
  command: /usr/bin/python3.12
sandbox:
  timeout: 2s
  denylist: [socket, os]
lsp:
  idle_timeout: 90s
storage:
  data_dir: /tmp/pyb
`)
	cfg, err := load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/python3.12", cfg.Python.Command)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, []string{"socket", "os"}, cfg.Sandbox.Denylist)
	assert.Equal(t, 90*time.Second, cfg.LSP.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.LSP.StartupTimeout, "untouched keys keep defaults")
	assert.Equal(t, "/tmp/pyb", cfg.Storage.DataDir)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "python:\n  command: python3.11\n")
	cfg, err := load(path, env(map[string]string{
		"PYBRIDGE_PYTHON":          "py",
		"PYBRIDGE_ADDR":            "127.0.0.1:9999",
		"PYBRIDGE_LOG_LEVEL":       "DEBUG",
		"PYBRIDGE_SANDBOX_TIMEOUT": "750ms",
		"PYBRIDGE_LSP_ENABLED":     "false",
		"PYBRIDGE_DATA_DIR":        "/data",
	}))
	require.NoError(t, err)

	assert.Equal(t, "py", cfg.Python.Command)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 750*time.Millisecond, cfg.Sandbox.Timeout)
	assert.False(t, cfg.LSP.Enabled)
	assert.Equal(t, "/data", cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join("/data", "drafts"), cfg.DraftsDir())
	assert.Equal(t, filepath.Join("/data", "lsp-workspace"), cfg.LSPWorkspace())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("explicit path missing", func(t *testing.T) {
		_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeFile(t, "sandbox:\n  timout: 2s\n")
		_, err := load(path, env(nil))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeFile(t, "sandbox:\n  timeout: soon\n")
		_, err := load(path, env(nil))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("bad env duration", func(t *testing.T) {
		_, err := load(writeFile(t, ""), env(map[string]string{"PYBRIDGE_SANDBOX_TIMEOUT": "x"}))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("bad env bool", func(t *testing.T) {
		_, err := load(writeFile(t, ""), env(map[string]string{"PYBRIDGE_LSP_ENABLED": "maybe"}))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("validation", func(t *testing.T) {
		path := writeFile(t, "telemetry:\n  exporter: zipkin\n")
		_, err := load(path, env(map[string]string{"PYBRIDGE_DATA_DIR": "/d"}))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("otlp needs endpoint", func(t *testing.T) {
		path := writeFile(t, "telemetry:\n  exporter: otlp\n")
		_, err := load(path, env(map[string]string{"PYBRIDGE_DATA_DIR": "/d"}))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := load(writeFile(t, ""), env(map[string]string{"PYBRIDGE_DATA_DIR": "/d"}))
	require.NoError(t, err)
	assert.Equal(t, Default().Sandbox, cfg.Sandbox)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  run_rate: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Server.RunRate)

	_, err = Parse([]byte("server:\n  addr: not an address\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDataDir(t *testing.T) {
	home := func() (string, error) { return "/home/u", nil }
	get := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}

	tests := []struct {
		name string
		vars map[string]string
		goos string
		want string
	}{
		{"override", map[string]string{"PYBRIDGE_DATA_DIR": "/x", "XDG_DATA_HOME": "/xdg"}, "linux", "/x"},
		{"windows", map[string]string{"LOCALAPPDATA": `C:\Users\u\AppData\Local`}, "windows", filepath.Join(`C:\Users\u\AppData\Local`, "pybridge")},
		{"xdg", map[string]string{"XDG_DATA_HOME": "/xdg"}, "linux", filepath.Join("/xdg", "pybridge")},
		{"home", nil, "darwin", filepath.Join("/home/u", ".local", "share", "pybridge")},
		{"localappdata ignored off windows", map[string]string{"LOCALAPPDATA": "/l"}, "linux", filepath.Join("/home/u", ".local", "share", "pybridge")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dataDir(get(tt.vars), tt.goos, home)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pybridge.yaml")

	created, err := WriteDefault(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = WriteDefault(path)
	require.NoError(t, err)
	assert.False(t, created, "existing file is kept")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var probe map[string]any
	require.NoError(t, yaml.Unmarshal(data, &probe))

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg, "written defaults round-trip")
}
