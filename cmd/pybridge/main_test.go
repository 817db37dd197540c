// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pybridge/pkg/config"
	"github.com/AleutianAI/pybridge/services/bridge"
)

const testConfigYAML = `
capability:
  watch_path: false
lsp:
  enabled: false
storage:
  in_memory: true
logging:
  level: error
  format: text
`

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PYBRIDGE_DATA_DIR", t.TempDir())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "pybridge dev\n", out)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", config.ConfigFileName)

	out, err := runCLI(t, "", "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg, err := config.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.Addr, cfg.Server.Addr)

	out, err = runCLI(t, "", "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestConfigShow(t *testing.T) {
	out, err := runCLI(t, "", "config", "show", "--config", writeTestConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "in_memory: true")
	assert.Contains(t, out, "127.0.0.1:8765")
}

func TestConfigMissingExplicitPath(t *testing.T) {
	_, err := runCLI(t, "", "config", "show", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCallHealth(t *testing.T) {
	out, err := runCLI(t, "", "call", bridge.MethodHealth, "--config", writeTestConfig(t))
	require.NoError(t, err)

	var resp bridge.HealthResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "dev", resp.Version)
	assert.False(t, resp.LSPEnabled)
	assert.True(t, resp.DraftsInMem)
}

func TestCallLSPStatusDisabled(t *testing.T) {
	out, err := runCLI(t, "", "call", bridge.MethodLSPStatus, "--config", writeTestConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, `"missing"`)
}

func TestCallErrors(t *testing.T) {
	cfgPath := writeTestConfig(t)

	t.Run("unknown method", func(t *testing.T) {
		_, err := runCLI(t, "", "call", "nope", "--config", cfgPath)
		assert.ErrorIs(t, err, bridge.ErrUnknownMethod)
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := runCLI(t, "print(1)", "call", bridge.MethodRunCode, "--mode", "quiz", "--config", cfgPath)
		assert.ErrorIs(t, err, bridge.ErrInvalidParams)
	})

	t.Run("malformed params", func(t *testing.T) {
		_, err := runCLI(t, "", "call", bridge.MethodSyntaxCheck, "--params", "{", "--config", cfgPath)
		assert.ErrorIs(t, err, bridge.ErrInvalidParams)
	})
}

func TestBuildParams(t *testing.T) {
	newCmd := func(stdin string) *cobra.Command {
		cmd := &cobra.Command{}
		cmd.SetIn(strings.NewReader(stdin))
		return cmd
	}
	decode := func(t *testing.T, raw json.RawMessage) map[string]any {
		t.Helper()
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		return m
	}

	t.Run("run_code reads stdin", func(t *testing.T) {
		raw, err := buildParams(newCmd("print(1)\n"), bridge.MethodRunCode, &callFlags{mode: "exam"})
		require.NoError(t, err)
		m := decode(t, raw)
		assert.Equal(t, "print(1)\n", m["code"])
		assert.Equal(t, "exam", m["mode"])
	})

	t.Run("lsp position", func(t *testing.T) {
		raw, err := buildParams(newCmd("x = 1\n"), bridge.MethodLSPHover, &callFlags{line: 1, column: 2})
		require.NoError(t, err)
		m := decode(t, raw)
		assert.EqualValues(t, 1, m["line"])
		assert.EqualValues(t, 2, m["column"])
	})

	t.Run("load has no code", func(t *testing.T) {
		raw, err := buildParams(newCmd("ignored"), bridge.MethodLoadInitialCode,
			&callFlags{exercise: "ex1", starter: "# start\n"})
		require.NoError(t, err)
		m := decode(t, raw)
		assert.NotContains(t, m, "code")
		assert.Equal(t, "ex1", m["exercise"])
		assert.Equal(t, "# start\n", m["starter"])
	})

	t.Run("check_code exercise file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ex.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"checks":[]}`), 0o600))
		raw, err := buildParams(newCmd("x = 1\n"), bridge.MethodCheckCode, &callFlags{exerciseFile: path})
		require.NoError(t, err)
		m := decode(t, raw)
		assert.Contains(t, m, "exercise")
	})

	t.Run("check_code invalid exercise file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ex.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
		_, err := buildParams(newCmd("x = 1\n"), bridge.MethodCheckCode, &callFlags{exerciseFile: path})
		assert.ErrorIs(t, err, bridge.ErrInvalidParams)
	})
}

func TestReadCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.py")
	require.NoError(t, os.WriteFile(path, []byte("print('file')\n"), 0o600))

	code, err := readCode(strings.NewReader("stdin"), path)
	require.NoError(t, err)
	assert.Equal(t, "print('file')\n", code)

	code, err = readCode(strings.NewReader("stdin"), "-")
	require.NoError(t, err)
	assert.Equal(t, "stdin", code)

	code, err = readCode(strings.NewReader("piped"), "")
	require.NoError(t, err)
	assert.Equal(t, "piped", code)

	_, err = readCode(strings.NewReader(""), filepath.Join(t.TempDir(), "missing.py"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
