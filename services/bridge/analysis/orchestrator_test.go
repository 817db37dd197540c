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
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
	"github.com/AleutianAI/pybridge/services/bridge/lint"
	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

const ruffBody = `if [ "$1" = "--version" ]; then echo "ruff 0.6.1"; exit 0; fi
echo x >> "$0.count"
cat <<JSON
[{"code":"F821","end_location":{"column":4,"row":1},"filename":"$last","fix":null,
  "location":{"column":1,"row":1},"message":"Undefined name foo","url":null}]
JSON`

const pyrightBody = `if [ "$1" = "--version" ]; then echo "pyright 1.1.380"; exit 0; fi
echo x >> "$0.count"
cat <<JSON
{"version":"1.1.380","generalDiagnostics":[{"file":"$last","severity":"error",
  "message":"foo is not defined","rule":"reportUndefinedVariable",
  "range":{"start":{"line":0,"character":0},"end":{"line":0,"character":3}}}]}
JSON`

type fixture struct {
	orch    *Orchestrator
	prober  *capability.Prober
	scripts map[capability.Role]string
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func calls(t *testing.T, script string) int {
	t.Helper()
	data, err := os.ReadFile(script + ".count")
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "x\n")
}

// newFixture wires an orchestrator to fake tools. An empty body leaves the
// role pointing at a command that does not exist.
func newFixture(t *testing.T, python string, bodies map[capability.Role]string, opts ...Option) *fixture {
	t.Helper()
	requireShell(t)
	dir := t.TempDir()

	f := &fixture{scripts: map[capability.Role]string{}}
	cmd := func(role capability.Role, name string) string {
		body, ok := bodies[role]
		if !ok {
			return "pybridge-missing-" + name
		}
		p := writeScript(t, dir, name, body)
		f.scripts[role] = p
		return p
	}

	ruff := toolrun.Tool{Name: "ruff", Candidates: [][]string{{cmd(capability.RoleLint, "ruff")}}}
	pyright := toolrun.Tool{Name: "pyright", Candidates: [][]string{{cmd(capability.RoleTypecheck, "pyright")}}}
	specs := []capability.Spec{
		{Role: capability.RolePython, Tool: toolrun.Tool{Name: "python", Candidates: [][]string{{python}}}, ProbeArgs: []string{"--version"}},
		{Role: capability.RoleLint, Tool: ruff, ProbeArgs: []string{"--version"}},
		{Role: capability.RoleTypecheck, Tool: pyright, ProbeArgs: []string{"--version"}},
	}

	runner := toolrun.NewRunner()
	f.prober = capability.NewProber(runner, python, capability.WithSpecs(specs...))
	t.Cleanup(func() { _ = f.prober.Close() })

	configs := lint.NewConfigRegistry(python)
	ruffCfg := lint.RuffConfig(ruff)
	configs.Register(&ruffCfg)
	pyrightCfg := lint.PyrightConfig(pyright)
	configs.Register(&pyrightCfg)

	linter := lint.NewLintRunner(runner, python, lint.WithConfigs(configs), lint.WithTempRoot(t.TempDir()))
	f.orch = NewOrchestrator(f.prober, linter, opts...)
	return f
}

func TestSyntax_NoToolsInstalled(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", nil)

	rep := f.orch.Syntax(context.Background(), "def f(:\n    pass\n")
	assert.False(t, rep.OK)
	require.Len(t, rep.Diagnostics, 1)
	d := rep.Diagnostics[0]
	assert.Equal(t, 1, d.StartLineNumber)
	assert.GreaterOrEqual(t, d.StartColumn, 1)
	assert.Equal(t, diagnostics.SeverityError, d.Severity)
	assert.Equal(t, diagnostics.SourceSyntax, d.Source)
	assert.Equal(t, "E999", d.Code)
	assert.Equal(t, d.Message, rep.Message)
	assert.Equal(t, CodeHash("def f(:\n    pass\n"), rep.CodeHash)
}

func TestSyntax_Clean(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", nil)

	rep := f.orch.Syntax(context.Background(), "x = 1\nprint(x)\n")
	assert.True(t, rep.OK)
	assert.NotNil(t, rep.Diagnostics)
	assert.Empty(t, rep.Diagnostics)
	assert.Empty(t, rep.Message)
}

func TestSyntax_InterpreterMessages(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	f := newFixture(t, python, nil)

	rep := f.orch.Syntax(context.Background(), "x = 1\nif x\n    pass\n")
	require.Len(t, rep.Diagnostics, 1)
	d := rep.Diagnostics[0]
	assert.Equal(t, "python", d.Tool)
	assert.Equal(t, "SyntaxError", d.Code)
	assert.Equal(t, 2, d.StartLineNumber)
	assert.Contains(t, d.Message, "expected ':'")
}

func TestSyntax_InterpreterDisabled(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	f := newFixture(t, python, nil, WithPreferInterpreter(false))

	rep := f.orch.Syntax(context.Background(), "def f(:\n")
	require.Len(t, rep.Diagnostics, 1)
	assert.Equal(t, "tree-sitter", rep.Diagnostics[0].Tool)
}

func TestLint_Unavailable(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", nil)

	rep := f.orch.Lint(context.Background(), "foo\n")
	assert.False(t, rep.OK)
	assert.NotNil(t, rep.Diagnostics)
	assert.Empty(t, rep.Diagnostics)
	assert.False(t, rep.Available[capability.RoleLint])
	assert.Equal(t, "ruff is not installed", rep.Message)
	assert.Empty(t, rep.Fault)
}

func TestLint_NativeCodes(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", map[capability.Role]string{
		capability.RoleLint: ruffBody,
	})

	rep := f.orch.Lint(context.Background(), "foo\n")
	require.True(t, rep.OK, rep.Message)
	require.Len(t, rep.Diagnostics, 1)
	assert.Equal(t, "F821", rep.Diagnostics[0].Code)
	assert.Equal(t, diagnostics.SourceLint, rep.Diagnostics[0].Source)
	assert.True(t, rep.Available[capability.RoleLint])
}

func TestLint_UnparseableOutputIsBridgeFault(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", map[capability.Role]string{
		capability.RoleLint: `if [ "$1" = "--version" ]; then echo "ruff 0.6.1"; exit 0; fi
echo "this is not json"`,
	})

	rep := f.orch.Lint(context.Background(), "foo\n")
	assert.False(t, rep.OK)
	assert.Equal(t, FaultBridge, rep.Fault)
	assert.Empty(t, rep.Diagnostics)
}

func TestLint_TransientFailureNotPinned(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", map[capability.Role]string{
		capability.RoleLint: `if [ "$1" = "--version" ]; then echo "ruff 0.6.1"; exit 0; fi
if [ -f "$0.failed" ]; then
  echo "[]"
  exit 0
fi
touch "$0.failed"
echo "ruff crashed" >&2
exit 2`,
	})
	ctx := context.Background()

	first := f.orch.Lint(ctx, "x = 1\n")
	assert.False(t, first.OK)
	assert.False(t, first.Available[capability.RoleLint])
	assert.Contains(t, first.Message, "ruff crashed")
	assert.Empty(t, first.Fault)

	second := f.orch.Lint(ctx, "x = 1\n")
	assert.True(t, second.OK, second.Message)
	assert.True(t, second.Available[capability.RoleLint])
}

func TestTypecheck(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", map[capability.Role]string{
		capability.RoleTypecheck: pyrightBody,
	})

	rep := f.orch.Typecheck(context.Background(), "foo\n")
	require.True(t, rep.OK, rep.Message)
	require.Len(t, rep.Diagnostics, 1)
	d := rep.Diagnostics[0]
	assert.Equal(t, "reportUndefinedVariable", d.Code)
	assert.Equal(t, diagnostics.SourceTypecheck, d.Source)
	assert.Equal(t, 1, d.StartLineNumber)
	assert.Equal(t, 1, d.StartColumn)
}

func TestAnalyze_MergeOrder(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", map[capability.Role]string{
		capability.RoleLint:      ruffBody,
		capability.RoleTypecheck: pyrightBody,
	})

	rep := f.orch.Analyze(context.Background(), "foo\ndef f(:\n")
	assert.True(t, rep.OK, rep.Message)
	require.Len(t, rep.Diagnostics, 3)
	assert.Equal(t, diagnostics.SourceSyntax, rep.Diagnostics[0].Source)
	assert.Equal(t, diagnostics.SourceLint, rep.Diagnostics[1].Source)
	assert.Equal(t, diagnostics.SourceTypecheck, rep.Diagnostics[2].Source)
	assert.True(t, rep.Available[capability.RoleLint])
	assert.True(t, rep.Available[capability.RoleTypecheck])
	assert.Empty(t, rep.Skipped)
}

func TestAnalyze_SkipsUnavailableTypecheck(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", map[capability.Role]string{
		capability.RoleLint: ruffBody,
	})

	rep := f.orch.Analyze(context.Background(), "foo\n")
	assert.True(t, rep.OK)
	require.Len(t, rep.Diagnostics, 1)
	assert.Equal(t, "F821", rep.Diagnostics[0].Code)
	assert.False(t, rep.Available[capability.RoleTypecheck])
	assert.Equal(t, []Stage{StageTypecheck}, rep.Skipped)
	assert.Contains(t, rep.Message, "pyright is not installed")
}

func TestAnalyze_Idempotent(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", map[capability.Role]string{
		capability.RoleLint:      ruffBody,
		capability.RoleTypecheck: pyrightBody,
	})
	ctx := context.Background()
	code := "foo\nx = (\n"

	first := f.orch.Analyze(ctx, code)
	second := f.orch.Analyze(ctx, code)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
	assert.Equal(t, first.CodeHash, second.CodeHash)
}

func TestAnalyze_ConcurrentCallsUseOwnScratch(t *testing.T) {
	f := newFixture(t, "pybridge-missing-python", map[capability.Role]string{
		capability.RoleLint:      ruffBody,
		capability.RoleTypecheck: pyrightBody,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	reports := make([]Report, 8)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = f.orch.Analyze(ctx, "foo\n")
		}(i)
	}
	wg.Wait()

	for _, rep := range reports {
		assert.True(t, rep.OK, rep.Message)
		assert.Len(t, rep.Diagnostics, 2)
	}
	assert.Equal(t, 8, calls(t, f.scripts[capability.RoleLint]))
	assert.Equal(t, 8, calls(t, f.scripts[capability.RoleTypecheck]))
}

func TestUTF16Column(t *testing.T) {
	tests := []struct {
		name string
		line string
		col  int
		want int
	}{
		{"ascii", "abc", 2, 2},
		{"zero stays zero", "abc", 0, 0},
		{"astral before column", "😀 = 1", 2, 3},
		{"past end", "ab", 5, 5},
		{"past end after astral", "😀", 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, utf16Column(tt.line, tt.col))
		})
	}
}

func TestCodeHash(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		CodeHash(""))
	assert.NotEqual(t, CodeHash("a"), CodeHash("b"))
}
