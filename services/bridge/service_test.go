// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pybridge/pkg/config"
	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
	"github.com/AleutianAI/pybridge/services/bridge/grader"
	"github.com/AleutianAI/pybridge/services/bridge/lsp"
	"github.com/AleutianAI/pybridge/services/bridge/sandbox"
)

// testConfig returns a configuration that needs no external tools for the
// in-process paths: in-memory drafts, tree-sitter syntax, LSP off.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.InMemory = true
	cfg.Capability.WatchPath = false
	cfg.Syntax.PreferInterpreter = false
	cfg.LSP.Enabled = false
	cfg.Server.RunRate = 0
	cfg.Sandbox.ScratchRoot = t.TempDir()
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := Build(context.Background(), testConfig(t), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
}

func TestNewService_RequiresComponents(t *testing.T) {
	_, err := NewService(Components{})
	assert.Error(t, err)
}

// =============================================================================
// Drafts
// =============================================================================

func TestService_SaveAndLoad(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	saved := svc.SaveCode(ctx, "lists-1", "nums = [1, 2]\n")
	require.True(t, saved.OK, saved.Error)
	assert.Equal(t, "lists-1", saved.Exercise)
	assert.False(t, saved.UpdatedAt.IsZero())

	loaded := svc.LoadInitialCode(ctx, "lists-1", "starter")
	assert.True(t, loaded.OK)
	assert.Equal(t, "nums = [1, 2]\n", loaded.Code)

	other := svc.LoadInitialCode(ctx, "lists-2", "total = 0\n")
	assert.Equal(t, "total = 0\n", other.Code)

	fallback := svc.LoadInitialCode(ctx, "lists-3", "")
	assert.Equal(t, config.DefaultStarterCode, fallback.Code)
}

func TestService_SaveDefaultExercise(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	saved := svc.SaveCode(ctx, "  ", "print(1)\n")
	require.True(t, saved.OK)
	assert.Equal(t, "default", saved.Exercise)

	loaded := svc.LoadInitialCode(ctx, "", "")
	assert.Equal(t, "default", loaded.Exercise)
	assert.Equal(t, "print(1)\n", loaded.Code)
}

func TestService_LoadAfterClose(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Close(context.Background()))
	require.NoError(t, svc.Close(context.Background()), "idempotent")

	loaded := svc.LoadInitialCode(context.Background(), "ex", "starter")
	assert.False(t, loaded.OK)
	assert.Equal(t, "starter", loaded.Code)
	assert.NotEmpty(t, loaded.Error)

	saved := svc.SaveCode(context.Background(), "ex", "x = 1")
	assert.False(t, saved.OK)
}

// =============================================================================
// Analysis
// =============================================================================

func TestService_SyntaxCheck(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	clean := svc.SyntaxCheck(ctx, "x = 1\n")
	assert.True(t, clean.OK)
	assert.Empty(t, clean.Diagnostics)
	assert.NotEmpty(t, clean.CodeHash)

	broken := svc.SyntaxCheck(ctx, "def f(:\n    pass\n")
	assert.False(t, broken.OK)
	require.NotEmpty(t, broken.Diagnostics)
	assert.Equal(t, diagnostics.SourceSyntax, broken.Diagnostics[0].Source)
	assert.GreaterOrEqual(t, broken.Diagnostics[0].StartLineNumber, 1)
}

// =============================================================================
// Execution
// =============================================================================

func TestService_RunBlockedImport(t *testing.T) {
	svc := newTestService(t)

	res := svc.RunCode(context.Background(), "import os\nprint(os.getcwd())\n", sandbox.ModeStudy)
	assert.Equal(t, sandbox.StatusError, res.Status)
	assert.Equal(t, sandbox.FaultPolicy, res.Fault)
	assert.Equal(t, "os", res.BlockedModule)
	assert.Contains(t, res.Message, "'os' is not allowed")
}

func TestService_RunExamModeHasNoHint(t *testing.T) {
	svc := newTestService(t)

	res := svc.RunCode(context.Background(), "import os\n", sandbox.ModeExam)
	assert.Empty(t, res.Hint)
}

func TestService_RunCode(t *testing.T) {
	requirePython(t)
	svc := newTestService(t)

	res := svc.RunCode(context.Background(), "print(1 + 1)\n", sandbox.ModeStudy)
	require.Equal(t, sandbox.StatusOK, res.Status, res.Message)
	assert.Equal(t, "2\n", res.Stdout)
}

func TestService_CheckCode(t *testing.T) {
	requirePython(t)
	svc := newTestService(t)
	ctx := context.Background()

	ex := &grader.Exercise{
		Setup: map[string]json.RawMessage{"nums": json.RawMessage(`[1, 2, 3]`)},
		Checks: []grader.Check{
			{Type: grader.CheckEquals, Var: "total", Expected: json.RawMessage(`6`)},
		},
	}

	pass := svc.CheckCode(ctx, "total = sum(nums)\n", sandbox.ModeStudy, ex)
	assert.Equal(t, sandbox.StatusOK, pass.Status, pass.Message)

	wrong := svc.CheckCode(ctx, "total = len(nums)\n", sandbox.ModeStudy, ex)
	assert.Equal(t, sandbox.StatusFail, wrong.Status)
	assert.Equal(t, sandbox.FaultUser, wrong.Fault)

	missing := svc.CheckCode(ctx, "result = sum(nums)\n", sandbox.ModeExam, ex)
	assert.Equal(t, sandbox.StatusFail, missing.Status)
	assert.Contains(t, missing.Message, "'total'")
	assert.Empty(t, missing.Hint)

	crashed := svc.CheckCode(ctx, "total = 1 / 0\n", sandbox.ModeStudy, ex)
	assert.Equal(t, sandbox.StatusError, crashed.Status)
	assert.Equal(t, sandbox.FaultUser, crashed.Fault)
}

// =============================================================================
// Grading
// =============================================================================

func TestPrecheck(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		wantState sandbox.Status
		wantFault sandbox.Fault
		wantMsg   string
	}{
		{"tabs", "if True:\n\ttotal = 6\n", sandbox.StatusFail, sandbox.FaultUser, "tabs"},
		{"trailing spaces", "total = 6   \n", sandbox.StatusFail, sandbox.FaultUser, "trailing"},
		{"eval", "total = eval('6')\n", sandbox.StatusError, sandbox.FaultPolicy, "eval"},
		{"open", "open('x', 'w')\ntotal = 1\n", sandbox.StatusError, sandbox.FaultPolicy, "open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := precheck(context.Background(), tt.code)
			require.NotNil(t, res)
			assert.Equal(t, tt.wantState, res.Status)
			assert.Equal(t, tt.wantFault, res.Fault)
			assert.Contains(t, res.Message, tt.wantMsg)
			assert.NotNil(t, res.Warnings)
		})
	}

	assert.Nil(t, precheck(context.Background(), "total = sum([1, 2, 3])\n"))
}

func TestService_CheckCodeRejectsBeforeRunning(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ex := &grader.Exercise{
		Checks: []grader.Check{
			{Type: grader.CheckEquals, Var: "total", Expected: json.RawMessage(`1`)},
		},
	}

	t.Run("policy", func(t *testing.T) {
		marker := filepath.Join(t.TempDir(), "written")
		code := fmt.Sprintf("open(%q, 'w').write('x')\ntotal = 1\n", marker)

		res := svc.CheckCode(ctx, code, sandbox.ModeStudy, ex)
		assert.Equal(t, sandbox.StatusError, res.Status)
		assert.Equal(t, sandbox.FaultPolicy, res.Fault)
		assert.Contains(t, res.Warnings, res.Message)
		assert.NoFileExists(t, marker)
	})

	t.Run("whitespace", func(t *testing.T) {
		marker := filepath.Join(t.TempDir(), "written")
		code := fmt.Sprintf("if True:\n\tprint(%q)\ntotal = 1\n", marker)

		res := svc.CheckCode(ctx, code, sandbox.ModeExam, ex)
		assert.Equal(t, sandbox.StatusFail, res.Status)
		assert.Equal(t, sandbox.FaultUser, res.Fault)
		assert.Empty(t, res.Stdout)
		assert.Empty(t, res.Hint)
	})
}

func TestGrade(t *testing.T) {
	ex := &grader.Exercise{
		Checks: []grader.Check{
			{Type: grader.CheckEquals, Var: "total", Expected: json.RawMessage(`6`)},
		},
	}
	exports := &sandbox.Exports{Vars: map[string]json.RawMessage{"total": json.RawMessage(`6`)}}

	tests := []struct {
		name      string
		ex        *grader.Exercise
		exports   *sandbox.Exports
		wantState sandbox.Status
		wantFault sandbox.Fault
		wantMsg   string
	}{
		{"passes", ex, exports, sandbox.StatusOK, sandbox.FaultNone, ""},
		{"no checks", &grader.Exercise{}, exports, sandbox.StatusError, sandbox.FaultNone, "no checks defined"},
		{"nil exercise", nil, exports, sandbox.StatusError, sandbox.FaultNone, "no checks defined"},
		{"wrong value", ex, &sandbox.Exports{Vars: map[string]json.RawMessage{"total": json.RawMessage(`5`)}}, sandbox.StatusFail, sandbox.FaultUser, "expected 6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &sandbox.Result{Status: sandbox.StatusOK, Exports: tt.exports}
			grade(tt.ex, res)
			assert.Equal(t, tt.wantState, res.Status)
			assert.Equal(t, tt.wantFault, res.Fault)
			if tt.wantMsg != "" {
				assert.Contains(t, res.Message, tt.wantMsg)
			}
		})
	}
}

// =============================================================================
// Language Server
// =============================================================================

func TestService_LSPDisabled(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	hover := svc.LSPHover(ctx, "x = 1", 1, 1)
	assert.False(t, hover.OK)
	assert.Equal(t, lspDisabledMessage, hover.Message)
	assert.NotEmpty(t, hover.CodeHash)

	complete := svc.LSPComplete(ctx, "x = 1", 1, 1)
	assert.False(t, complete.OK)
	assert.NotNil(t, complete.Items)
	assert.Empty(t, complete.Items)

	status := svc.LSPStatus(ctx)
	assert.False(t, status.OK)
	assert.Equal(t, lsp.StatusMissing, status.Status)
}

// =============================================================================
// Health, Dispatch and Panic Boundary
// =============================================================================

func TestService_Health(t *testing.T) {
	svc := newTestService(t)

	h := svc.Health(context.Background())
	assert.True(t, h.OK)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "test", h.Version)
	assert.False(t, h.LSPEnabled)
	assert.True(t, h.DraftsInMem)
}

func TestService_Call(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	t.Run("unknown method", func(t *testing.T) {
		_, err := svc.Call(ctx, "rm_rf", nil)
		assert.ErrorIs(t, err, ErrUnknownMethod)
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := svc.Call(ctx, MethodRunCode, json.RawMessage(`{"code":"x=1","mode":"practice"}`))
		assert.ErrorIs(t, err, ErrInvalidParams)
		assert.Contains(t, err.Error(), "mode must be 'study' or 'exam'")
	})

	t.Run("malformed params", func(t *testing.T) {
		_, err := svc.Call(ctx, MethodSaveCode, json.RawMessage(`{"code":1}`))
		assert.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("null params", func(t *testing.T) {
		out, err := svc.Call(ctx, MethodHealth, json.RawMessage(`null`))
		require.NoError(t, err)
		assert.IsType(t, HealthResponse{}, out)
	})

	t.Run("save then load", func(t *testing.T) {
		_, err := svc.Call(ctx, MethodSaveCode, json.RawMessage(`{"exercise":"e1","code":"a = 1\n"}`))
		require.NoError(t, err)

		out, err := svc.Call(ctx, MethodLoadInitialCode, json.RawMessage(`{"exercise":"e1"}`))
		require.NoError(t, err)
		assert.Equal(t, "a = 1\n", out.(LoadResponse).Code)
	})

	t.Run("mode is case-insensitive", func(t *testing.T) {
		out, err := svc.Call(ctx, MethodRunCode, json.RawMessage(`{"code":"import socket","mode":"EXAM"}`))
		require.NoError(t, err)
		res := out.(*sandbox.Result)
		assert.Equal(t, sandbox.FaultPolicy, res.Fault)
		assert.Empty(t, res.Hint)
	})

	t.Run("every method dispatches", func(t *testing.T) {
		for _, m := range Methods {
			switch m {
			case MethodRunCode, MethodCheckCode, MethodLintCode, MethodTypecheckCode,
				MethodAnalyzeCode, MethodFormatCode, MethodFixCode, MethodCapabilities:
				continue // need external tools or probe them
			}
			_, err := svc.Call(ctx, m, json.RawMessage(`{}`))
			assert.NoError(t, err, m)
		}
	})
}

func TestGuard_RecoversPanic(t *testing.T) {
	var got error
	out := guard(context.Background(), "test_method", func(err error) string {
		got = err
		return "fallback"
	}, func() string {
		panic("boom")
	})

	assert.Equal(t, "fallback", out)
	require.Error(t, got)
	assert.Contains(t, got.Error(), "boom")
}

func TestFailureResults(t *testing.T) {
	res := executionFailure(assert.AnError)
	assert.Equal(t, sandbox.StatusError, res.Status)
	assert.Equal(t, sandbox.FaultBridge, res.Fault)
	assert.Contains(t, res.Message, sandbox.BridgeFailurePrefix)

	rep := reportFailure("x = 1")(assert.AnError)
	assert.False(t, rep.OK)
	assert.NotNil(t, rep.Diagnostics)
	assert.Equal(t, string(sandbox.FaultBridge), rep.Fault)

	tr := transformFailure("x = 1")(assert.AnError)
	assert.Equal(t, "x = 1", tr.Code)
	assert.Equal(t, "x = 1", tr.CodeNew)
	assert.False(t, tr.Changed)
}
