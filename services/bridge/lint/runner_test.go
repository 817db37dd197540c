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
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-based tests require a unix shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// fakeLinter writes a shell script standing in for a linter and returns a
// runner whose ruff config points at it. The script sees the buffer path
// as its last argument in $last.
func fakeLinter(t *testing.T, body string) (*LintRunner, string) {
	t.Helper()
	requireShell(t)

	script := filepath.Join(t.TempDir(), "fake-ruff")
	content := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}

	tempRoot := t.TempDir()
	configs := NewConfigRegistry("python3")
	cfg := RuffConfig(toolrun.Tool{Name: Ruff, Candidates: [][]string{{script}}})
	configs.Register(&cfg)

	r := NewLintRunner(toolrun.NewRunner(), "python3", WithConfigs(configs), WithTempRoot(tempRoot))
	return r, tempRoot
}

func assertNoScratchLeft(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("reading temp root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp root not cleaned up: %d entries left", len(entries))
	}
}

func TestLintContent_ParsesAndRemaps(t *testing.T) {
	r, root := fakeLinter(t, `cat <<JSON
[{"code":"F821","end_location":{"column":4,"row":1},"filename":"$last","fix":null,
  "location":{"column":1,"row":1},"message":"Undefined name foo","url":null}]
JSON`)

	result, err := r.LintContent(context.Background(), []byte("foo\n"), Ruff)
	if err != nil {
		t.Fatalf("LintContent: %v", err)
	}
	if !result.LinterAvailable {
		t.Fatal("expected linter to be available")
	}
	if result.Valid || len(result.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", result)
	}
	if result.Errors[0].File != "<content>" {
		t.Errorf("File = %q, want <content>", result.Errors[0].File)
	}
	if got := result.RuleCodes(); len(got) != 1 || got[0] != "F821" {
		t.Errorf("RuleCodes = %v", got)
	}
	assertNoScratchLeft(t, root)
}

func TestLintContent_RuffColumnsInUTF16(t *testing.T) {
	r, _ := fakeLinter(t, `cat <<JSON
[{"code":"F821","end_location":{"column":13,"row":1},"filename":"$last","fix":null,
  "location":{"column":12,"row":1},"message":"Undefined name x","url":null}]
JSON`)

	result, err := r.LintContent(context.Background(), []byte("s = '😀😀' + x\n"), Ruff)
	if err != nil {
		t.Fatalf("LintContent: %v", err)
	}
	if len(result.Raw) != 1 {
		t.Fatalf("got %d issues, want 1", len(result.Raw))
	}
	if got := result.Raw[0]; got.Column != 14 || got.EndColumn != 15 {
		t.Errorf("columns = %d-%d, want 14-15", got.Column, got.EndColumn)
	}
}

func TestLintContent_NotInstalled(t *testing.T) {
	configs := NewConfigRegistry("python3")
	cfg := RuffConfig(toolrun.Tool{Name: Ruff, Candidates: [][]string{{"/nonexistent/bin/ruff"}}})
	configs.Register(&cfg)
	r := NewLintRunner(toolrun.NewRunner(), "python3", WithConfigs(configs), WithTempRoot(t.TempDir()))

	result, err := r.LintContent(context.Background(), []byte("x = 1\n"), Ruff)
	if err != nil {
		t.Fatalf("LintContent: %v", err)
	}
	if result.LinterAvailable {
		t.Error("expected LinterAvailable=false")
	}
	if len(result.Diagnostics()) != 0 {
		t.Error("expected no diagnostics")
	}
}

func TestLintContent_Failures(t *testing.T) {
	t.Run("non-zero exit without output", func(t *testing.T) {
		r, root := fakeLinter(t, `echo "ruff: internal error" >&2; exit 2`)
		_, err := r.LintContent(context.Background(), []byte("x = 1\n"), Ruff)
		if !errors.Is(err, ErrLinterFailed) {
			t.Fatalf("err = %v, want ErrLinterFailed", err)
		}
		var le *LinterError
		if !errors.As(err, &le) || le.Output != "ruff: internal error" {
			t.Errorf("LinterError = %+v", le)
		}
		assertNoScratchLeft(t, root)
	})

	t.Run("unparseable output", func(t *testing.T) {
		r, _ := fakeLinter(t, `echo "not json"`)
		_, err := r.LintContent(context.Background(), []byte("x = 1\n"), Ruff)
		if !errors.Is(err, ErrParseOutput) {
			t.Fatalf("err = %v, want ErrParseOutput", err)
		}
	})

	t.Run("unknown linter", func(t *testing.T) {
		r, _ := fakeLinter(t, `echo "[]"`)
		_, err := r.LintContent(context.Background(), []byte("x = 1\n"), "mypy")
		if !errors.Is(err, ErrUnsupportedTool) {
			t.Fatalf("err = %v, want ErrUnsupportedTool", err)
		}
	})

	t.Run("nil context", func(t *testing.T) {
		r, _ := fakeLinter(t, `echo "[]"`)
		//nolint:staticcheck // nil context is the case under test
		_, err := r.LintContent(nil, []byte("x = 1\n"), Ruff)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	})
}

func TestAutoFixContent(t *testing.T) {
	r, root := fakeLinter(t, `printf 'x = 1\n' > "$last"; echo "[]"`)

	fixed, result, err := r.AutoFixContent(context.Background(), []byte("x=1;\n"), Ruff)
	if err != nil {
		t.Fatalf("AutoFixContent: %v", err)
	}
	if string(fixed) != "x = 1\n" {
		t.Errorf("fixed = %q", fixed)
	}
	if result.HasIssues() {
		t.Errorf("expected no remaining issues, got %d", result.IssueCount())
	}
	assertNoScratchLeft(t, root)
}

func TestFormatContent(t *testing.T) {
	t.Run("formats", func(t *testing.T) {
		r, _ := fakeLinter(t, `printf 'print(1)\n' > "$last"`)
		out, err := r.FormatContent(context.Background(), []byte("print( 1 )"), Ruff)
		if err != nil {
			t.Fatalf("FormatContent: %v", err)
		}
		if string(out) != "print(1)\n" {
			t.Errorf("formatted = %q", out)
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		r, _ := fakeLinter(t, `echo "error: Failed to parse buffer.py" >&2; exit 2`)
		_, err := r.FormatContent(context.Background(), []byte("def ("), Ruff)
		if !errors.Is(err, ErrLinterFailed) {
			t.Fatalf("err = %v, want ErrLinterFailed", err)
		}
	})

	t.Run("pyright cannot format", func(t *testing.T) {
		r, _ := fakeLinter(t, `true`)
		_, err := r.FormatContent(context.Background(), []byte("x"), Pyright)
		if !errors.Is(err, ErrUnsupportedTool) {
			t.Fatalf("err = %v, want ErrUnsupportedTool", err)
		}
	})
}

func TestLintContent_RealRuff(t *testing.T) {
	if _, err := exec.LookPath("ruff"); err != nil {
		t.Skip("ruff not installed")
	}
	r := NewLintRunner(toolrun.NewRunner(), "python3", WithTempRoot(t.TempDir()))

	result, err := r.LintContent(context.Background(), []byte("import os\n"), Ruff)
	if err != nil {
		t.Fatalf("LintContent: %v", err)
	}
	codes := result.RuleCodes()
	if len(codes) == 0 || codes[0] != "F401" {
		t.Errorf("RuleCodes = %v, want F401 first", codes)
	}
}
