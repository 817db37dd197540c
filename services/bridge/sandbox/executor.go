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
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/pybridge/services/bridge/procgroup"
	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

//go:embed harness.py
var harnessSource []byte

const (
	scriptName  = "main.py"
	harnessName = "harness.py"
	jobName     = "job.json"
	resultName  = "result.json"
)

// job is the harness input written to job.json.
type job struct {
	Script   string                     `json:"script"`
	Filename string                     `json:"filename"`
	Result   string                     `json:"result,omitempty"`
	Export   []string                   `json:"export,omitempty"`
	Setup    map[string]json.RawMessage `json:"setup,omitempty"`
	Blocked  []string                   `json:"blocked"`
	Limits   jobLimits                  `json:"limits"`
}

type jobLimits struct {
	Memory uint64 `json:"memory"`
	CPU    uint64 `json:"cpu"`
	FSize  uint64 `json:"fsize"`
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs user code in sandboxed interpreter processes.
//
// Thread Safety: Safe for concurrent use.
type Executor struct {
	cfg      Config
	guard    *Guard
	sem      *semaphore.Weighted
	lookPath func(string) (string, error)
	hostPath string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLookPath overrides interpreter resolution. Intended for tests.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(e *Executor) {
		e.lookPath = fn
	}
}

// NewExecutor creates an Executor.
//
// Inputs:
//
//	cfg - Configuration; zero fields take DefaultConfig values
//	opts - Optional configuration
func NewExecutor(cfg Config, opts ...Option) *Executor {
	cfg = cfg.withDefaults()
	e := &Executor{
		cfg:      cfg,
		guard:    NewGuard(cfg.Denylist),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		lookPath: exec.LookPath,
		hostPath: os.Getenv("PATH"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Guard returns the static import guard.
func (e *Executor) Guard() *Guard {
	return e.guard
}

// ExecOption configures one execution.
type ExecOption func(*execSettings)

type execSettings struct {
	setup   map[string]json.RawMessage
	exports []string
}

// WithSetup injects variables into the script globals before it runs.
// Keys that are not Python identifiers are skipped by the harness.
func WithSetup(setup map[string]json.RawMessage) ExecOption {
	return func(s *execSettings) {
		s.setup = setup
	}
}

// WithExports asks the harness to serialize the named variables after a
// successful run. They are returned in Result.Exports.
func WithExports(names ...string) ExecOption {
	return func(s *execSettings) {
		s.exports = append(s.exports, names...)
	}
}

// Execute runs code and returns a structured result. It never returns an
// error and never panics; every failure is described by the Result.
//
// Description:
//
//	Scans for blocked imports first and refuses to launch on a match.
//	Otherwise waits for an execution slot, prepares a scratch directory,
//	launches the harness under a wall-clock timeout and OS limits, and
//	classifies the outcome. In study mode a hint is attached; in exam mode
//	the hint function is not invoked.
//
// Inputs:
//
//	ctx - Context for cancellation
//	code - User source code
//	mode - ModeStudy or ModeExam
//	opts - Setup variables and exports
//
// Outputs:
//
//	*Result - Always non-nil
//
// Thread Safety: Safe for concurrent use.
func (e *Executor) Execute(ctx context.Context, code string, mode Mode, opts ...ExecOption) (res *Result) {
	start := time.Now()
	ctx, span := startExecuteSpan(ctx, mode, len(code))
	defer span.End()

	var s execSettings
	for _, opt := range opts {
		opt(&s)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sandbox execution panicked", slog.Any("panic", r))
			res = bridgeFailure(fmt.Errorf("internal error: %v", r))
		}
		res.DurationMs = time.Since(start).Milliseconds()
		if mode != ModeExam {
			res.Hint = StudyHint(code, res)
		} else {
			res.Hint = ""
		}
		setExecuteSpanResult(span, res)
		recordExecuteMetrics(ctx, mode, res, time.Since(start))
	}()

	blocked, err := e.guard.Check(ctx, code)
	if err != nil {
		return bridgeFailure(err)
	}
	if blocked != nil {
		return blockedResult(blocked.Root)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return bridgeFailure(fmt.Errorf("waiting for an execution slot: %w", err))
	}
	defer e.sem.Release(1)

	return e.run(ctx, code, s)
}

// run launches the harness for one execution.
func (e *Executor) run(ctx context.Context, code string, s execSettings) *Result {
	python, err := e.lookPath(e.cfg.Python)
	if err != nil {
		return bridgeFailure(fmt.Errorf("%w: %s", ErrInterpreterNotFound, e.cfg.Python))
	}

	dir, err := e.scratchDir()
	if err != nil {
		return bridgeFailure(err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove sandbox scratch dir",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
		}
	}()

	jobPath, err := e.writeJob(dir, code, s)
	if err != nil {
		return bridgeFailure(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, python, "-I", "-X", "utf8", filepath.Join(dir, harnessName), jobPath)
	procgroup.Prepare(cmd)
	cmd.Dir = dir
	cmd.Env = e.environment(dir)

	stdout := toolrun.NewCappedBuffer(e.cfg.OutputLimit)
	stderr := toolrun.NewCappedBuffer(e.cfg.OutputLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	res := &Result{Warnings: []string{}}

	if err := cmd.Start(); err != nil {
		return bridgeFailure(fmt.Errorf("starting interpreter: %w", err))
	}

	if procgroup.SupportsLimits {
		limits := procgroup.Limits{
			MemoryBytes:   e.cfg.MemoryBytes,
			CPUSeconds:    e.cfg.CPUSeconds,
			FileSizeBytes: e.cfg.FileSizeBytes,
		}
		if err := procgroup.ApplyLimits(cmd.Process.Pid, limits); err != nil {
			slog.Debug("prlimit failed, relying on harness limits", slog.String("error", err.Error()))
		}
	} else if runtime.GOOS == "windows" {
		res.Warnings = append(res.Warnings, "CPU and memory limits are not available on this operating system.")
	}

	waitErr := cmd.Wait()

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Truncated = stdout.Truncated() || stderr.Truncated()
	if res.Truncated {
		res.Warnings = append(res.Warnings, "output exceeded the capture limit and was truncated")
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Status = StatusTimeout
		res.Fault = FaultResource
		res.ExitCode = -1
		res.Message = fmt.Sprintf("execution timed out after %s", e.cfg.Timeout)
		return res

	case ctx.Err() != nil:
		failed := bridgeFailure(fmt.Errorf("request cancelled: %w", ctx.Err()))
		failed.Stdout, failed.Stderr, failed.Truncated = res.Stdout, res.Stderr, res.Truncated
		return failed
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return bridgeFailure(fmt.Errorf("waiting for interpreter: %w", waitErr))
		}
		res.ExitCode = exitErr.ExitCode()
	}

	switch {
	case res.ExitCode == 0:
		res.Status = StatusOK
		res.Message = "execution completed"
		if len(s.exports) > 0 {
			exports, err := readExports(filepath.Join(dir, resultName))
			if err != nil {
				slog.Warn("Failed to read sandbox exports", slog.String("error", err.Error()))
			} else {
				res.Exports = exports
			}
		}

	case res.ExitCode < 0:
		res.Status = StatusTimeout
		res.Fault = FaultResource
		res.Message = "execution stopped by resource limit"

	default:
		res.Status = StatusError
		res.Fault = FaultUser
		last := lastLine(stderr.Bytes())
		res.Message = last
		if res.Message == "" {
			res.Message = "execution failed"
		}
		if mod, ok := blockedFromStderr(last); ok {
			res.Fault = FaultPolicy
			res.BlockedModule = mod
			res.Message = BlockedMessage(mod)
			res.Warnings = append(res.Warnings, res.Message)
		} else if strings.HasPrefix(last, "MemoryError") {
			res.Fault = FaultResource
		}
	}

	return res
}

// scratchDir creates a unique directory for one execution.
func (e *Executor) scratchDir() (string, error) {
	root := e.cfg.Root
	if root == "" {
		root = filepath.Join(os.TempDir(), "pybridge-sandbox")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return "", fmt.Errorf("%w: %v", ErrScratchDir, err)
	}
	dir := filepath.Join(root, "run-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: %v", ErrScratchDir, err)
	}
	return dir, nil
}

// writeJob writes the script, harness and job description into dir.
func (e *Executor) writeJob(dir, code string, s execSettings) (string, error) {
	j := job{
		Script:   filepath.Join(dir, scriptName),
		Filename: scriptName,
		Setup:    s.setup,
		Blocked:  e.guard.Denylist(),
		Limits: jobLimits{
			Memory: e.cfg.MemoryBytes,
			CPU:    e.cfg.CPUSeconds,
			FSize:  e.cfg.FileSizeBytes,
		},
	}
	if len(s.exports) > 0 {
		j.Export = s.exports
		j.Result = filepath.Join(dir, resultName)
	}

	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("%w: encoding job: %v", ErrScratchDir, err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{scriptName, []byte(code)},
		{harnessName, harnessSource},
		{jobName, data},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, 0o600); err != nil {
			return "", fmt.Errorf("%w: writing %s: %v", ErrScratchDir, f.name, err)
		}
	}
	return filepath.Join(dir, jobName), nil
}

// environment builds the minimal child environment.
func (e *Executor) environment(dir string) []string {
	env := []string{
		"PATH=" + e.hostPath,
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
		"PYTHONIOENCODING=utf-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
	}
	if runtime.GOOS == "windows" {
		for _, key := range []string{"SYSTEMROOT", "TEMP", "TMP"} {
			if v := os.Getenv(key); v != "" {
				env = append(env, key+"="+v)
			}
		}
	}
	return env
}

// readExports decodes the harness result file.
func readExports(path string) (*Exports, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ex Exports
	if err := json.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("decoding exports: %w", err)
	}
	if ex.Vars == nil {
		ex.Vars = map[string]json.RawMessage{}
	}
	return &ex, nil
}

// blockedResult reports a static import violation without launching.
func blockedResult(module string) *Result {
	msg := BlockedMessage(module)
	return &Result{
		Status:        StatusError,
		Message:       msg,
		Warnings:      []string{msg},
		Fault:         FaultPolicy,
		BlockedModule: module,
	}
}

// bridgeFailure reports a failure on the bridge side of the boundary.
func bridgeFailure(err error) *Result {
	return &Result{
		Status:   StatusError,
		Message:  BridgeFailurePrefix + err.Error(),
		Warnings: []string{},
		Fault:    FaultBridge,
		ExitCode: -1,
	}
}

// lastLine returns the last non-empty line of b.
func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
