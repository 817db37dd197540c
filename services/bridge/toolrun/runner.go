// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/pybridge/services/bridge/procgroup"
)

const (
	// DefaultTimeout bounds one tool invocation.
	DefaultTimeout = 30 * time.Second

	// DefaultOutputLimit caps captured stdout. Tool JSON for a single
	// buffer is far below this.
	DefaultOutputLimit = 8 << 20

	// stderrLimit caps captured stderr.
	stderrLimit = 64 << 10
)

// errCandidateUnusable marks a candidate that should be skipped in favour
// of the next one.
var errCandidateUnusable = errors.New("candidate unusable")

// =============================================================================
// TOOL
// =============================================================================

// Tool is a logical external tool with candidate command lines.
//
// Each candidate is an argv prefix; the per-call arguments are appended.
type Tool struct {
	// Name identifies the tool in errors, logs and metrics.
	Name string

	// Candidates are tried in order, e.g. {"python3","-m","ruff"} then {"ruff"}.
	Candidates [][]string
}

// Validate checks that the tool has a name and at least one candidate.
func (t Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidTool)
	}
	for _, c := range t.Candidates {
		if len(c) > 0 && c[0] != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no candidates", ErrInvalidTool, t.Name)
}

// moduleForm reports whether the candidate runs a module through an
// interpreter ("python3 -m ruff").
func moduleForm(candidate []string) bool {
	return len(candidate) >= 3 && candidate[1] == "-m"
}

// =============================================================================
// RESULT
// =============================================================================

// Result is the outcome of a tool process that started and exited.
type Result struct {
	// Tool is the logical tool name.
	Tool string

	// Command is the full argv that ran.
	Command []string

	// Stdout is the captured standard output, without truncation marker.
	Stdout []byte

	// StdoutTruncated is true when stdout exceeded the output limit.
	StdoutTruncated bool

	// Stderr is the captured standard error.
	Stderr string

	// ExitCode is the process exit status; -1 when killed by a signal.
	ExitCode int

	// Duration is the wall time of the process.
	Duration time.Duration
}

// Success reports whether the tool exited with status 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes tools with candidate fallback and a per-call timeout.
//
// Thread Safety: Safe for concurrent use.
type Runner struct {
	timeout     time.Duration
	outputLimit int
	env         []string
	lookPath    func(string) (string, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the default per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithOutputLimit caps captured stdout in bytes.
func WithOutputLimit(n int) Option {
	return func(r *Runner) {
		r.outputLimit = n
	}
}

// WithEnv replaces the inherited environment of tool processes.
func WithEnv(env []string) Option {
	return func(r *Runner) {
		r.env = env
	}
}

// WithLookPath overrides binary resolution. Intended for tests.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Runner) {
		r.lookPath = fn
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		timeout:     DefaultTimeout,
		outputLimit: DefaultOutputLimit,
		lookPath:    exec.LookPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOption configures a single invocation.
type RunOption func(*runSettings)

type runSettings struct {
	dir     string
	stdin   io.Reader
	timeout time.Duration
}

// WithDir sets the working directory of the process.
func WithDir(dir string) RunOption {
	return func(s *runSettings) {
		s.dir = dir
	}
}

// WithStdin feeds r to the process standard input.
func WithStdin(r io.Reader) RunOption {
	return func(s *runSettings) {
		s.stdin = r
	}
}

// WithRunTimeout overrides the runner timeout for one call.
func WithRunTimeout(d time.Duration) RunOption {
	return func(s *runSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Resolve returns the first candidate whose executable can be found,
// with the executable replaced by its resolved path.
//
// A module-form candidate may resolve here and still be rejected by Run
// when the interpreter lacks the module.
func (r *Runner) Resolve(tool Tool) ([]string, bool) {
	for _, c := range tool.Candidates {
		if len(c) == 0 {
			continue
		}
		bin, err := r.lookPath(c[0])
		if err != nil {
			continue
		}
		resolved := append([]string{bin}, c[1:]...)
		return resolved, true
	}
	return nil, false
}

// Run executes tool with args appended to the first usable candidate.
//
// Description:
//
//	Candidates whose executable is missing, that fail to start with a
//	not-found error, or that run as "interpreter -m module" and report
//	"No module named", are skipped. The first candidate that actually ran
//	determines the result.
//
// Inputs:
//
//	ctx - Context for cancellation; must not be nil
//	tool - The tool to run
//	args - Arguments appended after the candidate prefix
//	opts - Per-call options
//
// Outputs:
//
//	*Result - Captured output and exit status
//	error - Non-nil if the tool could not run to completion
//
// Errors:
//
//	ErrToolNotFound - No candidate could be launched
//	ErrToolTimeout - The process was killed after its timeout
//	ErrToolFailed - The process could not be started
//	context.Canceled - The caller cancelled ctx
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) Run(ctx context.Context, tool Tool, args []string, opts ...RunOption) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrToolFailed)
	}
	if err := tool.Validate(); err != nil {
		return nil, err
	}

	s := runSettings{timeout: r.timeout}
	for _, opt := range opts {
		opt(&s)
	}

	ctx, span := startRunSpan(ctx, tool.Name)
	defer span.End()

	for _, candidate := range tool.Candidates {
		if len(candidate) == 0 || candidate[0] == "" {
			continue
		}
		bin, err := r.lookPath(candidate[0])
		if err != nil {
			continue
		}

		res, err := r.runOnce(ctx, tool.Name, bin, candidate, args, s)
		if errors.Is(err, errCandidateUnusable) {
			slog.Debug("Tool candidate unusable, trying next",
				slog.String("tool", tool.Name),
				slog.String("candidate", strings.Join(candidate, " ")),
			)
			continue
		}

		outcome := "ok"
		switch {
		case errors.Is(err, ErrToolTimeout):
			outcome = "timeout"
		case err != nil:
			outcome = "failed"
		}
		setRunSpanResult(span, outcome, res)
		if res != nil {
			recordRunMetrics(ctx, tool.Name, outcome, res.Duration)
		} else {
			recordRunMetrics(ctx, tool.Name, outcome, 0)
		}
		return res, err
	}

	setRunSpanResult(span, "not_found", nil)
	recordRunMetrics(ctx, tool.Name, "not_found", 0)
	return nil, newToolError(tool.Name, nil, ErrToolNotFound, "")
}

// runOnce executes one candidate.
func (r *Runner) runOnce(ctx context.Context, name, bin string, candidate, args []string, s runSettings) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	argv := make([]string, 0, len(candidate)-1+len(args))
	argv = append(argv, candidate[1:]...)
	argv = append(argv, args...)
	command := append([]string{candidate[0]}, argv...)

	cmd := exec.CommandContext(runCtx, bin, argv...)
	procgroup.Prepare(cmd)
	cmd.Dir = s.dir
	if r.env != nil {
		cmd.Env = r.env
	}
	if s.stdin != nil {
		cmd.Stdin = s.stdin
	}

	stdout := NewCappedBuffer(r.outputLimit)
	stderr := NewCappedBuffer(stderrLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	res := &Result{
		Tool:            name,
		Command:         command,
		Stdout:          stdout.Bytes(),
		StdoutTruncated: stdout.Truncated(),
		Stderr:          stderr.String(),
		Duration:        duration,
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, newToolError(name, command, ErrToolTimeout, res.Stderr)
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
			return nil, errCandidateUnusable
		default:
			return res, newToolError(name, command, fmt.Errorf("%w: %v", ErrToolFailed, err), res.Stderr)
		}
	}

	if moduleForm(candidate) && res.ExitCode != 0 && strings.Contains(res.Stderr, "No module named") {
		return nil, errCandidateUnusable
	}

	return res, nil
}

// FirstLine returns the first non-empty trimmed line of s.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
