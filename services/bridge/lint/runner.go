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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

// bufferName is the file name the buffer is written to inside each
// per-call temporary directory.
const bufferName = "buffer.py"

// contentPath replaces the temporary path in results.
const contentPath = "<content>"

// =============================================================================
// LINT RUNNER
// =============================================================================

// LintRunner executes linters on buffers and processes their output.
//
// Description:
//
//	Manages linter execution, output parsing, and policy application.
//	A missing linter is not an error: the result reports
//	LinterAvailable=false so callers can degrade gracefully.
//
// Thread Safety: Safe for concurrent use.
type LintRunner struct {
	configs  *ConfigRegistry
	policies *PolicyRegistry
	runner   *toolrun.Runner
	tempRoot string
}

// Option configures the LintRunner.
type Option func(*LintRunner)

// WithTempRoot sets the parent directory for per-call temp directories.
func WithTempRoot(dir string) Option {
	return func(r *LintRunner) {
		r.tempRoot = dir
	}
}

// WithConfigs sets a custom config registry.
func WithConfigs(configs *ConfigRegistry) Option {
	return func(r *LintRunner) {
		r.configs = configs
	}
}

// WithPolicies sets a custom policy registry.
func WithPolicies(policies *PolicyRegistry) Option {
	return func(r *LintRunner) {
		r.policies = policies
	}
}

// NewLintRunner creates a new lint runner.
//
// Inputs:
//
//	runner - Tool runner used to launch linters
//	python - Interpreter for "python -m" candidates
//	opts - Optional configuration options
//
// Outputs:
//
//	*LintRunner - The configured runner
func NewLintRunner(runner *toolrun.Runner, python string, opts ...Option) *LintRunner {
	r := &LintRunner{
		configs:  NewConfigRegistry(python),
		policies: NewPolicyRegistry(),
		runner:   runner,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Configs returns the config registry for customization.
func (r *LintRunner) Configs() *ConfigRegistry {
	return r.configs
}

// Policies returns the policy registry for customization.
func (r *LintRunner) Policies() *PolicyRegistry {
	return r.policies
}

// LintContent runs a linter on a buffer.
//
// Description:
//
//	Writes content into a fresh temp directory, runs the linter, parses
//	its output and applies the linter's policy. File paths in results are
//	remapped to "<content>".
//
// Inputs:
//
//	ctx - Context for cancellation
//	content - The source code to lint
//	linter - Linter name (Ruff or Pyright)
//
// Outputs:
//
//	*LintResult - The lint result; LinterAvailable=false if not installed
//	error - Non-nil if the linter failed or its output was unparseable
//
// Errors:
//
//	ErrInvalidInput - ctx is nil
//	ErrUnsupportedTool - No config for linter
//	ErrLinterTimeout - Linter exceeded timeout
//	ErrLinterFailed - Linter process failed
//	ErrParseOutput - Output was not the expected JSON
//
// Thread Safety: Safe for concurrent use.
func (r *LintRunner) LintContent(ctx context.Context, content []byte, linter string) (*LintResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	config := r.configs.Get(linter)
	if config == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTool, linter)
	}

	ctx, span := startLintSpan(ctx, linter, len(content))
	defer span.End()
	start := time.Now()

	dir, path, err := r.writeBuffer(content)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	output, err := r.execute(ctx, config, config.Args, path, dir)
	if errors.Is(err, ErrLinterNotInstalled) {
		setLintSpanResult(span, 0, 0, false)
		recordLintMetrics(ctx, linter, time.Since(start), 0, 0, "unavailable")
		return unavailableResult(config, time.Since(start)), nil
	}
	if err != nil {
		recordLintMetrics(ctx, linter, time.Since(start), 0, 0, "failed")
		return nil, err
	}

	result, err := r.buildResult(config, output, path, content)
	if err != nil {
		recordLintMetrics(ctx, linter, time.Since(start), 0, 0, "failed")
		return nil, err
	}
	result.Duration = time.Since(start)

	setLintSpanResult(span, len(result.Errors), len(result.Warnings), true)
	recordLintMetrics(ctx, linter, result.Duration, len(result.Errors), len(result.Warnings), "ok")

	slog.Debug("Lint completed",
		slog.String("linter", linter),
		slog.Duration("duration", result.Duration),
		slog.Int("errors", len(result.Errors)),
		slog.Int("warnings", len(result.Warnings)),
	)

	return result, nil
}

// buildResult parses output and applies policy.
//
// content is the buffer the issues refer to; Ruff columns count code points
// and are rewritten to UTF-16 units against it.
func (r *LintRunner) buildResult(config *LinterConfig, output []byte, path string, content []byte) (*LintResult, error) {
	issues, err := r.parseOutput(config.Name, output)
	if err != nil {
		return nil, NewLinterError(config.Name, fmt.Errorf("%w: %v", ErrParseOutput, err))
	}
	if config.Name == Ruff {
		utf16Columns(issues, content)
	}
	for i := range issues {
		if issues[i].File == path || issues[i].File == "" || filepath.Base(issues[i].File) == bufferName {
			issues[i].File = contentPath
		}
	}

	errs, warnings, infos := ApplyPolicy(issues, r.policies.Get(config.Name))
	return &LintResult{
		Valid:           len(errs) == 0,
		Errors:          errs,
		Warnings:        warnings,
		Infos:           infos,
		Raw:             issues,
		Linter:          config.Name,
		Source:          config.Source,
		FilePath:        contentPath,
		LinterAvailable: true,
	}, nil
}

// writeBuffer creates a unique temp directory holding the buffer.
func (r *LintRunner) writeBuffer(content []byte) (dir, path string, err error) {
	dir, err = os.MkdirTemp(r.tempRoot, "lint-*")
	if err != nil {
		return "", "", fmt.Errorf("creating temp dir: %w", err)
	}
	path = filepath.Join(dir, bufferName)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("writing temp file: %w", err)
	}
	return dir, path, nil
}

// execute runs the linter and maps toolrun errors into lint errors.
func (r *LintRunner) execute(ctx context.Context, config *LinterConfig, args []string, path, dir string) ([]byte, error) {
	argv := make([]string, 0, len(args)+1)
	argv = append(argv, args...)
	argv = append(argv, path)

	res, err := r.runner.Run(ctx, config.Tool, argv, withDirAndTimeout(dir, config.Timeout)...)
	if err != nil {
		return nil, mapRunError(ctx, config.Name, res, err)
	}

	// Linters exit non-zero when they report findings. Only fail if there
	// is no stdout output.
	if res.ExitCode != 0 && len(bytes.TrimSpace(res.Stdout)) == 0 {
		return nil, NewLinterError(config.Name, ErrLinterFailed).WithOutput(toolrun.FirstLine(res.Stderr))
	}
	if res.StdoutTruncated {
		return nil, NewLinterError(config.Name, fmt.Errorf("%w: output exceeded capture limit", ErrParseOutput))
	}
	return res.Stdout, nil
}

// parseOutput parses linter JSON output.
func (r *LintRunner) parseOutput(linter string, output []byte) ([]LintIssue, error) {
	if len(bytes.TrimSpace(output)) == 0 {
		return nil, nil
	}

	parser := GetParser(linter)
	if parser == nil {
		return nil, fmt.Errorf("no parser for linter: %s", linter)
	}

	return parser(output)
}

func unavailableResult(config *LinterConfig, d time.Duration) *LintResult {
	return &LintResult{
		Valid:           true,
		Errors:          make([]LintIssue, 0),
		Warnings:        make([]LintIssue, 0),
		Infos:           make([]LintIssue, 0),
		Duration:        d,
		Linter:          config.Name,
		Source:          config.Source,
		FilePath:        contentPath,
		LinterAvailable: false,
	}
}

func withDirAndTimeout(dir string, timeout time.Duration) []toolrun.RunOption {
	opts := []toolrun.RunOption{toolrun.WithDir(dir)}
	if timeout > 0 {
		opts = append(opts, toolrun.WithRunTimeout(timeout))
	}
	return opts
}

// mapRunError converts toolrun errors into lint errors.
func mapRunError(ctx context.Context, linter string, res *toolrun.Result, err error) error {
	switch {
	case errors.Is(err, toolrun.ErrToolNotFound):
		return NewLinterError(linter, ErrLinterNotInstalled)
	case errors.Is(err, toolrun.ErrToolTimeout):
		return NewLinterError(linter, ErrLinterTimeout).WithOutput(stderrOf(res))
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return NewLinterError(linter, fmt.Errorf("%w: %v", ErrLinterFailed, err)).WithOutput(stderrOf(res))
	}
}

func stderrOf(res *toolrun.Result) string {
	if res == nil {
		return ""
	}
	return toolrun.FirstLine(res.Stderr)
}
