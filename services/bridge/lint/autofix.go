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
	"fmt"
	"os"
	"time"
)

// =============================================================================
// AUTO-FIX
// =============================================================================

// AutoFixContent applies the linter's safe fixes to content.
//
// Description:
//
//	Writes content to a fresh temp directory, runs the linter in fix mode
//	and reads the file back. The fix run's own JSON output describes the
//	issues that remain, so no second lint pass is needed.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	content - The source code to fix
//	linter - Linter name; must have FixArgs
//
// Outputs:
//
//	[]byte - The fixed content (content itself when unavailable)
//	*LintResult - Remaining issues after fixes
//	error - Non-nil if the linter failed
//
// Thread Safety: Safe for concurrent use.
func (r *LintRunner) AutoFixContent(ctx context.Context, content []byte, linter string) ([]byte, *LintResult, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	config := r.configs.Get(linter)
	if config == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedTool, linter)
	}
	if len(config.FixArgs) == 0 {
		return nil, nil, fmt.Errorf("%w: %s does not support auto-fix", ErrUnsupportedTool, linter)
	}

	ctx, span := startFixSpan(ctx, linter, "fix")
	defer span.End()
	start := time.Now()

	dir, path, err := r.writeBuffer(content)
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(dir)

	output, err := r.execute(ctx, config, config.FixArgs, path, dir)
	if errors.Is(err, ErrLinterNotInstalled) {
		return content, unavailableResult(config, time.Since(start)), nil
	}
	if err != nil {
		return nil, nil, err
	}

	fixed, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading fixed file: %w", err)
	}

	result, err := r.buildResult(config, output, path, fixed)
	if err != nil {
		return fixed, nil, err
	}
	result.Duration = time.Since(start)
	return fixed, result, nil
}

// FormatContent runs the linter's formatter on content.
//
// Outputs:
//
//	[]byte - The formatted content
//	error - ErrLinterNotInstalled when the tool is missing, ErrLinterFailed
//	        when it rejected the input (e.g. a syntax error)
//
// Thread Safety: Safe for concurrent use.
func (r *LintRunner) FormatContent(ctx context.Context, content []byte, linter string) ([]byte, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	config := r.configs.Get(linter)
	if config == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTool, linter)
	}
	if len(config.FormatArgs) == 0 {
		return nil, fmt.Errorf("%w: %s does not support formatting", ErrUnsupportedTool, linter)
	}

	ctx, span := startFixSpan(ctx, linter, "format")
	defer span.End()

	dir, path, err := r.writeBuffer(content)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	argv := append(append([]string(nil), config.FormatArgs...), path)
	res, err := r.runner.Run(ctx, config.Tool, argv, withDirAndTimeout(dir, config.Timeout)...)
	if err != nil {
		return nil, mapRunError(ctx, config.Name, res, err)
	}
	if res.ExitCode != 0 {
		msg := stderrOf(res)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return nil, NewLinterError(config.Name, ErrLinterFailed).WithOutput(msg)
	}

	formatted, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading formatted file: %w", err)
	}
	return formatted, nil
}
