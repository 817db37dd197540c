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
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/pybridge/services/bridge/analysis"
	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
	"github.com/AleutianAI/pybridge/services/bridge/drafts"
	"github.com/AleutianAI/pybridge/services/bridge/grader"
	"github.com/AleutianAI/pybridge/services/bridge/lsp"
	"github.com/AleutianAI/pybridge/services/bridge/sandbox"
	"github.com/AleutianAI/pybridge/services/bridge/transform"
)

// lspDisabledMessage is reported by the LSP calls when the adapter is off.
const lspDisabledMessage = "language server is disabled"

// Components are the collaborators a Service composes. Everything except
// LSP is required; a nil LSP disables the lsp_* calls.
type Components struct {
	Executor  *sandbox.Executor
	Prober    *capability.Prober
	Analysis  *analysis.Orchestrator
	Transform *transform.Engine
	Drafts    *drafts.Store
	LSP       *lsp.Adapter

	// DefaultStarter is returned by load_initial_code when neither a draft
	// nor a starter exists.
	DefaultStarter string

	// Version is reported by health.
	Version string
}

// Service implements the bridge call surface.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	c       Components
	started time.Time

	closeOnce sync.Once
	closeErr  error
}

// NewService validates the components and returns a Service.
func NewService(c Components) (*Service, error) {
	switch {
	case c.Executor == nil:
		return nil, errors.New("bridge: executor is required")
	case c.Prober == nil:
		return nil, errors.New("bridge: prober is required")
	case c.Analysis == nil:
		return nil, errors.New("bridge: analysis orchestrator is required")
	case c.Transform == nil:
		return nil, errors.New("bridge: transform engine is required")
	case c.Drafts == nil:
		return nil, errors.New("bridge: draft store is required")
	}
	return &Service{c: c, started: time.Now()}, nil
}

// =============================================================================
// Execution
// =============================================================================

// RunCode runs code in the sandbox.
func (s *Service) RunCode(ctx context.Context, code string, mode sandbox.Mode) *sandbox.Result {
	return guard(ctx, MethodRunCode, executionFailure, func() *sandbox.Result {
		return s.c.Executor.Execute(ctx, code, mode)
	})
}

// CheckCode grades code against the exercise.
//
// Description:
//
//	The whitespace and safety rules run first, on the source alone; a
//	violation is returned without launching anything. Otherwise the code
//	runs with the exercise setup bound and every checked variable
//	exported. A run that did not finish ok is returned as is, and a
//	successful one is graded against the checks. In study mode the hint is
//	recomputed for the graded outcome.
//
// Outputs:
//
//	*sandbox.Result - Status ok, fail, error or timeout. Never nil.
func (s *Service) CheckCode(ctx context.Context, code string, mode sandbox.Mode, ex *grader.Exercise) *sandbox.Result {
	return guard(ctx, MethodCheckCode, executionFailure, func() *sandbox.Result {
		if res := precheck(ctx, code); res != nil {
			setHint(code, mode, res)
			return res
		}

		var setup map[string]json.RawMessage
		if ex != nil {
			setup = ex.Setup
		}
		res := s.c.Executor.Execute(ctx, code, mode,
			sandbox.WithSetup(setup),
			sandbox.WithExports(grader.ExportNames(ex)...))
		if res.Status != sandbox.StatusOK {
			return res
		}

		grade(ex, res)
		setHint(code, mode, res)
		return res
	})
}

// precheck applies the whitespace and safety rules to the source. It
// returns nil when the code may run.
func precheck(ctx context.Context, code string) *sandbox.Result {
	if v := grader.Whitespace(code); v != nil {
		return &sandbox.Result{
			Status:   sandbox.StatusFail,
			Fault:    sandbox.FaultUser,
			Message:  v.Message,
			Warnings: []string{},
		}
	}

	v, err := grader.Safety(ctx, code)
	if err != nil {
		slog.Error("Safety check failed", slog.String("error", err.Error()))
		return executionFailure(err)
	}
	if v != nil {
		return &sandbox.Result{
			Status:   sandbox.StatusError,
			Fault:    sandbox.FaultPolicy,
			Message:  v.Message,
			Warnings: []string{v.Message},
		}
	}
	return nil
}

func setHint(code string, mode sandbox.Mode, res *sandbox.Result) {
	if mode == sandbox.ModeExam {
		res.Hint = ""
		return
	}
	res.Hint = sandbox.StudyHint(code, res)
}

// grade applies the exercise checks to a successful run, mutating res.
func grade(ex *grader.Exercise, res *sandbox.Result) {
	if err := ex.Validate(); err != nil {
		res.Status = sandbox.StatusError
		res.Message = err.Error()
		return
	}

	verdict := grader.Evaluate(ex, res.Exports, res.Stdout)
	res.Message = verdict.Message
	if verdict.Passed {
		res.Status = sandbox.StatusOK
		res.Fault = sandbox.FaultNone
	} else {
		res.Status = sandbox.StatusFail
		res.Fault = sandbox.FaultUser
	}
}

// =============================================================================
// Drafts
// =============================================================================

// SaveCode stores the editor buffer for an exercise.
func (s *Service) SaveCode(ctx context.Context, exercise, code string) SaveResponse {
	return guard(ctx, MethodSaveCode, func(err error) SaveResponse {
		return SaveResponse{OK: false, Error: err.Error()}
	}, func() SaveResponse {
		if strings.TrimSpace(exercise) == "" {
			exercise = drafts.DefaultExercise
		}
		d, err := s.c.Drafts.Save(ctx, exercise, code)
		if err != nil {
			slog.Warn("Saving draft failed",
				slog.String("exercise", exercise),
				slog.String("error", err.Error()))
			return SaveResponse{OK: false, Exercise: exercise, Error: err.Error()}
		}
		return SaveResponse{OK: true, Exercise: d.Exercise, UpdatedAt: d.UpdatedAt}
	})
}

// LoadInitialCode returns the saved draft, else starter, else the
// configured default starter. A store failure still returns the starter
// with OK false.
func (s *Service) LoadInitialCode(ctx context.Context, exercise, starter string) LoadResponse {
	if strings.TrimSpace(exercise) == "" {
		exercise = drafts.DefaultExercise
	}
	fallback := starter
	if fallback == "" {
		fallback = s.c.DefaultStarter
	}

	return guard(ctx, MethodLoadInitialCode, func(err error) LoadResponse {
		return LoadResponse{OK: false, Exercise: exercise, Code: fallback, Error: err.Error()}
	}, func() LoadResponse {
		code, err := s.c.Drafts.InitialCode(ctx, exercise, starter, s.c.DefaultStarter)
		if err != nil {
			slog.Warn("Loading draft failed",
				slog.String("exercise", exercise),
				slog.String("error", err.Error()))
			return LoadResponse{OK: false, Exercise: exercise, Code: fallback, Error: err.Error()}
		}
		return LoadResponse{OK: true, Exercise: exercise, Code: code}
	})
}

// =============================================================================
// Analysis
// =============================================================================

// SyntaxCheck parses code without external tools.
func (s *Service) SyntaxCheck(ctx context.Context, code string) analysis.Report {
	return guard(ctx, MethodSyntaxCheck, reportFailure(code), func() analysis.Report {
		return s.c.Analysis.Syntax(ctx, code)
	})
}

// LintCode runs the linter.
func (s *Service) LintCode(ctx context.Context, code string) analysis.Report {
	return guard(ctx, MethodLintCode, reportFailure(code), func() analysis.Report {
		return s.c.Analysis.Lint(ctx, code)
	})
}

// TypecheckCode runs the type checker.
func (s *Service) TypecheckCode(ctx context.Context, code string) analysis.Report {
	return guard(ctx, MethodTypecheckCode, reportFailure(code), func() analysis.Report {
		return s.c.Analysis.Typecheck(ctx, code)
	})
}

// AnalyzeCode runs syntax, lint and typecheck and merges the diagnostics.
func (s *Service) AnalyzeCode(ctx context.Context, code string) analysis.Report {
	return guard(ctx, MethodAnalyzeCode, reportFailure(code), func() analysis.Report {
		return s.c.Analysis.Analyze(ctx, code)
	})
}

// =============================================================================
// Transforms
// =============================================================================

// FormatCode formats code. The result is a proposal; nothing is saved.
func (s *Service) FormatCode(ctx context.Context, code string) transform.Result {
	return guard(ctx, MethodFormatCode, transformFailure(code), func() transform.Result {
		return s.c.Transform.Format(ctx, code)
	})
}

// FixCode applies safe automatic fixes. The result is a proposal.
func (s *Service) FixCode(ctx context.Context, code string) transform.Result {
	return guard(ctx, MethodFixCode, transformFailure(code), func() transform.Result {
		return s.c.Transform.Fix(ctx, code)
	})
}

// =============================================================================
// Capabilities and Health
// =============================================================================

// Capabilities returns the capability map, probing again once it is older
// than the cache TTL.
func (s *Service) Capabilities(ctx context.Context) CapabilitiesResponse {
	return guard(ctx, MethodCapabilities, func(error) CapabilitiesResponse {
		return CapabilitiesResponse{OK: false, Map: capability.Map{
			Available: map[capability.Role]bool{},
			Versions:  map[capability.Role]string{},
			Tools:     map[capability.Role]string{},
		}}
	}, func() CapabilitiesResponse {
		return CapabilitiesResponse{OK: true, Map: s.c.Prober.Current(ctx)}
	})
}

// Health reports liveness. It never probes tools.
func (s *Service) Health(ctx context.Context) HealthResponse {
	return guard(ctx, MethodHealth, func(error) HealthResponse {
		return HealthResponse{OK: false, Status: "error", Version: s.c.Version}
	}, func() HealthResponse {
		return HealthResponse{
			OK:            true,
			Status:        "ok",
			Version:       s.c.Version,
			UptimeSeconds: time.Since(s.started).Seconds(),
			LSPEnabled:    s.c.LSP != nil,
			DraftsInMem:   s.c.Drafts.InMemory(),
		}
	})
}

// =============================================================================
// Language Server
// =============================================================================

// LSPHover returns hover text at a 1-based position.
func (s *Service) LSPHover(ctx context.Context, code string, line, col int) lsp.HoverResponse {
	fail := func(msg string) lsp.HoverResponse {
		return lsp.HoverResponse{OK: false, Message: msg, CodeHash: analysis.CodeHash(code)}
	}
	return guard(ctx, MethodLSPHover, func(err error) lsp.HoverResponse {
		return fail(sandbox.BridgeFailurePrefix + err.Error())
	}, func() lsp.HoverResponse {
		if s.c.LSP == nil {
			return fail(lspDisabledMessage)
		}
		return s.c.LSP.Hover(ctx, code, line, col)
	})
}

// LSPComplete returns completion items at a 1-based position.
func (s *Service) LSPComplete(ctx context.Context, code string, line, col int) lsp.CompleteResponse {
	fail := func(msg string) lsp.CompleteResponse {
		return lsp.CompleteResponse{
			OK:       false,
			Items:    []lsp.CompletionItem{},
			Message:  msg,
			CodeHash: analysis.CodeHash(code),
		}
	}
	return guard(ctx, MethodLSPComplete, func(err error) lsp.CompleteResponse {
		return fail(sandbox.BridgeFailurePrefix + err.Error())
	}, func() lsp.CompleteResponse {
		if s.c.LSP == nil {
			return fail(lspDisabledMessage)
		}
		return s.c.LSP.Complete(ctx, code, line, col)
	})
}

// LSPStatus reports the language server runtime status.
func (s *Service) LSPStatus(ctx context.Context) lsp.StatusResponse {
	return guard(ctx, MethodLSPStatus, func(err error) lsp.StatusResponse {
		return lsp.StatusResponse{OK: false, Status: lsp.StatusError, Message: err.Error()}
	}, func() lsp.StatusResponse {
		if s.c.LSP == nil {
			return lsp.StatusResponse{OK: false, Status: lsp.StatusMissing, Message: lspDisabledMessage}
		}
		return s.c.LSP.Status(ctx)
	})
}

// =============================================================================
// Lifecycle
// =============================================================================

// Close stops the language server, the PATH watcher and the draft store.
// Safe to call more than once.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.c.LSP != nil {
			if err := s.c.LSP.Manager().ShutdownAll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop language server: %w", err))
			}
		}
		if err := s.c.Prober.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stop PATH watcher: %w", err))
		}
		if err := s.c.Drafts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close drafts: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// =============================================================================
// Panic Boundary (Internal)
// =============================================================================

// guard runs fn, converting a panic into fallback(err) and recording call
// metrics either way.
func guard[T any](ctx context.Context, method string, fallback func(error) T, fn func() T) (out T) {
	start := time.Now()
	ctx, span := startCallSpan(ctx, method)
	defer span.End()

	defer func() {
		outcome := outcomeOK
		if r := recover(); r != nil {
			outcome = outcomePanic
			slog.Error("Bridge call panicked",
				slog.String("method", method),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			out = fallback(fmt.Errorf("internal error: %v", r))
		}
		setCallSpanResult(span, outcome)
		recordCallMetrics(ctx, method, time.Since(start), outcome)
	}()

	return fn()
}

func executionFailure(err error) *sandbox.Result {
	msg := sandbox.BridgeFailurePrefix + err.Error()
	return &sandbox.Result{
		Status:   sandbox.StatusError,
		Message:  msg,
		Warnings: []string{},
		Fault:    sandbox.FaultBridge,
		ExitCode: -1,
	}
}

func reportFailure(code string) func(error) analysis.Report {
	return func(err error) analysis.Report {
		return analysis.Report{
			OK:          false,
			Diagnostics: []diagnostics.Diagnostic{},
			Message:     sandbox.BridgeFailurePrefix + err.Error(),
			Available:   map[capability.Role]bool{},
			Fault:       string(sandbox.FaultBridge),
			CodeHash:    analysis.CodeHash(code),
		}
	}
}

func transformFailure(code string) func(error) transform.Result {
	return func(err error) transform.Result {
		msg := sandbox.BridgeFailurePrefix + err.Error()
		return transform.Result{
			OK:          false,
			Code:        code,
			CodeNew:     code,
			Summary:     transform.Summary{Text: msg, Rules: []string{}},
			Diagnostics: []diagnostics.Diagnostic{},
			Message:     msg,
			Available:   map[capability.Role]bool{},
			Fault:       string(sandbox.FaultBridge),
			CodeHash:    analysis.CodeHash(code),
		}
	}
}
