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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/diagnostics"
	"github.com/AleutianAI/pybridge/services/bridge/lint"
)

// DefaultSyntaxTimeout bounds the interpreter syntax check.
const DefaultSyntaxTimeout = 3 * time.Second

// toolStage binds an optional stage to its capability role and linter.
type toolStage struct {
	stage  Stage
	role   capability.Role
	linter string
}

var (
	lintStage      = toolStage{stage: StageLint, role: capability.RoleLint, linter: lint.Ruff}
	typecheckStage = toolStage{stage: StageTypecheck, role: capability.RoleTypecheck, linter: lint.Pyright}
)

// Orchestrator runs the syntax, lint and typecheck stages.
//
// Thread Safety: Safe for concurrent use. Every stage writes its own
// temp directory; no scratch file is shared between calls.
type Orchestrator struct {
	prober            *capability.Prober
	linter            *lint.LintRunner
	preferInterpreter bool
	syntaxTimeout     time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPreferInterpreter uses CPython's ast.parse for syntax messages when
// the interpreter is available.
func WithPreferInterpreter(prefer bool) Option {
	return func(o *Orchestrator) {
		o.preferInterpreter = prefer
	}
}

// WithSyntaxTimeout bounds the interpreter syntax check.
func WithSyntaxTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.syntaxTimeout = d
		}
	}
}

// NewOrchestrator creates an orchestrator over a prober and a lint runner.
//
// Inputs:
//
//	prober - Capability prober; gates the optional stages
//	linter - Runs ruff and pyright
//	opts - Optional settings
//
// Outputs:
//
//	*Orchestrator - Ready to use
func NewOrchestrator(prober *capability.Prober, linter *lint.LintRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		prober:            prober,
		linter:            linter,
		preferInterpreter: true,
		syntaxTimeout:     DefaultSyntaxTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Syntax runs only the syntax stage. It never needs an external tool.
//
// OK is false when the buffer has a syntax error; Message is then the
// error text.
func (o *Orchestrator) Syntax(ctx context.Context, code string) Report {
	r := newRound(o.prober.Last(ctx), false)
	out := o.timed(ctx, StageSyntax, func(ctx context.Context) outcome {
		return o.syntax(ctx, r, code)
	})
	return single(out, r, code)
}

// Lint runs only the ruff stage.
//
// A missing ruff gives OK=false, no diagnostics and available.lint=false.
func (o *Orchestrator) Lint(ctx context.Context, code string) Report {
	r := newRound(o.prober.Last(ctx), false)
	return single(o.runTool(ctx, r, lintStage, code), r, code)
}

// Typecheck runs only the pyright stage, with the same optionality as Lint.
func (o *Orchestrator) Typecheck(ctx context.Context, code string) Report {
	r := newRound(o.prober.Last(ctx), false)
	return single(o.runTool(ctx, r, typecheckStage, code), r, code)
}

// Analyze runs syntax, lint and typecheck in that order and merges the
// diagnostics in the same order.
//
// Description:
//
//	Each call re-probes tools that are not known available. Within the
//	round, a stage whose tool was observed unavailable is skipped. OK is
//	false only when a stage failed inside the bridge; a syntax error or a
//	missing tool still yields OK=true.
//
// Inputs:
//
//	ctx - Context for cancellation
//	code - The buffer to analyse
//
// Outputs:
//
//	Report - Merged diagnostics, availability and the buffer hash
//
// Thread Safety: Safe for concurrent use.
func (o *Orchestrator) Analyze(ctx context.Context, code string) Report {
	ctx, span := startAnalyzeSpan(ctx, len(code))
	defer span.End()

	r := newRound(o.prober.Probe(ctx), true)

	syn := o.timed(ctx, StageSyntax, func(ctx context.Context) outcome {
		return o.syntax(ctx, r, code)
	})
	lnt := o.runTool(ctx, r, lintStage, code)
	typ := o.runTool(ctx, r, typecheckStage, code)

	rep := Report{
		OK:          true,
		Diagnostics: diagnostics.Merge(syn.diags, lnt.diags, typ.diags),
		Available:   r.available,
		CodeHash:    CodeHash(code),
	}
	var messages []string
	for _, out := range []outcome{syn, lnt, typ} {
		if out.fault != "" {
			rep.OK = false
			rep.Fault = out.fault
		}
		if out.skipped {
			rep.Skipped = append(rep.Skipped, out.stage)
		}
		if !out.ok && out.message != "" {
			messages = append(messages, out.message)
		}
	}
	rep.Message = strings.Join(messages, "; ")

	setAnalyzeSpanResult(span, len(rep.Diagnostics), rep.OK)
	return rep
}

// runTool runs an optional stage under its span and metrics.
func (o *Orchestrator) runTool(ctx context.Context, r *round, st toolStage, code string) outcome {
	return o.timed(ctx, st.stage, func(ctx context.Context) outcome {
		return o.toolOutcome(ctx, r, st, code)
	})
}

// toolOutcome gates a stage on availability, runs the tool and maps its
// errors onto the result shape.
func (o *Orchestrator) toolOutcome(ctx context.Context, r *round, st toolStage, code string) outcome {
	if r.observed[st.role] {
		if !r.available[st.role] {
			out := unavailable(st)
			out.skipped = true
			return out
		}
	} else {
		status, err := o.prober.ProbeRole(ctx, st.role, false)
		if err != nil || !status.Available {
			r.mark(st.role, false)
			return unavailable(st)
		}
		r.mark(st.role, true)
	}

	res, err := o.linter.LintContent(ctx, []byte(code), st.linter)
	switch {
	case err == nil && !res.LinterAvailable:
		o.prober.Invalidate(st.role)
		r.mark(st.role, false)
		return unavailable(st)

	case errors.Is(err, lint.ErrParseOutput):
		slog.Error("Analysis tool output could not be parsed",
			slog.String("stage", string(st.stage)),
			slog.String("tool", st.linter),
			slog.String("error", err.Error()))
		return outcome{
			stage:   st.stage,
			diags:   []diagnostics.Diagnostic{},
			message: fmt.Sprintf("%s output could not be parsed", st.linter),
			fault:   FaultBridge,
		}

	case errors.Is(err, lint.ErrLinterFailed), errors.Is(err, lint.ErrLinterTimeout):
		// Unavailable for this call only; the next call probes again.
		slog.Warn("Analysis tool failed",
			slog.String("stage", string(st.stage)),
			slog.String("tool", st.linter),
			slog.String("error", err.Error()))
		o.prober.Invalidate(st.role)
		r.mark(st.role, false)
		out := unavailable(st)
		out.message = failureMessage(st.linter, err)
		return out

	case err != nil:
		slog.Error("Analysis stage failed",
			slog.String("stage", string(st.stage)),
			slog.String("tool", st.linter),
			slog.String("error", err.Error()))
		return outcome{
			stage:   st.stage,
			diags:   []diagnostics.Diagnostic{},
			message: err.Error(),
			fault:   FaultBridge,
		}
	}

	return outcome{
		stage: st.stage,
		diags: res.Diagnostics(),
		ok:    true,
	}
}

// timed wraps a stage in a span and records its metrics.
func (o *Orchestrator) timed(ctx context.Context, stage Stage, fn func(context.Context) outcome) outcome {
	ctx, span := startStageSpan(ctx, stage)
	defer span.End()
	start := time.Now()

	out := fn(ctx)

	setStageSpanResult(span, len(out.diags), out.label())
	recordStageMetrics(ctx, stage, time.Since(start), len(out.diags), out.label())
	return out
}

func unavailable(st toolStage) outcome {
	return outcome{
		stage:       st.stage,
		diags:       []diagnostics.Diagnostic{},
		message:     st.linter + " is not installed",
		unavailable: true,
	}
}

// failureMessage prefers the tool's own stderr over the wrapped error.
func failureMessage(tool string, err error) string {
	var le *lint.LinterError
	if errors.As(err, &le) && strings.TrimSpace(le.Output) != "" {
		return fmt.Sprintf("%s failed: %s", tool, strings.TrimSpace(le.Output))
	}
	return fmt.Sprintf("%s failed: %v", tool, err)
}

func single(out outcome, r *round, code string) Report {
	rep := Report{
		OK:          out.ok,
		Diagnostics: out.diags,
		Message:     out.message,
		Available:   r.available,
		Fault:       out.fault,
		CodeHash:    CodeHash(code),
	}
	if rep.Diagnostics == nil {
		rep.Diagnostics = []diagnostics.Diagnostic{}
	}
	return rep
}
