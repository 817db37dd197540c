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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("pybridge.analysis")
	meter  = otel.Meter("pybridge.analysis")
)

var (
	stageLatency metric.Float64Histogram
	stageTotal   metric.Int64Counter
	stageDiags   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		stageLatency, err = meter.Float64Histogram(
			"analysis_stage_duration_seconds",
			metric.WithDescription("Duration of analysis stages"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stageTotal, err = meter.Int64Counter(
			"analysis_stage_total",
			metric.WithDescription("Analysis stages run, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stageDiags, err = meter.Int64Counter(
			"analysis_diagnostics_total",
			metric.WithDescription("Diagnostics reported, by stage"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startAnalyzeSpan(ctx context.Context, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator.Analyze",
		trace.WithAttributes(attribute.Int("analysis.code_bytes", size)),
	)
}

func setAnalyzeSpanResult(span trace.Span, diagnostics int, ok bool) {
	span.SetAttributes(
		attribute.Int("analysis.diagnostics", diagnostics),
		attribute.Bool("analysis.ok", ok),
	)
}

func startStageSpan(ctx context.Context, stage Stage) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator."+string(stage),
		trace.WithAttributes(attribute.String("analysis.stage", string(stage))),
	)
}

func setStageSpanResult(span trace.Span, diagnostics int, outcome string) {
	span.SetAttributes(
		attribute.Int("analysis.diagnostics", diagnostics),
		attribute.String("analysis.outcome", outcome),
	)
}

func recordStageMetrics(ctx context.Context, stage Stage, d time.Duration, diagnostics int, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("outcome", outcome),
	)
	stageLatency.Record(ctx, d.Seconds(), attrs)
	stageTotal.Add(ctx, 1, attrs)
	stageDiags.Add(ctx, int64(diagnostics), metric.WithAttributes(attribute.String("stage", string(stage))))
}
