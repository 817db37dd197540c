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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("pybridge.sandbox")
	meter  = otel.Meter("pybridge.sandbox")
)

var (
	executeLatency metric.Float64Histogram
	executeTotal   metric.Int64Counter
	blockedTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		executeLatency, err = meter.Float64Histogram(
			"sandbox_execute_duration_seconds",
			metric.WithDescription("Duration of sandboxed executions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		executeTotal, err = meter.Int64Counter(
			"sandbox_execute_total",
			metric.WithDescription("Total sandboxed executions by status and fault"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		blockedTotal, err = meter.Int64Counter(
			"sandbox_blocked_imports_total",
			metric.WithDescription("Executions refused or stopped for a blocked import"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startExecuteSpan(ctx context.Context, mode Mode, codeLen int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Executor.Execute",
		trace.WithAttributes(
			attribute.String("sandbox.mode", string(mode)),
			attribute.Int("sandbox.code_bytes", codeLen),
		),
	)
}

func setExecuteSpanResult(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.String("sandbox.status", string(res.Status)),
		attribute.String("sandbox.fault", string(res.Fault)),
		attribute.Int("sandbox.exit_code", res.ExitCode),
		attribute.Bool("sandbox.truncated", res.Truncated),
	)
	if res.Fault == FaultBridge {
		span.SetStatus(codes.Error, res.Message)
	}
}

func recordExecuteMetrics(ctx context.Context, mode Mode, res *Result, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("status", string(res.Status)),
		attribute.String("fault", string(res.Fault)),
	)
	executeLatency.Record(ctx, duration.Seconds(), attrs)
	executeTotal.Add(ctx, 1, attrs)
	if res.BlockedModule != "" {
		blockedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("module", res.BlockedModule)))
	}
}
