// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

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
	tracer = otel.Tracer("pybridge.transform")
	meter  = otel.Meter("pybridge.transform")
)

var (
	transformLatency metric.Float64Histogram
	transformTotal   metric.Int64Counter
	linesChanged     metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		transformLatency, err = meter.Float64Histogram(
			"transform_duration_seconds",
			metric.WithDescription("Duration of format and fix operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transformTotal, err = meter.Int64Counter(
			"transform_total",
			metric.WithDescription("Format and fix operations, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		linesChanged, err = meter.Int64Histogram(
			"transform_lines_changed",
			metric.WithDescription("Changed lines per successful transform"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startTransformSpan(ctx context.Context, op Op, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine."+string(op),
		trace.WithAttributes(
			attribute.String("transform.op", string(op)),
			attribute.Int("transform.code_bytes", size),
		),
	)
}

func setTransformSpanResult(span trace.Span, res Result) {
	span.SetAttributes(
		attribute.Bool("transform.ok", res.OK),
		attribute.Bool("transform.changed", res.Changed),
		attribute.Int("transform.changes", res.Summary.Changes),
	)
}

func outcomeOf(res Result) string {
	switch {
	case res.Fault != "":
		return "fault"
	case !res.OK:
		return "unavailable"
	case res.Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

func recordTransformMetrics(ctx context.Context, op Op, d time.Duration, res Result) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", string(op)),
		attribute.String("outcome", outcomeOf(res)),
	)
	transformLatency.Record(ctx, d.Seconds(), attrs)
	transformTotal.Add(ctx, 1, attrs)
	if res.OK {
		linesChanged.Record(ctx, int64(res.Summary.Changes), metric.WithAttributes(attribute.String("op", string(op))))
	}
}
