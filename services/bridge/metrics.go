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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for bridge calls.
var (
	tracer = otel.Tracer("pybridge.bridge")
	meter  = otel.Meter("pybridge.bridge")
)

const (
	outcomeOK    = "ok"
	outcomePanic = "panic"
)

var (
	callLatency   metric.Float64Histogram
	callTotal     metric.Int64Counter
	rateLimited   metric.Int64Counter
	wsConnections metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		callLatency, err = meter.Float64Histogram(
			"bridge_call_duration_seconds",
			metric.WithDescription("Duration of bridge calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callTotal, err = meter.Int64Counter(
			"bridge_call_total",
			metric.WithDescription("Total number of bridge calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rateLimited, err = meter.Int64Counter(
			"bridge_rate_limited_total",
			metric.WithDescription("Calls rejected by the per-client rate limiter"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		wsConnections, err = meter.Int64UpDownCounter(
			"bridge_websocket_connections",
			metric.WithDescription("Open WebSocket connections"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startCallSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Service."+method,
		trace.WithAttributes(attribute.String("bridge.method", method)),
	)
}

func setCallSpanResult(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("bridge.outcome", outcome))
	if outcome == outcomePanic {
		span.SetStatus(codes.Error, "panic recovered")
	}
}

func recordCallMetrics(ctx context.Context, method string, duration time.Duration, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	)
	callLatency.Record(ctx, duration.Seconds(), attrs)
	callTotal.Add(ctx, 1, attrs)
}

func recordRateLimited(ctx context.Context, method, transport string) {
	if err := initMetrics(); err != nil {
		return
	}
	rateLimited.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("transport", transport),
	))
}

func recordWSConnection(ctx context.Context, delta int64) {
	if err := initMetrics(); err != nil {
		return
	}
	wsConnections.Add(ctx, delta)
}
