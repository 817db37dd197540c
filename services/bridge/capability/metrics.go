// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("pybridge.capability")
	meter  = otel.Meter("pybridge.capability")
)

var (
	probeTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		probeTotal, metricsErr = meter.Int64Counter(
			"capability_probe_total",
			metric.WithDescription("Capability lookups by role, cache outcome and availability"),
		)
	})
	return metricsErr
}

func startProbeSpan(ctx context.Context, fresh bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Prober.Probe",
		trace.WithAttributes(attribute.Bool("capability.fresh", fresh)),
	)
}

func setProbeSpanResult(span trace.Span, m Map) {
	span.SetAttributes(attribute.Bool("capability.assumed", m.Assumed))
	for role, ok := range m.Available {
		span.SetAttributes(attribute.Bool("capability."+string(role), ok))
	}
}

func recordProbeMetrics(ctx context.Context, role Role, cached, available bool) {
	if err := initMetrics(); err != nil {
		return
	}
	probeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", string(role)),
		attribute.Bool("cached", cached),
		attribute.Bool("available", available),
	))
}
