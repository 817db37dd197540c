// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry initializes OpenTelemetry for pybridge.
//
// Components use the OTel APIs directly (otel.Tracer, otel.Meter from their
// own metrics.go); this package only installs the global providers and, for
// the prometheus exporter, the /metrics handler.
//
// # Exporters
//
//   - none: no-op providers (the default; the bridge is a local process)
//   - stdout: spans and metrics as JSON on the configured writer (stderr by
//     default, so stdout stays clean for `pybridge call`)
//   - otlp: spans to an OTLP/gRPC receiver
//   - prometheus: metrics on /metrics
//
// # Usage
//
//	tel, err := telemetry.Init(ctx, telemetry.Config{Exporter: "prometheus"})
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if h := tel.MetricsHandler(); h != nil {
//	    router.GET("/metrics", gin.WrapH(h))
//	}
package telemetry
