// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge composes the pybridge components behind one Service and
// exposes the call surface over HTTP, WebSocket and the CLI.
//
// # Call Surface
//
//	run_code            sandbox.Executor
//	check_code          sandbox.Executor + grader
//	save_code           drafts.Store
//	load_initial_code   drafts.Store
//	syntax_check        analysis.Orchestrator (Syntax)
//	lint_code           analysis.Orchestrator (Lint)
//	typecheck_code      analysis.Orchestrator (Typecheck)
//	analyze_code        analysis.Orchestrator (Analyze)
//	format_code         transform.Engine (Format)
//	fix_code            transform.Engine (Fix)
//	api_capabilities    capability.Prober
//	lsp_hover           lsp.Adapter
//	lsp_complete        lsp.Adapter
//	lsp_status          lsp.Adapter
//	health              Service
//
// # Failure Model
//
// Service methods never return Go errors for tool or user faults: every
// outcome is a structured result. A panic below the service boundary is
// recovered per call, logged, and reported as a bridge fault. Only
// transport problems (malformed JSON, unknown method, rate limiting) are
// reported as errors by the transports.
package bridge
