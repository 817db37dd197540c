// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package capability detects which external analysis tools are usable and
// publishes the result as a capability map keyed by role.
//
// # Roles
//
//	| Role      | Tool               | Candidates                         |
//	|-----------|--------------------|------------------------------------|
//	| python    | interpreter        | python3, python                    |
//	| lint      | ruff               | python3 -m ruff, ruff              |
//	| typecheck | pyright            | python3 -m pyright, pyright        |
//	| lsp       | pyright-langserver | pyright-langserver                 |
//
// # Caching
//
// Only positive results are cached, in an expiring LRU. A tool that fails
// its probe or a real invocation is evicted and re-probed on the next call,
// so a missing tool never stays pinned as unavailable and an uninstalled one
// drops out as soon as it is noticed.
//
// # Failure
//
// Probe never panics and never returns an error. When probing fails as a
// whole (the context ends before any probe finishes, or a probe panics) the
// map falls back to "assume available" with Assumed set, letting the first
// real invocation report the truth.
package capability
