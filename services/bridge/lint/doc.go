// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lint runs Python linters and type checkers on editor buffers and
// converts their JSON output into categorized issues.
//
// # Supported Tools
//
//	| Linter  | Command                                  | Source    |
//	|---------|------------------------------------------|-----------|
//	| ruff    | ruff check --output-format=json          | lint      |
//	| pyright | pyright --outputjson                     | typecheck |
//
// Both tools are launched through toolrun with candidate fallback, so
// "python3 -m ruff" is tried before a bare "ruff" on PATH.
//
// # Policy
//
// Rule policies map rule codes to severities. A rule that no policy list
// matches keeps the severity the tool reported, so pyright's own
// error/warning/information levels pass through unchanged.
//
// # Transient Files
//
// Every call writes the buffer into its own temporary directory, which is
// removed before the call returns. No two calls share a scratch file.
//
// # Thread Safety
//
// LintRunner is safe for concurrent use.
package lint
