// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox runs untrusted Python code in an isolated child process.
//
// # Isolation Layers
//
//	| Layer                | Mechanism                                        |
//	|----------------------|--------------------------------------------------|
//	| Process              | one interpreter per execution, own process group |
//	| Wall clock           | context timeout, kill(-pgid, SIGKILL)            |
//	| OS limits            | prlimit on Linux, resource.setrlimit in harness  |
//	| Static import guard  | tree-sitter scan before launch                   |
//	| Runtime import guard | builtins.__import__ wrapper for user globals     |
//	| Filesystem           | per-execution scratch directory, removed after   |
//	| Environment          | minimal, no host variables inherited             |
//	| Output               | capped stdout/stderr with truncation marker      |
//
// A blocked import found statically is reported without ever launching the
// interpreter.
//
// # Modes
//
// Study mode attaches a pedagogical hint. Exam mode never computes one.
//
// # Thread Safety
//
// Executor is safe for concurrent use; a weighted semaphore bounds the number
// of simultaneous interpreters.
package sandbox
