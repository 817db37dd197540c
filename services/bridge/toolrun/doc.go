// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolrun launches external analysis tools (ruff, pyright, the
// Python interpreter) as isolated child processes.
//
// A Tool lists candidate command lines in preference order, for example
// "python3 -m ruff" before a bare "ruff" on PATH. Run tries each candidate
// until one starts and is not rejected by the interpreter as a missing
// module. Every invocation gets its own process group, a timeout, and
// capped stdout/stderr buffers.
//
// A non-zero exit status is not an error: linters exit non-zero when they
// find issues. Callers inspect Result.ExitCode.
//
// # Thread Safety
//
// Runner is safe for concurrent use.
package toolrun
