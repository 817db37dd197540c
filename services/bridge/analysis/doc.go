// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis runs the static analysis stages over an editor buffer.
//
// The syntax stage parses in process and works with no external tools. The
// lint (ruff) and typecheck (pyright) stages are optional: a missing tool
// yields an empty diagnostic list and an availability flag instead of an
// error. Analyze runs all three in order and merges their diagnostics.
package analysis
