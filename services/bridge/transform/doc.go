// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform proposes formatted or auto-fixed versions of a buffer.
//
// The engine never writes a persisted buffer. It returns the proposed text
// with a change summary, a unified diff preview and diff statistics;
// committing the proposal is left to the caller.
package transform
