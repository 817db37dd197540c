// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnostics defines the uniform diagnostic record shared by every
// analysis stage of the bridge and converts raw tool positions into it.
//
// # Coordinate System
//
// All positions are 1-based lines and columns. Tools that report 0-based
// positions (pyright, the language server) are shifted by their parsers
// before they reach Normalize; Normalize then clamps anything left below 1.
//
//	| Field           | Absent / invalid value | Normalized to          |
//	|-----------------|------------------------|------------------------|
//	| StartLineNumber | 0, negative            | 1                      |
//	| StartColumn     | 0, negative            | 1                      |
//	| EndLineNumber   | 0, before start        | StartLineNumber        |
//	| EndColumn       | 0, before start        | StartColumn            |
//	| zero width      | start == end           | EndColumn = Start + 1  |
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package diagnostics
