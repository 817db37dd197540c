// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import "errors"

var (
	// ErrInvalidMode indicates a mode other than study or exam.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrInterpreterNotFound indicates the Python interpreter is missing.
	ErrInterpreterNotFound = errors.New("python interpreter not found")

	// ErrScratchDir indicates the scratch directory could not be prepared.
	ErrScratchDir = errors.New("scratch directory unavailable")

	// ErrBlockedImport indicates code imports a denylisted module.
	ErrBlockedImport = errors.New("blocked import")
)
