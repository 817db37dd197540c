// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drafts persists the last editor buffer per exercise.
//
// Drafts live in an embedded BadgerDB under <data_dir>/drafts, keyed by
// exercise id. A draft is a single JSON value {exercise, code, updatedAt};
// saving replaces it. Progress tracking (attempts, completion) is not
// stored here.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package drafts
