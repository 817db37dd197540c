// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package procgroup

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SupportsLimits reports whether ApplyLimits can constrain a running child.
const SupportsLimits = true

// ApplyLimits sets resource limits on an already started process.
//
// Description:
//
//	Uses prlimit(2) so the limits land on the child without a wrapper
//	binary. There is a short window between start and this call; the
//	sandbox harness applies the same limits itself before user code runs.
//
// Inputs:
//
//	pid - Process ID of the started child
//	limits - Limits to apply; zero fields are skipped
//
// Outputs:
//
//	error - First prlimit failure, naming the resource
func ApplyLimits(pid int, limits Limits) error {
	set := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"RLIMIT_AS", unix.RLIMIT_AS, limits.MemoryBytes},
		{"RLIMIT_CPU", unix.RLIMIT_CPU, limits.CPUSeconds},
		{"RLIMIT_FSIZE", unix.RLIMIT_FSIZE, limits.FileSizeBytes},
	}
	for _, s := range set {
		if s.value == 0 {
			continue
		}
		rl := unix.Rlimit{Cur: s.value, Max: s.value}
		if err := unix.Prlimit(pid, s.resource, &rl, nil); err != nil {
			return fmt.Errorf("prlimit %s: %w", s.name, err)
		}
	}
	return nil
}
