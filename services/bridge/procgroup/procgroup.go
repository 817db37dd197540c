// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package procgroup isolates child processes in their own process group so
// that a timeout reclaims the whole tree, not only the direct child.
//
// Every tool invocation and sandboxed execution in the bridge is launched
// through Prepare, which installs Setpgid and a cmd.Cancel hook that kills
// the group when the command's context ends.
package procgroup

import (
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the group
// has been killed.
const waitDelay = 2 * time.Second

// Limits are OS resource limits applied to a started process.
//
// A zero field leaves that limit unchanged.
type Limits struct {
	// MemoryBytes caps the address space (RLIMIT_AS).
	MemoryBytes uint64

	// CPUSeconds caps CPU time (RLIMIT_CPU).
	CPUSeconds uint64

	// FileSizeBytes caps the size of files the process may write (RLIMIT_FSIZE).
	FileSizeBytes uint64
}

// IsZero reports whether no limit is set.
func (l Limits) IsZero() bool {
	return l.MemoryBytes == 0 && l.CPUSeconds == 0 && l.FileSizeBytes == 0
}

// Prepare configures cmd to start in a new process group and to kill that
// group when the command context is cancelled or times out.
//
// Must be called before cmd.Start. cmd must have been created with
// exec.CommandContext.
func Prepare(cmd *exec.Cmd) {
	setup(cmd)
	cmd.Cancel = func() error {
		return Kill(cmd)
	}
	cmd.WaitDelay = waitDelay
}
