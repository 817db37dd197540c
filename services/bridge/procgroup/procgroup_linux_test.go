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
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare_KillsWholeGroupOnTimeout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// The inner sleep is a grandchild of the test process.
	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 30 & sleep 30")
	Prepare(cmd)
	require.NoError(t, cmd.Start())

	start := time.Now()
	_ = cmd.Wait()
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestKill_NotStarted(t *testing.T) {
	assert.NoError(t, Kill(nil))
	assert.NoError(t, Kill(exec.Command("true")))
}

func TestApplyLimits(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	err := ApplyLimits(cmd.Process.Pid, Limits{CPUSeconds: 2, FileSizeBytes: 1 << 20})
	assert.NoError(t, err)
	assert.NoError(t, ApplyLimits(cmd.Process.Pid, Limits{}))
}

func TestLimits_IsZero(t *testing.T) {
	assert.True(t, Limits{}.IsZero())
	assert.False(t, Limits{CPUSeconds: 1}.IsZero())
}
