// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// fakeTool writes a script that records each invocation in a counter file.
func fakeTool(t *testing.T, dir, name, body string) (path, counter string) {
	t.Helper()
	path = filepath.Join(dir, name)
	counter = filepath.Join(dir, name+".count")
	script := "#!/bin/sh\necho x >> " + counter + "\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, counter
}

func invocations(t *testing.T, counter string) int {
	t.Helper()
	data, err := os.ReadFile(counter)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "x\n")
}

func testSpecs(t *testing.T, dir string) ([]Spec, map[Role]string) {
	t.Helper()
	py, pyCount := fakeTool(t, dir, "fakepython", `echo "Python 3.12.1"`)
	ruff, ruffCount := fakeTool(t, dir, "fakeruff", `echo "ruff 0.6.1"`)
	pyright, pyrightCount := fakeTool(t, dir, "fakepyright", `echo "broken" >&2; exit 1`)
	lsp, lspCount := fakeTool(t, dir, "fakelsp", `echo "usage" >&2; exit 1`)

	specs := []Spec{
		{Role: RolePython, Tool: toolrun.Tool{Name: "python", Candidates: [][]string{{py}}}, ProbeArgs: []string{"--version"}},
		{Role: RoleLint, Tool: toolrun.Tool{Name: "ruff", Candidates: [][]string{{"pybridge-no-such-python", "-m", "ruff"}, {ruff}}}, ProbeArgs: []string{"--version"}},
		{Role: RoleTypecheck, Tool: toolrun.Tool{Name: "pyright", Candidates: [][]string{{pyright}}}, ProbeArgs: []string{"--version"}},
		{Role: RoleLSP, Tool: toolrun.Tool{Name: "pyright-langserver", Candidates: [][]string{{lsp}}}, ProbeArgs: []string{"--help"}, AcceptExit: []int{0, 1, 2}, VersionFrom: RoleTypecheck},
	}
	counters := map[Role]string{
		RolePython:    pyCount,
		RoleLint:      ruffCount,
		RoleTypecheck: pyrightCount,
		RoleLSP:       lspCount,
	}
	return specs, counters
}

func TestProber_Probe(t *testing.T) {
	requireShell(t)
	specs, _ := testSpecs(t, t.TempDir())
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(specs...))

	m := p.Probe(context.Background())

	assert.False(t, m.Assumed)
	assert.True(t, m.Available[RolePython])
	assert.Equal(t, "Python 3.12.1", m.Versions[RolePython])
	assert.True(t, m.Available[RoleLint])
	assert.Equal(t, "ruff 0.6.1", m.Versions[RoleLint])
	assert.False(t, m.Available[RoleTypecheck])
	assert.Empty(t, m.Versions[RoleTypecheck])
	assert.True(t, m.Available[RoleLSP], "exit 1 is accepted for the language server")
	assert.Empty(t, m.Versions[RoleLSP], "version copies the unavailable typecheck role")
	assert.Equal(t, "ruff", m.Tools[RoleLint])
	assert.False(t, m.ProbedAt.IsZero())
}

func TestProber_CachesPositivesOnly(t *testing.T) {
	requireShell(t)
	specs, counters := testSpecs(t, t.TempDir())
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(specs...))
	ctx := context.Background()

	p.Probe(ctx)
	p.Probe(ctx)

	assert.Equal(t, 1, invocations(t, counters[RoleLint]), "positive result is cached")
	assert.Equal(t, 2, invocations(t, counters[RoleTypecheck]), "negative result is re-probed")
}

func TestProber_RefreshBypassesCache(t *testing.T) {
	requireShell(t)
	specs, counters := testSpecs(t, t.TempDir())
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(specs...))
	ctx := context.Background()

	p.Probe(ctx)
	p.Refresh(ctx)

	assert.Equal(t, 2, invocations(t, counters[RoleLint]))
}

func TestProber_Invalidate(t *testing.T) {
	requireShell(t)
	specs, counters := testSpecs(t, t.TempDir())
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(specs...))
	ctx := context.Background()

	first := p.Probe(ctx)
	require.True(t, first.Available[RoleLint])

	p.Invalidate(RoleLint)
	assert.False(t, p.Last(ctx).Available[RoleLint], "last map reflects the invalidation")

	_, err := p.ProbeRole(ctx, RoleLint, false)
	require.NoError(t, err)
	assert.Equal(t, 2, invocations(t, counters[RoleLint]))
}

func TestProber_ProbeRoleUpdatesLast(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	specs, _ := testSpecs(t, dir)
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(specs...))
	ctx := context.Background()

	first := p.Probe(ctx)
	require.False(t, first.Available[RoleTypecheck])

	// pyright gets installed between calls.
	fakeTool(t, dir, "fakepyright", `echo "pyright 1.1.380"`)
	s, err := p.ProbeRole(ctx, RoleTypecheck, false)
	require.NoError(t, err)
	require.True(t, s.Available)

	last := p.Last(ctx)
	assert.True(t, last.Available[RoleTypecheck])
	assert.Equal(t, "pyright 1.1.380", last.Versions[RoleTypecheck])

	// And removed again.
	p.Invalidate(RoleTypecheck)
	fakeTool(t, dir, "fakepyright", `exit 127`)
	_, err = p.ProbeRole(ctx, RoleTypecheck, false)
	require.NoError(t, err)
	assert.False(t, p.Last(ctx).Available[RoleTypecheck])
	assert.Empty(t, p.Last(ctx).Versions[RoleTypecheck])
}

func TestProber_CurrentReprobesAfterTTL(t *testing.T) {
	requireShell(t)
	specs, counters := testSpecs(t, t.TempDir())
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(specs...), WithTTL(50*time.Millisecond))
	ctx := context.Background()

	p.Current(ctx)
	p.Current(ctx)
	assert.Equal(t, 1, invocations(t, counters[RoleTypecheck]), "fresh map is served as is")

	time.Sleep(80 * time.Millisecond)
	p.Current(ctx)
	assert.Equal(t, 2, invocations(t, counters[RoleTypecheck]))
}

func TestProber_ProbeRole_Unknown(t *testing.T) {
	p := NewProber(toolrun.NewRunner(), "python3")
	_, err := p.ProbeRole(context.Background(), Role("nope"), false)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestProber_ExpiredEntryIsReprobed(t *testing.T) {
	requireShell(t)
	specs, counters := testSpecs(t, t.TempDir())
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(specs...), WithTTL(50*time.Millisecond))
	ctx := context.Background()

	_, err := p.ProbeRole(ctx, RoleLint, false)
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)
	_, err = p.ProbeRole(ctx, RoleLint, false)
	require.NoError(t, err)

	assert.Equal(t, 2, invocations(t, counters[RoleLint]))
}

func TestProber_ConcurrentProbesAreCollapsed(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	slow, counter := fakeTool(t, dir, "slowruff", `sleep 0.3; echo "ruff 0.6.1"`)
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(
		Spec{Role: RoleLint, Tool: toolrun.Tool{Name: "ruff", Candidates: [][]string{{slow}}}, ProbeArgs: []string{"--version"}},
	))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.ProbeRole(context.Background(), RoleLint, true)
		}()
	}
	wg.Wait()

	assert.Less(t, invocations(t, counter), 5)
}

func TestProber_PanicFallsBackToAssumed(t *testing.T) {
	p := NewProber(toolrun.NewRunner(), "python3")
	p.probeHook = func(r Role) {
		if r == RoleLint {
			panic("boom")
		}
	}

	m := p.Probe(context.Background())

	assert.True(t, m.Assumed)
	for _, role := range Roles {
		assert.True(t, m.Available[role], "role %s assumed available", role)
		assert.Empty(t, m.Versions[role])
	}
}

func TestProber_CancelledContextFallsBackToAssumed(t *testing.T) {
	requireShell(t)
	specs, _ := testSpecs(t, t.TempDir())
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(specs...))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := p.Probe(ctx)
	assert.True(t, m.Assumed)
	assert.True(t, m.Available[RoleTypecheck])
}

func TestProber_WatchPathPurgesCache(t *testing.T) {
	requireShell(t)
	// Probe counters are written next to the fake tools, so watch a
	// separate directory.
	specs, _ := testSpecs(t, t.TempDir())
	dir := t.TempDir()
	p := NewProber(toolrun.NewRunner(), "python3", WithSpecs(specs...))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.WatchPath(ctx, dir))
	require.NoError(t, p.WatchPath(ctx, dir), "second call is a no-op")
	defer func() { require.NoError(t, p.Close()) }()

	p.Probe(context.Background())
	require.Positive(t, p.cache.Len())

	// Give the watcher goroutine time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "newtool"), []byte("#!/bin/sh\n"), 0o755))

	assert.Eventually(t, func() bool { return p.cache.Len() == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestDefaultSpecs(t *testing.T) {
	specs := DefaultSpecs("")
	require.Len(t, specs, 4)

	byRole := make(map[Role]Spec)
	for _, s := range specs {
		byRole[s.Role] = s
	}
	assert.Equal(t, []string{"python3", "-m", "ruff"}, byRole[RoleLint].Tool.Candidates[0])
	assert.Equal(t, []string{"ruff"}, byRole[RoleLint].Tool.Candidates[1])
	assert.Equal(t, [][]string{{"python3"}, {"python"}}, byRole[RolePython].Tool.Candidates)
	assert.True(t, byRole[RoleLSP].accepts(1))
	assert.False(t, byRole[RoleLint].accepts(1))
}
