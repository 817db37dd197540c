// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

// =============================================================================
// MANAGER CONFIG
// =============================================================================

// ManagerConfig configures server lifecycle timing.
type ManagerConfig struct {
	// IdleTimeout stops a server that has not been used for this long.
	// Zero disables idle shutdown.
	IdleTimeout time.Duration

	// StartupTimeout bounds process start plus initialize.
	StartupTimeout time.Duration

	// RequestTimeout bounds each hover or completion request.
	RequestTimeout time.Duration
}

// DefaultManagerConfig returns the default timings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTimeout:    10 * time.Minute,
		StartupTimeout: 30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// DefaultServerArgs are appended to the resolved langserver command.
var DefaultServerArgs = []string{"--stdio"}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the language server for one workspace.
//
// Description:
//
//	Spawns the server on first use, collapses concurrent spawns into one,
//	replaces a server that has stopped on the next call and shuts the
//	server down after IdleTimeout without use.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Manager struct {
	rootPath string
	config   ManagerConfig
	tool     toolrun.Tool
	args     []string
	resolve  func(toolrun.Tool) ([]string, bool)

	mu      sync.Mutex
	server  *Server
	lastErr error
	closed  bool

	spawn singleflight.Group

	monitorOnce sync.Once
	stopOnce    sync.Once
	stop        chan struct{}
	monitorDone chan struct{}
}

// NewManager creates a manager for the workspace at rootPath.
//
// Inputs:
//
//	rootPath - Workspace directory; created on first spawn
//	tool - Candidate launch commands for the server
//	runner - Resolves tool candidates to an executable
//	config - Lifecycle timings
func NewManager(rootPath string, tool toolrun.Tool, runner *toolrun.Runner, config ManagerConfig) *Manager {
	if runner == nil {
		runner = toolrun.NewRunner()
	}
	defaults := DefaultManagerConfig()
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = defaults.StartupTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	return &Manager{
		rootPath:    rootPath,
		config:      config,
		tool:        tool,
		args:        DefaultServerArgs,
		resolve:     runner.Resolve,
		stop:        make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
}

// RootPath returns the workspace root.
func (m *Manager) RootPath() string {
	return m.rootPath
}

// Config returns the lifecycle timings.
func (m *Manager) Config() ManagerConfig {
	return m.config
}

// IsAvailable reports whether a launch command can be found.
func (m *Manager) IsAvailable() bool {
	_, ok := m.resolve(m.tool)
	return ok
}

// Get returns the running server, or nil.
func (m *Manager) Get() *Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil && m.server.State() == ServerStateReady {
		return m.server
	}
	return nil
}

// LastError returns the error of the most recent failed spawn, or nil
// once a spawn succeeds.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// GetOrSpawn returns the running server, starting one if needed.
//
// Description:
//
//	A server that has stopped (crashed or idled out) is reaped and
//	replaced. Concurrent callers share a single spawn.
//
// Errors:
//
//	ErrManagerClosed - Shutdown was called
//	ErrServerNotInstalled - No launch command resolves
//	ErrInitializeFailed - The server did not complete initialize
func (m *Manager) GetOrSpawn(ctx context.Context) (*Server, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if s := m.server; s != nil && s.State() == ServerStateReady {
		m.mu.Unlock()
		return s, nil
	}
	stale := m.server
	m.server = nil
	m.mu.Unlock()

	if stale != nil {
		_ = stale.Shutdown(context.Background())
	}

	v, err, _ := m.spawn.Do("server", func() (interface{}, error) {
		return m.start(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Server), nil
}

// start launches and initializes a new server.
func (m *Manager) start(ctx context.Context) (*Server, error) {
	// A concurrent caller may have finished a spawn while we queued.
	if s := m.Get(); s != nil {
		return s, nil
	}

	command, ok := m.resolve(m.tool)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrServerNotInstalled, m.tool.Name)
		m.setLastErr(err)
		recordServerSpawn(ctx, false)
		return nil, err
	}
	if err := os.MkdirAll(m.rootPath, 0o700); err != nil {
		err = fmt.Errorf("creating workspace: %w", err)
		m.setLastErr(err)
		recordServerSpawn(ctx, false)
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, m.config.StartupTimeout)
	defer cancel()

	srv := NewServer(ServerConfig{Name: m.tool.Name, Command: command, Args: m.args}, m.rootPath)
	if err := srv.Start(startCtx); err != nil {
		m.setLastErr(err)
		recordServerSpawn(ctx, false)
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = srv.Shutdown(context.Background())
		return nil, ErrManagerClosed
	}
	m.server = srv
	m.lastErr = nil
	m.mu.Unlock()

	recordServerSpawn(ctx, true)
	return srv, nil
}

func (m *Manager) setLastErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// Shutdown stops the running server, if any. The manager stays usable.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	s := m.server
	m.server = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Shutdown(ctx)
}

// ShutdownAll stops the server and the idle monitor and refuses new
// spawns. Idempotent.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stop) })
	// Marks a never-started monitor as done and blocks later starts.
	m.monitorOnce.Do(func() { close(m.monitorDone) })
	<-m.monitorDone

	return m.Shutdown(ctx)
}

// StartIdleMonitor starts a goroutine that stops the server after
// IdleTimeout without use. It exits on ShutdownAll. Calling it more than
// once has no effect.
func (m *Manager) StartIdleMonitor() {
	if m.config.IdleTimeout <= 0 {
		return
	}
	m.monitorOnce.Do(func() {
		go m.monitor()
	})
}

func (m *Manager) monitor() {
	defer close(m.monitorDone)

	interval := m.config.IdleTimeout / 4
	interval = max(interval, 10*time.Millisecond)
	interval = min(interval, 30*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle stops the server if it has been idle too long.
func (m *Manager) reapIdle() {
	m.mu.Lock()
	s := m.server
	if s == nil || time.Since(s.LastUsed()) < m.config.IdleTimeout {
		m.mu.Unlock()
		return
	}
	m.server = nil
	m.mu.Unlock()

	slog.Info("Stopping idle LSP server",
		slog.String("server", m.tool.Name),
		slog.Duration("idle", time.Since(s.LastUsed())))
	_ = s.Shutdown(context.Background())
}

// Name returns the server tool name.
func (m *Manager) Name() string {
	return m.tool.Name
}
