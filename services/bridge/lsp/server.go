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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/AleutianAI/pybridge/services/bridge/procgroup"
	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

// stderrLimit caps the server stderr kept for crash reports.
const stderrLimit = 8 * 1024

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState represents the lifecycle state of an LSP server.
type ServerState int

const (
	// ServerStateUninitialized is the initial state before Start is called.
	ServerStateUninitialized ServerState = iota

	// ServerStateStarting means the server process is starting.
	ServerStateStarting

	// ServerStateReady means the server is initialized and ready for requests.
	ServerStateReady

	// ServerStateStopping means the server is shutting down.
	ServerStateStopping

	// ServerStateStopped means the server has terminated.
	ServerStateStopped
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// SERVER
// =============================================================================

// ServerConfig describes how to launch a language server.
type ServerConfig struct {
	// Name identifies the server in logs.
	Name string

	// Command is the resolved launch prefix, e.g. ["/usr/bin/pyright-langserver"].
	Command []string

	// Args are appended to Command, e.g. ["--stdio"].
	Args []string

	// InitializationOptions are passed through in initialize.
	InitializationOptions interface{}
}

// Server represents a running LSP server process.
//
// Description:
//
//	Manages the lifecycle of one server process: start, initialize
//	handshake, requests and shutdown. A server whose stdout closes
//	unexpectedly moves to ServerStateStopped on its own.
//
// Thread Safety:
//
//	Safe for concurrent use after Start() returns successfully.
type Server struct {
	config   ServerConfig
	rootPath string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *toolrun.CappedBuffer

	protocol     *Protocol
	capabilities ServerCapabilities
	info         *ServerInfo

	state   ServerState
	stateMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	readDone chan struct{}
	readErr  error

	lastUsed   time.Time
	lastUsedMu sync.Mutex
}

// NewServer creates a new server instance (not started).
//
// Inputs:
//
//	config - Launch configuration
//	rootPath - Absolute path to the workspace root
func NewServer(config ServerConfig, rootPath string) *Server {
	return &Server{
		config:   config,
		rootPath: rootPath,
		state:    ServerStateUninitialized,
		readDone: make(chan struct{}),
		stderr:   toolrun.NewCappedBuffer(stderrLimit),
		lastUsed: time.Now(),
	}
}

// Start starts the server process and performs the initialize handshake.
//
// Inputs:
//
//	ctx - Bounds the handshake; the process itself outlives ctx
//
// Outputs:
//
//	error - Non-nil if the server failed to start or initialize
//
// Errors:
//
//	ErrServerNotInstalled - No launch command
//	ErrServerAlreadyStarted - Start called on a non-uninitialized server
//	ErrInitializeFailed - LSP initialize handshake failed
//
// Thread Safety:
//
//	Safe for concurrent use, but only the first caller will start the server.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	if s.state != ServerStateUninitialized {
		s.stateMu.Unlock()
		return ErrServerAlreadyStarted
	}
	s.state = ServerStateStarting
	s.stateMu.Unlock()

	if len(s.config.Command) == 0 {
		s.setState(ServerStateStopped)
		close(s.readDone)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Name)
	}

	slog.Info("Starting LSP server",
		slog.String("server", s.config.Name),
		slog.Any("command", s.config.Command),
		slog.String("root_path", s.rootPath),
	)

	// The process is bound to the server's own context, not the caller's.
	s.ctx, s.cancel = context.WithCancel(context.Background())

	argv := append(append([]string(nil), s.config.Command[1:]...), s.config.Args...)
	s.cmd = exec.CommandContext(s.ctx, s.config.Command[0], argv...)
	s.cmd.Dir = s.rootPath
	s.cmd.Stderr = s.stderr
	procgroup.Prepare(s.cmd)

	var err error
	s.stdin, err = s.cmd.StdinPipe()
	if err != nil {
		s.cleanup()
		close(s.readDone)
		return fmt.Errorf("stdin pipe: %w", err)
	}

	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		s.cleanup()
		close(s.readDone)
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		s.cleanup()
		close(s.readDone)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrServerNotInstalled, err)
		}
		return fmt.Errorf("start process: %w", err)
	}

	s.protocol = NewProtocol(s.stdout, s.stdin, NeutralHandler)

	go func() {
		defer close(s.readDone)
		s.readErr = s.protocol.ReadLoop(s.ctx)
		s.onReadLoopExit()
	}()

	if err := s.initialize(ctx); err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.stateMu.Lock()
	if s.state == ServerStateStarting {
		s.state = ServerStateReady
	}
	ready := s.state == ServerStateReady
	s.stateMu.Unlock()
	if !ready {
		return fmt.Errorf("%w: server exited during startup", ErrInitializeFailed)
	}
	s.touchLastUsed()

	slog.Info("LSP server ready",
		slog.String("server", s.config.Name),
		slog.String("version", s.Version()),
		slog.Bool("hover", s.capabilities.HasHoverProvider()),
		slog.Bool("completion", s.capabilities.HasCompletionProvider()),
	)

	return nil
}

// onReadLoopExit marks a server whose stream closed as stopped and fails
// pending requests.
func (s *Server) onReadLoopExit() {
	s.protocol.Close()

	s.stateMu.Lock()
	crashed := s.state == ServerStateReady || s.state == ServerStateStarting
	if crashed {
		s.state = ServerStateStopped
	}
	s.stateMu.Unlock()

	if crashed {
		slog.Warn("LSP server exited unexpectedly",
			slog.String("server", s.config.Name),
			slog.Any("error", s.readErr),
			slog.String("stderr", toolrun.FirstLine(s.stderr.String())),
		)
	}
}

// initialize performs the LSP initialize handshake.
func (s *Server) initialize(ctx context.Context) error {
	rootURI := pathToURI(s.rootPath)
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   rootURI,
		RootPath:  s.rootPath,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Hover: &HoverCapabilities{
					ContentFormat: []string{"markdown", "plaintext"},
				},
				Completion: &CompletionCapabilities{
					CompletionItem: &CompletionItemCapabilities{
						DocumentationFormat: []string{"markdown", "plaintext"},
					},
				},
			},
			Workspace: WorkspaceClientCapabilities{
				Configuration:    true,
				WorkspaceFolders: true,
			},
			General: &GeneralClientCapabilities{
				PositionEncodings: []string{"utf-16"},
			},
		},
		WorkspaceFolders: []WorkspaceFolder{
			{URI: rootURI, Name: "workspace"},
		},
		InitializationOptions: s.config.InitializationOptions,
	}

	resp, err := s.protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	s.capabilities = result.Capabilities
	s.info = result.ServerInfo

	if err := s.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
//
// Description:
//
//	Sends shutdown and exit, closes stdin and waits for the process. A
//	server that does not exit in time has its process group killed.
//	A crashed server is reaped the same way.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple calls are idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state == ServerStateStopping || s.cmd == nil || s.cmd.ProcessState != nil {
		s.stateMu.Unlock()
		return nil
	}
	graceful := s.state == ServerStateReady || s.state == ServerStateStarting
	s.state = ServerStateStopping
	s.stateMu.Unlock()

	slog.Info("Shutting down LSP server", slog.String("server", s.config.Name))

	defer s.cleanup()

	if graceful && s.protocol != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, _ = s.protocol.SendRequest(shutdownCtx, "shutdown", nil)
		cancel()
		_ = s.protocol.SendNotification("exit", nil)
	}
	if s.protocol != nil {
		s.protocol.Close()
	}

	if s.stdin != nil {
		_ = s.stdin.Close()
	}

	if s.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		select {
		case <-time.After(3 * time.Second):
			_ = procgroup.Kill(s.cmd)
			<-done
		case <-done:
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-s.readDone:
	case <-time.After(time.Second):
	}

	return nil
}

// cleanup releases resources and sets state to stopped.
func (s *Server) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	s.setState(ServerStateStopped)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current server state.
func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// RootPath returns the workspace root path.
func (s *Server) RootPath() string {
	return s.rootPath
}

// Capabilities returns the capabilities reported during initialization.
func (s *Server) Capabilities() ServerCapabilities {
	return s.capabilities
}

// Version returns the version the server reported, if any.
func (s *Server) Version() string {
	if s.info == nil {
		return ""
	}
	return s.info.Version
}

// LastUsed returns when the server was last used.
func (s *Server) LastUsed() time.Time {
	s.lastUsedMu.Lock()
	defer s.lastUsedMu.Unlock()
	return s.lastUsed
}

// Stderr returns the first line the server wrote to stderr.
func (s *Server) Stderr() string {
	return toolrun.FirstLine(s.stderr.String())
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends an LSP request and waits for the response.
//
// Outputs:
//
//	*Response - The server's response
//	error - ErrServerNotRunning if not ready, else send or timeout errors
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Request(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	s.touchLastUsed()
	return s.protocol.SendRequest(ctx, method, params)
}

// Notify sends an LSP notification.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Notify(method string, params interface{}) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	s.touchLastUsed()
	return s.protocol.SendNotification(method, params)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *Server) touchLastUsed() {
	s.lastUsedMu.Lock()
	s.lastUsed = time.Now()
	s.lastUsedMu.Unlock()
}
