// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/pybridge/pkg/config"
	"github.com/AleutianAI/pybridge/services/bridge/analysis"
	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/drafts"
	"github.com/AleutianAI/pybridge/services/bridge/lint"
	"github.com/AleutianAI/pybridge/services/bridge/lsp"
	"github.com/AleutianAI/pybridge/services/bridge/sandbox"
	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
	"github.com/AleutianAI/pybridge/services/bridge/transform"
)

// Build assembles a Service from configuration.
//
// Description:
//
//	Creates the shared tool runner, the prober (with the PATH watcher when
//	enabled), lint runner, orchestrator, transform engine, sandbox, draft
//	store and, when enabled, the language server manager with its idle
//	monitor. Nothing is probed or spawned until the first call.
//
// Inputs:
//
//	ctx - Bounds the PATH watcher's lifetime.
//	cfg - Validated configuration with Storage.DataDir resolved.
//	version - Reported by health.
//
// Outputs:
//
//	*Service - Call Close on shutdown.
//	error - Draft store failures.
func Build(ctx context.Context, cfg config.Config, version string) (*Service, error) {
	python := cfg.Python.Command

	runner := toolrun.NewRunner(
		toolrun.WithTimeout(cfg.Tools.Timeout),
		toolrun.WithOutputLimit(cfg.Tools.OutputLimitKB<<10),
	)

	prober := capability.NewProber(runner, python,
		capability.WithTTL(cfg.Capability.TTL),
		capability.WithProbeTimeout(cfg.Capability.ProbeTimeout),
	)
	if cfg.Capability.WatchPath {
		if err := prober.WatchPath(ctx, os.Getenv("PATH")); err != nil {
			slog.Warn("PATH watcher unavailable, relying on cache TTL", slog.String("error", err.Error()))
		}
	}

	linter := lint.NewLintRunner(runner, python, lint.WithTempRoot(cfg.Sandbox.ScratchRoot))

	orchestrator := analysis.NewOrchestrator(prober, linter,
		analysis.WithPreferInterpreter(cfg.Syntax.PreferInterpreter),
		analysis.WithSyntaxTimeout(cfg.Syntax.Timeout),
	)
	engine := transform.NewEngine(prober, linter)
	executor := sandbox.NewExecutor(sandboxConfig(cfg))

	store, err := openDrafts(cfg)
	if err != nil {
		_ = prober.Close()
		return nil, err
	}

	var adapter *lsp.Adapter
	if cfg.LSP.Enabled {
		if tool, ok := prober.Tool(capability.RoleLSP); ok {
			manager := lsp.NewManager(cfg.LSPWorkspace(), tool, runner, lsp.ManagerConfig{
				IdleTimeout:    cfg.LSP.IdleTimeout,
				StartupTimeout: cfg.LSP.StartupTimeout,
				RequestTimeout: cfg.LSP.RequestTimeout,
			})
			manager.StartIdleMonitor()
			adapter = lsp.NewAdapter(manager, prober)
		}
	}

	slog.Info("Bridge assembled",
		slog.String("python", python),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.Bool("drafts_in_memory", store.InMemory()),
		slog.Bool("lsp_enabled", adapter != nil))

	return NewService(Components{
		Executor:       executor,
		Prober:         prober,
		Analysis:       orchestrator,
		Transform:      engine,
		Drafts:         store,
		LSP:            adapter,
		DefaultStarter: cfg.Storage.DefaultStarter,
		Version:        version,
	})
}

func sandboxConfig(cfg config.Config) sandbox.Config {
	sc := sandbox.DefaultConfig()
	sc.Python = cfg.Python.Command
	sc.Root = cfg.Sandbox.ScratchRoot
	sc.Timeout = cfg.Sandbox.Timeout
	sc.MemoryBytes = cfg.Sandbox.MemoryMB << 20
	sc.CPUSeconds = cfg.Sandbox.CPUSeconds
	sc.FileSizeBytes = cfg.Sandbox.FileSizeKB << 10
	sc.OutputLimit = cfg.Sandbox.OutputLimitKB << 10
	sc.MaxConcurrent = cfg.Sandbox.MaxConcurrent
	if len(cfg.Sandbox.Denylist) > 0 {
		sc.Denylist = append([]string(nil), cfg.Sandbox.Denylist...)
	}
	return sc
}

func openDrafts(cfg config.Config) (*drafts.Store, error) {
	if cfg.Storage.InMemory {
		store, err := drafts.OpenInMemory()
		if err != nil {
			return nil, fmt.Errorf("open in-memory drafts: %w", err)
		}
		return store, nil
	}
	dc := drafts.DefaultConfig(cfg.DraftsDir())
	dc.Logger = slog.Default().With("component", "badger")
	store, err := drafts.Open(dc)
	if err != nil {
		return nil, fmt.Errorf("open drafts at %s: %w", dc.Path, err)
	}
	return store, nil
}
