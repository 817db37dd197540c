// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user config and data directories.
const AppName = "pybridge"

// ConfigFileName is the file looked up in the user config directory.
const ConfigFileName = "pybridge.yaml"

// DefaultDataDir resolves the per-user data directory.
//
// Description:
//
//	$PYBRIDGE_DATA_DIR wins. Otherwise %LOCALAPPDATA%\pybridge on Windows,
//	$XDG_DATA_HOME/pybridge, then ~/.local/share/pybridge.
func DefaultDataDir() (string, error) {
	return dataDir(os.Getenv, runtime.GOOS, os.UserHomeDir)
}

func dataDir(getenv func(string) string, goos string, home func() (string, error)) (string, error) {
	if dir := getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir, nil
	}
	if goos == "windows" {
		if dir := getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, AppName), nil
		}
	}
	if dir := getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName), nil
	}
	h, err := home()
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}
	return filepath.Join(h, ".local", "share", AppName), nil
}

// DefaultPath returns <UserConfigDir>/pybridge/pybridge.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, AppName, ConfigFileName), nil
}

// DraftsDir is where the draft store keeps its files.
func (c Config) DraftsDir() string {
	return filepath.Join(c.Storage.DataDir, "drafts")
}

// LogDir is where app.log is written.
func (c Config) LogDir() string {
	return filepath.Join(c.Storage.DataDir, "logs")
}

// LSPWorkspace returns the configured workspace or <data_dir>/lsp-workspace.
func (c Config) LSPWorkspace() string {
	if c.LSP.Workspace != "" {
		return c.LSP.Workspace
	}
	return filepath.Join(c.Storage.DataDir, "lsp-workspace")
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
