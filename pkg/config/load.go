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
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PYBRIDGE_"

// ErrInvalidConfig is returned when a file cannot be decoded or the merged
// configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// =============================================================================
// Loading
// =============================================================================

// Load builds the effective configuration.
//
// Description:
//
//	Starts from Default(), overlays the YAML file, loads .env from the
//	working directory, applies PYBRIDGE_* overrides, fills the data
//	directory and validates.
//
// Inputs:
//
//	path - Explicit config file. Empty means DefaultPath(), which may be
//	       absent. An explicit path must exist.
//
// Outputs:
//
//	Config - The effective configuration
//	error - Read failures, or ErrInvalidConfig
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file", slog.String("error", err.Error()))
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			slog.Debug("no user config directory", slog.String("error", err.Error()))
		}
		path = p
	}

	if path != "" {
		exists, err := fileExists(path)
		if err != nil {
			return Config{}, fmt.Errorf("stat config file: %w", err)
		}
		switch {
		case exists:
			if err := decodeFile(path, &cfg); err != nil {
				return Config{}, err
			}
		case explicit:
			return Config{}, fmt.Errorf("config file %s: %w", path, os.ErrNotExist)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if cfg.Storage.DataDir == "" {
		getenv := func(k string) string {
			v, _ := lookup(k)
			return v
		}
		dir, err := dataDir(getenv, runtime.GOOS, os.UserHomeDir)
		if err != nil {
			return Config{}, err
		}
		cfg.Storage.DataDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default() and validates, without consulting the
// environment. DataDir stays empty unless the document sets it.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(data), &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := decode(f, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// =============================================================================
// Environment Overrides
// =============================================================================

// applyEnv applies PYBRIDGE_* variables. Unparseable values are errors
// rather than silently ignored.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("DATA_DIR", &cfg.Storage.DataDir)
	str("PYTHON", &cfg.Python.Command)
	str("ADDR", &cfg.Server.Addr)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("TELEMETRY_EXPORTER", &cfg.Telemetry.Exporter)
	str("OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if v, ok := lookup(EnvPrefix + "SANDBOX_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sSANDBOX_TIMEOUT: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.Sandbox.Timeout = d
	}
	if v, ok := lookup(EnvPrefix + "LSP_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sLSP_ENABLED: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.LSP.Enabled = b
	}
	return nil
}

// =============================================================================
// Writing
// =============================================================================

// WriteDefault writes Default() as YAML to path, creating parent
// directories. An existing file is left alone and reported via the bool.
func WriteDefault(path string) (bool, error) {
	exists, err := fileExists(path)
	if err != nil {
		return false, fmt.Errorf("stat config file: %w", err)
	}
	if exists {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write config file: %w", err)
	}
	return true, nil
}
