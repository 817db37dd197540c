// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/pybridge/services/bridge"
)

// Methods that take no code parameter.
var codelessMethods = []string{
	bridge.MethodLoadInitialCode,
	bridge.MethodCapabilities,
	bridge.MethodLSPStatus,
	bridge.MethodHealth,
}

type callFlags struct {
	codeFile     string
	mode         string
	line         int
	column       int
	exercise     string
	exerciseFile string
	starter      string
	params       string
}

func newCallCmd(a *app) *cobra.Command {
	f := &callFlags{}

	cmd := &cobra.Command{
		Use:   "call <method>",
		Short: "Make one bridge call and print the JSON result",
		Long: fmt.Sprintf(`Make one bridge call in-process and print the JSON result on stdout.

Code is read from --code-file, or from stdin when stdin is not a terminal.
--params sends a raw JSON parameter object and ignores the other flags.

Methods: %s`, strings.Join(bridge.Methods, ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: bridge.Methods,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, args[0], f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.codeFile, "code-file", "", "read code from this file (- for stdin)")
	fl.StringVar(&f.mode, "mode", "", "study or exam (run_code, check_code)")
	fl.IntVar(&f.line, "line", 1, "1-based line (lsp_hover, lsp_complete)")
	fl.IntVar(&f.column, "column", 1, "1-based column (lsp_hover, lsp_complete)")
	fl.StringVar(&f.exercise, "exercise", "", "exercise id (save_code, load_initial_code)")
	fl.StringVar(&f.exerciseFile, "exercise-file", "", "exercise definition JSON (check_code)")
	fl.StringVar(&f.starter, "starter", "", "starter code (load_initial_code)")
	fl.StringVar(&f.params, "params", "", "raw JSON params")
	return cmd
}

func (a *app) call(cmd *cobra.Command, method string, f *callFlags) error {
	if !slices.Contains(bridge.Methods, method) {
		return fmt.Errorf("%w: %q", bridge.ErrUnknownMethod, method)
	}

	var params json.RawMessage
	if f.params != "" {
		params = json.RawMessage(f.params)
	} else {
		built, err := buildParams(cmd, method, f)
		if err != nil {
			return err
		}
		params = built
	}

	// A one-shot call does not need the PATH watcher.
	cfg := a.cfg
	cfg.Capability.WatchPath = false

	ctx := cmd.Context()
	svc, err := bridge.Build(ctx, cfg, version)
	if err != nil {
		return fmt.Errorf("build bridge: %w", err)
	}
	defer func() { _ = svc.Close(ctx) }()

	result, err := svc.Call(ctx, method, params)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// buildParams assembles the parameter object from flags.
func buildParams(cmd *cobra.Command, method string, f *callFlags) (json.RawMessage, error) {
	p := map[string]any{}

	if !slices.Contains(codelessMethods, method) {
		code, err := readCode(cmd.InOrStdin(), f.codeFile)
		if err != nil {
			return nil, err
		}
		p["code"] = code
	}

	switch method {
	case bridge.MethodRunCode:
		p["mode"] = f.mode
	case bridge.MethodCheckCode:
		p["mode"] = f.mode
		if f.exerciseFile != "" {
			data, err := os.ReadFile(f.exerciseFile)
			if err != nil {
				return nil, fmt.Errorf("read exercise: %w", err)
			}
			if !json.Valid(data) {
				return nil, fmt.Errorf("%w: %s is not valid JSON", bridge.ErrInvalidParams, f.exerciseFile)
			}
			p["exercise"] = json.RawMessage(data)
		}
	case bridge.MethodSaveCode:
		p["exercise"] = f.exercise
	case bridge.MethodLoadInitialCode:
		p["exercise"] = f.exercise
		p["starter"] = f.starter
	case bridge.MethodLSPHover, bridge.MethodLSPComplete:
		p["line"] = f.line
		p["column"] = f.column
	}

	return json.Marshal(p)
}

// readCode reads from path, "-" meaning stdin. With no path, stdin is read
// only when it is not a terminal.
func readCode(stdin io.Reader, path string) (string, error) {
	switch path {
	case "":
		if file, ok := stdin.(*os.File); ok && isatty.IsTerminal(file.Fd()) {
			return "", errors.New("no code: pass --code-file or pipe code on stdin")
		}
		fallthrough
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read code: %w", err)
		}
		return string(data), nil
	}
}
