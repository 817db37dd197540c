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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pybridge/pkg/ux"
	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

func newProbeCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report which Python tools are installed",
		Long: `Probe the interpreter, linter, type checker and language server
without using the capability cache, and print one row per role.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.probe(cmd, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print probe statuses as JSON")
	return cmd
}

func (a *app) probe(cmd *cobra.Command, asJSON bool) error {
	cfg := a.cfg
	runner := toolrun.NewRunner(
		toolrun.WithTimeout(cfg.Tools.Timeout),
		toolrun.WithOutputLimit(cfg.Tools.OutputLimitKB<<10),
	)
	prober := capability.NewProber(runner, cfg.Python.Command,
		capability.WithProbeTimeout(cfg.Capability.ProbeTimeout))
	defer func() { _ = prober.Close() }()

	ctx := cmd.Context()
	statuses := make([]capability.Status, 0, len(capability.Roles))
	for _, role := range capability.Roles {
		st, err := prober.ProbeRole(ctx, role, true)
		if err != nil {
			return fmt.Errorf("probe %s: %w", role, err)
		}
		statuses = append(statuses, st)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	rows := make([]ux.CapabilityRow, 0, len(statuses))
	missing := 0
	for _, st := range statuses {
		rows = append(rows, ux.CapabilityRow{
			Role:      string(st.Role),
			Tool:      st.Tool,
			Available: st.Available,
			Version:   st.Version,
			Reason:    st.Reason,
		})
		if !st.Available {
			missing++
		}
	}

	p := ux.NewPrinter(out)
	p.Title("pybridge capabilities")
	p.CapabilityTable(rows)
	if missing > 0 {
		p.Warning(fmt.Sprintf("%d of %d tools missing; dependent calls report available=false", missing, len(statuses)))
	} else {
		p.Success("all tools available")
	}
	return nil
}
