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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/goalplanner/services/planner/consolidation"
)

func newConsolidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Merge equivalent patterns and prune stale ones",
		Long: `Runs one consolidation pass over the pattern store: patterns with the same
action sequence and a similar context are merged, and low-confidence
patterns unused past the retention window are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeAll, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()

			runner, err := consolidation.NewRunner(store, a.cfg.Consolidation, consolidation.WithLogger(a.slog()))
			if err != nil {
				return err
			}
			rep, err := runner.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return renderReport(a.printer, rep)
		},
	}
}
