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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/goalplanner/services/planner"
)

func newPlanCmd(a *app) *cobra.Command {
	var (
		requestPath string
		savePath    string
		maxDepth    int
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan an action sequence for a request file",
		Long: `Reads a planning request (current state, goal and available actions) from
a YAML or JSON file and prints the plan. Use --save to keep the plan for
a later "goalplanner track".`,
		Example: `  goalplanner plan -f request.yaml --save plan.yaml
  cat request.json | goalplanner plan -f - -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req planner.Request
			if err := readDocument(requestPath, &req); err != nil {
				return err
			}
			if maxDepth > 0 {
				req.MaxSearchDepth = maxDepth
			}
			if timeout > 0 {
				req.Timeout = timeout
			}

			p, _, closeAll, err := a.openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()

			plan, err := p.Plan(cmd.Context(), req)
			if err != nil {
				a.printer.Error(err.Error())
				return err
			}
			if err := renderPlan(a.printer, plan); err != nil {
				return err
			}
			if savePath != "" {
				if err := writeDocument(savePath, plan); err != nil {
					return err
				}
				a.printer.Muted("plan saved to " + savePath)
				a.warnEphemeral()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&requestPath, "file", "f", "", "request file, or - for stdin")
	cmd.Flags().StringVar(&savePath, "save", "", "write the plan to this file")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "override the maximum plan length")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the planning timeout")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
