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
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/goalplanner/services/planner/model"
)

func newTrackCmd(a *app) *cobra.Command {
	var (
		planPath    string
		outcomePath string
		outcome     model.ExecutionOutcome
	)
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Report how a saved plan ran so the planner can learn from it",
		Long: `Applies an execution outcome to a plan saved with "goalplanner plan --save".
A successful search plan becomes a new pattern; the outcome of a pattern
plan updates that pattern's confidence. The outcome comes from --outcome
or from the individual flags.`,
		Example: `  goalplanner track --plan plan.yaml --success --achieved --actual-cost 4.5
  goalplanner track --plan plan.yaml --outcome outcome.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var plan model.Plan
			if err := readDocument(planPath, &plan); err != nil {
				return err
			}
			if plan.ID == "" {
				return errors.New("plan file has no id")
			}
			if outcomePath != "" {
				outcome = model.ExecutionOutcome{}
				if err := readDocument(outcomePath, &outcome); err != nil {
					return err
				}
			}
			if outcome.PlanID == "" {
				outcome.PlanID = plan.ID
			}
			if outcome.EstimatedCost == 0 {
				outcome.EstimatedCost = plan.TotalCost
			}

			p, _, closeAll, err := a.openPlanner(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()

			res, err := p.TrackExecution(cmd.Context(), &plan, outcome)
			if err != nil {
				a.printer.Error(err.Error())
				return err
			}
			if err := renderTrack(a.printer, res); err != nil {
				return err
			}
			a.warnEphemeral()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&planPath, "plan", "", "plan file written by plan --save")
	f.StringVar(&outcomePath, "outcome", "", "outcome file (YAML or JSON)")
	f.BoolVar(&outcome.Success, "success", false, "the plan ran without error")
	f.BoolVar(&outcome.AchievedGoal, "achieved", false, "the goal state was reached")
	f.Float64Var(&outcome.ActualCost, "actual-cost", 0, "cost observed while executing")
	f.Float64Var(&outcome.EstimatedCost, "estimated-cost", 0, "cost estimate; defaults to the plan cost")
	f.DurationVar(&outcome.ExecutionDuration, "duration", time.Duration(0), "how long execution took")
	_ = cmd.MarkFlagRequired("plan")
	cmd.MarkFlagsMutuallyExclusive("outcome", "success")
	return cmd
}
