// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"fmt"
	"time"
)

// PlanMode records how a plan was produced.
type PlanMode string

const (
	// ModePattern marks a plan adapted from a stored pattern.
	ModePattern PlanMode = "pattern"
	// ModeSearch marks a plan found by graph search.
	ModeSearch PlanMode = "search"
)

// Plan is an ordered sequence of action IDs returned by the planner.
//
// # Description
//
// SourcePatternID is non-empty if and only if the plan came from pattern
// reuse. Goal, Start and Context capture the request the plan answers so an
// execution outcome can later be learned from. Plans are immutable once
// returned; the caller owns execution.
type Plan struct {
	ID                string        `json:"id" yaml:"id"`
	Actions           []string      `json:"actions" yaml:"actions"`
	TotalCost         float64       `json:"total_cost" yaml:"total_cost"`
	EstimatedDuration time.Duration `json:"estimated_duration" yaml:"estimated_duration"`
	CreatedAt         time.Time     `json:"created_at" yaml:"created_at"`
	SourcePatternID   string        `json:"source_pattern_id,omitempty" yaml:"source_pattern_id,omitempty"`

	Mode         PlanMode   `json:"mode" yaml:"mode"`
	BridgeLength int        `json:"bridge_length,omitempty" yaml:"bridge_length,omitempty"`
	Goal         WorldState `json:"goal" yaml:"goal"`
	Start        WorldState `json:"start" yaml:"start"`
	Context      Context    `json:"context" yaml:"context"`
}

// FromPattern reports whether the plan was produced by pattern reuse.
func (p *Plan) FromPattern() bool {
	return p.SourcePatternID != ""
}

// ExecutionOutcome is the caller's report after executing a plan.
type ExecutionOutcome struct {
	PlanID            string        `json:"plan_id" yaml:"plan_id"`
	Success           bool          `json:"success" yaml:"success"`
	ActualCost        float64       `json:"actual_cost" yaml:"actual_cost" validate:"gte=0"`
	EstimatedCost     float64       `json:"estimated_cost" yaml:"estimated_cost" validate:"gte=0"`
	AchievedGoal      bool          `json:"achieved_goal" yaml:"achieved_goal"`
	ExecutionDuration time.Duration `json:"execution_duration" yaml:"execution_duration" validate:"gte=0"`
}

// Validate checks the outcome's numeric fields.
func (o ExecutionOutcome) Validate() error {
	if err := actionValidate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutcome, err)
	}
	return nil
}

// CostRatio returns ActualCost / EstimatedCost, or 1 when no estimate exists.
func (o ExecutionOutcome) CostRatio() float64 {
	if o.EstimatedCost <= 0 {
		if o.ActualCost <= 0 {
			return 1
		}
		return 0
	}
	return o.ActualCost / o.EstimatedCost
}
