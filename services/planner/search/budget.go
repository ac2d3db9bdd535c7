// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"fmt"
	"time"
)

// BudgetConfig bounds a single search.
type BudgetConfig struct {
	// MaxNodes is the maximum number of expansions. Zero means unlimited.
	MaxNodes int `json:"max_nodes" yaml:"max_nodes" validate:"gte=0"`

	// MaxDepth is the maximum plan length. States at this depth are not
	// expanded. Zero means unlimited.
	MaxDepth int `json:"max_depth" yaml:"max_depth" validate:"gte=0"`

	// TimeLimit is the wall clock limit. Zero means unlimited.
	TimeLimit time.Duration `json:"time_limit" yaml:"time_limit" validate:"gte=0"`
}

// DefaultBudgetConfig returns 200k nodes, depth 20 and 5 seconds.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxNodes:  200_000,
		MaxDepth:  20,
		TimeLimit: 5 * time.Second,
	}
}

// Budget tracks consumption during one search.
//
// Thread Safety: Not safe for concurrent use. Each search owns its budget.
type Budget struct {
	config BudgetConfig
	start  time.Time
	now    func() time.Time

	expanded    int
	generated   int
	depthPruned int
	exhaustedBy string
}

// NewBudget starts a budget clock.
func NewBudget(config BudgetConfig) *Budget {
	return &Budget{config: config, start: time.Now(), now: time.Now}
}

// Config returns the budget configuration.
func (b *Budget) Config() BudgetConfig { return b.config }

// Elapsed returns the time since the budget started.
func (b *Budget) Elapsed() time.Duration { return b.now().Sub(b.start) }

// RecordExpansion counts one expanded node.
func (b *Budget) RecordExpansion() { b.expanded++ }

// RecordGenerated counts one node pushed onto the frontier.
func (b *Budget) RecordGenerated() { b.generated++ }

// Check returns a non-nil error once the time or node limit is reached.
func (b *Budget) Check() error {
	if b.exhaustedBy != "" {
		return b.exhaustedErr()
	}
	if b.config.TimeLimit > 0 && b.Elapsed() >= b.config.TimeLimit {
		b.exhaustedBy = "time"
		return b.exhaustedErr()
	}
	if b.config.MaxNodes > 0 && b.expanded >= b.config.MaxNodes {
		b.exhaustedBy = "nodes"
		return b.exhaustedErr()
	}
	return nil
}

func (b *Budget) exhaustedErr() error {
	switch b.exhaustedBy {
	case "time":
		return fmt.Errorf("%w: %w after %v", ErrPlanningTimeout, ErrTimeLimitExceeded, b.config.TimeLimit)
	case "nodes":
		return fmt.Errorf("%w: %w (%d nodes)", ErrPlanningTimeout, ErrNodeLimitExceeded, b.config.MaxNodes)
	default:
		return fmt.Errorf("%w: %w (depth %d)", ErrPlanningTimeout, ErrDepthLimitExceeded, b.config.MaxDepth)
	}
}

// AllowDepth reports whether a node at depth may be expanded, and counts
// the ones that may not.
func (b *Budget) AllowDepth(depth int) bool {
	if b.config.MaxDepth > 0 && depth >= b.config.MaxDepth {
		b.depthPruned++
		return false
	}
	return true
}

// DepthPruned reports whether any node was cut off by MaxDepth.
func (b *Budget) DepthPruned() bool { return b.depthPruned > 0 }

// depthExhausted marks the search as ended by depth pruning.
func (b *Budget) depthExhausted() error {
	b.exhaustedBy = "depth"
	return b.exhaustedErr()
}

// UsageReport summarizes a search's consumption.
type UsageReport struct {
	Elapsed     time.Duration `json:"elapsed"`
	Expanded    int           `json:"expanded"`
	Generated   int           `json:"generated"`
	DepthPruned int           `json:"depth_pruned"`
	ExhaustedBy string        `json:"exhausted_by,omitempty"`
}

// Report returns the consumption so far.
func (b *Budget) Report() UsageReport {
	return UsageReport{
		Elapsed:     b.Elapsed(),
		Expanded:    b.expanded,
		Generated:   b.generated,
		DepthPruned: b.depthPruned,
		ExhaustedBy: b.exhaustedBy,
	}
}

// String returns a human-readable budget status.
func (b *Budget) String() string {
	status := ""
	if b.exhaustedBy != "" {
		status = fmt.Sprintf(" [EXHAUSTED by %s]", b.exhaustedBy)
	}
	return fmt.Sprintf("Budget{nodes=%d/%d, depth=%d, time=%v/%v}%s",
		b.expanded, b.config.MaxNodes, b.config.MaxDepth,
		b.Elapsed().Round(time.Millisecond), b.config.TimeLimit, status)
}
