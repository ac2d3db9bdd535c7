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
	"math"
	"strings"

	"github.com/AleutianAI/goalplanner/services/planner/model"
)

// Heuristic estimates the cost still needed to reach the goal from a state.
type Heuristic interface {
	Estimate(s model.WorldState) float64
}

// BaseHeuristic is the admissible domain estimate.
//
// # Description
//
// Every unmet goal pair must be written by some action on any path to the
// goal, so the remaining cost is at least the cheapest writer of each unmet
// pair. The estimate is the largest of those minima. A pair no action
// writes makes the goal unreachable and yields +Inf.
//
// The estimate is also consistent: an action either leaves the largest
// pair unmet, or writes it and costs at least its minimum.
type BaseHeuristic struct {
	goal     model.WorldState
	cheapest map[string]float64
}

// NewBaseHeuristic precomputes the cheapest writer of every goal pair.
func NewBaseHeuristic(goal model.WorldState, actions *model.ActionSet) *BaseHeuristic {
	h := &BaseHeuristic{goal: goal, cheapest: make(map[string]float64, len(goal))}
	for k, v := range goal {
		best := math.Inf(1)
		for _, a := range actions.Setters(k, v) {
			if c := a.TotalCost(); c < best {
				best = c
			}
		}
		h.cheapest[k] = best
	}
	return h
}

// Estimate implements Heuristic.
func (h *BaseHeuristic) Estimate(s model.WorldState) float64 {
	est := 0.0
	for k, want := range h.goal {
		if got, ok := s[k]; ok && got.Equal(want) {
			continue
		}
		if c := h.cheapest[k]; c > est {
			est = c
		}
	}
	return est
}

// PatternHint is what a stored pattern tells the search: the goal it
// reached, what reaching it cost on average, and the actions it used.
type PatternHint struct {
	PatternID string
	Goal      []string
	Cost      float64
	Actions   []string
}

// PatternHeuristic estimates remaining cost from learned patterns.
//
// For a state whose residual goal gap equals the goal of a known pattern,
// the estimate is the lowest average cost recorded for that gap. Unknown
// gaps yield +Inf, so in a minimum with the base estimate they never
// matter.
type PatternHeuristic struct {
	goal  model.WorldState
	byGap map[string]float64
}

// NewPatternHeuristic indexes hints by goal.
func NewPatternHeuristic(goal model.WorldState, hints []PatternHint) *PatternHeuristic {
	h := &PatternHeuristic{goal: goal, byGap: make(map[string]float64, len(hints))}
	for _, hint := range hints {
		if len(hint.Goal) == 0 || hint.Cost < 0 || math.IsNaN(hint.Cost) {
			continue
		}
		key := gapKey(hint.Goal)
		if cur, ok := h.byGap[key]; !ok || hint.Cost < cur {
			h.byGap[key] = hint.Cost
		}
	}
	return h
}

// Estimate implements Heuristic.
func (h *PatternHeuristic) Estimate(s model.WorldState) float64 {
	gap := s.Unmet(h.goal)
	if len(gap) == 0 {
		return 0
	}
	if c, ok := h.byGap[gapKey(gap.Features())]; ok {
		return c
	}
	return math.Inf(1)
}

func gapKey(features []string) string {
	return strings.Join(features, "|")
}

// combined is min(base, pattern). The base estimate alone decides dead ends.
type combined struct {
	base    *BaseHeuristic
	pattern *PatternHeuristic
}

// estimate returns the heuristic value and whether the state is a dead end.
func (c combined) estimate(s model.WorldState) (float64, bool) {
	b := c.base.Estimate(s)
	if math.IsInf(b, 1) {
		return b, true
	}
	if c.pattern != nil {
		if p := c.pattern.Estimate(s); p < b {
			return p, false
		}
	}
	return b, false
}
