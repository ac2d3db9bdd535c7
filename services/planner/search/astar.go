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
	"container/heap"
	"context"
	"fmt"
	"math"

	"github.com/AleutianAI/goalplanner/services/planner/model"
)

// Request is one search problem.
type Request struct {
	Start   model.WorldState
	Goal    model.WorldState
	Actions *model.ActionSet

	// Hints are learned patterns used to tighten the heuristic and break
	// ties. Optional.
	Hints []PatternHint

	Budget BudgetConfig
}

// Result is an optimal plan.
type Result struct {
	// Actions is the plan in execution order. Empty when the start state
	// already satisfies the goal.
	Actions   []model.Action
	TotalCost float64
	Usage     UsageReport
}

// ActionIDs returns the IDs of the plan's actions.
func (r *Result) ActionIDs() []string {
	ids := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		ids[i] = a.ID
	}
	return ids
}

// Search runs A* from req.Start to any state satisfying req.Goal.
//
// # Description
//
// Actions are tried in ID order and edges are weighted by TotalCost. The
// heuristic is min(base, pattern) (see BaseHeuristic, PatternHeuristic);
// states the base heuristic proves dead are never pushed. A state reached
// again more cheaply is reopened, so the returned plan is optimal for any
// admissible heuristic. Equal f values prefer fewer actions, then a step
// through a known pattern, then insertion order.
//
// Cancellation and the budget are checked before every expansion. No
// partial plan is ever returned.
//
// # Inputs
//
//   - ctx: Cancellation. A passed deadline counts as a timeout.
//   - req: The problem.
//
// # Outputs
//
//   - *Result: The plan and its cost. When the search itself ran and
//     failed, a Result carrying only Usage is returned with the error.
//   - error: ErrNoPlanFound if the frontier empties with nothing cut off,
//     ErrPlanningTimeout if time, node or depth limits ended the search,
//     ErrCancelled if ctx was cancelled, ErrInvalidRequest for a request
//     without actions.
//
// # Thread Safety
//
// Safe to call concurrently; each call owns its state.
func Search(ctx context.Context, req Request) (*Result, error) {
	if req.Actions == nil {
		return nil, fmt.Errorf("%w: no action set", ErrInvalidRequest)
	}
	budget := NewBudget(req.Budget)
	start := req.Start.Clone()
	if start == nil {
		start = model.WorldState{}
	}
	if start.Satisfies(req.Goal) {
		return &Result{Usage: budget.Report()}, nil
	}

	h := combined{
		base:    NewBaseHeuristic(req.Goal, req.Actions),
		pattern: NewPatternHeuristic(req.Goal, req.Hints),
	}
	patternActions := make(map[string]struct{})
	for _, hint := range req.Hints {
		for _, id := range hint.Actions {
			patternActions[id] = struct{}{}
		}
	}

	h0, dead := h.estimate(start)
	if dead {
		return &Result{Usage: budget.Report()}, fmt.Errorf("%w: a goal property is written by no action", ErrNoPlanFound)
	}

	actions := req.Actions.All()
	var seq int64
	open := &frontier{}
	root := &node{state: start, key: start.Key(), f: h0}
	heap.Push(open, root)
	best := map[string]float64{root.key: 0}
	closed := make(map[string]float64)

	for open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return &Result{Usage: budget.Report()}, contextError(err)
		}
		if err := budget.Check(); err != nil {
			return &Result{Usage: budget.Report()}, err
		}

		n := heap.Pop(open).(*node)
		if g, ok := closed[n.key]; ok && g <= n.g {
			continue
		}
		if g, ok := best[n.key]; ok && g < n.g {
			// superseded by a cheaper push of the same state
			continue
		}
		if n.state.Satisfies(req.Goal) {
			return buildResult(n, budget), nil
		}
		closed[n.key] = n.g
		budget.RecordExpansion()

		if !budget.AllowDepth(n.depth) {
			continue
		}

		for i := range actions {
			a := &actions[i]
			if !a.Applicable(n.state) || !n.state.Changes(a.Effects) {
				continue
			}
			next := n.state.Apply(a.Effects)
			key := next.Key()
			g := n.g + a.TotalCost()
			if cg, ok := closed[key]; ok && cg <= g {
				continue
			}
			if bg, ok := best[key]; ok && bg <= g {
				continue
			}
			est, dead := h.estimate(next)
			if dead {
				continue
			}
			_, via := patternActions[a.ID]
			seq++
			best[key] = g
			delete(closed, key)
			heap.Push(open, &node{
				state:      next,
				key:        key,
				g:          g,
				f:          g + est,
				depth:      n.depth + 1,
				parent:     n,
				action:     a,
				viaPattern: via,
				seq:        seq,
			})
			budget.RecordGenerated()
		}
	}

	if budget.DepthPruned() {
		return &Result{Usage: budget.Report()}, budget.depthExhausted()
	}
	return &Result{Usage: budget.Report()}, ErrNoPlanFound
}

func buildResult(goal *node, budget *Budget) *Result {
	var rev []model.Action
	for n := goal; n.parent != nil; n = n.parent {
		rev = append(rev, *n.action)
	}
	out := make([]model.Action, len(rev))
	total := 0.0
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
		total += out[i].TotalCost()
	}
	return &Result{Actions: out, TotalCost: roundCost(total), Usage: budget.Report()}
}

// roundCost trims float noise from summed costs.
func roundCost(c float64) float64 {
	return math.Round(c*1e9) / 1e9
}
