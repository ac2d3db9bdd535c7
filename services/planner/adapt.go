// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"fmt"

	"github.com/AleutianAI/goalplanner/services/planner/model"
	"github.com/AleutianAI/goalplanner/services/planner/patterns"
	"github.com/AleutianAI/goalplanner/services/planner/search"
)

// adaptation is a pattern made to fit a request: an optional bridging
// prefix followed by the pattern's own actions.
type adaptation struct {
	actions []model.Action
	bridge  int
}

// adapt checks that pat works for the request.
//
// # Description
//
// Every action ID in the pattern must be offered by the request. If the
// first action is not applicable in current, a bridging prefix of at most
// MaxBridgeActions is searched for that makes it applicable. The combined
// sequence is then simulated: each action's preconditions must hold when
// it runs and the final state must satisfy goal.
//
// # Outputs
//
//   - *adaptation: The executable sequence.
//   - error: ErrPatternAdaptationFailure describing the first problem.
func (p *Planner) adapt(ctx context.Context, pat *patterns.Pattern, current, goal model.WorldState, set *model.ActionSet, budget search.BudgetConfig) (*adaptation, error) {
	seq := make([]model.Action, 0, len(pat.Actions))
	for _, id := range pat.Actions {
		a, ok := set.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: action %q is not offered", ErrPatternAdaptationFailure, id)
		}
		seq = append(seq, a)
	}
	if len(seq) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrPatternAdaptationFailure, patterns.ErrEmptySequence)
	}

	state := current.Clone()
	var bridge []model.Action
	if !seq[0].Applicable(state) {
		if p.cfg.Search.MaxBridgeActions == 0 {
			return nil, fmt.Errorf("%w: first action %q not applicable", ErrPatternAdaptationFailure, seq[0].ID)
		}
		res, err := search.Search(ctx, search.Request{
			Start:   state,
			Goal:    seq[0].Preconditions,
			Actions: set,
			Budget: search.BudgetConfig{
				MaxNodes:  budget.MaxNodes,
				MaxDepth:  p.cfg.Search.MaxBridgeActions,
				TimeLimit: budget.TimeLimit,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: no bridge to %q: %w", ErrPatternAdaptationFailure, seq[0].ID, err)
		}
		bridge = res.Actions
		for _, a := range bridge {
			state = state.Apply(a.Effects)
		}
	}

	for i, a := range seq {
		if !a.Applicable(state) {
			return nil, fmt.Errorf("%w: preconditions of %q unmet at step %d", ErrPatternAdaptationFailure, a.ID, i)
		}
		state = state.Apply(a.Effects)
	}
	if !state.Satisfies(goal) {
		return nil, fmt.Errorf("%w: sequence leaves %s unmet", ErrPatternAdaptationFailure, state.Unmet(goal))
	}

	out := make([]model.Action, 0, len(bridge)+len(seq))
	out = append(out, bridge...)
	out = append(out, seq...)
	return &adaptation{actions: out, bridge: len(bridge)}, nil
}
