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
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/goalplanner/services/planner/model"
)

func act(id string, cost float64, pre, eff map[string]any) model.Action {
	a := model.Action{
		ID:      id,
		Name:    id,
		Effects: model.MustState(eff),
		Cost:    model.Cost{BaseUnits: cost},
	}
	if pre != nil {
		a.Preconditions = model.MustState(pre)
	}
	return a
}

func actionSet(t testing.TB, actions ...model.Action) *model.ActionSet {
	t.Helper()
	set, err := model.NewActionSet(actions)
	require.NoError(t, err)
	return set
}

func deployProblem(t testing.TB) Request {
	return Request{
		Start: model.MustState(map[string]any{"code": "ready"}),
		Goal:  model.MustState(map[string]any{"deployed": true}),
		Actions: actionSet(t,
			act("build", 1, nil, map[string]any{"built": true}),
			act("deploy", 3, map[string]any{"code": "ready", "built": true}, map[string]any{"deployed": true}),
		),
		Budget: DefaultBudgetConfig(),
	}
}

func TestSearch_ColdStart(t *testing.T) {
	res, err := Search(context.Background(), deployProblem(t))
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"build", "deploy"}, res.ActionIDs()); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4.0, res.TotalCost)
	assert.Positive(t, res.Usage.Expanded)
}

func TestSearch_GoalAlreadySatisfied(t *testing.T) {
	req := deployProblem(t)
	req.Start = model.MustState(map[string]any{"deployed": true})
	res, err := Search(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
	assert.Zero(t, res.TotalCost)
}

func TestSearch_PrefersCheaperLongerPlan(t *testing.T) {
	req := Request{
		Start: model.WorldState{},
		Goal:  model.MustState(map[string]any{"done": true}),
		Actions: actionSet(t,
			act("direct", 10, nil, map[string]any{"done": true}),
			act("prep", 2, nil, map[string]any{"ready": true}),
			act("finish", 3, map[string]any{"ready": true}, map[string]any{"done": true}),
		),
	}
	res, err := Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"prep", "finish"}, res.ActionIDs())
	assert.Equal(t, 5.0, res.TotalCost)
}

func TestSearch_RiskScalesCost(t *testing.T) {
	risky := act("risky", 2, nil, map[string]any{"done": true})
	risky.Cost.Risk = model.RiskCritical
	safe := act("safe", 5, nil, map[string]any{"done": true})
	req := Request{
		Start:   model.WorldState{},
		Goal:    model.MustState(map[string]any{"done": true}),
		Actions: actionSet(t, risky, safe),
	}
	res, err := Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"safe"}, res.ActionIDs())
}

func TestSearch_NoPlan(t *testing.T) {
	t.Run("goal property never written", func(t *testing.T) {
		req := deployProblem(t)
		req.Goal = model.MustState(map[string]any{"released": true})
		_, err := Search(context.Background(), req)
		assert.ErrorIs(t, err, ErrNoPlanFound)
	})

	t.Run("precondition unreachable", func(t *testing.T) {
		req := Request{
			Start: model.WorldState{},
			Goal:  model.MustState(map[string]any{"done": true}),
			Actions: actionSet(t,
				act("finish", 1, map[string]any{"key": "gold"}, map[string]any{"done": true}),
				act("find", 1, nil, map[string]any{"key": "silver"}),
			),
			Budget: BudgetConfig{MaxDepth: 10},
		}
		start := time.Now()
		_, err := Search(context.Background(), req)
		assert.ErrorIs(t, err, ErrNoPlanFound)
		assert.Less(t, time.Since(start), time.Second)
	})
}

// counterActions builds a chain n0 -> n1 -> ... where the goal needs more
// steps than the depth limit allows.
func counterActions(t testing.TB, steps int) *model.ActionSet {
	var actions []model.Action
	for i := 0; i < steps; i++ {
		actions = append(actions, act(fmt.Sprintf("step%02d", i), 1,
			map[string]any{"n": i}, map[string]any{"n": i + 1}))
	}
	return actionSet(t, actions...)
}

func TestSearch_DepthLimitIsTimeout(t *testing.T) {
	req := Request{
		Start:   model.MustState(map[string]any{"n": 0}),
		Goal:    model.MustState(map[string]any{"n": 15}),
		Actions: counterActions(t, 15),
		Budget:  BudgetConfig{MaxDepth: 10},
	}
	_, err := Search(context.Background(), req)
	assert.ErrorIs(t, err, ErrPlanningTimeout)
	assert.ErrorIs(t, err, ErrDepthLimitExceeded)

	req.Budget.MaxDepth = 15
	res, err := Search(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Actions, 15)
}

func TestSearch_NodeAndTimeLimits(t *testing.T) {
	req := Request{
		Start:   model.MustState(map[string]any{"n": 0}),
		Goal:    model.MustState(map[string]any{"n": 30}),
		Actions: counterActions(t, 30),
	}

	req.Budget = BudgetConfig{MaxNodes: 5}
	res, err := Search(context.Background(), req)
	assert.ErrorIs(t, err, ErrPlanningTimeout)
	assert.ErrorIs(t, err, ErrNodeLimitExceeded)
	require.NotNil(t, res, "usage is reported with the error")
	assert.Empty(t, res.Actions)
	assert.Positive(t, res.Usage.Expanded)
	assert.LessOrEqual(t, res.Usage.Expanded, 5)

	req.Budget = BudgetConfig{TimeLimit: time.Nanosecond}
	_, err = Search(context.Background(), req)
	assert.ErrorIs(t, err, ErrPlanningTimeout)
	assert.ErrorIs(t, err, ErrTimeLimitExceeded)
}

func TestSearch_Cancellation(t *testing.T) {
	req := deployProblem(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Search(ctx, req)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrNoPlanFound)

	dctx, dcancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer dcancel()
	_, err = Search(dctx, req)
	assert.ErrorIs(t, err, ErrPlanningTimeout)
}

func TestSearch_InvalidRequest(t *testing.T) {
	_, err := Search(context.Background(), Request{Goal: model.MustState(map[string]any{"a": true})})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSearch_TieBreakPrefersPatternStep(t *testing.T) {
	req := Request{
		Start: model.WorldState{},
		Goal:  model.MustState(map[string]any{"done": true}),
		Actions: actionSet(t,
			act("alpha", 2, nil, map[string]any{"done": true, "via": "alpha"}),
			act("beta", 2, nil, map[string]any{"done": true, "via": "beta"}),
		),
	}
	res, err := Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, res.ActionIDs(), "insertion order decides without hints")

	req.Hints = []PatternHint{{PatternID: "p", Goal: []string{"done=b:true"}, Cost: 2, Actions: []string{"beta"}}}
	res, err = Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, res.ActionIDs())
}

func TestSearch_Deterministic(t *testing.T) {
	req := Request{
		Start: model.WorldState{},
		Goal:  model.MustState(map[string]any{"a": true, "b": true}),
		Actions: actionSet(t,
			act("set-a", 1, nil, map[string]any{"a": true}),
			act("set-b", 1, nil, map[string]any{"b": true}),
			act("set-ab", 2, nil, map[string]any{"a": true, "b": true}),
		),
	}
	first, err := Search(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Search(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first.ActionIDs(), again.ActionIDs())
	}
	assert.Equal(t, 2.0, first.TotalCost)
}

func TestBaseHeuristic(t *testing.T) {
	set := actionSet(t,
		act("cheap-a", 1, nil, map[string]any{"a": true}),
		act("dear-a", 5, nil, map[string]any{"a": true}),
		act("b", 4, nil, map[string]any{"b": true}),
	)
	h := NewBaseHeuristic(model.MustState(map[string]any{"a": true, "b": true}), set)

	assert.Equal(t, 4.0, h.Estimate(model.WorldState{}))
	assert.Equal(t, 1.0, h.Estimate(model.MustState(map[string]any{"b": true})))
	assert.Equal(t, 0.0, h.Estimate(model.MustState(map[string]any{"a": true, "b": true})))

	dead := NewBaseHeuristic(model.MustState(map[string]any{"c": true}), set)
	assert.True(t, math.IsInf(dead.Estimate(model.WorldState{}), 1))
}

func TestPatternHeuristic(t *testing.T) {
	goal := model.MustState(map[string]any{"a": true, "b": true})
	h := NewPatternHeuristic(goal, []PatternHint{
		{Goal: []string{"a=b:true", "b=b:true"}, Cost: 7},
		{Goal: []string{"a=b:true", "b=b:true"}, Cost: 6},
		{Goal: []string{"b=b:true"}, Cost: 2},
		{Goal: []string{"b=b:true"}, Cost: -1},
	})
	assert.Equal(t, 6.0, h.Estimate(model.WorldState{}))
	assert.Equal(t, 2.0, h.Estimate(model.MustState(map[string]any{"a": true})))
	assert.True(t, math.IsInf(h.Estimate(model.MustState(map[string]any{"b": true})), 1))
	assert.Equal(t, 0.0, h.Estimate(goal))
}

// randomProblem builds an acyclic problem over boolean facts: actions only
// ever set facts to true, so every path is finite.
func randomProblem(t testing.TB, r *rand.Rand) Request {
	const facts = 7
	fact := func(i int) string { return fmt.Sprintf("f%d", i) }

	var actions []model.Action
	n := 4 + r.IntN(8)
	for i := 0; i < n; i++ {
		pre := map[string]any{}
		for j := 0; j < r.IntN(3); j++ {
			pre[fact(r.IntN(facts))] = true
		}
		eff := map[string]any{fact(r.IntN(facts)): true}
		if r.IntN(3) == 0 {
			eff[fact(r.IntN(facts))] = true
		}
		actions = append(actions, act(fmt.Sprintf("a%02d", i), float64(1+r.IntN(9)), pre, eff))
	}
	goal := map[string]any{}
	for j := 0; j < 1+r.IntN(3); j++ {
		goal[fact(r.IntN(facts))] = true
	}
	start := map[string]any{}
	if r.IntN(2) == 0 {
		start[fact(r.IntN(facts))] = true
	}

	var hints []PatternHint
	for j := 0; j < r.IntN(4); j++ {
		hints = append(hints, PatternHint{
			Goal:    model.MustState(map[string]any{fact(r.IntN(facts)): true}).Features(),
			Cost:    float64(r.IntN(20)),
			Actions: []string{fmt.Sprintf("a%02d", r.IntN(n))},
		})
	}
	return Request{
		Start:   model.MustState(start),
		Goal:    model.MustState(goal),
		Actions: actionSet(t, actions...),
		Hints:   hints,
	}
}

// optimalCost is the exhaustive minimum cost, +Inf if unreachable.
func optimalCost(s, goal model.WorldState, actions []model.Action, memo map[string]float64) float64 {
	if s.Satisfies(goal) {
		return 0
	}
	key := s.Key()
	if c, ok := memo[key]; ok {
		return c
	}
	best := math.Inf(1)
	for _, a := range actions {
		if !a.Applicable(s) || !s.Changes(a.Effects) {
			continue
		}
		if c := a.TotalCost() + optimalCost(s.Apply(a.Effects), goal, actions, memo); c < best {
			best = c
		}
	}
	memo[key] = best
	return best
}

func TestSearch_OptimalOnRandomAcyclicGraphs(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 42))
	for i := 0; i < 300; i++ {
		req := randomProblem(t, r)
		want := optimalCost(req.Start, req.Goal, req.Actions.All(), map[string]float64{})

		h := combined{
			base:    NewBaseHeuristic(req.Goal, req.Actions),
			pattern: NewPatternHeuristic(req.Goal, req.Hints),
		}
		est, _ := h.estimate(req.Start)
		if !math.IsInf(want, 1) && est > want+1e-9 {
			t.Fatalf("case %d: heuristic %v exceeds optimal cost %v", i, est, want)
		}

		res, err := Search(context.Background(), req)
		if math.IsInf(want, 1) {
			if !assert.ErrorIs(t, err, ErrNoPlanFound, "case %d", i) {
				return
			}
			continue
		}
		require.NoError(t, err, "case %d", i)
		if math.Abs(res.TotalCost-want) > 1e-9 {
			t.Fatalf("case %d: A* cost %v, exhaustive optimum %v (plan %v)", i, res.TotalCost, want, res.ActionIDs())
		}

		s := req.Start
		for _, a := range res.Actions {
			require.True(t, a.Applicable(s), "case %d: %s not applicable", i, a.ID)
			s = s.Apply(a.Effects)
		}
		require.True(t, s.Satisfies(req.Goal), "case %d: plan does not reach goal", i)
	}
}

func TestBudget(t *testing.T) {
	b := NewBudget(BudgetConfig{MaxNodes: 2, MaxDepth: 3})
	assert.NoError(t, b.Check())
	b.RecordExpansion()
	assert.NoError(t, b.Check())
	b.RecordExpansion()
	assert.ErrorIs(t, b.Check(), ErrNodeLimitExceeded)
	assert.ErrorIs(t, b.Check(), ErrNodeLimitExceeded, "exhaustion is sticky")

	assert.True(t, b.AllowDepth(2))
	assert.False(t, b.AllowDepth(3))
	assert.True(t, b.DepthPruned())
	rep := b.Report()
	assert.Equal(t, 2, rep.Expanded)
	assert.Equal(t, "nodes", rep.ExhaustedBy)
	assert.Contains(t, b.String(), "EXHAUSTED by nodes")
}
