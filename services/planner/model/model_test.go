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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same string", String("ready"), String("ready"), true},
		{"different string", String("ready"), String("done"), false},
		{"same number", Number(1), Number(1), true},
		{"number vs string", Number(1), String("1"), false},
		{"bool vs number", Bool(true), Number(1), false},
		{"invalid never equal", Value{}, Value{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorldState_Satisfies(t *testing.T) {
	state := MustState(map[string]any{"code": "ready", "built": true, "replicas": 3})

	assert.True(t, state.Satisfies(nil), "empty goal is always satisfied")
	assert.True(t, state.Satisfies(MustState(map[string]any{"built": true})))
	assert.True(t, state.Satisfies(MustState(map[string]any{"replicas": 3.0})))
	assert.False(t, state.Satisfies(MustState(map[string]any{"built": false})))
	assert.False(t, state.Satisfies(MustState(map[string]any{"deployed": true})))
}

func TestWorldState_ApplyDoesNotMutate(t *testing.T) {
	state := MustState(map[string]any{"code": "ready"})
	next := state.Apply(MustState(map[string]any{"built": true}))

	assert.Len(t, state, 1)
	assert.Len(t, next, 2)
	assert.True(t, next.Satisfies(MustState(map[string]any{"code": "ready", "built": true})))
}

func TestWorldState_UnmetAndChanges(t *testing.T) {
	state := MustState(map[string]any{"a": 1, "b": "x"})
	goal := MustState(map[string]any{"a": 1, "b": "y", "c": true})

	unmet := state.Unmet(goal)
	assert.Equal(t, []string{"b", "c"}, unmet.Keys())

	assert.False(t, state.Changes(MustState(map[string]any{"a": 1})))
	assert.True(t, state.Changes(MustState(map[string]any{"a": 2})))
}

func TestWorldState_KeyIsOrderIndependent(t *testing.T) {
	a := MustState(map[string]any{"x": 1, "y": "two", "z": false})
	b := WorldState{}
	b["z"] = Bool(false)
	b["x"] = Number(1)
	b["y"] = String("two")

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), a.Apply(MustState(map[string]any{"x": "1"})).Key())
}

func TestNewWorldState_RejectsUnsupported(t *testing.T) {
	_, err := NewWorldState(map[string]any{"nested": map[string]any{"a": 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestWorldState_JSONRoundTrip(t *testing.T) {
	state := MustState(map[string]any{"code": "ready", "built": true, "n": 2.5})
	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"ready","built":true,"n":2.5}`, string(data))

	var back WorldState
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, state.Key(), back.Key())
}

func TestWorldState_YAMLDecode(t *testing.T) {
	var state WorldState
	require.NoError(t, yaml.Unmarshal([]byte("code: ready\nbuilt: true\nreplicas: 3\n"), &state))
	assert.True(t, state.Satisfies(MustState(map[string]any{"code": "ready", "built": true, "replicas": 3})))

	err := yaml.Unmarshal([]byte("code: [a, b]\n"), &state)
	require.Error(t, err)
}

func TestRiskLevel_Factor(t *testing.T) {
	tests := []struct {
		risk RiskLevel
		want float64
	}{
		{"", 1.0},
		{RiskLow, 1.0},
		{RiskMedium, 1.5},
		{RiskHigh, 2.0},
		{RiskCritical, 3.0},
	}
	for _, tt := range tests {
		if got := tt.risk.Factor(); got != tt.want {
			t.Errorf("%q.Factor() = %v, want %v", tt.risk, got, tt.want)
		}
	}
	assert.Equal(t, 6.0, Cost{BaseUnits: 2, Risk: RiskCritical}.Total())
}

func TestAction_Validate(t *testing.T) {
	valid := Action{ID: "build", Effects: MustState(map[string]any{"built": true}), Cost: Cost{BaseUnits: 1}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(a *Action)
	}{
		{"missing id", func(a *Action) { a.ID = "" }},
		{"no effects", func(a *Action) { a.Effects = nil }},
		{"negative cost", func(a *Action) { a.Cost.BaseUnits = -1 }},
		{"unknown risk", func(a *Action) { a.Cost.Risk = "extreme" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			a.Effects = valid.Effects.Clone()
			tt.mutate(&a)
			err := a.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidAction))
		})
	}
}

func TestNewActionSet(t *testing.T) {
	build := Action{ID: "build", Effects: MustState(map[string]any{"built": true}), Cost: Cost{BaseUnits: 1}}
	deploy := Action{ID: "deploy", Effects: MustState(map[string]any{"deployed": true}), Cost: Cost{BaseUnits: 3}}

	set, err := NewActionSet([]Action{deploy, build})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, "build", set.All()[0].ID)

	setters := set.Setters("deployed", Bool(true))
	require.Len(t, setters, 1)
	assert.Equal(t, "deploy", setters[0].ID)

	_, err = NewActionSet([]Action{build, build})
	assert.True(t, errors.Is(err, ErrInvalidAction))
}

func TestNewContext_ProjectsRelevantState(t *testing.T) {
	goal := MustState(map[string]any{"deployed": true})
	current := MustState(map[string]any{"code": "ready", "weather": "sunny"})
	actions := []Action{
		{ID: "deploy", Preconditions: MustState(map[string]any{"code": "ready"}), Effects: goal},
	}

	ctx := NewContext(goal, current, actions)
	assert.Equal(t, []string{"deployed=b:true"}, ctx.Goal)
	assert.Equal(t, []string{"code=s:ready"}, ctx.State)

	other := NewContext(goal, current.Apply(MustState(map[string]any{"weather": "rain"})), actions)
	assert.Equal(t, ctx.Key(), other.Key(), "irrelevant properties do not change the signature")
	assert.True(t, ctx.Equal(other))
	assert.Equal(t, ctx.GoalKey(), other.GoalKey())
}

func TestExecutionOutcome(t *testing.T) {
	o := ExecutionOutcome{ActualCost: 5, EstimatedCost: 4}
	assert.InDelta(t, 1.25, o.CostRatio(), 1e-9)
	assert.NoError(t, o.Validate())

	o.ActualCost = -1
	assert.True(t, errors.Is(o.Validate(), ErrInvalidOutcome))

	assert.Equal(t, 1.0, ExecutionOutcome{}.CostRatio())
}
