// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/goalplanner/services/planner/confidence"
	"github.com/AleutianAI/goalplanner/services/planner/model"
)

func TestNewPattern(t *testing.T) {
	actions := []string{"build", "deploy"}
	p := NewPattern(deployContext(), actions, 4, 5, 0.8, testEpoch)
	actions[0] = "mutated"

	assert.Equal(t, []string{"build", "deploy"}, p.Actions)
	assert.Equal(t, 1, p.UsageCount)
	assert.Equal(t, 1, p.SuccessCount)
	assert.Equal(t, 5.0, p.AverageCost)
	assert.Equal(t, 4.0, p.SequenceCost)
	assert.Equal(t, testEpoch, p.LastUsed)
	assert.NoError(t, p.Validate())
}

func TestPattern_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Pattern)
		want   error
	}{
		{"empty sequence", func(p *Pattern) { p.Actions = nil }, ErrEmptySequence},
		{"confidence high", func(p *Pattern) { p.Confidence = 1.01 }, ErrInvalidPattern},
		{"confidence negative", func(p *Pattern) { p.Confidence = -0.1 }, ErrInvalidPattern},
		{"success exceeds usage", func(p *Pattern) { p.SuccessCount = 2 }, ErrInvalidPattern},
		{"negative cost", func(p *Pattern) { p.AverageCost = -1 }, ErrInvalidPattern},
		{"blank action", func(p *Pattern) { p.Actions = []string{"build", ""} }, ErrInvalidPattern},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPattern(deployContext(), []string{"build"}, 1, 1, 0.5, testEpoch)
			tt.mutate(p)
			assert.ErrorIs(t, p.Validate(), tt.want)
		})
	}
}

func TestPattern_CloneIsDeep(t *testing.T) {
	p := NewPattern(deployContext(), []string{"build", "deploy"}, 4, 4, 0.8, testEpoch)
	p.Window = confidence.Window{true}
	c := p.Clone()
	c.Actions[0] = "x"
	c.Window[0] = false
	c.Context.Goal[0] = "changed"

	assert.Equal(t, "build", p.Actions[0])
	assert.True(t, p.Window[0])
	assert.NotEqual(t, "changed", p.Context.Goal[0])
}

func TestApplyOutcome_ThreeFailuresDegrade(t *testing.T) {
	cfg := confidence.DefaultConfig()
	p := NewPattern(deployContext(), []string{"build", "deploy"}, 4, 4, 0.9, testEpoch)
	fail := model.ExecutionOutcome{Success: false, ActualCost: 4, EstimatedCost: 4}

	for i := 0; i < 3; i++ {
		res := p.ApplyOutcome(fail, p.Context, 4, cfg, testEpoch.Add(time.Duration(i+1)*time.Hour))
		assert.LessOrEqual(t, res.Confidence, res.Prior, "failure never raises confidence")
	}

	assert.Equal(t, 4, p.UsageCount)
	assert.Equal(t, 1, p.SuccessCount)
	assert.InDelta(t, 0.81, p.Confidence, 1e-9)
	assert.True(t, p.Degraded)
	eff := p.EffectiveConfidence(testEpoch.Add(4*time.Hour), cfg)
	assert.InDelta(t, 0.405, eff, 1e-9)
	assert.Less(t, eff, 0.7)
}

func TestApplyOutcome_SuccessTracksCostAndGeneralization(t *testing.T) {
	cfg := confidence.DefaultConfig()
	p := NewPattern(deployContext(), []string{"build", "deploy"}, 4, 4, 0.6, testEpoch)
	other := testContext(map[string]any{"deployed": true}, map[string]any{"code": "ready", "tests": "green"})

	res := p.ApplyOutcome(model.ExecutionOutcome{Success: true, AchievedGoal: true, ActualCost: 6, EstimatedCost: 4},
		other, 5, cfg, testEpoch.Add(time.Hour))

	assert.GreaterOrEqual(t, res.Confidence, res.Prior)
	assert.LessOrEqual(t, res.Confidence-res.Prior, 0.1+1e-12)
	assert.Equal(t, 2, p.UsageCount)
	assert.Equal(t, 2, p.SuccessCount)
	assert.Equal(t, 2, p.CostSamples)
	assert.InDelta(t, 5.0, p.AverageCost, 1e-9)
	assert.InDelta(t, 1.0, p.CostVariance, 1e-9)
	assert.Equal(t, 5.0, p.SequenceCost)
	assert.Equal(t, 1, p.GeneralizationLevel)
	assert.Equal(t, testEpoch.Add(time.Hour), p.LastUsed)
	assert.False(t, p.Degraded)
}

func TestApplyOutcome_IdlePatternStoredConfidenceBounded(t *testing.T) {
	cfg := confidence.DefaultConfig()
	yearLater := testEpoch.Add(365 * 24 * time.Hour)

	tests := []struct {
		name    string
		outcome model.ExecutionOutcome
		rises   bool
	}{
		{"success", model.ExecutionOutcome{Success: true, AchievedGoal: true, ActualCost: 3, EstimatedCost: 3}, true},
		{"failure", model.ExecutionOutcome{Success: false, AchievedGoal: false, ActualCost: 3, EstimatedCost: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPattern(deployContext(), []string{"deploy"}, 3, 3, 0.9, testEpoch)
			before := p.Confidence

			res := p.ApplyOutcome(tt.outcome, p.Context, 3, cfg, yearLater)

			assert.Equal(t, before, res.Prior, "prior is the stored confidence")
			assert.LessOrEqual(t, math.Abs(p.Confidence-before), cfg.MaxDelta+1e-12)
			if tt.rises {
				assert.GreaterOrEqual(t, p.Confidence, before)
			} else {
				assert.LessOrEqual(t, p.Confidence, before)
			}
			assert.Equal(t, yearLater, p.LastUsed)
		})
	}
}

func TestApplyOutcome_DecayOnlyOnRead(t *testing.T) {
	cfg := confidence.DefaultConfig()
	p := NewPattern(deployContext(), []string{"deploy"}, 3, 3, 0.8, testEpoch)
	later := testEpoch.Add(31 * 24 * time.Hour)

	assert.InDelta(t, 0.8*0.95, confidence.Effective(p.Confidence, p.LastUsed, later, p.Degraded, cfg), 1e-9)
	assert.Equal(t, 0.8, p.Confidence)
}

func TestPattern_MergePooledStatistics(t *testing.T) {
	cfg := confidence.DefaultConfig()
	a := NewPattern(deployContext(), []string{"x"}, 2, 2, 0.5, testEpoch)
	a.observeCost(4) // samples {2,4}: mean 3, var 1
	a.UsageCount, a.SuccessCount = 2, 2

	b := NewPattern(testContext(map[string]any{"deployed": true}, map[string]any{"code": "stale"}),
		[]string{"x"}, 6, 6, 0.7, testEpoch.Add(-time.Hour))
	b.LastUsed = testEpoch.Add(time.Hour)

	a.Merge(b, cfg)
	require.NoError(t, a.Validate())

	// samples {2,4,6}: mean 4, population variance 8/3
	assert.Equal(t, 3, a.CostSamples)
	assert.InDelta(t, 4.0, a.AverageCost, 1e-9)
	assert.InDelta(t, 8.0/3.0, a.CostVariance, 1e-9)
	assert.Equal(t, 3, a.UsageCount)
	assert.Equal(t, 3, a.SuccessCount)
	assert.Equal(t, 0.7, a.Confidence)
	assert.Equal(t, testEpoch.Add(-time.Hour), a.CreatedAt)
	assert.Equal(t, testEpoch.Add(time.Hour), a.LastUsed)
	assert.Equal(t, 1, a.GeneralizationLevel)
}

func TestPattern_SameSequence(t *testing.T) {
	a := NewPattern(deployContext(), []string{"a", "b"}, 1, 1, 0.5, testEpoch)
	assert.True(t, a.SameSequence(NewPattern(deployContext(), []string{"a", "b"}, 1, 1, 0.5, testEpoch)))
	assert.False(t, a.SameSequence(NewPattern(deployContext(), []string{"b", "a"}, 1, 1, 0.5, testEpoch)))
	assert.False(t, a.SameSequence(NewPattern(deployContext(), []string{"a"}, 1, 1, 0.5, testEpoch)))
}
