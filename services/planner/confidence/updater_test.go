// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package confidence

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvidenceScore(t *testing.T) {
	tests := []struct {
		success, achieved bool
		want              float64
	}{
		{true, true, 1.0},
		{true, false, 0.5},
		{false, true, 0.0},
		{false, false, 0.0},
	}
	for _, tt := range tests {
		if got := EvidenceScore(tt.success, tt.achieved); got != tt.want {
			t.Errorf("EvidenceScore(%v, %v) = %v, want %v", tt.success, tt.achieved, got, tt.want)
		}
	}
}

func TestHistory_SuccessRatio(t *testing.T) {
	assert.Equal(t, 0.5, History{}.SuccessRatio(), "laplace smoothing for unused patterns")
	assert.Equal(t, 0.75, History{Usage: 4, Success: 3}.SuccessRatio())
	assert.Equal(t, 1.0, History{Usage: 2, Success: 5}.SuccessRatio(), "clamped")
}

func TestLikelihood(t *testing.T) {
	h := History{Usage: 4, Success: 3}
	assert.InDelta(t, 0.75, Likelihood(1, h), 1e-9)
	assert.InDelta(t, 0.25, Likelihood(0, h), 1e-9)
	assert.InDelta(t, 0.5, Likelihood(0.5, h), 1e-9)
}

func TestPosterior(t *testing.T) {
	assert.InDelta(t, 0.5, Posterior(0.5, 0.5), 1e-9)
	assert.InDelta(t, 0.9, Posterior(0.5, 0.9), 1e-9)
	assert.Equal(t, 0.0, Posterior(0.8, 0))
	// degenerate denominator keeps the prior
	assert.Equal(t, 1.0, Posterior(1, 0))
}

func TestUpdate_SuccessRaisesFailureLowers(t *testing.T) {
	cfg := DefaultConfig()
	h := History{Usage: 5, Success: 4}

	up := Update(0.6, h, EvidenceScore(true, true), cfg)
	assert.Greater(t, up.Confidence, 0.6)

	down := Update(0.6, h, EvidenceScore(false, false), cfg)
	assert.Less(t, down.Confidence, 0.6)

	neutral := Update(0.6, h, EvidenceScore(true, false), cfg)
	assert.InDelta(t, 0.6, neutral.Confidence, 1e-9)
}

func TestUpdate_FailureNeverRaises(t *testing.T) {
	// a mostly failing history makes failure look likely for a reliable
	// pattern; the direction bound keeps confidence from rising
	res := Update(0.5, History{Usage: 10, Success: 1}, 0, DefaultConfig())
	assert.Equal(t, 0.5, res.Confidence)
	assert.True(t, res.Bounded)
}

func TestUpdate_DeltaBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LearningRate = 1.0

	res := Update(0.9, History{Usage: 1, Success: 1}, 0, cfg)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.InDelta(t, -0.1, res.Delta, 1e-9)
	assert.True(t, res.Bounded)
}

func TestUpdate_BoundsHoldForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		cfg := DefaultConfig()
		cfg.LearningRate = 0.05 + rng.Float64()*0.95
		conf := rng.Float64()
		h := History{}
		for step := 0; step < 100; step++ {
			success := rng.Intn(3) > 0
			achieved := success && rng.Intn(4) > 0
			res := Update(conf, h, EvidenceScore(success, achieved), cfg)

			require.GreaterOrEqual(t, res.Confidence, 0.0)
			require.LessOrEqual(t, res.Confidence, 1.0)
			require.LessOrEqual(t, math.Abs(res.Confidence-conf), cfg.MaxDelta+1e-12)

			conf = res.Confidence
			h.Usage++
			if success {
				h.Success++
			}
		}
	}
}

func TestUpdate_Replayable(t *testing.T) {
	cfg := DefaultConfig()
	h := History{Usage: 7, Success: 5}
	a := Update(0.73, h, 1, cfg)
	b := Update(0.73, h, 1, cfg)
	assert.Equal(t, a, b)
}

func TestDecay(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	tests := []struct {
		name     string
		lastUsed time.Time
		want     float64
	}{
		{"never used", time.Time{}, 0.8},
		{"fresh", now.Add(-29 * day), 0.8},
		{"one period", now.Add(-30 * day), 0.8 * 0.95},
		{"two periods", now.Add(-75 * day), 0.8 * 0.95 * 0.95},
		{"future", now.Add(day), 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Decay(0.8, tt.lastUsed, now, cfg), 1e-9)
		})
	}
}

func TestEffective_DegradedPenalty(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	assert.InDelta(t, 0.8, Effective(0.8, now, now, false, cfg), 1e-9)
	assert.InDelta(t, 0.4, Effective(0.8, now, now, true, cfg), 1e-9)
}

func TestWindow(t *testing.T) {
	var w Window
	_, ok := w.Rate()
	assert.False(t, ok)

	for i := 0; i < 25; i++ {
		w = w.Push(i%2 == 0, 20)
	}
	assert.Len(t, w, 20)
	rate, ok := w.Rate()
	require.True(t, ok)
	assert.InDelta(t, 0.5, rate, 1e-9)

	orig := Window{true}
	_ = orig.Push(false, 20)
	assert.Equal(t, Window{true}, orig, "push does not modify receiver")
}

func TestDegraded(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		w    Window
		h    History
		want bool
	}{
		{"too few samples", Window{false, false}, History{Usage: 3, Success: 1}, false},
		{"three failures after a learned success", Window{false, false, false}, History{Usage: 4, Success: 1}, true},
		{"rolling tracks history", Window{true, false, true, true}, History{Usage: 40, Success: 30}, false},
		{"sharp recent drop", Window{false, false, true, false}, History{Usage: 40, Success: 30}, true},
		{"no usage", Window{false, false, false}, History{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Degraded(tt.w, tt.h, cfg))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.LearningRate = 0
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidConfig))

	bad = DefaultConfig()
	bad.DegradedMinSamples = 50
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidConfig))
}
