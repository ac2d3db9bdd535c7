// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package confidence revises a pattern's reliability estimate from execution
// outcomes.
//
// Every function here is pure: the new confidence depends only on the prior,
// the pattern's counters and the reported evidence, so an update can be
// replayed and tested in isolation.
package confidence

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig indicates a configuration that failed validation.
var ErrInvalidConfig = errors.New("invalid confidence config")

// Config holds the updater's tuning knobs.
type Config struct {
	// LearningRate is the fraction of the gap to the posterior applied per update.
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate" validate:"gt=0,lte=1"`

	// MaxDelta bounds how far a single update may move confidence.
	MaxDelta float64 `json:"max_delta" yaml:"max_delta" validate:"gt=0,lte=1"`

	// DecayFactor is applied once per elapsed DecayPeriod since last use.
	DecayFactor float64 `json:"decay_factor" yaml:"decay_factor" validate:"gt=0,lte=1"`

	// DecayPeriod is the length of one decay step.
	DecayPeriod time.Duration `json:"decay_period" yaml:"decay_period" validate:"gt=0"`

	// WindowSize is the number of recent applications kept for the
	// degraded rule.
	WindowSize int `json:"window_size" yaml:"window_size" validate:"gte=1"`

	// DegradedDrop is how far the rolling success rate may fall below the
	// historical rate before the pattern is marked degraded.
	DegradedDrop float64 `json:"degraded_drop" yaml:"degraded_drop" validate:"gt=0,lte=1"`

	// DegradedMinSamples is the fewest windowed applications that can
	// trigger the degraded rule.
	DegradedMinSamples int `json:"degraded_min_samples" yaml:"degraded_min_samples" validate:"gte=1"`

	// DegradedPenalty multiplies the confidence of a degraded pattern for ranking.
	DegradedPenalty float64 `json:"degraded_penalty" yaml:"degraded_penalty" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the standard updater configuration.
func DefaultConfig() Config {
	return Config{
		LearningRate:       0.1,
		MaxDelta:           0.10,
		DecayFactor:        0.95,
		DecayPeriod:        30 * 24 * time.Hour,
		WindowSize:         20,
		DegradedDrop:       0.15,
		DegradedMinSamples: 3,
		DegradedPenalty:    0.5,
	}
}

// Validate checks that every knob is in range.
func (c Config) Validate() error {
	switch {
	case c.LearningRate <= 0 || c.LearningRate > 1:
		return fmt.Errorf("%w: learning_rate must be in (0, 1]", ErrInvalidConfig)
	case c.MaxDelta <= 0 || c.MaxDelta > 1:
		return fmt.Errorf("%w: max_delta must be in (0, 1]", ErrInvalidConfig)
	case c.DecayFactor <= 0 || c.DecayFactor > 1:
		return fmt.Errorf("%w: decay_factor must be in (0, 1]", ErrInvalidConfig)
	case c.DecayPeriod <= 0:
		return fmt.Errorf("%w: decay_period must be positive", ErrInvalidConfig)
	case c.WindowSize < 1:
		return fmt.Errorf("%w: window_size must be at least 1", ErrInvalidConfig)
	case c.DegradedDrop <= 0 || c.DegradedDrop > 1:
		return fmt.Errorf("%w: degraded_drop must be in (0, 1]", ErrInvalidConfig)
	case c.DegradedMinSamples < 1 || c.DegradedMinSamples > c.WindowSize:
		return fmt.Errorf("%w: degraded_min_samples must be in [1, window_size]", ErrInvalidConfig)
	case c.DegradedPenalty < 0 || c.DegradedPenalty > 1:
		return fmt.Errorf("%w: degraded_penalty must be in [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// History is a pattern's outcome counters before the update.
type History struct {
	Usage   int
	Success int
}

// SuccessRatio returns Success/Usage, or the Laplace-smoothed
// (Success+1)/(Usage+2) when the pattern has never been used.
func (h History) SuccessRatio() float64 {
	if h.Usage <= 0 {
		return float64(h.Success+1) / float64(h.Usage+2)
	}
	r := float64(h.Success) / float64(h.Usage)
	return clamp(r, 0, 1)
}

// EvidenceScore maps an outcome to 1.0 (goal achieved), 0.5 (succeeded
// without achieving the goal) or 0.0 (failed).
func EvidenceScore(success, achievedGoal bool) float64 {
	switch {
	case success && achievedGoal:
		return 1.0
	case success:
		return 0.5
	default:
		return 0.0
	}
}

// Likelihood is the probability of the observed evidence if the pattern is
// reliable, taking the pattern's success ratio as its success probability.
//
// For evidence 1 this is the success ratio, for evidence 0 its complement;
// partial evidence interpolates and 0.5 is neutral.
func Likelihood(evidence float64, h History) float64 {
	r := h.SuccessRatio()
	e := clamp(evidence, 0, 1)
	return e*r + (1-e)*(1-r)
}

// Posterior applies Bayes' rule for a binary reliable/unreliable hypothesis.
// A zero denominator leaves the prior unchanged.
func Posterior(prior, likelihood float64) float64 {
	num := likelihood * prior
	den := num + (1-prior)*(1-likelihood)
	if den <= 0 || math.IsNaN(den) {
		return prior
	}
	return clamp(num/den, 0, 1)
}

// Result describes a single confidence update.
type Result struct {
	Prior      float64
	Evidence   float64
	Likelihood float64
	Posterior  float64
	Confidence float64
	Delta      float64

	// Bounded is true when a safety bound changed the raw update.
	Bounded bool
}

// Update computes the new confidence for one outcome.
//
// # Description
//
// Runs the Bayesian step, moves the prior LearningRate of the way towards the
// posterior, then applies the safety bounds: the result stays in [0, 1], the
// step never exceeds MaxDelta, and the step never points against the
// evidence (a success cannot lower confidence and a failure cannot raise it).
//
// # Inputs
//
//   - prior: Current confidence.
//   - h: Counters before this outcome is recorded.
//   - evidence: EvidenceScore of the outcome.
//   - cfg: Tuning knobs.
//
// # Outputs
//
//   - Result: The new confidence and the intermediate values.
func Update(prior float64, h History, evidence float64, cfg Config) Result {
	prior = clamp(prior, 0, 1)
	l := Likelihood(evidence, h)
	post := Posterior(prior, l)
	raw := prior + cfg.LearningRate*(post-prior)

	delta := raw - prior
	bounded := false
	if (evidence > 0.5 && delta < 0) || (evidence < 0.5 && delta > 0) {
		delta, bounded = 0, true
	}
	if delta > cfg.MaxDelta {
		delta, bounded = cfg.MaxDelta, true
	} else if delta < -cfg.MaxDelta {
		delta, bounded = -cfg.MaxDelta, true
	}

	next := clamp(prior+delta, 0, 1)
	return Result{
		Prior:      prior,
		Evidence:   evidence,
		Likelihood: l,
		Posterior:  post,
		Confidence: next,
		Delta:      next - prior,
		Bounded:    bounded,
	}
}

// Decay returns conf scaled by DecayFactor for every whole DecayPeriod
// elapsed between lastUsed and now. It is applied lazily on read.
func Decay(conf float64, lastUsed, now time.Time, cfg Config) float64 {
	if lastUsed.IsZero() || !now.After(lastUsed) || cfg.DecayPeriod <= 0 {
		return clamp(conf, 0, 1)
	}
	periods := math.Floor(float64(now.Sub(lastUsed)) / float64(cfg.DecayPeriod))
	return clamp(conf*math.Pow(cfg.DecayFactor, periods), 0, 1)
}

// Effective is the confidence used for ranking: decayed, and penalised when
// the pattern is degraded.
func Effective(conf float64, lastUsed, now time.Time, degraded bool, cfg Config) float64 {
	c := Decay(conf, lastUsed, now, cfg)
	if degraded {
		c *= cfg.DegradedPenalty
	}
	return c
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
