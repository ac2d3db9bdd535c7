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
	"fmt"
	"math"
	"time"

	"github.com/AleutianAI/goalplanner/services/planner/confidence"
	"github.com/AleutianAI/goalplanner/services/planner/model"
)

// Pattern is a learned, confidence-scored action sequence for a context.
//
// # Description
//
// Invariants, enforced by Validate before every write and after every read:
// confidence in [0, 1], SuccessCount <= UsageCount, non-empty Actions.
// Version increases by one on every successful write and drives the
// store's optimistic concurrency.
type Pattern struct {
	ID      string        `json:"id"`
	Context model.Context `json:"context_signature"`
	Actions []string      `json:"action_sequence"`

	// SequenceCost is the plan cost recorded the last time the sequence
	// achieved its goal.
	SequenceCost float64 `json:"sequence_cost"`

	Confidence   float64 `json:"confidence"`
	UsageCount   int     `json:"usage_count"`
	SuccessCount int     `json:"success_count"`

	AverageCost  float64 `json:"average_cost"`
	CostVariance float64 `json:"cost_variance"`
	CostSamples  int     `json:"cost_samples"`

	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`

	// GeneralizationLevel counts the successful applications and merges
	// that involved a context different from the pattern's own.
	GeneralizationLevel int `json:"generalization_level"`

	Window   confidence.Window `json:"window,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`

	Version uint64 `json:"version"`
}

// NewPattern creates an unsaved pattern learned from one successful run.
//
// # Inputs
//
//   - ctx: Context signature of the request the run answered.
//   - actions: The action sequence. Copied.
//   - sequenceCost: Plan cost of the sequence.
//   - actualCost: Cost the executor reported.
//   - conf: Initial confidence.
//   - now: Creation time.
//
// # Outputs
//
//   - *Pattern: A pattern with one recorded, successful use.
func NewPattern(ctx model.Context, actions []string, sequenceCost, actualCost, conf float64, now time.Time) *Pattern {
	return &Pattern{
		Context:      ctx,
		Actions:      append([]string(nil), actions...),
		SequenceCost: sequenceCost,
		Confidence:   conf,
		UsageCount:   1,
		SuccessCount: 1,
		AverageCost:  actualCost,
		CostSamples:  1,
		CreatedAt:    now,
		LastUsed:     now,
	}
}

// Validate checks the pattern invariants.
func (p *Pattern) Validate() error {
	switch {
	case len(p.Actions) == 0:
		return ErrEmptySequence
	case math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1:
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidPattern, p.Confidence)
	case p.UsageCount < 0 || p.SuccessCount < 0:
		return fmt.Errorf("%w: negative counters", ErrInvalidPattern)
	case p.SuccessCount > p.UsageCount:
		return fmt.Errorf("%w: success_count %d exceeds usage_count %d", ErrInvalidPattern, p.SuccessCount, p.UsageCount)
	case p.AverageCost < 0 || p.CostVariance < 0 || math.IsNaN(p.AverageCost) || math.IsNaN(p.CostVariance):
		return fmt.Errorf("%w: invalid cost statistics", ErrInvalidPattern)
	}
	for i, id := range p.Actions {
		if id == "" {
			return fmt.Errorf("%w: empty action id at %d", ErrInvalidPattern, i)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *Pattern) Clone() *Pattern {
	c := *p
	c.Actions = append([]string(nil), p.Actions...)
	c.Window = append(confidence.Window(nil), p.Window...)
	c.Context = model.Context{
		Goal:  append([]string(nil), p.Context.Goal...),
		State: append([]string(nil), p.Context.State...),
	}
	return &c
}

// History returns the outcome counters.
func (p *Pattern) History() confidence.History {
	return confidence.History{Usage: p.UsageCount, Success: p.SuccessCount}
}

// SameSequence reports whether both patterns hold the same action sequence.
func (p *Pattern) SameSequence(o *Pattern) bool {
	if len(p.Actions) != len(o.Actions) {
		return false
	}
	for i := range p.Actions {
		if p.Actions[i] != o.Actions[i] {
			return false
		}
	}
	return true
}

// EffectiveConfidence is the ranking confidence at now: decayed since last
// use and penalised while degraded.
func (p *Pattern) EffectiveConfidence(now time.Time, cfg confidence.Config) float64 {
	return confidence.Effective(p.Confidence, p.LastUsed, now, p.Degraded, cfg)
}

// observeCost folds one cost observation into the running mean and
// population variance (Welford).
func (p *Pattern) observeCost(x float64) {
	p.CostSamples++
	n := float64(p.CostSamples)
	delta := x - p.AverageCost
	p.AverageCost += delta / n
	p.CostVariance = ((n-1)*p.CostVariance + delta*(x-p.AverageCost)) / n
	if p.CostVariance < 0 {
		p.CostVariance = 0
	}
}

// ApplyOutcome records one execution outcome of a plan built from p.
//
// # Description
//
// The prior is the stored confidence. Decay stays a read-time view and is
// never written back, so one outcome moves the stored value by at most
// MaxDelta and always in the direction of the evidence. Counters, cost
// statistics, the rolling window, the degraded flag and last use are
// updated together, so the caller must run this inside Store.Update.
//
// # Inputs
//
//   - o: The reported outcome.
//   - applied: Context of the request the plan answered.
//   - planCost: Total cost of the executed plan.
//   - cfg: Confidence tuning.
//   - now: Time of the report.
//
// # Outputs
//
//   - confidence.Result: The confidence update that was applied.
func (p *Pattern) ApplyOutcome(o model.ExecutionOutcome, applied model.Context, planCost float64, cfg confidence.Config, now time.Time) confidence.Result {
	res := confidence.Update(p.Confidence, p.History(), confidence.EvidenceScore(o.Success, o.AchievedGoal), cfg)

	p.Confidence = res.Confidence
	p.UsageCount++
	if o.Success {
		p.SuccessCount++
	}
	p.observeCost(o.ActualCost)
	if o.Success && o.AchievedGoal {
		p.SequenceCost = planCost
		if !applied.Equal(p.Context) {
			p.GeneralizationLevel++
		}
	}
	p.Window = p.Window.Push(o.Success, cfg.WindowSize)
	p.Degraded = confidence.Degraded(p.Window, p.History(), cfg)
	p.LastUsed = now
	return res
}

// Merge folds o into p.
//
// # Description
//
// Usage and success counts are summed, cost statistics are combined as a
// sample-weighted mean and pooled variance, the higher confidence is kept,
// and the time span widens to cover both. The rolling windows are
// concatenated and trimmed. Merging a different context raises the
// generalization level.
func (p *Pattern) Merge(o *Pattern, cfg confidence.Config) {
	na, nb := float64(p.CostSamples), float64(o.CostSamples)
	switch {
	case na+nb == 0:
		p.AverageCost = (p.AverageCost + o.AverageCost) / 2
	default:
		mean := (na*p.AverageCost + nb*o.AverageCost) / (na + nb)
		da, db := p.AverageCost-mean, o.AverageCost-mean
		p.CostVariance = (na*(p.CostVariance+da*da) + nb*(o.CostVariance+db*db)) / (na + nb)
		p.AverageCost = mean
	}
	p.CostSamples += o.CostSamples

	p.UsageCount += o.UsageCount
	p.SuccessCount += o.SuccessCount
	if o.Confidence > p.Confidence {
		p.Confidence = o.Confidence
	}
	if p.SequenceCost == 0 {
		p.SequenceCost = o.SequenceCost
	}
	if !o.CreatedAt.IsZero() && (p.CreatedAt.IsZero() || o.CreatedAt.Before(p.CreatedAt)) {
		p.CreatedAt = o.CreatedAt
	}
	if o.LastUsed.After(p.LastUsed) {
		p.LastUsed = o.LastUsed
	}

	level := p.GeneralizationLevel
	if o.GeneralizationLevel > level {
		level = o.GeneralizationLevel
	}
	if !p.Context.Equal(o.Context) {
		level++
	}
	p.GeneralizationLevel = level

	window := append(append(confidence.Window(nil), p.Window...), o.Window...)
	if len(window) > cfg.WindowSize && cfg.WindowSize > 0 {
		window = window[len(window)-cfg.WindowSize:]
	}
	p.Window = window
	p.Degraded = confidence.Degraded(p.Window, p.History(), cfg)
}
