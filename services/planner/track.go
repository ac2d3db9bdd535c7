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
	"errors"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/goalplanner/services/planner/confidence"
	"github.com/AleutianAI/goalplanner/services/planner/model"
	"github.com/AleutianAI/goalplanner/services/planner/patterns"
	"github.com/AleutianAI/goalplanner/services/planner/telemetry"
)

// Learning names what an outcome did to the pattern store.
type Learning string

const (
	// LearningUpdated means the source pattern's confidence was updated.
	LearningUpdated Learning = "updated"
	// LearningLearned means a search plan was stored as a new pattern.
	LearningLearned Learning = "learned"
	// LearningMerged means a search plan was merged into an equivalent
	// stored pattern.
	LearningMerged Learning = "merged"
	// LearningIgnored means there was nothing to learn.
	LearningIgnored Learning = "ignored"
	// LearningFailed means the store write failed. See TrackResult.Warning.
	LearningFailed Learning = "failed"
)

// TrackResult reports what TrackExecution learned.
type TrackResult struct {
	PlanID    string         `json:"plan_id"`
	Mode      model.PlanMode `json:"mode"`
	Learned   Learning       `json:"learned"`
	PatternID string         `json:"pattern_id,omitempty"`

	// Confidence is the updated pattern's confidence, or the initial
	// confidence proposed for a learned one. Delta is the change an update
	// made. Both are zero when nothing was written.
	Confidence float64 `json:"confidence,omitempty"`
	Delta      float64 `json:"delta,omitempty"`
	Degraded   bool    `json:"degraded,omitempty"`

	// Warning is a store problem that was absorbed: the outcome was
	// accepted but may not have been recorded, or was recorded without a
	// version check (patterns.ErrConfidenceUpdateConflict).
	Warning error `json:"-"`
}

// TrackExecution learns from the outcome of executing plan.
//
// # Description
//
// A plan built from a pattern updates that pattern: confidence, usage and
// success counters, cost statistics, the rolling window and the degraded
// flag change together in one atomic store update. A search plan that
// succeeded and achieved its goal is stored as a new pattern, or merged
// into an equivalent one, with an initial confidence between
// BaselineConfidence and CeilingConfidence depending on how close the
// actual cost came to the estimate. Anything else is ignored. Patterns are
// never deleted here.
//
// Store failures do not fail the call; they are logged and returned in
// TrackResult.Warning.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - plan: The executed plan, as returned by Plan.
//   - outcome: The caller's report.
//
// # Outputs
//
//   - TrackResult: What was learned.
//   - error: ErrInvalidRequest for a nil plan, model.ErrInvalidOutcome for
//     an invalid outcome or one reported against a different plan.
//
// # Thread Safety
//
// Safe for concurrent use, including for outcomes of the same plan or
// pattern.
func (p *Planner) TrackExecution(ctx context.Context, plan *model.Plan, outcome model.ExecutionOutcome) (res TrackResult, err error) {
	if plan == nil {
		return res, fmt.Errorf("%w: nil plan", ErrInvalidRequest)
	}
	if err := outcome.Validate(); err != nil {
		return res, err
	}
	if outcome.PlanID != "" && outcome.PlanID != plan.ID {
		return res, fmt.Errorf("%w: outcome for plan %q reported against plan %q",
			model.ErrInvalidOutcome, outcome.PlanID, plan.ID)
	}

	ctx, span := p.tracer.Start(ctx, "planner.TrackExecution",
		trace.WithAttributes(
			attribute.String("plan.id", plan.ID),
			attribute.String("plan.mode", string(plan.Mode)),
			attribute.Bool("outcome.success", outcome.Success),
			attribute.Bool("outcome.achieved_goal", outcome.AchievedGoal),
		))
	defer span.End()

	res = TrackResult{PlanID: plan.ID, Mode: plan.Mode, Learned: LearningIgnored}
	switch {
	case plan.FromPattern():
		res = p.updatePattern(ctx, plan, outcome, res)
	case outcome.Success && outcome.AchievedGoal && len(plan.Actions) > 0:
		res = p.learnPattern(ctx, plan, outcome, res)
	}
	p.ledger.remove(plan.ID)

	switch res.Learned {
	case LearningUpdated:
		p.stats.updated.Add(1)
	case LearningLearned, LearningMerged:
		p.stats.learned.Add(1)
	case LearningIgnored:
		p.stats.ignored.Add(1)
	}
	logger := telemetry.LoggerWithTrace(ctx, p.logger)
	if res.Warning != nil {
		p.stats.trackWarnings.Add(1)
		telemetry.RecordError(span, res.Warning)
		logger.WarnContext(ctx, "outcome recorded with warning",
			slog.String("plan_id", plan.ID),
			slog.String("pattern_id", res.PatternID),
			slog.String("learned", string(res.Learned)),
			slog.String("warning", res.Warning.Error()))
	}
	span.SetAttributes(
		attribute.String("track.learned", string(res.Learned)),
		attribute.String("pattern.id", res.PatternID),
		attribute.Float64("pattern.confidence", res.Confidence),
	)
	p.metrics.RecordOutcome(ctx, string(plan.Mode), string(res.Learned), res.Delta)
	logger.InfoContext(ctx, "outcome tracked",
		slog.String("plan_id", plan.ID),
		slog.String("learned", string(res.Learned)),
		slog.String("pattern_id", res.PatternID),
		slog.Float64("confidence", res.Confidence),
		slog.Float64("delta", res.Delta))
	return res, nil
}

// TrackExecutionByID is TrackExecution for an outcome that carries only
// its plan ID. The plan is resolved from the issued-plan ledger.
//
// # Outputs
//
//   - TrackResult: What was learned.
//   - error: ErrUnknownPlan if the plan was not issued by this planner,
//     has expired, or has already been tracked.
func (p *Planner) TrackExecutionByID(ctx context.Context, outcome model.ExecutionOutcome) (TrackResult, error) {
	if outcome.PlanID == "" {
		return TrackResult{}, fmt.Errorf("%w: missing plan id", model.ErrInvalidOutcome)
	}
	plan, ok := p.ledger.get(outcome.PlanID)
	if !ok {
		return TrackResult{}, fmt.Errorf("%w: %s", ErrUnknownPlan, outcome.PlanID)
	}
	return p.TrackExecution(ctx, plan, outcome)
}

// updatePattern applies outcome to the plan's source pattern.
func (p *Planner) updatePattern(ctx context.Context, plan *model.Plan, outcome model.ExecutionOutcome, res TrackResult) TrackResult {
	res.PatternID = plan.SourcePatternID
	var applied confidence.Result
	updated, err := p.store.Update(ctx, plan.SourcePatternID, func(cur *patterns.Pattern) error {
		// a bridged plan's cost includes actions that are not the pattern's
		planCost := plan.TotalCost
		if plan.BridgeLength > 0 {
			planCost = cur.SequenceCost
		}
		applied = cur.ApplyOutcome(outcome, plan.Context, planCost, p.cfg.Confidence, p.now())
		return nil
	})
	switch {
	case err == nil, errors.Is(err, patterns.ErrConfidenceUpdateConflict):
		res.Learned = LearningUpdated
		res.Delta = applied.Delta
		res.Warning = err
		if updated != nil {
			res.Confidence = updated.Confidence
			res.Degraded = updated.Degraded
		}
	case errors.Is(err, patterns.ErrNotFound):
		res.Learned = LearningIgnored
		res.Warning = fmt.Errorf("source pattern %s: %w", plan.SourcePatternID, err)
	default:
		res.Learned = LearningFailed
		res.Warning = fmt.Errorf("update pattern %s: %w", plan.SourcePatternID, err)
	}
	return res
}

// learnPattern stores a successful search plan as a pattern.
func (p *Planner) learnPattern(ctx context.Context, plan *model.Plan, outcome model.ExecutionOutcome, res TrackResult) TrackResult {
	if outcome.EstimatedCost <= 0 {
		outcome.EstimatedCost = plan.TotalCost
	}
	conf := p.initialConfidence(outcome)

	sig := plan.Context
	if len(sig.Goal) == 0 {
		sig = model.NewContext(plan.Goal, plan.Start, nil)
	}
	pat := patterns.NewPattern(sig, plan.Actions, plan.TotalCost, outcome.ActualCost, conf, p.now())
	id, merged, err := p.store.Store(ctx, pat)
	switch {
	case err == nil, errors.Is(err, patterns.ErrConfidenceUpdateConflict):
		res.PatternID = id
		res.Learned = LearningLearned
		if merged {
			res.Learned = LearningMerged
		}
		res.Confidence = conf
		res.Warning = err
	default:
		res.Learned = LearningFailed
		res.Warning = fmt.Errorf("store pattern: %w", err)
	}
	return res
}

// initialConfidence interpolates between baseline and ceiling by how close
// the actual cost came to the estimate: closeness = max(0, 1 - |ratio - 1|).
func (p *Planner) initialConfidence(o model.ExecutionOutcome) float64 {
	closeness := math.Max(0, 1-math.Abs(o.CostRatio()-1))
	base, ceil := p.cfg.Learning.BaselineConfidence, p.cfg.Learning.CeilingConfidence
	return base + (ceil-base)*closeness
}
