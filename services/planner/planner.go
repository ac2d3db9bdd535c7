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
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/goalplanner/services/planner/model"
	"github.com/AleutianAI/goalplanner/services/planner/patterns"
	"github.com/AleutianAI/goalplanner/services/planner/search"
	"github.com/AleutianAI/goalplanner/services/planner/telemetry"
)

// PatternStore is the part of the pattern store the planner uses.
type PatternStore interface {
	FindCandidates(ctx context.Context, query model.Context, k int) ([]patterns.Candidate, error)
	Store(ctx context.Context, p *patterns.Pattern) (string, bool, error)
	Update(ctx context.Context, id string, mutate patterns.Mutator) (*patterns.Pattern, error)
}

var _ PatternStore = (*patterns.Store)(nil)

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock sets the time source used for plan timestamps and learning.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMetrics sets the OTel instruments. Nil disables metric recording.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// Request is one planning problem.
type Request struct {
	Current model.WorldState `json:"current" yaml:"current"`
	Goal    model.GoalState  `json:"goal" yaml:"goal"`
	Actions []model.Action   `json:"actions" yaml:"actions"`

	// MaxSearchDepth and Timeout override the configured bounds when
	// positive.
	MaxSearchDepth int           `json:"max_search_depth,omitempty" yaml:"max_search_depth,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Planner produces plans and learns from their outcomes.
//
// # Description
//
// Plan tries the stored patterns whose context resembles the request and
// whose effective confidence reaches PatternMatchThreshold, best first.
// The first one that adapts to the request becomes the plan. Otherwise the
// plan comes from A* search, with the candidates' learned costs as
// heuristic hints. If the pattern store cannot be reached the request is
// planned by search alone.
//
// TrackExecution feeds an outcome back: a pattern plan updates its pattern,
// a successful search plan is learned as a new pattern.
//
// # Thread Safety
//
// Safe for concurrent use. Requests share only the store, the plan ledger
// and atomic counters.
type Planner struct {
	store   PatternStore
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	ledger  *ledger
	stats   counters
}

// New creates a planner over store.
//
// # Inputs
//
//   - store: Pattern store. Must not be nil.
//   - cfg: Configuration. Start from DefaultConfig or LoadConfig.
//   - opts: Logger, clock and metrics.
//
// # Outputs
//
//   - *Planner: The planner. Call Close when done.
//   - error: ErrInvalidConfig if cfg is invalid.
func New(store PatternStore, cfg Config, opts ...Option) (*Planner, error) {
	if store == nil {
		return nil, errors.New("planner requires a pattern store")
	}
	cfg.Patterns.Confidence = cfg.Confidence
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	led, err := newLedger(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	p := &Planner{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		ledger: led,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "planner"))
	return p, nil
}

// Config returns the planner's configuration.
func (p *Planner) Config() Config { return p.cfg }

// Stats returns a counter snapshot.
func (p *Planner) Stats() Stats { return p.stats.snapshot() }

// Issued returns an issued plan still awaiting its outcome.
func (p *Planner) Issued(id string) (*model.Plan, bool) {
	return p.ledger.get(id)
}

// Close releases the plan ledger. The store is not closed.
func (p *Planner) Close() {
	p.ledger.close()
}

// Plan produces a plan for req.
//
// # Description
//
// Runs pattern lookup, pattern adaptation and, if no candidate adapts,
// search. The returned plan is recorded in the ledger so that
// TrackExecutionByID can resolve its outcome later.
//
// # Inputs
//
//   - ctx: Cancellation. A passed deadline counts as a timeout.
//   - req: The request. Zero MaxSearchDepth or Timeout use the configured
//     values.
//
// # Outputs
//
//   - *model.Plan: The plan, empty when the current state already
//     satisfies the goal.
//   - error: ErrInvalidRequest or model.ErrInvalidAction for bad input,
//     ErrNoPlanFound, ErrPlanningTimeout or ErrCancelled. No partial plan
//     is ever returned.
//
// # Thread Safety
//
// Safe for concurrent use.
func (p *Planner) Plan(ctx context.Context, req Request) (plan *model.Plan, err error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: nil context", ErrInvalidRequest)
	}
	began := time.Now()
	ctx, span := p.tracer.Start(ctx, "planner.Plan",
		trace.WithAttributes(
			attribute.Int("planner.goal_properties", len(req.Goal)),
			attribute.Int("planner.actions", len(req.Actions)),
		))
	mode := "none"
	expanded := 0
	defer func() {
		cost := 0.0
		if err != nil {
			p.countFailure(err)
			telemetry.RecordError(span, err)
		} else {
			cost = plan.TotalCost
			span.SetAttributes(
				attribute.String("plan.id", plan.ID),
				attribute.String("plan.mode", string(plan.Mode)),
				attribute.Int("plan.actions", len(plan.Actions)),
				attribute.Float64("plan.cost", plan.TotalCost),
			)
		}
		p.stats.nodesExpanded.Add(int64(expanded))
		p.metrics.RecordPlan(ctx, mode, resultLabel(err), time.Since(began), cost, expanded)
		span.End()
	}()

	if len(req.Goal) == 0 {
		return nil, fmt.Errorf("%w: empty goal", ErrInvalidRequest)
	}
	set, err := model.NewActionSet(req.Actions)
	if err != nil {
		return nil, err
	}

	depth := p.cfg.Search.MaxSearchDepth
	if req.MaxSearchDepth > 0 {
		depth = req.MaxSearchDepth
	}
	timeout := p.cfg.Search.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	current := req.Current
	if current == nil {
		current = model.WorldState{}
	}
	sig := model.NewContext(req.Goal, current, req.Actions)
	budget := search.BudgetConfig{
		MaxNodes:  p.cfg.Search.MaxNodes,
		MaxDepth:  depth,
		TimeLimit: timeout,
	}

	if current.Satisfies(req.Goal) {
		mode = string(model.ModeSearch)
		plan = p.newPlan(model.ModeSearch, nil, req, sig, "", 0)
		p.stats.searchPlans.Add(1)
		p.issue(ctx, span, plan)
		return plan, nil
	}

	p.transition(ctx, span, stagePatternLookup)
	candidates, degraded, err := p.lookup(ctx, sig)
	if err != nil {
		return nil, err
	}
	if degraded {
		mode = "degraded"
		p.stats.degradedMode.Add(1)
		span.SetAttributes(attribute.Bool("planner.degraded", true))
	}

	tried := 0
	for _, c := range candidates {
		if tried >= p.cfg.Search.CandidateLimit {
			break
		}
		if c.EffectiveConfidence < p.cfg.Search.PatternMatchThreshold {
			continue
		}
		tried++
		adapted, aerr := p.adapt(ctx, c.Pattern, current, req.Goal, set, budget)
		if aerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, contextError(cerr)
			}
			p.transition(ctx, span, stagePatternAdaptFail,
				attribute.String("pattern.id", c.Pattern.ID),
				attribute.String("reason", aerr.Error()))
			continue
		}
		p.transition(ctx, span, stagePatternAdaptOK,
			attribute.String("pattern.id", c.Pattern.ID),
			attribute.Float64("pattern.similarity", c.Similarity),
			attribute.Float64("pattern.confidence", c.EffectiveConfidence),
			attribute.Int("pattern.bridge", adapted.bridge))
		mode = string(model.ModePattern)
		plan = p.newPlan(model.ModePattern, adapted.actions, req, sig, c.Pattern.ID, adapted.bridge)
		p.stats.patternPlans.Add(1)
		p.issue(ctx, span, plan)
		return plan, nil
	}
	if tried > 0 {
		p.stats.adaptationFailures.Add(1)
	} else {
		p.transition(ctx, span, stageNoCandidate, attribute.Int("candidates", len(candidates)))
	}

	if !degraded {
		mode = string(model.ModeSearch)
	}
	p.transition(ctx, span, stageSearch, attribute.Int("hints", min(len(candidates), p.cfg.Search.HintLimit)))
	res, err := search.Search(ctx, search.Request{
		Start:   current,
		Goal:    req.Goal,
		Actions: set,
		Hints:   p.hints(candidates),
		Budget:  budget,
	})
	if res != nil {
		expanded = res.Usage.Expanded
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrPlanningTimeout):
			p.transition(ctx, span, stageTimeout, attribute.String("error", err.Error()))
		case errors.Is(err, ErrNoPlanFound):
			p.transition(ctx, span, stageExhausted)
		}
		p.transition(ctx, span, stageFailed)
		return nil, err
	}
	p.transition(ctx, span, stageFound,
		attribute.Int("search.expanded", res.Usage.Expanded),
		attribute.Int64("search.elapsed_us", res.Usage.Elapsed.Microseconds()))

	plan = p.newPlan(model.ModeSearch, res.Actions, req, sig, "", 0)
	p.stats.searchPlans.Add(1)
	p.issue(ctx, span, plan)
	return plan, nil
}

// lookup fetches candidates for sig. An unreachable store is not an error:
// it reports degraded and the request is planned by search alone.
func (p *Planner) lookup(ctx context.Context, sig model.Context) ([]patterns.Candidate, bool, error) {
	k := max(p.cfg.Search.CandidateLimit, p.cfg.Search.HintLimit)
	cands, err := p.store.FindCandidates(ctx, sig, k)
	if err == nil {
		return cands, false, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, false, contextError(cerr)
	}
	level := slog.LevelWarn
	if !errors.Is(err, patterns.ErrStoreUnavailable) {
		level = slog.LevelError
	}
	telemetry.LoggerWithTrace(ctx, p.logger).Log(ctx, level, "pattern lookup failed, planning by search only",
		slog.String("error", err.Error()))
	return nil, true, nil
}

// hints turns candidates into search hints, best first.
func (p *Planner) hints(candidates []patterns.Candidate) []search.PatternHint {
	n := min(len(candidates), p.cfg.Search.HintLimit)
	if n == 0 {
		return nil
	}
	out := make([]search.PatternHint, 0, n)
	for _, c := range candidates[:n] {
		cost := c.Pattern.AverageCost
		if c.Pattern.CostSamples == 0 {
			cost = c.Pattern.SequenceCost
		}
		out = append(out, search.PatternHint{
			PatternID: c.Pattern.ID,
			Goal:      c.Pattern.Context.Goal,
			Cost:      cost,
			Actions:   c.Pattern.Actions,
		})
	}
	return out
}

func (p *Planner) newPlan(mode model.PlanMode, actions []model.Action, req Request, sig model.Context, source string, bridge int) *model.Plan {
	ids := make([]string, len(actions))
	total := 0.0
	var dur time.Duration
	for i, a := range actions {
		ids[i] = a.ID
		total += a.TotalCost()
		if a.Duration > 0 {
			dur += a.Duration
		} else {
			dur += p.cfg.Search.DefaultActionDuration
		}
	}
	return &model.Plan{
		ID:                uuid.NewString(),
		Actions:           ids,
		TotalCost:         roundCost(total),
		EstimatedDuration: dur,
		CreatedAt:         p.now(),
		SourcePatternID:   source,
		Mode:              mode,
		BridgeLength:      bridge,
		Goal:              req.Goal.Clone(),
		Start:             req.Current.Clone(),
		Context:           sig,
	}
}

// issue records plan in the ledger and logs it.
func (p *Planner) issue(ctx context.Context, span trace.Span, plan *model.Plan) {
	if !p.ledger.put(plan) {
		p.logger.WarnContext(ctx, "plan ledger dropped plan", slog.String("plan_id", plan.ID))
	}
	p.transition(ctx, span, stageDone, attribute.String("plan.id", plan.ID))
	telemetry.LoggerWithTrace(ctx, p.logger).InfoContext(ctx, "plan issued",
		slog.String("plan_id", plan.ID),
		slog.String("mode", string(plan.Mode)),
		slog.Int("actions", len(plan.Actions)),
		slog.Float64("cost", plan.TotalCost),
		slog.String("pattern_id", plan.SourcePatternID))
}

// roundCost trims float noise from summed costs.
func roundCost(c float64) float64 {
	return math.Round(c*1e9) / 1e9
}
