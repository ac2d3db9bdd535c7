// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package consolidation runs pattern store consolidation in the background.
//
// A Runner splits the stored pattern IDs into batches and hands each batch
// to the store's ConsolidateIDs, pacing batches with a token bucket and
// bounding how many run at once. Runs fire on an interval, on demand via
// Trigger, or synchronously via RunOnce. The store locks only the patterns a
// merge or prune touches, so planning continues while a run is in flight.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/goalplanner/services/planner/patterns"
	"github.com/AleutianAI/goalplanner/services/planner/telemetry"
)

var (
	// ErrRunInProgress is returned by RunOnce while another run is active.
	ErrRunInProgress = errors.New("consolidation run already in progress")

	// ErrInvalidConfig indicates a configuration that failed validation.
	ErrInvalidConfig = errors.New("invalid consolidation config")
)

// Source is the part of the pattern store a Runner drives.
type Source interface {
	IDs(ctx context.Context) ([]string, error)
	ConsolidateIDs(ctx context.Context, ids []string) (patterns.Report, error)
}

var _ Source = (*patterns.Store)(nil)

// Config configures a Runner.
type Config struct {
	// Enabled starts the interval loop. RunOnce and Trigger work regardless.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is the time between scheduled runs.
	Interval time.Duration `json:"interval" yaml:"interval" validate:"gt=0"`

	// BatchSize is the number of pattern IDs per ConsolidateIDs call.
	BatchSize int `json:"batch_size" yaml:"batch_size" validate:"gte=1"`

	// BatchesPerSecond paces batch starts. Zero means unpaced.
	BatchesPerSecond float64 `json:"batches_per_second" yaml:"batches_per_second" validate:"gte=0"`

	// Concurrency bounds the batches in flight.
	Concurrency int `json:"concurrency" yaml:"concurrency" validate:"gte=1,lte=64"`

	// RunTimeout bounds one run.
	RunTimeout time.Duration `json:"run_timeout" yaml:"run_timeout" validate:"gt=0"`
}

// DefaultConfig returns hourly runs of 64-pattern batches, two at a time,
// at most four batches a second.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Interval:         time.Hour,
		BatchSize:        64,
		BatchesPerSecond: 4,
		Concurrency:      2,
		RunTimeout:       5 * time.Minute,
	}
}

var configValidate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records each run on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner consolidates a pattern store in batches.
//
// # Thread Safety
//
// Safe for concurrent use. At most one run is active at a time.
type Runner struct {
	src     Source
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	limiter *rate.Limiter

	running atomic.Bool
	trigger chan struct{}

	mu      sync.Mutex
	last    patterns.Report
	lastAt  time.Time
	lastErr error
	runs    int64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewRunner creates a runner. The interval loop does nothing until Start.
//
// # Inputs
//
//   - src: The store to consolidate. Must not be nil.
//   - cfg: Configuration.
//   - opts: Options.
//
// # Outputs
//
//   - *Runner: The runner.
//   - error: Non-nil if src is nil or cfg is invalid.
func NewRunner(src Source, cfg Config, opts ...Option) (*Runner, error) {
	if src == nil {
		return nil, errors.New("consolidation runner requires a source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.BatchesPerSecond > 0 {
		limit = rate.Limit(cfg.BatchesPerSecond)
	}
	r := &Runner{
		src:     src,
		cfg:     cfg,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(limit, 1),
		trigger: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "consolidation"))
	return r, nil
}

// RunOnce consolidates every stored pattern and returns the combined report.
//
// # Description
//
// The ID list is read once; patterns stored after that wait for the next
// run. A batch error cancels the remaining batches. The returned report
// covers every batch that finished.
//
// # Outputs
//
//   - patterns.Report: Work done.
//   - error: ErrRunInProgress, or the first batch or context error.
func (r *Runner) RunOnce(ctx context.Context) (patterns.Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return patterns.Report{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()
	ctx, span := otel.Tracer("goalplanner.consolidation").Start(ctx, "consolidation.RunOnce")
	defer span.End()

	start := time.Now()
	rep, err := r.run(ctx)
	rep.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("scanned", rep.Scanned),
		attribute.Int("merged", rep.Merged),
		attribute.Int("pruned", rep.Pruned))
	result := "ok"
	logger := telemetry.LoggerWithTrace(ctx, r.logger)
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "consolidation run failed",
			slog.String("error", err.Error()),
			slog.Int("scanned", rep.Scanned))
	} else {
		logger.InfoContext(ctx, "consolidation run finished",
			slog.Int("scanned", rep.Scanned),
			slog.Int("merged", rep.Merged),
			slog.Int("pruned", rep.Pruned),
			slog.Int("corrupt", rep.Corrupt),
			slog.Duration("duration", rep.Duration))
	}
	r.metrics.RecordConsolidation(ctx, result)

	r.mu.Lock()
	r.last, r.lastAt, r.lastErr = rep, time.Now(), err
	r.runs++
	r.mu.Unlock()
	return rep, err
}

func (r *Runner) run(ctx context.Context) (patterns.Report, error) {
	var total patterns.Report
	ids, err := r.src.IDs(ctx)
	if err != nil {
		return total, fmt.Errorf("list pattern ids: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	var waitErr error
	for i := 0; i < len(ids); i += r.cfg.BatchSize {
		batch := ids[i:min(i+r.cfg.BatchSize, len(ids))]
		if err := r.limiter.Wait(gctx); err != nil {
			waitErr = err
			break
		}
		g.Go(func() error {
			rep, err := r.src.ConsolidateIDs(gctx, batch)
			mu.Lock()
			total.Add(rep)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("consolidate batch at %s: %w", batch[0], err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	if waitErr != nil {
		return total, fmt.Errorf("pace consolidation batches: %w", waitErr)
	}
	return total, nil
}

// Trigger requests a run from the interval loop without waiting. Requests
// made while one is already pending are coalesced.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Start launches the loop. Runs fire every Interval when Enabled, and on
// Trigger either way.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		go r.loop(ctx)
	})
}

// Stop cancels any active run and waits for the loop to exit. Stop before
// Start is a no-op.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		started := true
		r.startOnce.Do(func() { started = false })
		if started {
			r.cancel()
			<-r.doneCh
		}
	})
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.doneCh)

	var tick <-chan time.Time
	if r.cfg.Enabled {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-tick:
		case <-r.trigger:
		}
		if _, err := r.RunOnce(ctx); errors.Is(err, ErrRunInProgress) {
			r.logger.Debug("consolidation skipped, run in progress")
		}
	}
}

// Status is a snapshot of the runner's history.
type Status struct {
	Runs      int64           `json:"runs"`
	Running   bool            `json:"running"`
	LastRun   time.Time       `json:"last_run"`
	LastError string          `json:"last_error,omitempty"`
	Last      patterns.Report `json:"last"`
}

// Status returns the latest run's outcome.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		Runs:    r.runs,
		Running: r.running.Load(),
		LastRun: r.lastAt,
		Last:    r.last,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}
