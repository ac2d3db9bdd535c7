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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/goalplanner/services/planner/confidence"
	"github.com/AleutianAI/goalplanner/services/planner/model"
	"github.com/AleutianAI/goalplanner/services/planner/similarity"
)

const tracerName = "goalplanner.patterns"

// Config configures a Store.
type Config struct {
	// DedupThreshold is the similarity at or above which a stored pattern
	// with the same action sequence is merged instead of inserted.
	DedupThreshold float64 `json:"dedup_threshold" yaml:"dedup_threshold" validate:"gt=0,lte=1"`

	// MatchThreshold is the minimum similarity of a returned candidate.
	MatchThreshold float64 `json:"match_threshold" yaml:"match_threshold" validate:"gte=0,lte=1"`

	// MaxCandidates bounds the IDs considered per lookup.
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates" validate:"gte=1"`

	// CASAttempts is the number of version-checked writes Update tries
	// before applying the mutation unconditionally.
	CASAttempts int `json:"cas_attempts" yaml:"cas_attempts" validate:"gte=1,lte=10"`

	// RetryBaseDelay and RetryMaxDelay bound the jittered backoff between
	// attempts.
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay" yaml:"retry_max_delay" validate:"gte=0"`

	// PruneConfidenceFloor, PruneUsageFloor and RetentionWindow select the
	// patterns consolidation deletes. All three must hold.
	PruneConfidenceFloor float64       `json:"prune_confidence_floor" yaml:"prune_confidence_floor" validate:"gte=0,lte=1"`
	PruneUsageFloor      int           `json:"prune_usage_floor" yaml:"prune_usage_floor" validate:"gte=0"`
	RetentionWindow      time.Duration `json:"retention_window" yaml:"retention_window" validate:"gte=0"`

	// ConsolidationBatch is the number of IDs Consolidate handles per batch.
	ConsolidationBatch int `json:"consolidation_batch" yaml:"consolidation_batch" validate:"gte=1"`

	Index   similarity.IndexConfig `json:"index" yaml:"index"`
	Breaker BreakerConfig          `json:"breaker" yaml:"breaker"`

	// Confidence tunes decay, the degraded rule and outcome updates.
	Confidence confidence.Config `json:"-" yaml:"-"`

	// Similarity scores contexts. Nil uses similarity.Default().
	Similarity similarity.Similarity `json:"-" yaml:"-"`

	Logger *slog.Logger     `json:"-" yaml:"-"`
	Now    func() time.Time `json:"-" yaml:"-"`
}

// DefaultConfig returns the standard store configuration.
func DefaultConfig() Config {
	return Config{
		DedupThreshold:       0.95,
		MatchThreshold:       0.7,
		MaxCandidates:        256,
		CASAttempts:          3,
		RetryBaseDelay:       5 * time.Millisecond,
		RetryMaxDelay:        50 * time.Millisecond,
		PruneConfidenceFloor: 0.3,
		PruneUsageFloor:      5,
		RetentionWindow:      30 * 24 * time.Hour,
		ConsolidationBatch:   64,
		Index:                similarity.DefaultIndexConfig(),
		Breaker:              DefaultBreakerConfig(),
		Confidence:           confidence.DefaultConfig(),
	}
}

var configValidate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid pattern store config: %w", err)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("invalid pattern store config: retry_max_delay %v below retry_base_delay %v",
			c.RetryMaxDelay, c.RetryBaseDelay)
	}
	return c.Confidence.Validate()
}

// Candidate is a stored pattern scored against a query context.
type Candidate struct {
	Pattern             *Pattern
	Similarity          float64
	EffectiveConfidence float64

	// Score is Similarity × EffectiveConfidence, the ranking key.
	Score float64
}

// Mutator changes a pattern inside Update. It receives a private copy and
// may be called more than once; returning an error aborts the update.
type Mutator func(p *Pattern) error

// Store is the pattern store.
//
// # Description
//
// Store deduplicates on write, ranks candidates on read and makes every
// write atomic per pattern. Writers in this process serialize on striped
// per-pattern locks; writers in other processes are detected through the
// backend's versioned compare-and-swap. Reads take no store lock and may
// observe a pattern one update behind.
//
// Backend failures trip a circuit breaker. While it is open, or whenever
// the backend cannot be reached, operations return ErrStoreUnavailable.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	backend Backend
	cfg     Config
	sim     similarity.Similarity
	breaker *Breaker
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	// writeLocks is keyed by pattern ID, signatureLocks by context key.
	// A holder of a signature lock may take write locks, never the reverse.
	writeLocks     stripedLocks
	signatureLocks stripedLocks

	index     *candidateIndex
	loadGroup singleflight.Group
	closed    atomic.Bool
}

// NewStore creates a store over backend.
//
// # Inputs
//
//   - backend: Persistence. The store takes ownership and closes it.
//   - cfg: Configuration. Zero fields are not defaulted; start from
//     DefaultConfig.
//
// # Outputs
//
//   - *Store: The store. The candidate index loads on first use.
//   - error: Non-nil if cfg is invalid.
func NewStore(backend Backend, cfg Config) (*Store, error) {
	if backend == nil {
		return nil, errors.New("pattern store requires a backend")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sim := cfg.Similarity
	if sim == nil {
		sim = similarity.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		backend: backend,
		cfg:     cfg,
		sim:     sim,
		logger:  logger.With(slog.String("component", "pattern_store"), slog.String("backend", backend.Name())),
		tracer:  otel.Tracer(tracerName),
		now:     now,
		index:   newCandidateIndex(cfg.Index),
	}
	s.breaker = NewBreaker(cfg.Breaker, func(state CircuitState) {
		breakerState.Set(float64(state))
		s.logger.Warn("pattern store circuit changed state", slog.String("state", state.String()))
	})
	return s, nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// BreakerStats returns the circuit breaker counters.
func (s *Store) BreakerStats() BreakerStats { return s.breaker.Stats() }

// Close closes the backend.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.backend.Close()
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func isConflict(err error) bool { return errors.Is(err, ErrVersionConflict) }
func isCorrupt(err error) bool  { return errors.Is(err, ErrCorrupted) }

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// guard runs one backend call through the circuit breaker.
//
// Answers the backend gave (not found, conflict, corrupt, invalid input)
// count as reachable. Anything else is a failure and is reported as
// ErrStoreUnavailable wrapping the cause.
func (s *Store) guard(fn func() error) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrClosed)
	}
	ok, release := s.breaker.Allow()
	if !ok {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrCircuitOpen)
	}
	if release != nil {
		defer release()
	}

	err := fn()
	switch {
	case err == nil, isNotFound(err), isConflict(err), isCorrupt(err),
		errors.Is(err, ErrInvalidPattern), errors.Is(err, ErrEmptySequence):
		s.breaker.RecordSuccess()
		return err
	case isContextErr(err):
		return err
	default:
		s.breaker.RecordFailure()
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("pattern.backend", s.backend.Name()))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
}

func endSpan(span trace.Span, op string, start time.Time, err error) {
	storeOpsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	storeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrConfidenceUpdateConflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Store) get(ctx context.Context, id string) (*Pattern, error) {
	var p *Pattern
	err := s.guard(func() error {
		var err error
		p, err = s.backend.Get(ctx, id)
		return err
	})
	return p, err
}

// ensureIndex loads the candidate index from the backend once. Concurrent
// callers share one scan.
func (s *Store) ensureIndex(ctx context.Context) error {
	if s.index.isLoaded() {
		return nil
	}
	_, err, _ := s.loadGroup.Do("load", func() (any, error) {
		if s.index.isLoaded() {
			return nil, nil
		}
		start := time.Now()
		corrupt := 0
		err := s.guard(func() error {
			return s.backend.Scan(ctx, func(id string, p *Pattern, err error) error {
				if err != nil {
					corrupt++
					corruptRecordsTotal.Inc()
					s.logger.WarnContext(ctx, "skipping corrupted pattern record",
						slog.String("pattern_id", id), slog.String("error", err.Error()))
					return nil
				}
				s.index.put(id, p.Context)
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
		s.index.markLoaded()
		s.logger.InfoContext(ctx, "pattern index loaded",
			slog.Int("patterns", s.index.size()),
			slog.Int("corrupt", corrupt),
			slog.Duration("duration", time.Since(start)))
		return nil, nil
	})
	return err
}

// Get returns the pattern with id.
func (s *Store) Get(ctx context.Context, id string) (p *Pattern, err error) {
	ctx, span := s.startSpan(ctx, "patterns.Get", attribute.String("pattern.id", id))
	defer func(start time.Time) { endSpan(span, "get", start, err) }(time.Now())
	return s.get(ctx, id)
}

// Store saves p, merging it into an equivalent stored pattern if one exists.
//
// # Description
//
// A stored pattern is equivalent when its context similarity to p is at
// least DedupThreshold and it holds the same action sequence. The most
// similar equivalent pattern absorbs p through Merge: counts are summed,
// cost statistics combined and the higher confidence kept. Otherwise p is
// inserted under a new ID. The check and the insert run under a lock on
// p's context key, so storing the same pattern twice from this process
// always yields one entry.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - p: The pattern. Not modified; its ID and Version are ignored.
//
// # Outputs
//
//   - string: ID of the stored or merged-into pattern.
//   - bool: True if p was merged into an existing pattern.
//   - error: ErrEmptySequence or ErrInvalidPattern for a bad pattern,
//     ErrStoreUnavailable if the backend cannot be reached. A merge that
//     exhausted its version checks returns the ID together with
//     ErrConfidenceUpdateConflict; the merge was still applied.
func (s *Store) Store(ctx context.Context, p *Pattern) (id string, merged bool, err error) {
	ctx, span := s.startSpan(ctx, "patterns.Store", attribute.Int("pattern.actions", len(p.Actions)))
	defer func(start time.Time) {
		span.SetAttributes(attribute.String("pattern.id", id), attribute.Bool("pattern.merged", merged))
		endSpan(span, "store", start, err)
	}(time.Now())

	if err := p.Validate(); err != nil {
		return "", false, err
	}
	if err := s.ensureIndex(ctx); err != nil {
		return "", false, err
	}

	unlock := s.signatureLocks.lock(p.Context.Key())
	defer unlock()

	target, err := s.findEquivalent(ctx, p)
	if err != nil {
		return "", false, err
	}
	if target != "" {
		_, err := s.Update(ctx, target, func(cur *Pattern) error {
			if !cur.SameSequence(p) {
				return errSequenceChanged
			}
			cur.Merge(p, s.cfg.Confidence)
			return nil
		})
		switch {
		case err == nil || errors.Is(err, ErrConfidenceUpdateConflict):
			s.logger.DebugContext(ctx, "pattern merged on store", slog.String("pattern_id", target))
			return target, true, err
		case isNotFound(err) || errors.Is(err, errSequenceChanged):
			// gone since the lookup; insert instead
		default:
			return "", false, err
		}
	}

	fresh := p.Clone()
	fresh.ID = uuid.NewString()
	fresh.Version = 1
	if err := s.guard(func() error { return s.backend.Put(ctx, fresh) }); err != nil {
		return "", false, err
	}
	s.index.put(fresh.ID, fresh.Context)
	s.logger.DebugContext(ctx, "pattern stored",
		slog.String("pattern_id", fresh.ID),
		slog.Int("actions", len(fresh.Actions)),
		slog.Float64("confidence", fresh.Confidence))
	return fresh.ID, false, nil
}

var errSequenceChanged = errors.New("pattern sequence changed")

// findEquivalent returns the ID of the stored pattern p should merge into,
// or "" if there is none.
func (s *Store) findEquivalent(ctx context.Context, p *Pattern) (string, error) {
	bestID, bestSim := "", -1.0
	for _, id := range s.index.lookup(p.Context, s.cfg.MaxCandidates) {
		cur, err := s.get(ctx, id)
		if err != nil {
			if s.skippable(ctx, id, err) {
				continue
			}
			return "", err
		}
		if !cur.SameSequence(p) {
			continue
		}
		sim := s.sim.Score(cur.Context, p.Context)
		if sim < s.cfg.DedupThreshold {
			continue
		}
		if sim > bestSim || (sim == bestSim && id < bestID) {
			bestID, bestSim = id, sim
		}
	}
	return bestID, nil
}

// skippable handles a failed candidate read. Missing records leave the
// index, corrupted ones are logged. Both are skipped.
func (s *Store) skippable(ctx context.Context, id string, err error) bool {
	switch {
	case isNotFound(err):
		s.index.remove(id)
		return true
	case isCorrupt(err):
		corruptRecordsTotal.Inc()
		s.logger.WarnContext(ctx, "skipping corrupted pattern record",
			slog.String("pattern_id", id), slog.String("error", err.Error()))
		return true
	default:
		return false
	}
}

// FindCandidates returns up to k stored patterns for query, best first.
//
// # Description
//
// Candidates must reach MatchThreshold similarity. They are ranked by
// similarity × effective confidence, where effective confidence is the
// decayed confidence, halved while the pattern is degraded. Ties go to
// the higher similarity, then the smaller ID. Preconditions are not
// checked here.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - query: Context signature of the request.
//   - k: Maximum results. Non-positive means no limit beyond MaxCandidates.
//
// # Outputs
//
//   - []Candidate: Ranked candidates, possibly empty.
//   - error: ErrStoreUnavailable if the backend cannot be reached.
func (s *Store) FindCandidates(ctx context.Context, query model.Context, k int) (out []Candidate, err error) {
	ctx, span := s.startSpan(ctx, "patterns.FindCandidates", attribute.Int("k", k))
	defer func(start time.Time) {
		span.SetAttributes(attribute.Int("candidates", len(out)))
		candidatesReturned.Observe(float64(len(out)))
		endSpan(span, "find", start, err)
	}(time.Now())

	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	for _, id := range s.index.lookup(query, s.cfg.MaxCandidates) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := s.get(ctx, id)
		if err != nil {
			if s.skippable(ctx, id, err) {
				continue
			}
			return nil, err
		}
		sim := s.sim.Score(p.Context, query)
		if sim < s.cfg.MatchThreshold {
			continue
		}
		eff := p.EffectiveConfidence(now, s.cfg.Confidence)
		out = append(out, Candidate{
			Pattern:             p,
			Similarity:          sim,
			EffectiveConfidence: eff,
			Score:               sim * eff,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.Pattern.ID < b.Pattern.ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Update applies mutate to the pattern with id atomically.
//
// # Description
//
// Writers in this process are serialized on the pattern's lock. Each
// attempt reads the pattern, applies mutate to a copy and writes it with a
// compare-and-swap on Version. A conflict means another process wrote in
// between; the attempt is retried after a jittered backoff. When
// CASAttempts are used up the mutation is applied to a fresh read and
// written without the version check, and ErrConfidenceUpdateConflict is
// returned with the written pattern. The outcome is recorded either way.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - id: Pattern to update.
//   - mutate: The change. See Mutator.
//
// # Outputs
//
//   - *Pattern: The pattern as written.
//   - error: ErrNotFound, the mutator's error, ErrInvalidPattern if the
//     result violates an invariant, ErrStoreUnavailable, or the non-fatal
//     ErrConfidenceUpdateConflict.
func (s *Store) Update(ctx context.Context, id string, mutate Mutator) (out *Pattern, err error) {
	ctx, span := s.startSpan(ctx, "patterns.Update", attribute.String("pattern.id", id))
	defer func(start time.Time) { endSpan(span, "update", start, err) }(time.Now())

	unlock := s.writeLocks.lock(id)
	defer unlock()

	for attempt := 0; attempt < s.cfg.CASAttempts; attempt++ {
		if attempt > 0 {
			casRetriesTotal.Inc()
			span.AddEvent("cas_retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
			if err := sleepCtx(ctx, s.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		next, expected, err := s.mutated(ctx, id, mutate)
		if err != nil {
			return nil, err
		}
		err = s.guard(func() error { return s.backend.CompareAndSwap(ctx, next, expected) })
		if err == nil {
			s.index.put(id, next.Context)
			return next, nil
		}
		if !isConflict(err) {
			return nil, err
		}
	}

	next, expected, err := s.mutated(ctx, id, mutate)
	if err != nil {
		return nil, err
	}
	next.Version = expected + 1
	if err := s.guard(func() error { return s.backend.Put(ctx, next) }); err != nil {
		return nil, err
	}
	s.index.put(id, next.Context)
	s.logger.WarnContext(ctx, "pattern update applied without version check",
		slog.String("pattern_id", id), slog.Int("attempts", s.cfg.CASAttempts))
	return next, ErrConfidenceUpdateConflict
}

// mutated reads id and returns the mutated copy with the version it was
// read at.
func (s *Store) mutated(ctx context.Context, id string, mutate Mutator) (*Pattern, uint64, error) {
	cur, err := s.get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, 0, err
	}
	next.ID = cur.ID
	if err := next.Validate(); err != nil {
		return nil, 0, err
	}
	return next, cur.Version, nil
}

// backoff returns the jittered delay before the given retry attempt.
func (s *Store) backoff(attempt int) time.Duration {
	d := s.cfg.RetryBaseDelay << (attempt - 1)
	if d > s.cfg.RetryMaxDelay || d <= 0 {
		d = s.cfg.RetryMaxDelay
	}
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + rand.N(half+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delete removes the pattern with id.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "patterns.Delete", attribute.String("pattern.id", id))
	defer func(start time.Time) { endSpan(span, "delete", start, err) }(time.Now())

	unlock := s.writeLocks.lock(id)
	defer unlock()

	if err := s.guard(func() error { return s.backend.Delete(ctx, id) }); err != nil {
		if isNotFound(err) {
			s.index.remove(id)
		}
		return err
	}
	s.index.remove(id)
	return nil
}

// List returns every readable pattern in ID order. Corrupted records are
// logged and skipped.
func (s *Store) List(ctx context.Context) (out []*Pattern, err error) {
	ctx, span := s.startSpan(ctx, "patterns.List")
	defer func(start time.Time) { endSpan(span, "list", start, err) }(time.Now())

	err = s.guard(func() error {
		return s.backend.Scan(ctx, func(id string, p *Pattern, err error) error {
			if err != nil {
				s.skippable(ctx, id, err)
				return nil
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of readable patterns.
func (s *Store) Count(ctx context.Context) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// IDs returns the IDs of every stored record, corrupted ones included, in
// ID order.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.guard(func() error {
		return s.backend.Scan(ctx, func(id string, _ *Pattern, _ error) error {
			ids = append(ids, id)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
