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
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/goalplanner/services/planner/confidence"
)

// Report summarizes a consolidation pass.
type Report struct {
	Scanned  int           `json:"scanned"`
	Merged   int           `json:"merged"`
	Pruned   int           `json:"pruned"`
	Corrupt  int           `json:"corrupt"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`

	// MergedInto maps each removed duplicate to the pattern that absorbed it.
	MergedInto map[string]string `json:"merged_into,omitempty"`
	PrunedIDs  []string          `json:"pruned_ids,omitempty"`
}

// Add accumulates o into r.
func (r *Report) Add(o Report) {
	r.Scanned += o.Scanned
	r.Merged += o.Merged
	r.Pruned += o.Pruned
	r.Corrupt += o.Corrupt
	r.Skipped += o.Skipped
	r.Duration += o.Duration
	for k, v := range o.MergedInto {
		if r.MergedInto == nil {
			r.MergedInto = make(map[string]string)
		}
		r.MergedInto[k] = v
	}
	r.PrunedIDs = append(r.PrunedIDs, o.PrunedIDs...)
}

// prunable reports whether p is low-value: decayed confidence below the
// floor, few uses and older than the retention window. All three must hold.
func prunable(p *Pattern, now time.Time, cfg Config) bool {
	conf := confidence.Decay(p.Confidence, p.LastUsed, now, cfg.Confidence)
	return conf < cfg.PruneConfidenceFloor &&
		p.UsageCount < cfg.PruneUsageFloor &&
		now.Sub(p.CreatedAt) > cfg.RetentionWindow
}

// mergeWinner orders a duplicate pair: higher confidence wins, then higher
// usage, then the smaller ID.
func mergeWinner(a, b *Pattern) (winner, loser *Pattern) {
	switch {
	case a.Confidence != b.Confidence:
		if a.Confidence > b.Confidence {
			return a, b
		}
		return b, a
	case a.UsageCount != b.UsageCount:
		if a.UsageCount > b.UsageCount {
			return a, b
		}
		return b, a
	case a.ID < b.ID:
		return a, b
	default:
		return b, a
	}
}

// ConsolidateIDs consolidates one batch of patterns.
//
// # Description
//
// Each pattern in ids is pruned if it is low-value, otherwise merged with
// its near-duplicates: stored patterns with the same action sequence and
// similarity at or above DedupThreshold, which need not be in the batch.
// Every prune and merge re-reads its patterns under their write locks, so
// only the one or two patterns involved are held at a time and planning
// traffic on other patterns never waits. Records that disappeared or
// changed since the batch was listed are skipped.
//
// # Inputs
//
//   - ctx: Checked between patterns.
//   - ids: The batch.
//
// # Outputs
//
//   - Report: What was done.
//   - error: ErrStoreUnavailable or a context error. The report covers
//     the work done before the error.
func (s *Store) ConsolidateIDs(ctx context.Context, ids []string) (rep Report, err error) {
	ctx, span := s.startSpan(ctx, "patterns.ConsolidateIDs", attribute.Int("batch", len(ids)))
	start := time.Now()
	defer func() {
		rep.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("merged", rep.Merged),
			attribute.Int("pruned", rep.Pruned),
			attribute.Int("skipped", rep.Skipped))
		endSpan(span, "consolidate", start, err)
	}()

	if err := s.ensureIndex(ctx); err != nil {
		return rep, err
	}

	removed := make(map[string]struct{})
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if _, gone := removed[id]; gone {
			continue
		}
		rep.Scanned++

		p, err := s.get(ctx, id)
		switch {
		case isNotFound(err):
			rep.Skipped++
			continue
		case isCorrupt(err):
			s.skippable(ctx, id, err)
			rep.Corrupt++
			continue
		case err != nil:
			return rep, err
		}

		if prunable(p, s.now(), s.cfg) {
			ok, err := s.pruneOne(ctx, id)
			if err != nil {
				return rep, err
			}
			if ok {
				rep.Pruned++
				rep.PrunedIDs = append(rep.PrunedIDs, id)
				removed[id] = struct{}{}
				consolidationActions.WithLabelValues("pruned").Inc()
			} else {
				rep.Skipped++
				consolidationActions.WithLabelValues("skipped").Inc()
			}
			continue
		}

		if err := s.mergeDuplicates(ctx, p, removed, &rep); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// Consolidate runs ConsolidateIDs over every stored pattern in batches of
// ConsolidationBatch.
func (s *Store) Consolidate(ctx context.Context) (Report, error) {
	var total Report
	ids, err := s.IDs(ctx)
	if err != nil {
		return total, err
	}
	batch := s.cfg.ConsolidationBatch
	for i := 0; i < len(ids); i += batch {
		end := min(i+batch, len(ids))
		rep, err := s.ConsolidateIDs(ctx, ids[i:end])
		total.Add(rep)
		if err != nil {
			return total, err
		}
	}
	s.logger.InfoContext(ctx, "pattern consolidation finished",
		slog.Int("scanned", total.Scanned),
		slog.Int("merged", total.Merged),
		slog.Int("pruned", total.Pruned),
		slog.Int("corrupt", total.Corrupt),
		slog.Duration("duration", total.Duration))
	return total, nil
}

// pruneOne deletes id if it is still prunable under its write lock.
func (s *Store) pruneOne(ctx context.Context, id string) (bool, error) {
	unlock := s.writeLocks.lock(id)
	defer unlock()

	p, err := s.get(ctx, id)
	if err != nil {
		if s.skippable(ctx, id, err) {
			return false, nil
		}
		return false, err
	}
	if !prunable(p, s.now(), s.cfg) {
		return false, nil
	}
	if err := s.guard(func() error { return s.backend.Delete(ctx, id) }); err != nil {
		if isNotFound(err) {
			s.index.remove(id)
			return false, nil
		}
		return false, err
	}
	s.index.remove(id)
	s.logger.DebugContext(ctx, "pattern pruned",
		slog.String("pattern_id", id),
		slog.Float64("confidence", p.Confidence),
		slog.Int("usage_count", p.UsageCount))
	return true, nil
}

// mergeDuplicates merges p's near-duplicates pairwise.
func (s *Store) mergeDuplicates(ctx context.Context, p *Pattern, removed map[string]struct{}, rep *Report) error {
	var dups []string
	for _, id := range s.index.lookup(p.Context, s.cfg.MaxCandidates) {
		if id == p.ID {
			continue
		}
		if _, gone := removed[id]; gone {
			continue
		}
		dups = append(dups, id)
	}
	sort.Strings(dups)

	current := p.ID
	for _, other := range dups {
		winner, loser, err := s.mergePair(ctx, current, other)
		if err != nil {
			return err
		}
		if loser == "" {
			continue
		}
		rep.Merged++
		if rep.MergedInto == nil {
			rep.MergedInto = make(map[string]string)
		}
		rep.MergedInto[loser] = winner
		removed[loser] = struct{}{}
		consolidationActions.WithLabelValues("merged").Inc()
		current = winner
	}
	return nil
}

// mergePair merges a and b if they are near-duplicates. It returns the
// surviving and removed IDs, or empty IDs if nothing was merged.
func (s *Store) mergePair(ctx context.Context, a, b string) (string, string, error) {
	unlock := s.writeLocks.lock(a, b)
	defer unlock()

	pa, err := s.get(ctx, a)
	if err != nil {
		if s.skippable(ctx, a, err) {
			return "", "", nil
		}
		return "", "", err
	}
	pb, err := s.get(ctx, b)
	if err != nil {
		if s.skippable(ctx, b, err) {
			return "", "", nil
		}
		return "", "", err
	}
	if !pa.SameSequence(pb) || s.sim.Score(pa.Context, pb.Context) < s.cfg.DedupThreshold {
		return "", "", nil
	}

	winner, loser := mergeWinner(pa, pb)
	next := winner.Clone()
	next.Merge(loser, s.cfg.Confidence)
	if err := next.Validate(); err != nil {
		return "", "", err
	}

	err = s.guard(func() error { return s.backend.CompareAndSwap(ctx, next, winner.Version) })
	if isConflict(err) || isNotFound(err) {
		// written by another process since the read; next pass retries
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	if err := s.guard(func() error { return s.backend.Delete(ctx, loser.ID) }); err != nil && !isNotFound(err) {
		return "", "", err
	}
	s.index.remove(loser.ID)
	s.index.put(next.ID, next.Context)
	s.logger.DebugContext(ctx, "patterns merged",
		slog.String("winner", next.ID),
		slog.String("loser", loser.ID),
		slog.Int("usage_count", next.UsageCount))
	return next.ID, loser.ID, nil
}
