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
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/AleutianAI/goalplanner/services/planner/model"
)

// ledger remembers issued plans until their outcome arrives, so an outcome
// that carries only a plan ID can still be learned from.
//
// Entries expire after TTL. When the ledger is full the cache's admission
// policy evicts rarely touched plans first; an evicted plan is reported as
// ErrUnknownPlan.
type ledger struct {
	cache *ristretto.Cache[string, *model.Plan]
	ttl   time.Duration
}

func newLedger(cfg LedgerConfig) (*ledger, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *model.Plan]{
		NumCounters:        int64(cfg.MaxPlans) * 10,
		MaxCost:            int64(cfg.MaxPlans),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create plan ledger: %w", err)
	}
	return &ledger{cache: cache, ttl: cfg.TTL}, nil
}

// put records p. Writes are buffered by the cache, so put waits for the
// write to land before returning.
func (l *ledger) put(p *model.Plan) bool {
	ok := l.cache.SetWithTTL(p.ID, p, 1, l.ttl)
	l.cache.Wait()
	return ok
}

func (l *ledger) get(id string) (*model.Plan, bool) {
	return l.cache.Get(id)
}

func (l *ledger) remove(id string) {
	l.cache.Del(id)
}

func (l *ledger) close() {
	l.cache.Close()
}
