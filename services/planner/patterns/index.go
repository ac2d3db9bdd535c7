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
	"sort"
	"sync"

	"github.com/AleutianAI/goalplanner/services/planner/model"
	"github.com/AleutianAI/goalplanner/services/planner/similarity"
)

// candidateIndex maps contexts to pattern IDs for candidate generation.
//
// Exact context-key buckets answer identical contexts without hashing;
// the LSH index answers similar ones. The index only proposes IDs, every
// candidate is re-read and re-scored by the store. Entries may be stale:
// an ID whose record is gone is dropped on the next lookup that misses it.
type candidateIndex struct {
	lsh *similarity.Index

	mu     sync.RWMutex
	loaded bool
	byKey  map[string]map[string]struct{}
	keyOf  map[string]string
}

func newCandidateIndex(cfg similarity.IndexConfig) *candidateIndex {
	return &candidateIndex{
		lsh:   similarity.NewIndex(cfg),
		byKey: make(map[string]map[string]struct{}),
		keyOf: make(map[string]string),
	}
}

func (x *candidateIndex) isLoaded() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.loaded
}

func (x *candidateIndex) markLoaded() {
	x.mu.Lock()
	x.loaded = true
	x.mu.Unlock()
}

func (x *candidateIndex) put(id string, c model.Context) {
	key := c.Key()

	x.mu.Lock()
	if old, ok := x.keyOf[id]; ok && old != key {
		x.dropKeyLocked(id, old)
	}
	bucket := x.byKey[key]
	if bucket == nil {
		bucket = make(map[string]struct{})
		x.byKey[key] = bucket
	}
	bucket[id] = struct{}{}
	x.keyOf[id] = key
	n := len(x.keyOf)
	x.mu.Unlock()

	x.lsh.Add(id, c.Features())
	indexedPatterns.Set(float64(n))
}

func (x *candidateIndex) remove(id string) {
	x.mu.Lock()
	if key, ok := x.keyOf[id]; ok {
		x.dropKeyLocked(id, key)
		delete(x.keyOf, id)
	}
	n := len(x.keyOf)
	x.mu.Unlock()

	x.lsh.Remove(id)
	indexedPatterns.Set(float64(n))
}

func (x *candidateIndex) dropKeyLocked(id, key string) {
	if bucket := x.byKey[key]; bucket != nil {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(x.byKey, key)
		}
	}
}

func (x *candidateIndex) size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keyOf)
}

// lookup returns exact-context IDs first, then LSH candidates, without
// duplicates and at most limit IDs.
func (x *candidateIndex) lookup(c model.Context, limit int) []string {
	x.mu.RLock()
	exact := make([]string, 0, len(x.byKey[c.Key()]))
	for id := range x.byKey[c.Key()] {
		exact = append(exact, id)
	}
	x.mu.RUnlock()
	sort.Strings(exact)

	seen := make(map[string]struct{}, len(exact))
	out := make([]string, 0, len(exact))
	for _, id := range exact {
		if limit > 0 && len(out) >= limit {
			return out
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range x.lsh.Query(c.Features(), limit) {
		if limit > 0 && len(out) >= limit {
			break
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
