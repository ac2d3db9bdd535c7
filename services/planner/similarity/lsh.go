// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package similarity

import (
	"sort"
	"sync"
)

// IndexConfig configures an LSH Index.
type IndexConfig struct {
	// NumBands is the number of bands the signature is split into.
	NumBands int `json:"num_bands" yaml:"num_bands" validate:"gte=1"`

	// RowsPerBand is the number of signature values per band.
	// Two sets collide in a band with probability J^RowsPerBand.
	RowsPerBand int `json:"rows_per_band" yaml:"rows_per_band" validate:"gte=1"`

	// MaxCandidates bounds the result of Query.
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates" validate:"gte=1"`
}

// DefaultIndexConfig returns 64 bands of 2 rows and a 256 candidate bound.
//
// With 2 rows per band a pair with Jaccard 0.3 still collides in at least
// one band with probability above 0.99, which keeps recall high for the
// 0.7 weighted match threshold.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		NumBands:      64,
		RowsPerBand:   2,
		MaxCandidates: 256,
	}
}

// Index is a locality-sensitive hashing index over MinHash signatures.
//
// # Description
//
// Items are feature sets keyed by an ID. Query returns the IDs sharing at
// least one band bucket with the query, ordered by the number of shared
// bands and bounded by MaxCandidates. Results are candidates only; callers
// verify them with an exact Similarity.
//
// # Thread Safety
//
// Safe for concurrent use.
type Index struct {
	config IndexConfig
	hasher *MinHasher

	mu      sync.RWMutex
	buckets []map[uint64]map[string]struct{}
	sigs    map[string]Signature
}

// NewIndex creates an empty index.
func NewIndex(config IndexConfig) *Index {
	def := DefaultIndexConfig()
	if config.NumBands <= 0 {
		config.NumBands = def.NumBands
	}
	if config.RowsPerBand <= 0 {
		config.RowsPerBand = def.RowsPerBand
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = def.MaxCandidates
	}
	buckets := make([]map[uint64]map[string]struct{}, config.NumBands)
	for i := range buckets {
		buckets[i] = make(map[uint64]map[string]struct{})
	}
	return &Index{
		config:  config,
		hasher:  NewMinHasher(config.NumBands * config.RowsPerBand),
		buckets: buckets,
		sigs:    make(map[string]Signature),
	}
}

// Add indexes features under id, replacing any previous entry for id.
func (x *Index) Add(id string, features []string) {
	sig := x.hasher.Signature(features)

	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.sigs[id]; ok {
		x.removeLocked(id, old)
	}
	x.sigs[id] = sig
	for b := 0; b < x.config.NumBands; b++ {
		h := x.hashBand(sig, b)
		bucket := x.buckets[b][h]
		if bucket == nil {
			bucket = make(map[string]struct{})
			x.buckets[b][h] = bucket
		}
		bucket[id] = struct{}{}
	}
}

// Remove drops id from the index. Unknown IDs are ignored.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if sig, ok := x.sigs[id]; ok {
		x.removeLocked(id, sig)
	}
}

func (x *Index) removeLocked(id string, sig Signature) {
	for b := 0; b < x.config.NumBands; b++ {
		h := x.hashBand(sig, b)
		if bucket := x.buckets[b][h]; bucket != nil {
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(x.buckets[b], h)
			}
		}
	}
	delete(x.sigs, id)
}

// Len returns the number of indexed items.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.sigs)
}

// Query returns candidate IDs for features, most shared bands first.
//
// # Inputs
//
//   - features: Query feature set.
//   - limit: Maximum results; non-positive or larger values use MaxCandidates.
//
// # Outputs
//
//   - []string: Candidate IDs, ties broken by ID for determinism.
func (x *Index) Query(features []string, limit int) []string {
	if limit <= 0 || limit > x.config.MaxCandidates {
		limit = x.config.MaxCandidates
	}
	sig := x.hasher.Signature(features)

	x.mu.RLock()
	hits := make(map[string]int)
	for b := 0; b < x.config.NumBands; b++ {
		for id := range x.buckets[b][x.hashBand(sig, b)] {
			hits[id]++
		}
	}
	x.mu.RUnlock()

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if hits[ids[i]] != hits[ids[j]] {
			return hits[ids[i]] > hits[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// hashBand combines the values of one band into a bucket key.
func (x *Index) hashBand(sig Signature, band int) uint64 {
	start := band * x.config.RowsPerBand
	end := start + x.config.RowsPerBand
	if end > len(sig) {
		end = len(sig)
	}
	var hash uint64 = 0x9e3779b97f4a7c15
	for i := start; i < end; i++ {
		hash ^= sig[i]
		hash *= 0x6c62272e07bb0142
	}
	return hash
}
