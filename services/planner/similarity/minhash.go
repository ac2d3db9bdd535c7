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
	"hash/fnv"
	"math"

	"github.com/AleutianAI/goalplanner/services/planner/model"
)

// DefaultNumHashes is the signature length used by the planner's index.
const DefaultNumHashes = 128

// Signature is a MinHash signature: the minimum of each hash function over a
// feature set.
type Signature []uint64

// Similarity estimates the Jaccard similarity of the underlying sets as the
// fraction of matching positions. Signatures of different length score 0.
func (s Signature) Similarity(o Signature) float64 {
	if len(s) == 0 || len(s) != len(o) {
		return 0
	}
	matches := 0
	for i := range s {
		if s[i] == o[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(s))
}

// MinHasher computes MinHash signatures with a fixed family of hash
// functions, so signatures from the same hasher are comparable.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type MinHasher struct {
	numHashes int
	coeffs    []uint64
}

// NewMinHasher creates a hasher producing signatures of numHashes values.
// Non-positive values use DefaultNumHashes.
func NewMinHasher(numHashes int) *MinHasher {
	if numHashes <= 0 {
		numHashes = DefaultNumHashes
	}
	coeffs := make([]uint64, numHashes*2)
	for i := range coeffs {
		coeffs[i] = uint64(i)*0x9e3779b9 + 0x6c62272e
	}
	return &MinHasher{numHashes: numHashes, coeffs: coeffs}
}

// NumHashes returns the signature length.
func (m *MinHasher) NumHashes() int { return m.numHashes }

// Signature computes the signature of a feature set.
// The empty set yields a signature of all MaxUint64.
func (m *MinHasher) Signature(features []string) Signature {
	sig := make(Signature, m.numHashes)
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	for _, f := range features {
		x := hash64(f)
		for i := 0; i < m.numHashes; i++ {
			// odd multiplier keeps the map a bijection mod 2^64
			a := m.coeffs[i*2] | 1
			b := m.coeffs[i*2+1]
			h := mix64(a*x + b)
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

// MinHashScorer estimates Weighted similarity from MinHash signatures of the
// goal and state features instead of exact set operations.
type MinHashScorer struct {
	Hasher  *MinHasher
	Weights Weighted
}

// NewMinHashScorer returns a scorer with the default weights.
func NewMinHashScorer(numHashes int) *MinHashScorer {
	return &MinHashScorer{Hasher: NewMinHasher(numHashes), Weights: Default()}
}

// Score implements Similarity.
func (s *MinHashScorer) Score(a, b model.Context) float64 {
	total := s.Weights.GoalWeight + s.Weights.StateWeight
	if total <= 0 {
		return 0
	}
	g := s.part(a.Goal, b.Goal)
	st := s.part(a.State, b.State)
	return clamp01((s.Weights.GoalWeight*g + s.Weights.StateWeight*st) / total)
}

func (s *MinHashScorer) part(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return s.Hasher.Signature(a).Similarity(s.Hasher.Signature(b))
}

func hash64(s string) uint64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(s))
	return hasher.Sum64()
}

// mix64 is the splitmix64 finalizer.
func mix64(z uint64) uint64 {
	z ^= z >> 30
	z *= 0xbf58476d1ce4e5b9
	z ^= z >> 27
	z *= 0x94d049bb133111eb
	z ^= z >> 31
	return z
}
