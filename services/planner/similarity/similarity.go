// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package similarity scores how closely two planning contexts match.
//
// The pattern store only depends on the Similarity interface. Weighted
// Jaccard is the default; MinHash estimates the same quantity from fixed-size
// signatures, and Index uses those signatures to bound candidate sets with
// locality-sensitive hashing.
package similarity

import (
	"github.com/AleutianAI/goalplanner/services/planner/model"
)

// Similarity scores two contexts in [0, 1]. Identical contexts score 1.
//
// Implementations must be symmetric and safe for concurrent use.
type Similarity interface {
	Score(a, b model.Context) float64
}

// Func adapts a plain function to Similarity.
type Func func(a, b model.Context) float64

// Score calls f.
func (f Func) Score(a, b model.Context) float64 { return f(a, b) }

// Weighted is a weighted Jaccard similarity over goal and state features.
//
// # Description
//
// Score = (GoalWeight*J(goalA, goalB) + StateWeight*J(stateA, stateB)) /
// (GoalWeight + StateWeight). The goal carries more weight than the state
// because a pattern solving a different goal is rarely reusable, while state
// differences are often bridged by adaptation.
type Weighted struct {
	GoalWeight  float64
	StateWeight float64
}

// Default returns the weighting used by the planner: 0.6 goal, 0.4 state.
func Default() Weighted {
	return Weighted{GoalWeight: 0.6, StateWeight: 0.4}
}

// Score implements Similarity.
func (w Weighted) Score(a, b model.Context) float64 {
	total := w.GoalWeight + w.StateWeight
	if total <= 0 {
		return 0
	}
	s := w.GoalWeight*Jaccard(a.Goal, b.Goal) + w.StateWeight*Jaccard(a.State, b.State)
	return clamp01(s / total)
}

// Exact scores 1 for identical signatures and 0 otherwise.
type Exact struct{}

// Score implements Similarity.
func (Exact) Score(a, b model.Context) float64 {
	if a.Equal(b) {
		return 1
	}
	return 0
}

// Jaccard returns |a ∩ b| / |a ∪ b| treating the slices as sets.
// Two empty sets are identical and score 1.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, x := range b {
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}
		if _, ok := set[x]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
