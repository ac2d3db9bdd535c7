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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/goalplanner/services/planner/model"
)

func ctxOf(goal, state []string) model.Context {
	return model.Context{Goal: goal, State: state}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 1},
		{"one empty", []string{"a"}, nil, 0},
		{"identical", []string{"a", "b"}, []string{"b", "a"}, 1},
		{"half", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
		{"duplicates ignored", []string{"a", "a"}, []string{"a"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestWeighted_Score(t *testing.T) {
	w := Default()
	base := ctxOf([]string{"deployed=b:true"}, []string{"built=b:true", "code=s:ready"})

	assert.InDelta(t, 1.0, w.Score(base, base), 1e-9)

	// same goal, half the state shared
	other := ctxOf([]string{"deployed=b:true"}, []string{"code=s:ready"})
	assert.InDelta(t, 0.6+0.4*0.5, w.Score(base, other), 1e-9)

	// different goal, same state
	diffGoal := ctxOf([]string{"tested=b:true"}, base.State)
	assert.InDelta(t, 0.4, w.Score(base, diffGoal), 1e-9)

	assert.InDelta(t, w.Score(base, other), w.Score(other, base), 1e-9, "symmetric")
	assert.Equal(t, 0.0, Weighted{}.Score(base, base))
}

func TestExact_Score(t *testing.T) {
	a := ctxOf([]string{"g=b:true"}, []string{"s=n:1"})
	assert.Equal(t, 1.0, Exact{}.Score(a, a))
	assert.Equal(t, 0.0, Exact{}.Score(a, ctxOf([]string{"g=b:true"}, nil)))
}

func TestMinHash_EstimatesJaccard(t *testing.T) {
	h := NewMinHasher(256)
	var a, b []string
	for i := 0; i < 100; i++ {
		a = append(a, fmt.Sprintf("f%d", i))
	}
	for i := 50; i < 150; i++ {
		b = append(b, fmt.Sprintf("f%d", i))
	}
	exact := Jaccard(a, b)
	est := h.Signature(a).Similarity(h.Signature(b))
	assert.InDelta(t, exact, est, 0.12)

	assert.Equal(t, 1.0, h.Signature(a).Similarity(h.Signature(a)))
	assert.Equal(t, 0.0, h.Signature(a).Similarity(Signature{1, 2}))
}

func TestMinHashScorer_IdenticalContexts(t *testing.T) {
	s := NewMinHashScorer(0)
	c := ctxOf([]string{"deployed=b:true"}, []string{"code=s:ready"})
	assert.Equal(t, 1.0, s.Score(c, c))
	assert.Equal(t, 0.6, s.Score(c, ctxOf(c.Goal, nil)))
}

func TestIndex_QueryFindsSimilar(t *testing.T) {
	idx := NewIndex(DefaultIndexConfig())
	base := []string{"g:deployed=b:true", "s:code=s:ready", "s:built=b:true"}
	idx.Add("p1", base)
	idx.Add("p2", []string{"g:tested=b:true", "s:suite=s:unit"})

	got := idx.Query(base, 10)
	require.NotEmpty(t, got)
	assert.Equal(t, "p1", got[0])
	assert.NotContains(t, got, "p2")
	assert.Equal(t, 2, idx.Len())

	idx.Remove("p1")
	assert.NotContains(t, idx.Query(base, 10), "p1")
	assert.Equal(t, 1, idx.Len())
	idx.Remove("missing")
}

func TestIndex_AddReplaces(t *testing.T) {
	idx := NewIndex(IndexConfig{})
	idx.Add("p", []string{"a"})
	idx.Add("p", []string{"b"})

	assert.Equal(t, 1, idx.Len())
	assert.Empty(t, idx.Query([]string{"a"}, 0))
	assert.Equal(t, []string{"p"}, idx.Query([]string{"b"}, 0))
}

func TestIndex_QueryIsBounded(t *testing.T) {
	idx := NewIndex(IndexConfig{MaxCandidates: 5})
	for i := 0; i < 20; i++ {
		idx.Add(fmt.Sprintf("p%02d", i), []string{"shared"})
	}
	got := idx.Query([]string{"shared"}, 100)
	assert.Len(t, got, 5)
	assert.Equal(t, []string{"p00", "p01", "p02", "p03", "p04"}, got)
}
