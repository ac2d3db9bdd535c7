// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import "github.com/AleutianAI/goalplanner/services/planner/model"

// node is a search state on the frontier.
type node struct {
	state  model.WorldState
	key    string
	g      float64
	f      float64
	depth  int
	parent *node
	action *model.Action

	// viaPattern is set when the incoming action belongs to a known pattern.
	viaPattern bool
	seq        int64
	index      int
}

// frontier is a min-heap on f with deterministic tie-breaking: fewer
// actions, then a pattern step, then insertion order.
type frontier []*node

func (q frontier) Len() int { return len(q) }

func (q frontier) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.f != b.f {
		return a.f < b.f
	}
	if a.depth != b.depth {
		return a.depth < b.depth
	}
	if a.viaPattern != b.viaPattern {
		return a.viaPattern
	}
	return a.seq < b.seq
}

func (q frontier) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *frontier) Push(x any) {
	n := x.(*node)
	n.index = len(*q)
	*q = append(*q, n)
}

func (q *frontier) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}
