// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"fmt"
	"sort"
	"strings"
)

// WorldState maps property names to values.
//
// # Description
//
// A WorldState is treated as immutable: every method returns a new map and
// never modifies the receiver. A GoalState is a WorldState whose pairs must
// all hold for the goal to be satisfied.
//
// # Thread Safety
//
// Safe for concurrent reads. Callers must not mutate a WorldState after
// handing it to the planner.
type WorldState map[string]Value

// GoalState is a WorldState interpreted as a set of required pairs.
type GoalState = WorldState

// NewWorldState builds a WorldState from plain Go scalars.
//
// # Inputs
//
//   - m: Property name to string, bool, integer or float value.
//
// # Outputs
//
//   - WorldState: The converted state.
//   - error: ErrInvalidValue when a value is not a supported scalar.
func NewWorldState(m map[string]any) (WorldState, error) {
	ws := make(WorldState, len(m))
	for k, raw := range m {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		ws[k] = v
	}
	return ws, nil
}

// MustState is NewWorldState that panics on error. Intended for literals.
func MustState(m map[string]any) WorldState {
	ws, err := NewWorldState(m)
	if err != nil {
		panic(err)
	}
	return ws
}

// Clone returns a copy of the state.
func (s WorldState) Clone() WorldState {
	out := make(WorldState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Satisfies reports whether every pair of goal holds in s.
// An empty goal is always satisfied.
func (s WorldState) Satisfies(goal WorldState) bool {
	for k, want := range goal {
		got, ok := s[k]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// Apply returns a copy of s with effects written over it.
func (s WorldState) Apply(effects WorldState) WorldState {
	out := make(WorldState, len(s)+len(effects))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range effects {
		out[k] = v
	}
	return out
}

// Changes reports whether applying effects would alter s.
func (s WorldState) Changes(effects WorldState) bool {
	for k, v := range effects {
		cur, ok := s[k]
		if !ok || !cur.Equal(v) {
			return true
		}
	}
	return false
}

// Unmet returns the goal pairs that do not hold in s.
func (s WorldState) Unmet(goal WorldState) WorldState {
	out := make(WorldState)
	for k, want := range goal {
		got, ok := s[k]
		if !ok || !got.Equal(want) {
			out[k] = want
		}
	}
	return out
}

// Project returns the subset of s whose keys are in keys.
func (s WorldState) Project(keys map[string]struct{}) WorldState {
	out := make(WorldState)
	for k, v := range s {
		if _, ok := keys[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Keys returns the property names in sorted order.
func (s WorldState) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Features returns the sorted canonical "name=value" encoding of every pair.
func (s WorldState) Features() []string {
	feats := make([]string, 0, len(s))
	for k, v := range s {
		feats = append(feats, k+"="+v.Canonical())
	}
	sort.Strings(feats)
	return feats
}

// Key returns an order-independent encoding of the state, suitable as a map
// key for visited-state tracking.
func (s WorldState) Key() string {
	return strings.Join(s.Features(), ";")
}

// String renders the state as {a=1, b=true}.
func (s WorldState) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range s.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s[k].String())
	}
	b.WriteByte('}')
	return b.String()
}
