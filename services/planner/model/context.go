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
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Context is the signature of a planning request: the goal plus the part of
// the current state the supplied actions can observe.
//
// Both lists hold sorted "name=value" features (see WorldState.Features).
type Context struct {
	Goal  []string `json:"goal" yaml:"goal"`
	State []string `json:"state" yaml:"state"`
}

// NewContext builds the signature for a request.
//
// # Description
//
// The relevant state is the projection of current onto the keys named by
// the goal or by any action's preconditions. Properties no action reads
// cannot change which plan works, so they are left out of the signature.
//
// # Inputs
//
//   - goal: Goal state.
//   - current: Current world state.
//   - actions: Actions available to the request.
//
// # Outputs
//
//   - Context: The signature.
func NewContext(goal, current WorldState, actions []Action) Context {
	keys := make(map[string]struct{}, len(goal))
	for k := range goal {
		keys[k] = struct{}{}
	}
	for _, a := range actions {
		for k := range a.Preconditions {
			keys[k] = struct{}{}
		}
	}
	return Context{
		Goal:  goal.Features(),
		State: current.Project(keys).Features(),
	}
}

// Key returns a stable digest of the signature for exact lookup.
func (c Context) Key() string {
	h := sha256.New()
	h.Write([]byte("g|"))
	h.Write([]byte(strings.Join(c.Goal, ";")))
	h.Write([]byte("|s|"))
	h.Write([]byte(strings.Join(c.State, ";")))
	return hex.EncodeToString(h.Sum(nil))
}

// GoalKey returns a digest of the goal features alone.
func (c Context) GoalKey() string {
	sum := sha256.Sum256([]byte(strings.Join(c.Goal, ";")))
	return hex.EncodeToString(sum[:])
}

// Features returns goal and state features tagged so they never collide.
func (c Context) Features() []string {
	out := make([]string, 0, len(c.Goal)+len(c.State))
	for _, f := range c.Goal {
		out = append(out, "g:"+f)
	}
	for _, f := range c.State {
		out = append(out, "s:"+f)
	}
	return out
}

// Equal reports whether two signatures hold the same features.
func (c Context) Equal(o Context) bool {
	return equalStrings(c.Goal, o.Goal) && equalStrings(c.State, o.State)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
