// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search finds minimum-cost action sequences with A*.
//
// Nodes are world states, edges are applicable actions weighted by their
// total cost. The heuristic is the smaller of an admissible base estimate
// and an estimate learned from stored patterns, so the first goal state
// popped is optimal. Every expansion checks cancellation and the budget.
package search

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoPlanFound indicates the goal cannot be reached with the actions.
	ErrNoPlanFound = errors.New("no plan found")

	// ErrPlanningTimeout indicates the search ran out of time, depth or
	// node budget before it could decide.
	ErrPlanningTimeout = errors.New("planning timeout")

	// ErrCancelled indicates the caller cancelled the search.
	ErrCancelled = errors.New("planning cancelled")

	// ErrDepthLimitExceeded is the cause of a timeout caused by depth pruning.
	ErrDepthLimitExceeded = errors.New("depth limit exceeded")

	// ErrNodeLimitExceeded is the cause of a timeout caused by MaxNodes.
	ErrNodeLimitExceeded = errors.New("node limit exceeded")

	// ErrTimeLimitExceeded is the cause of a timeout caused by TimeLimit.
	ErrTimeLimitExceeded = errors.New("time limit exceeded")

	// ErrInvalidRequest indicates a request without goal or actions.
	ErrInvalidRequest = errors.New("invalid search request")
)

// contextError maps a context error onto the search taxonomy: a passed
// deadline is a timeout, anything else a cancellation.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrPlanningTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
