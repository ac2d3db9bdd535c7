// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner answers goal-planning requests.
//
// A Planner first tries to reuse a learned pattern for the request's
// context and falls back to A* search when no confident pattern adapts.
// Execution outcomes reported back through TrackExecution feed the pattern
// store, so later requests in similar contexts reuse what worked.
package planner

import (
	"errors"

	"github.com/AleutianAI/goalplanner/services/planner/search"
)

var (
	// ErrNoPlanFound indicates the goal cannot be reached with the actions.
	ErrNoPlanFound = search.ErrNoPlanFound

	// ErrPlanningTimeout indicates the time, depth or node budget ran out.
	ErrPlanningTimeout = search.ErrPlanningTimeout

	// ErrCancelled indicates the caller cancelled the request.
	ErrCancelled = search.ErrCancelled

	// ErrPatternAdaptationFailure indicates a stored pattern could not be
	// made to work for a request. The planner recovers by searching; the
	// error never reaches callers of Plan.
	ErrPatternAdaptationFailure = errors.New("pattern adaptation failed")

	// ErrUnknownPlan indicates an outcome for a plan the planner did not
	// issue or no longer remembers.
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrInvalidRequest indicates a planning request without a goal or a
	// tracking call without a plan.
	ErrInvalidRequest = errors.New("invalid planning request")

	// ErrInvalidConfig indicates a configuration that failed validation.
	ErrInvalidConfig = errors.New("invalid planner config")
)
