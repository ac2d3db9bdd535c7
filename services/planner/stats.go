// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import "sync/atomic"

// Stats is a snapshot of planning and learning counters since New.
type Stats struct {
	// PatternPlans and SearchPlans count plans returned by each mode.
	PatternPlans int64 `json:"pattern_plans"`
	SearchPlans  int64 `json:"search_plans"`

	// Failed counts requests that ended without a plan for a reason other
	// than a timeout or cancellation.
	Failed    int64 `json:"failed"`
	Timeouts  int64 `json:"timeouts"`
	Cancelled int64 `json:"cancelled"`

	// AdaptationFailures counts requests where at least one confident
	// candidate existed and none could be adapted.
	AdaptationFailures int64 `json:"adaptation_failures"`

	// DegradedMode counts requests planned without the pattern store
	// because it could not be reached.
	DegradedMode int64 `json:"degraded_mode"`

	// Learned counts search plans stored or merged as patterns, Updated
	// counts pattern plans whose outcome was applied.
	Learned int64 `json:"learned"`
	Updated int64 `json:"updated"`
	Ignored int64 `json:"ignored"`

	// TrackWarnings counts outcomes whose store write failed or conflicted.
	TrackWarnings int64 `json:"track_warnings"`

	NodesExpanded int64 `json:"nodes_expanded"`
}

// Total returns the number of planning requests answered or failed.
func (s Stats) Total() int64 {
	return s.PatternPlans + s.SearchPlans + s.Failed + s.Timeouts + s.Cancelled
}

// PatternHitRate returns the share of returned plans that reused a pattern.
func (s Stats) PatternHitRate() float64 {
	n := s.PatternPlans + s.SearchPlans
	if n == 0 {
		return 0
	}
	return float64(s.PatternPlans) / float64(n)
}

type counters struct {
	patternPlans       atomic.Int64
	searchPlans        atomic.Int64
	failed             atomic.Int64
	timeouts           atomic.Int64
	cancelled          atomic.Int64
	adaptationFailures atomic.Int64
	degradedMode       atomic.Int64
	learned            atomic.Int64
	updated            atomic.Int64
	ignored            atomic.Int64
	trackWarnings      atomic.Int64
	nodesExpanded      atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PatternPlans:       c.patternPlans.Load(),
		SearchPlans:        c.searchPlans.Load(),
		Failed:             c.failed.Load(),
		Timeouts:           c.timeouts.Load(),
		Cancelled:          c.cancelled.Load(),
		AdaptationFailures: c.adaptationFailures.Load(),
		DegradedMode:       c.degradedMode.Load(),
		Learned:            c.learned.Load(),
		Updated:            c.updated.Load(),
		Ignored:            c.ignored.Load(),
		TrackWarnings:      c.trackWarnings.Load(),
		NodesExpanded:      c.nodesExpanded.Load(),
	}
}
