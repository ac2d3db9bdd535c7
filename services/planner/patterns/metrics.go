// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeOpsTotal counts store operations by operation and result
	storeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goalplanner_pattern_store_ops_total",
		Help: "Total pattern store operations by operation and result",
	}, []string{"operation", "result"})

	// storeOpDuration tracks store operation latency
	storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goalplanner_pattern_store_op_duration_seconds",
		Help:    "Pattern store operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"operation"})

	// casRetriesTotal counts compare-and-swap retries after a version conflict
	casRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalplanner_pattern_cas_retries_total",
		Help: "Total compare-and-swap retries on pattern version conflicts",
	})

	// corruptRecordsTotal counts records skipped because they failed to decode
	corruptRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalplanner_pattern_corrupt_records_total",
		Help: "Total pattern records skipped as corrupted",
	})

	// candidatesReturned tracks the candidate count per lookup
	candidatesReturned = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goalplanner_pattern_candidates",
		Help:    "Number of candidates returned per lookup",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// indexedPatterns is the number of patterns in the candidate index
	indexedPatterns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goalplanner_pattern_index_size",
		Help: "Number of patterns held in the candidate index",
	})

	// breakerState is 0 closed, 1 open, 2 half-open
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goalplanner_pattern_store_circuit_state",
		Help: "Pattern store circuit breaker state (0 closed, 1 open, 2 half-open)",
	})

	// consolidationActions counts consolidation outcomes by action
	consolidationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goalplanner_pattern_consolidation_total",
		Help: "Total consolidation actions by action (merged, pruned, skipped)",
	}, []string{"action"})
)

// resultLabel maps an error onto a low-cardinality metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isNotFound(err):
		return "not_found"
	case isConflict(err):
		return "conflict"
	case isCorrupt(err):
		return "corrupt"
	default:
		return "error"
	}
}
