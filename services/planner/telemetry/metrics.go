// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the planner's OTel instruments.
const MeterName = "goalplanner"

// Metrics holds the planner's OTel instruments.
//
// Description:
//
//	All instruments use the "goalplanner_" prefix. Pattern store internals
//	(operations, CAS retries, breaker state) are Prometheus collectors in
//	the patterns package; these instruments cover the request level.
//
// Thread Safety: Safe for concurrent use after creation. A nil *Metrics
// records nothing.
type Metrics struct {
	// PlansTotal counts Plan calls by mode and result.
	PlansTotal metric.Int64Counter

	// PlanDuration records Plan latency in seconds by mode.
	PlanDuration metric.Float64Histogram

	// PlanCost records the total cost of returned plans.
	PlanCost metric.Float64Histogram

	// SearchNodesExpanded counts A* expansions.
	SearchNodesExpanded metric.Int64Counter

	// OutcomesTotal counts tracked outcomes by plan mode and what was learned.
	OutcomesTotal metric.Int64Counter

	// ConfidenceDelta records the confidence change applied per outcome.
	ConfidenceDelta metric.Float64Histogram

	// ConsolidationRunsTotal counts consolidation runs by result.
	ConsolidationRunsTotal metric.Int64Counter

	// FeedbackMessagesTotal counts bus messages by subject and result.
	FeedbackMessagesTotal metric.Int64Counter
}

// NewMetrics registers the planner instruments with meter.
//
// Inputs:
//
//	meter - The OTel meter. Use otel.Meter(MeterName) after Init.
//
// Outputs:
//
//	*Metrics - The instruments.
//	error - Non-nil if registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PlansTotal, err = meter.Int64Counter(
		"goalplanner_plans_total",
		metric.WithDescription("Total Plan calls"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create plans_total: %w", err)
	}

	m.PlanDuration, err = meter.Float64Histogram(
		"goalplanner_plan_duration_seconds",
		metric.WithDescription("Plan latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create plan_duration: %w", err)
	}

	m.PlanCost, err = meter.Float64Histogram(
		"goalplanner_plan_cost",
		metric.WithDescription("Total cost of returned plans"),
		metric.WithUnit("{unit}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 20, 50, 100, 250),
	)
	if err != nil {
		return nil, fmt.Errorf("create plan_cost: %w", err)
	}

	m.SearchNodesExpanded, err = meter.Int64Counter(
		"goalplanner_search_nodes_expanded_total",
		metric.WithDescription("A* node expansions"),
		metric.WithUnit("{node}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create search_nodes_expanded: %w", err)
	}

	m.OutcomesTotal, err = meter.Int64Counter(
		"goalplanner_outcomes_total",
		metric.WithDescription("Tracked execution outcomes"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outcomes_total: %w", err)
	}

	m.ConfidenceDelta, err = meter.Float64Histogram(
		"goalplanner_confidence_delta",
		metric.WithDescription("Confidence change applied per outcome"),
		metric.WithExplicitBucketBoundaries(-0.1, -0.05, -0.01, 0, 0.01, 0.05, 0.1),
	)
	if err != nil {
		return nil, fmt.Errorf("create confidence_delta: %w", err)
	}

	m.ConsolidationRunsTotal, err = meter.Int64Counter(
		"goalplanner_consolidation_runs_total",
		metric.WithDescription("Consolidation runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create consolidation_runs_total: %w", err)
	}

	m.FeedbackMessagesTotal, err = meter.Int64Counter(
		"goalplanner_feedback_messages_total",
		metric.WithDescription("Feedback bus messages handled"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create feedback_messages_total: %w", err)
	}

	return m, nil
}

// DefaultMetrics registers the instruments with the global meter provider.
func DefaultMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

// RecordPlan records one Plan call.
func (m *Metrics) RecordPlan(ctx context.Context, mode, result string, d time.Duration, cost float64, expanded int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("result", result),
	)
	m.PlansTotal.Add(ctx, 1, attrs)
	m.PlanDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
	if result == "ok" {
		m.PlanCost.Record(ctx, cost, metric.WithAttributes(attribute.String("mode", mode)))
	}
	if expanded > 0 {
		m.SearchNodesExpanded.Add(ctx, int64(expanded))
	}
}

// RecordOutcome records one tracked outcome.
func (m *Metrics) RecordOutcome(ctx context.Context, mode, learned string, delta float64) {
	if m == nil {
		return
	}
	m.OutcomesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("learned", learned),
	))
	if learned == "updated" {
		m.ConfidenceDelta.Record(ctx, delta)
	}
}

// RecordConsolidation records one consolidation run.
func (m *Metrics) RecordConsolidation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.ConsolidationRunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFeedback records one bus message.
func (m *Metrics) RecordFeedback(ctx context.Context, subject, result string) {
	if m == nil {
		return
	}
	m.FeedbackMessagesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject", subject),
		attribute.String("result", result),
	))
}
