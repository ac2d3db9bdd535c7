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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/goalplanner/services/planner/telemetry"
)

const tracerName = "goalplanner.planner"

// stage names the planning state machine's states. Every transition is
// added to the request span as an event and logged at debug.
type stage string

const (
	stagePatternLookup    stage = "pattern_lookup"
	stageNoCandidate      stage = "no_candidate"
	stagePatternAdaptOK   stage = "pattern_adapt_ok"
	stagePatternAdaptFail stage = "pattern_adapt_fail"
	stageSearch           stage = "search"
	stageFound            stage = "found"
	stageExhausted        stage = "exhausted"
	stageTimeout          stage = "timeout"
	stageDone             stage = "done"
	stageFailed           stage = "failed"
)

func (p *Planner) transition(ctx context.Context, span trace.Span, to stage, attrs ...attribute.KeyValue) {
	telemetry.AddSpanEvent(span, "planner."+string(to), attrs...)
	if !p.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("stage", string(to)))
	for _, a := range attrs {
		args = append(args, slog.Any(string(a.Key), a.Value.AsInterface()))
	}
	telemetry.LoggerWithTrace(ctx, p.logger).DebugContext(ctx, "planner state transition", args...)
}

// resultLabel maps a Plan error onto a low-cardinality metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPlanningTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrNoPlanFound):
		return "no_plan"
	default:
		return "invalid"
	}
}

// contextError maps a context error onto the planning taxonomy: a passed
// deadline is a timeout, anything else a cancellation.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrPlanningTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

func (p *Planner) countFailure(err error) {
	switch {
	case errors.Is(err, ErrPlanningTimeout):
		p.stats.timeouts.Add(1)
	case errors.Is(err, ErrCancelled):
		p.stats.cancelled.Add(1)
	default:
		p.stats.failed.Add(1)
	}
}
