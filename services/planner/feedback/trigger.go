// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/goalplanner/services/planner"
	"github.com/AleutianAI/goalplanner/services/planner/consolidation"
)

// Triggerer accepts a request for an immediate consolidation pass.
type Triggerer interface {
	Trigger() bool
}

var _ Triggerer = (*consolidation.Runner)(nil)

// ConsolidationTrigger turns messages on the consolidation subject into
// Trigger calls. The payload is ignored. Requests made while a pass is
// already pending are coalesced by the runner.
type ConsolidationTrigger struct {
	bus     Messenger
	target  Triggerer
	subject string
	opts    options

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	sub     Subscription
	done    chan struct{}
}

// NewConsolidationTrigger creates a trigger for cfg.ConsolidateSubject.
func NewConsolidationTrigger(bus Messenger, target Triggerer, cfg planner.FeedbackConfig, opts ...Option) (*ConsolidationTrigger, error) {
	if bus == nil || target == nil {
		return nil, fmt.Errorf("%w: consolidation trigger requires a messenger and a target", planner.ErrInvalidConfig)
	}
	if cfg.ConsolidateSubject == "" {
		return nil, fmt.Errorf("%w: empty consolidate subject", planner.ErrInvalidConfig)
	}
	o := buildOptions(opts)
	o.logger = o.logger.With(slog.String("component", "consolidation_trigger"))
	return &ConsolidationTrigger{bus: bus, target: target, subject: cfg.ConsolidateSubject, opts: o}, nil
}

// Start subscribes and forwards requests until Stop or until ctx is done.
func (t *ConsolidationTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, 1)
	sub, err := t.bus.Stream(ctx, t.subject, ch)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", t.subject, err)
	}
	t.started, t.cancel, t.sub = true, cancel, sub
	t.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				queued := t.target.Trigger()
				t.opts.logger.Debug("consolidation requested", slog.Bool("queued", queued))
				result := ResultOK
				if !queued {
					result = ResultCoalesced
				}
				t.opts.metrics.RecordFeedback(ctx, t.subject, result)
			}
		}
	}(t.done)
	return nil
}

// Stop unsubscribes and waits for the forwarding goroutine.
func (t *ConsolidationTrigger) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	sub, cancel, done := t.sub, t.cancel, t.done
	t.mu.Unlock()

	_ = sub.Unsubscribe()
	cancel()
	<-done
}

// RequestConsolidation publishes a consolidation request on subject.
func RequestConsolidation(ctx context.Context, bus Messenger, subject string) error {
	return bus.Publish(ctx, subject, []byte("{}"))
}
