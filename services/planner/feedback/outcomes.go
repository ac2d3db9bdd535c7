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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/goalplanner/services/planner"
	"github.com/AleutianAI/goalplanner/services/planner/model"
	"github.com/AleutianAI/goalplanner/services/planner/telemetry"
)

const tracerName = "goalplanner.feedback"

// Feedback results recorded per message.
const (
	ResultOK          = "ok"
	ResultMalformed   = "malformed"
	ResultUnknownPlan = "unknown_plan"
	ResultInvalid     = "invalid"
	ResultError       = "error"
	ResultCoalesced   = "coalesced"
)

// OutcomeEvent is the wire form of a reported execution outcome.
type OutcomeEvent struct {
	Outcome model.ExecutionOutcome `json:"outcome"`

	// Headers carries the publisher's trace context.
	Headers map[string]string `json:"headers,omitempty"`

	SentAt time.Time `json:"sent_at"`
}

// PublishOutcome encodes outcome with the trace context of ctx and
// publishes it on subject.
func PublishOutcome(ctx context.Context, bus Messenger, subject string, outcome model.ExecutionOutcome) error {
	ev := OutcomeEvent{
		Outcome: outcome,
		Headers: telemetry.InjectToMap(ctx, nil),
		SentAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode outcome event: %w", err)
	}
	return bus.Publish(ctx, subject, data)
}

// DecodeOutcome parses one outcome message.
func DecodeOutcome(data []byte) (OutcomeEvent, error) {
	var ev OutcomeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return OutcomeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Outcome.PlanID == "" {
		return OutcomeEvent{}, fmt.Errorf("%w: missing plan id", ErrMalformedEvent)
	}
	return ev, nil
}

// Tracker resolves and learns from a reported outcome.
type Tracker interface {
	TrackExecutionByID(ctx context.Context, outcome model.ExecutionOutcome) (planner.TrackResult, error)
}

var _ Tracker = (*planner.Planner)(nil)

// ConsumerStats counts handled outcome messages.
type ConsumerStats struct {
	Received    int64 `json:"received"`
	Tracked     int64 `json:"tracked"`
	Malformed   int64 `json:"malformed"`
	UnknownPlan int64 `json:"unknown_plan"`
	Failed      int64 `json:"failed"`
}

// Option configures consumers.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
	onTrack func(planner.TrackResult, error)
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTrackHook registers fn to run after every tracked outcome.
func WithTrackHook(fn func(planner.TrackResult, error)) Option {
	return func(o *options) { o.onTrack = fn }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OutcomeConsumer feeds outcome messages from the bus into a Tracker.
//
// # Description
//
// One stream is opened on the outcome subject. Messages are handed to a
// fixed pool of workers so at most Workers outcomes are tracked at once.
// A message that cannot be decoded or names an unknown plan is logged and
// dropped; the bus is fire-and-forget and nothing is redelivered.
//
// # Thread Safety
//
// Start and Stop may be called from any goroutine. Stats is safe for
// concurrent use.
type OutcomeConsumer struct {
	bus     Messenger
	tracker Tracker
	subject string
	workers int
	opts    options

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	sub     Subscription
	wg      sync.WaitGroup

	received    atomic.Int64
	tracked     atomic.Int64
	malformed   atomic.Int64
	unknownPlan atomic.Int64
	failed      atomic.Int64
}

// NewOutcomeConsumer creates a consumer for cfg.OutcomeSubject.
func NewOutcomeConsumer(bus Messenger, tracker Tracker, cfg planner.FeedbackConfig, opts ...Option) (*OutcomeConsumer, error) {
	if bus == nil || tracker == nil {
		return nil, errors.New("outcome consumer requires a messenger and a tracker")
	}
	if cfg.OutcomeSubject == "" {
		return nil, fmt.Errorf("%w: empty outcome subject", planner.ErrInvalidConfig)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	o := buildOptions(opts)
	o.logger = o.logger.With(slog.String("component", "outcome_consumer"), slog.String("subject", cfg.OutcomeSubject))
	return &OutcomeConsumer{
		bus:     bus,
		tracker: tracker,
		subject: cfg.OutcomeSubject,
		workers: workers,
		opts:    o,
	}, nil
}

// Start subscribes and launches the workers. They run until Stop or until
// ctx is done.
func (c *OutcomeConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, c.workers*4)
	sub, err := c.bus.Stream(ctx, c.subject, ch)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	c.started = true
	c.cancel = cancel
	c.sub = sub

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.work(ctx, ch)
	}
	c.opts.logger.Info("outcome consumer started", slog.Int("workers", c.workers))
	return nil
}

// Stop unsubscribes and waits for in-flight messages to finish.
func (c *OutcomeConsumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	sub, cancel := c.sub, c.cancel
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		c.opts.logger.Warn("unsubscribe failed", slog.String("error", err.Error()))
	}
	cancel()
	c.wg.Wait()
	c.opts.logger.Info("outcome consumer stopped")
}

func (c *OutcomeConsumer) work(ctx context.Context, ch <-chan []byte) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ch:
			c.Handle(ctx, data)
		}
	}
}

// Handle processes one message and returns its result label. It is
// exported so executors sharing the process can bypass the bus.
func (c *OutcomeConsumer) Handle(ctx context.Context, data []byte) string {
	c.received.Add(1)

	ev, err := DecodeOutcome(data)
	if err != nil {
		c.malformed.Add(1)
		c.opts.logger.Warn("dropping outcome message", slog.String("error", err.Error()))
		c.opts.metrics.RecordFeedback(ctx, c.subject, ResultMalformed)
		return ResultMalformed
	}

	ctx = telemetry.ExtractFromMap(ctx, ev.Headers)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "feedback.Outcome")
	defer span.End()
	span.SetAttributes(attribute.String("plan.id", ev.Outcome.PlanID))

	res, err := c.tracker.TrackExecutionByID(ctx, ev.Outcome)
	if c.opts.onTrack != nil {
		c.opts.onTrack(res, err)
	}

	result := ResultOK
	switch {
	case err == nil:
		c.tracked.Add(1)
	case errors.Is(err, planner.ErrUnknownPlan):
		c.unknownPlan.Add(1)
		result = ResultUnknownPlan
	case errors.Is(err, model.ErrInvalidOutcome), errors.Is(err, planner.ErrInvalidRequest):
		c.failed.Add(1)
		result = ResultInvalid
	default:
		c.failed.Add(1)
		result = ResultError
	}

	logger := telemetry.LoggerWithTrace(ctx, c.opts.logger)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.Warn("outcome not tracked",
			slog.String("plan_id", ev.Outcome.PlanID),
			slog.String("result", result),
			slog.String("error", err.Error()))
	} else {
		logger.Debug("outcome tracked",
			slog.String("plan_id", ev.Outcome.PlanID),
			slog.String("learning", string(res.Learned)))
	}
	c.opts.metrics.RecordFeedback(ctx, c.subject, result)
	return result
}

// Stats returns the message counters.
func (c *OutcomeConsumer) Stats() ConsumerStats {
	return ConsumerStats{
		Received:    c.received.Load(),
		Tracked:     c.tracked.Load(),
		Malformed:   c.malformed.Load(),
		UnknownPlan: c.unknownPlan.Load(),
		Failed:      c.failed.Load(),
	}
}
