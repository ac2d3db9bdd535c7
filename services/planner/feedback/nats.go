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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSOptions configures the NATS connection.
type NATSOptions struct {
	// Name identifies the client to the server.
	Name string

	// Queue, when set, makes every Stream a queue subscription so several
	// planner replicas share the outcome load.
	Queue string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	Logger *slog.Logger
}

// DefaultNATSOptions returns reconnect-forever options.
func DefaultNATSOptions() NATSOptions {
	return NATSOptions{
		Name:          "goalplanner",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATS is a Messenger backed by a NATS connection.
//
// # Thread Safety
//
// Safe for concurrent use.
type NATS struct {
	nc     *nats.Conn
	queue  string
	logger *slog.Logger

	mu   sync.Mutex
	subs []*natsSubscription
}

var _ Messenger = (*NATS)(nil)

// ConnectNATS dials url.
//
// # Inputs
//
//   - url: Server URL, e.g. "nats://127.0.0.1:4222".
//   - opts: Connection options. Zero fields take their defaults.
//
// # Outputs
//
//   - *NATS: The connected messenger. Call Close when done.
//   - error: Non-nil if the first connection attempt fails.
func ConnectNATS(url string, opts NATSOptions) (*NATS, error) {
	def := DefaultNATSOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = def.ReconnectWait
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = def.MaxReconnects
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "nats"))

	nc, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.Timeout(opts.Timeout),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{slog.String("error", err.Error())}
			if sub != nil {
				attrs = append(attrs, slog.String("subject", sub.Subject))
			}
			logger.Error("nats async error", attrs...)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	logger.Info("nats connected", slog.String("url", nc.ConnectedUrl()))
	return &NATS{nc: nc, queue: opts.Queue, logger: logger}, nil
}

// Publish implements Messenger.
func (n *NATS) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.nc.Publish(subject, data); err != nil {
		return translateNATSError(err)
	}
	return nil
}

// Stream implements Messenger. A message that arrives while ch is full
// waits until ch has room or ctx is done, which applies backpressure to
// the subscription's pending buffer rather than the publisher.
func (n *NATS) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	handler := func(m *nats.Msg) {
		select {
		case ch <- m.Data:
		case <-ctx.Done():
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if n.queue != "" {
		sub, err = n.nc.QueueSubscribe(subject, n.queue, handler)
	} else {
		sub, err = n.nc.Subscribe(subject, handler)
	}
	if err != nil {
		return nil, translateNATSError(err)
	}

	s := &natsSubscription{sub: sub, done: make(chan struct{})}
	n.mu.Lock()
	n.subs = append(n.subs, s)
	n.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
		case <-s.done:
		}
	}()
	return s, nil
}

// Close unsubscribes every stream and closes the connection.
func (n *NATS) Close() error {
	if n.nc.IsClosed() {
		return ErrConnectionClosed
	}
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	n.nc.Close()
	return nil
}

type natsSubscription struct {
	sub  *nats.Subscription
	once sync.Once
	done chan struct{}
	err  error
}

func (s *natsSubscription) Unsubscribe() error {
	s.once.Do(func() {
		if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			s.err = translateNATSError(err)
		}
		close(s.done)
	})
	return s.err
}

func translateNATSError(err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("nats: %w", err)
}
