// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback carries execution outcomes and consolidation requests
// to the planner over a message bus.
//
// Executors publish an OutcomeEvent on the outcome subject once a plan has
// run; an OutcomeConsumer resolves the plan from the planner's ledger and
// learns from it. Any message on the consolidation subject asks the
// background consolidation runner for an immediate pass.
//
// Two Messenger implementations are provided: InMem for single-process use
// and tests, and NATS for a shared bus.
package feedback

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrConnectionClosed indicates the messenger has been closed.
	ErrConnectionClosed = errors.New("messenger connection closed")

	// ErrMalformedEvent indicates a message that could not be decoded.
	ErrMalformedEvent = errors.New("malformed feedback event")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("consumer already started")
)

// Messenger is a fire-and-forget publish/subscribe bus.
type Messenger interface {
	// Publish sends data to every current subscriber of subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Stream delivers every message on subject to ch until ctx is done or
	// the subscription is removed.
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)

	// Close releases the connection. Later calls fail with
	// ErrConnectionClosed.
	Close() error
}

// Subscription is an active Stream.
type Subscription interface {
	Unsubscribe() error
}

// InMem is an in-process Messenger. Publish blocks until every subscriber
// channel accepted the message or ctx is done.
//
// Thread Safety: Safe for concurrent use.
type InMem struct {
	mu      sync.RWMutex
	closed  bool
	streams map[string][]chan<- []byte
}

var _ Messenger = (*InMem)(nil)

// NewInMem returns an empty in-process messenger.
func NewInMem() *InMem {
	return &InMem{streams: make(map[string][]chan<- []byte)}
}

// Publish implements Messenger.
func (m *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrConnectionClosed
	}
	subs := make([]chan<- []byte, len(m.streams[subject]))
	copy(subs, m.streams[subject])
	m.mu.RUnlock()

	for _, ch := range subs {
		msg := append([]byte(nil), data...)
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stream implements Messenger. The subscription is removed when ctx is
// done.
func (m *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	m.streams[subject] = append(m.streams[subject], ch)
	sub := &inmemSubscription{subject: subject, ch: ch, m: m, done: make(chan struct{})}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Subscribers returns the number of streams on subject.
func (m *InMem) Subscribers(subject string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[subject])
}

// Close implements Messenger.
func (m *InMem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrConnectionClosed
	}
	m.closed = true
	m.streams = make(map[string][]chan<- []byte)
	return nil
}

type inmemSubscription struct {
	subject string
	ch      chan<- []byte
	m       *InMem
	once    sync.Once
	done    chan struct{}
}

func (s *inmemSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.m.mu.Lock()
		subs := s.m.streams[s.subject]
		for i, c := range subs {
			if c == s.ch {
				s.m.streams[s.subject] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		s.m.mu.Unlock()
		close(s.done)
	})
	return nil
}
