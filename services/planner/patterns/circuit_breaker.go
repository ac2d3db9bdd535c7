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
	"sync"
	"time"
)

// CircuitState is the state of the backend circuit breaker.
type CircuitState int

const (
	// CircuitClosed passes every call through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until OpenDuration has passed.
	CircuitOpen
	// CircuitHalfOpen lets a few probe calls through.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the backend circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failures that open the circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" validate:"gte=1"`

	// SuccessThreshold is the probe successes that close it again.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold" validate:"gte=1"`

	// OpenDuration is how long the circuit stays open before probing.
	OpenDuration time.Duration `json:"open_duration" yaml:"open_duration" validate:"gt=0"`

	// HalfOpenMax is the number of concurrent probes allowed.
	HalfOpenMax int `json:"half_open_max" yaml:"half_open_max" validate:"gte=1"`
}

// DefaultBreakerConfig returns 3 failures to open, 2 successes to close,
// a 30s open period and a single probe.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
		HalfOpenMax:      1,
	}
}

// BreakerStats is a snapshot of breaker counters.
type BreakerStats struct {
	State           string    `json:"state"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	CurrentFailures int       `json:"current_failures"`
	LastStateChange time.Time `json:"last_state_change"`
}

// Breaker keeps an unreachable backend from stalling planning.
//
// After FailureThreshold consecutive backend failures every store call
// fails fast with ErrStoreUnavailable, so the planner drops to pure search
// without waiting on I/O. After OpenDuration one probe is let through.
//
// Thread Safety: Safe for concurrent use.
type Breaker struct {
	config   BreakerConfig
	now      func() time.Time
	onChange func(CircuitState)

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastStateChange time.Time
	halfOpenActive  int

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// NewBreaker creates a closed breaker. onChange, when non-nil, is called
// with the new state after every transition, outside the breaker lock.
func NewBreaker(config BreakerConfig, onChange func(CircuitState)) *Breaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = def.OpenDuration
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &Breaker{
		config:          config,
		now:             time.Now,
		onChange:        onChange,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. A non-nil release must be
// called when a half-open probe finishes.
func (b *Breaker) Allow() (bool, func()) {
	b.mu.Lock()
	b.totalCalls++

	switch b.state {
	case CircuitClosed:
		b.mu.Unlock()
		return true, nil

	case CircuitOpen:
		if b.now().Sub(b.lastStateChange) > b.config.OpenDuration {
			b.transitionTo(CircuitHalfOpen)
			ok, release := b.tryHalfOpen()
			b.mu.Unlock()
			b.notify(CircuitHalfOpen)
			return ok, release
		}
		b.totalRejections++
		b.mu.Unlock()
		return false, nil

	default:
		ok, release := b.tryHalfOpen()
		b.mu.Unlock()
		return ok, release
	}
}

// tryHalfOpen admits a probe if capacity remains. Caller holds b.mu.
func (b *Breaker) tryHalfOpen() (bool, func()) {
	if b.halfOpenActive >= b.config.HalfOpenMax {
		b.totalRejections++
		return false, nil
	}
	b.halfOpenActive++
	var once sync.Once
	return true, func() {
		once.Do(func() {
			b.mu.Lock()
			if b.halfOpenActive > 0 {
				b.halfOpenActive--
			}
			b.mu.Unlock()
		})
	}
}

// RecordSuccess records a call that reached the backend.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	changed := false
	if b.state == CircuitHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(CircuitClosed)
			changed = true
		}
	}
	b.mu.Unlock()
	if changed {
		b.notify(CircuitClosed)
	}
}

// RecordFailure records a call that could not reach the backend.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.totalFailures++
	b.failures++
	b.successes = 0
	changed := false
	switch b.state {
	case CircuitClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen)
			changed = true
		}
	case CircuitHalfOpen:
		b.transitionTo(CircuitOpen)
		changed = true
	}
	b.mu.Unlock()
	if changed {
		b.notify(CircuitOpen)
	}
}

// transitionTo changes state. Caller holds b.mu.
func (b *Breaker) transitionTo(s CircuitState) {
	b.state = s
	b.lastStateChange = b.now()
	b.failures = 0
	b.successes = 0
	if s != CircuitHalfOpen {
		b.halfOpenActive = 0
	}
}

func (b *Breaker) notify(s CircuitState) {
	if b.onChange != nil {
		b.onChange(s)
	}
}

// Stats returns a counter snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           b.state.String(),
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		CurrentFailures: b.failures,
		LastStateChange: b.lastStateChange,
	}
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state = CircuitClosed
	b.failures = 0
	b.successes = 0
	b.halfOpenActive = 0
	b.lastStateChange = b.now()
	b.mu.Unlock()
	b.notify(CircuitClosed)
}
