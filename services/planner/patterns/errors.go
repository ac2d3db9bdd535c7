// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patterns stores learned action sequences and serves them back to
// the planner.
//
// A Store deduplicates on write, ranks candidates by similarity and
// confidence on read, serializes updates per pattern and runs consolidation
// in bounded batches. Persistence is delegated to a Backend: in memory,
// BadgerDB or SQLite.
package patterns

import "errors"

var (
	// ErrNotFound indicates no pattern exists with the requested ID.
	ErrNotFound = errors.New("pattern not found")

	// ErrVersionConflict indicates a compare-and-swap lost to another writer.
	ErrVersionConflict = errors.New("pattern version conflict")

	// ErrBackendBusy indicates the backend rejected a call because another
	// connection holds its lock. It is transient and counts as a backend
	// failure, unlike ErrVersionConflict.
	ErrBackendBusy = errors.New("pattern backend busy")

	// ErrCorrupted indicates a stored record that could not be decoded or
	// failed validation.
	ErrCorrupted = errors.New("pattern record corrupted")

	// ErrInvalidPattern indicates a pattern that violates its invariants.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrEmptySequence indicates a pattern without actions.
	ErrEmptySequence = errors.New("pattern has an empty action sequence")

	// ErrStoreUnavailable indicates the backend cannot be reached. The
	// planner treats it as "no patterns available".
	ErrStoreUnavailable = errors.New("pattern store unavailable")

	// ErrConfidenceUpdateConflict is a non-fatal warning: concurrent writers
	// kept winning, so the update was applied without a version check.
	ErrConfidenceUpdateConflict = errors.New("confidence update conflict")

	// ErrCircuitOpen indicates the backend circuit breaker rejected a call.
	ErrCircuitOpen = errors.New("pattern store circuit open")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("pattern backend closed")
)
