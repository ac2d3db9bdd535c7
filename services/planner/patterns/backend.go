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

import "context"

// ScanFunc receives each stored record during Backend.Scan. A record that
// cannot be decoded arrives with a nil pattern and an error wrapping
// ErrCorrupted. Returning an error stops the scan.
type ScanFunc func(id string, p *Pattern, err error) error

// Backend is the persistence contract of the pattern store.
//
// # Description
//
// A backend provides point lookup, unconditional put, a versioned
// compare-and-swap, deletion and a full scan. Ranking and deduplication
// happen in the Store; backends only move records.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the pattern with id, ErrNotFound, or an error wrapping
	// ErrCorrupted.
	Get(ctx context.Context, id string) (*Pattern, error)

	// Put writes p as-is, replacing any existing record.
	Put(ctx context.Context, p *Pattern) error

	// CompareAndSwap writes p with Version expected+1 if the stored version
	// is expected, and sets p.Version on success. It returns
	// ErrVersionConflict when the stored version differs and ErrNotFound
	// when no record exists.
	CompareAndSwap(ctx context.Context, p *Pattern, expected uint64) error

	// Delete removes the record, returning ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Scan visits every record in ID order.
	Scan(ctx context.Context, fn ScanFunc) error

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close releases resources. The backend is unusable afterwards.
	Close() error
}
