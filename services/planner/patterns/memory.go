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
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps encoded records in a map.
//
// Records are stored in their encoded form, so readers always receive
// private copies and the same corruption handling applies as on disk.
//
// Thread Safety: Safe for concurrent use.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
	closed  bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, id string) (*Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.records[id]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, ErrNotFound
	}
	return decodePattern(data)
}

// Put implements Backend.
func (m *MemoryBackend) Put(ctx context.Context, p *Pattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodePattern(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[p.ID] = data
	return nil
}

// CompareAndSwap implements Backend.
func (m *MemoryBackend) CompareAndSwap(ctx context.Context, p *Pattern, expected uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := p.Clone()
	next.Version = expected + 1
	data, err := encodePattern(next)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cur, ok := m.records[p.ID]
	if !ok {
		return ErrNotFound
	}
	stored, err := decodePattern(cur)
	if err != nil {
		return err
	}
	if stored.Version != expected {
		return ErrVersionConflict
	}
	m.records[p.ID] = data
	p.Version = next.Version
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// Scan implements Backend. It works on a snapshot taken under the read lock.
func (m *MemoryBackend) Scan(ctx context.Context, fn ScanFunc) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	ids := make([]string, 0, len(m.records))
	snapshot := make(map[string][]byte, len(m.records))
	for id, data := range m.records {
		ids = append(ids, id)
		snapshot[id] = data
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := decodePattern(snapshot[id])
		if err := fn(id, p, err); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.records = nil
	return nil
}
