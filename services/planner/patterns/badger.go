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
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/goalplanner/services/planner/storage/badger"
)

// badgerKeyPrefix namespaces pattern records: "pattern:{id}".
const badgerKeyPrefix = "pattern:"

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

// BadgerBackend persists patterns in BadgerDB.
//
// # Description
//
// Each pattern is one key holding a CRC-framed JSON record.
// CompareAndSwap reads and writes inside one transaction, so Badger's
// conflict detection rejects a commit that raced another writer; that
// surfaces as ErrVersionConflict.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerBackend struct {
	db     *badgerstore.DB
	owned  bool
	closed atomic.Bool
}

var _ Backend = (*BadgerBackend)(nil)

// NewBadgerBackend wraps an open database. Close does not close db.
func NewBadgerBackend(db *badgerstore.DB) *BadgerBackend {
	return &BadgerBackend{db: db}
}

// OpenBadgerBackend opens a database with cfg and owns it.
func OpenBadgerBackend(cfg badgerstore.Config) (*BadgerBackend, error) {
	db, err := badgerstore.OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{db: db, owned: true}, nil
}

// DB exposes the underlying database.
func (b *BadgerBackend) DB() *badgerstore.DB { return b.db }

// Name implements Backend.
func (b *BadgerBackend) Name() string { return "badger" }

// Get implements Backend.
func (b *BadgerBackend) Get(ctx context.Context, id string) (*Pattern, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	var data []byte
	err := b.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", id, err)
	}
	return decodePattern(data)
}

// Put implements Backend.
func (b *BadgerBackend) Put(ctx context.Context, p *Pattern) error {
	if b.closed.Load() {
		return ErrClosed
	}
	data, err := encodePattern(p)
	if err != nil {
		return err
	}
	err = b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(badgerKey(p.ID), data)
	})
	if err != nil {
		return fmt.Errorf("badger put %s: %w", p.ID, err)
	}
	return nil
}

// CompareAndSwap implements Backend.
func (b *BadgerBackend) CompareAndSwap(ctx context.Context, p *Pattern, expected uint64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	next := p.Clone()
	next.Version = expected + 1
	data, err := encodePattern(next)
	if err != nil {
		return err
	}

	err = b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(p.ID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		stored, err := decodePattern(cur)
		if err != nil {
			return err
		}
		if stored.Version != expected {
			return ErrVersionConflict
		}
		return txn.Set(badgerKey(p.ID), data)
	})
	switch {
	case err == nil:
		p.Version = next.Version
		return nil
	case errors.Is(err, badgerstore.ErrConflict):
		return ErrVersionConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionConflict), errors.Is(err, ErrCorrupted):
		return err
	default:
		return fmt.Errorf("badger cas %s: %w", p.ID, err)
	}
}

// Delete implements Backend.
func (b *BadgerBackend) Delete(ctx context.Context, id string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(id)); err != nil {
			return err
		}
		return txn.Delete(badgerKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", id, err)
	}
	return nil
}

// Scan implements Backend.
func (b *BadgerBackend) Scan(ctx context.Context, fn ScanFunc) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.ScanPrefix(ctx, []byte(badgerKeyPrefix), func(key, value []byte) error {
		id := strings.TrimPrefix(string(key), badgerKeyPrefix)
		p, err := decodePattern(value)
		return fn(id, p, err)
	})
}

// Close implements Backend. The database is closed only if the backend
// opened it.
func (b *BadgerBackend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if b.owned {
		return b.db.Close()
	}
	return nil
}
