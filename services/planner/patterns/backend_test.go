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
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/goalplanner/services/planner/model"
	badgerstore "github.com/AleutianAI/goalplanner/services/planner/storage/badger"
)

// rawWriter is implemented by the test helpers that plant damaged records.
type rawWriter func(t *testing.T, id string, data []byte)

type backendCase struct {
	name string
	open func(t *testing.T) (Backend, rawWriter)
}

func backendCases() []backendCase {
	return []backendCase{
		{
			name: "memory",
			open: func(t *testing.T) (Backend, rawWriter) {
				b := NewMemoryBackend()
				return b, func(t *testing.T, id string, data []byte) { putRawMemory(b, id, data) }
			},
		},
		{
			name: "badger",
			open: func(t *testing.T) (Backend, rawWriter) {
				db, err := badgerstore.OpenInMemory()
				require.NoError(t, err)
				t.Cleanup(func() { _ = db.Close() })
				b := NewBadgerBackend(db)
				return b, func(t *testing.T, id string, data []byte) {
					require.NoError(t, putRawBadger(context.Background(), b, id, data))
				}
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) (Backend, rawWriter) {
				b, err := OpenSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "patterns.db"))
				require.NoError(t, err)
				return b, func(t *testing.T, id string, data []byte) {
					require.NoError(t, putRawSQLite(context.Background(), b, id, data))
				}
			},
		},
	}
}

// The putRaw helpers write bytes under id without encoding, planting
// damaged records.

func putRawMemory(m *MemoryBackend, id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = append([]byte(nil), data...)
}

func putRawBadger(ctx context.Context, b *BadgerBackend, id string, data []byte) error {
	return b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(badgerKey(id), data)
	})
}

func putRawSQLite(ctx context.Context, s *SQLiteBackend, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO patterns (id, context_key, version, body, updated_at) VALUES (?, '', 0, ?, 0)`,
		id, data)
	return translateSQLiteError(err)
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testContext(goal map[string]any, state map[string]any) model.Context {
	return model.Context{
		Goal:  model.MustState(goal).Features(),
		State: model.MustState(state).Features(),
	}
}

func deployContext() model.Context {
	return testContext(map[string]any{"deployed": true}, map[string]any{"code": "ready"})
}

func testPattern(id string, ctx model.Context, conf float64, actions ...string) *Pattern {
	p := NewPattern(ctx, actions, 4, 4, conf, testEpoch)
	p.ID = id
	p.Version = 1
	return p
}

func TestBackendContract(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b, raw := tc.open(t)
			defer b.Close()

			_, err := b.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			p := testPattern("p1", deployContext(), 0.8, "build", "deploy")
			require.NoError(t, b.Put(ctx, p))

			got, err := b.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, []string{"build", "deploy"}, got.Actions)
			assert.Equal(t, uint64(1), got.Version)
			assert.True(t, got.Context.Equal(p.Context))
			assert.True(t, got.CreatedAt.Equal(testEpoch))

			next := got.Clone()
			next.UsageCount++
			require.NoError(t, b.CompareAndSwap(ctx, next, 1))
			assert.Equal(t, uint64(2), next.Version)

			stale := got.Clone()
			stale.UsageCount += 10
			assert.ErrorIs(t, b.CompareAndSwap(ctx, stale, 1), ErrVersionConflict)

			ghost := testPattern("ghost", deployContext(), 0.5, "x")
			assert.ErrorIs(t, b.CompareAndSwap(ctx, ghost, 1), ErrNotFound)

			got, err = b.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, 2, got.UsageCount)
			assert.Equal(t, uint64(2), got.Version)

			require.NoError(t, b.Put(ctx, testPattern("p0", deployContext(), 0.4, "deploy")))
			raw(t, "p5", []byte("not a record"))

			var ids []string
			var corrupt []string
			require.NoError(t, b.Scan(ctx, func(id string, p *Pattern, err error) error {
				ids = append(ids, id)
				if err != nil {
					assert.ErrorIs(t, err, ErrCorrupted)
					assert.Nil(t, p)
					corrupt = append(corrupt, id)
				}
				return nil
			}))
			assert.Equal(t, []string{"p0", "p1", "p5"}, ids)
			assert.Equal(t, []string{"p5"}, corrupt)

			_, err = b.Get(ctx, "p5")
			assert.ErrorIs(t, err, ErrCorrupted)

			require.NoError(t, b.Delete(ctx, "p1"))
			assert.ErrorIs(t, b.Delete(ctx, "p1"), ErrNotFound)
			_, err = b.Get(ctx, "p1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackendClose(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			b, _ := tc.open(t)
			require.NoError(t, b.Close())
			assert.ErrorIs(t, b.Close(), ErrClosed)
			_, err := b.Get(context.Background(), "p1")
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestCodec_DetectsDamage(t *testing.T) {
	p := testPattern("p1", deployContext(), 0.8, "build")
	data, err := encodePattern(p)
	require.NoError(t, err)

	decoded, err := decodePattern(data)
	require.NoError(t, err)
	assert.Equal(t, "p1", decoded.ID)

	tests := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:3] }},
		{"format", func(b []byte) []byte { b[0] = 9; return b }},
		{"checksum", func(b []byte) []byte { b[len(b)-2] ^= 0xff; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := append([]byte(nil), data...)
			_, err := decodePattern(tt.mangle(cp))
			assert.ErrorIs(t, err, ErrCorrupted)
		})
	}

	t.Run("invariant", func(t *testing.T) {
		bad := p.Clone()
		bad.SuccessCount = bad.UsageCount + 1
		data, err := encodePattern(bad)
		require.NoError(t, err)
		_, err = decodePattern(data)
		assert.ErrorIs(t, err, ErrCorrupted)
	})
}

func TestTranslateSQLiteError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"locked", errors.New("database is locked (5) (SQLITE_BUSY)"), ErrBackendBusy},
		{"busy", errors.New("sqlite: step: SQLITE_BUSY"), ErrBackendBusy},
		{"cancelled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateSQLiteError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.NotErrorIs(t, got, ErrVersionConflict)
		})
	}
	assert.NoError(t, translateSQLiteError(nil))
}
