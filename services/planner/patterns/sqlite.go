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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteSchema is applied on open.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS patterns (
	id          TEXT PRIMARY KEY,
	context_key TEXT NOT NULL,
	version     INTEGER NOT NULL,
	body        BLOB NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patterns_context_key ON patterns(context_key);
`

// SQLiteBackend persists patterns in a SQLite database.
//
// # Description
//
// One row per pattern. The version column is authoritative for
// CompareAndSwap, which is a single UPDATE guarded by the expected version,
// so several processes can share one database file.
//
// # Thread Safety
//
// Safe for concurrent use.
type SQLiteBackend struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLiteBackend opens (creating if needed) the database at path and
// applies the schema.
//
// # Inputs
//
//   - ctx: Bounds the open and schema setup.
//   - path: Database file, or ":memory:" for a private in-memory database.
//
// # Outputs
//
//   - *SQLiteBackend: The backend. Call Close when done.
//   - error: Non-nil if the database cannot be opened or initialised.
func OpenSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	inMemory := path == ":memory:"
	dsn := path
	if !inMemory {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("sqlite parent dir: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", translateSQLiteError(err))
	}
	if inMemory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite connection failed: %w", translateSQLiteError(err))
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", translateSQLiteError(err))
	}
	return &SQLiteBackend{db: db}, nil
}

// Name implements Backend.
func (s *SQLiteBackend) Name() string { return "sqlite" }

// Get implements Backend.
func (s *SQLiteBackend) Get(ctx context.Context, id string) (*Pattern, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM patterns WHERE id = ?`, id).Scan(&body)
	if err != nil {
		return nil, translateSQLiteError(err)
	}
	return decodePattern(body)
}

// Put implements Backend.
func (s *SQLiteBackend) Put(ctx context.Context, p *Pattern) error {
	if s.closed.Load() {
		return ErrClosed
	}
	body, err := encodePattern(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (id, context_key, version, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			context_key = excluded.context_key,
			version     = excluded.version,
			body        = excluded.body,
			updated_at  = excluded.updated_at`,
		p.ID, p.Context.Key(), int64(p.Version), body, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite put %s: %w", p.ID, translateSQLiteError(err))
	}
	return nil
}

// CompareAndSwap implements Backend.
func (s *SQLiteBackend) CompareAndSwap(ctx context.Context, p *Pattern, expected uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	next := p.Clone()
	next.Version = expected + 1
	body, err := encodePattern(next)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE patterns
		SET context_key = ?, version = ?, body = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		next.Context.Key(), int64(next.Version), body, time.Now().UnixNano(), p.ID, int64(expected))
	if err != nil {
		return fmt.Errorf("sqlite cas %s: %w", p.ID, translateSQLiteError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite cas %s: %w", p.ID, translateSQLiteError(err))
	}
	if n == 1 {
		p.Version = next.Version
		return nil
	}

	var stored int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM patterns WHERE id = ?`, p.ID).Scan(&stored)
	if err != nil {
		return translateSQLiteError(err)
	}
	return ErrVersionConflict
}

// Delete implements Backend.
func (s *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite delete %s: %w", id, translateSQLiteError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translateSQLiteError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Scan implements Backend. Rows are read fully before fn is called so fn
// may use the backend.
func (s *SQLiteBackend) Scan(ctx context.Context, fn ScanFunc) error {
	if s.closed.Load() {
		return ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, body FROM patterns ORDER BY id`)
	if err != nil {
		return fmt.Errorf("sqlite scan: %w", translateSQLiteError(err))
	}
	type row struct {
		id   string
		body []byte
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.body); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite scan: %w", translateSQLiteError(err))
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("sqlite scan: %w", translateSQLiteError(err))
	}
	rows.Close()

	for _, r := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := decodePattern(r.body)
		if err := fn(r.id, p, err); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}

// translateSQLiteError maps driver errors onto package errors. Lock
// contention becomes ErrBackendBusy; ErrVersionConflict is reserved for a
// CompareAndSwap whose version guard matched no row.
func translateSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if msg := err.Error(); strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", ErrBackendBusy, err)
	}
	return fmt.Errorf("sqlite error: %w", err)
}
