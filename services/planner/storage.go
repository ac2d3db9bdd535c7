// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/goalplanner/services/planner/patterns"
)

// OpenStore opens the pattern backend named by cfg.Storage and wraps it in
// a store configured by cfg.Patterns and cfg.Confidence.
//
// # Inputs
//
//   - ctx: Bounds opening the backend.
//   - cfg: Validated configuration.
//   - logger: Logger for the store and Badger. Nil uses slog.Default().
//
// # Outputs
//
//   - *patterns.Store: The store. It owns the backend; Close closes both.
//   - error: Non-nil if the backend cannot be opened.
func OpenStore(ctx context.Context, cfg Config, logger *slog.Logger) (*patterns.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		backend patterns.Backend
		err     error
	)
	switch cfg.Storage.Backend {
	case "", "memory":
		backend = patterns.NewMemoryBackend()
	case "badger":
		bc := cfg.Storage.Badger
		bc.Path = cfg.Storage.Path
		bc.Logger = logger.With(slog.String("component", "badger"))
		backend, err = patterns.OpenBadgerBackend(bc)
	case "sqlite":
		backend, err = patterns.OpenSQLiteBackend(ctx, cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s pattern backend: %w", cfg.Storage.Backend, err)
	}

	pc := cfg.Patterns
	pc.Confidence = cfg.Confidence
	pc.Logger = logger
	store, err := patterns.NewStore(backend, pc)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	logger.Info("pattern store opened",
		slog.String("backend", backend.Name()),
		slog.String("path", cfg.Storage.Path))
	return store, nil
}
