// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/goalplanner/services/planner"
	"github.com/AleutianAI/goalplanner/services/planner/patterns"
)

// storeStats summarises the pattern database for operators.
type storeStats struct {
	Backend  string                `json:"backend"`
	Records  int                   `json:"records"`
	Patterns int                   `json:"patterns"`
	Corrupt  int                   `json:"corrupt"`
	Degraded int                   `json:"degraded"`
	Reusable int                   `json:"reusable"`
	Breaker  patterns.BreakerStats `json:"breaker"`
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the pattern store",
		Long: `Counts stored records, readable and corrupted patterns, degraded patterns
and patterns whose effective confidence clears the match threshold, and
shows the store circuit breaker state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeAll, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()

			st, err := collectStoreStats(cmd.Context(), store, a.cfg, time.Now())
			if err != nil {
				return err
			}
			return renderStoreStats(a.printer, st)
		},
	}
}

func collectStoreStats(ctx context.Context, store *patterns.Store, cfg planner.Config, now time.Time) (storeStats, error) {
	st := storeStats{Backend: store.Backend().Name()}
	ids, err := store.IDs(ctx)
	if err != nil {
		return st, err
	}
	list, err := store.List(ctx)
	if err != nil {
		return st, err
	}
	st.Records = len(ids)
	st.Patterns = len(list)
	st.Corrupt = st.Records - st.Patterns
	for _, p := range list {
		if p.Degraded {
			st.Degraded++
		}
		if p.EffectiveConfidence(now, cfg.Confidence) >= cfg.Search.PatternMatchThreshold {
			st.Reusable++
		}
	}
	st.Breaker = store.BreakerStats()
	return st, nil
}
