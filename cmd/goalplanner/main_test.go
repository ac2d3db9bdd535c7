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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/goalplanner/services/planner"
	"github.com/AleutianAI/goalplanner/services/planner/model"
	"github.com/AleutianAI/goalplanner/services/planner/patterns"
)

const deployRequestYAML = `current:
  code: ready
goal:
  deployed: true
actions:
  - id: build
    effects:
      built: true
    cost:
      base_units: 1
  - id: deploy
    preconditions:
      built: true
    effects:
      deployed: true
    cost:
      base_units: 3
    duration: 2m
`

// run executes the CLI with args against a sqlite store in dir.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	base := []string{
		"--config", filepath.Join(dir, "missing.yaml"),
		"--storage", "sqlite",
		"--storage-path", filepath.Join(dir, "patterns.db"),
		"--log-level", "error",
	}
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestCLI_PlanTrackReuse(t *testing.T) {
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "request.yaml")
	planPath := filepath.Join(dir, "plan.yaml")
	writeFile(t, reqPath, deployRequestYAML)

	out, err := run(t, dir, "plan", "-f", reqPath, "--save", planPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "search")
	assert.Contains(t, out, "build")
	assert.Contains(t, out, "plan saved to")

	var saved model.Plan
	require.NoError(t, readDocument(planPath, &saved))
	assert.Equal(t, []string{"build", "deploy"}, saved.Actions)
	assert.Equal(t, 4.0, saved.TotalCost)
	assert.Equal(t, 3*time.Minute, saved.EstimatedDuration)

	out, err = run(t, dir, "track", "--plan", planPath, "--success", "--achieved", "--actual-cost", "4")
	require.NoError(t, err, out)
	assert.Contains(t, out, "learned new pattern")

	out, err = run(t, dir, "-o", "json", "plan", "-f", reqPath)
	require.NoError(t, err, out)
	var reused model.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &reused))
	assert.Equal(t, model.ModePattern, reused.Mode)
	assert.Equal(t, saved.Actions, reused.Actions)

	out, err = run(t, dir, "-o", "json", "patterns", "list")
	require.NoError(t, err, out)
	var list []*patterns.Pattern
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, reused.SourcePatternID, list[0].ID)
	assert.InDelta(t, 0.9, list[0].Confidence, 1e-9)

	out, err = run(t, dir, "patterns", "show", list[0].ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "build → deploy")

	out, err = run(t, dir, "consolidate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "consolidation finished")

	out, err = run(t, dir, "-o", "json", "stats")
	require.NoError(t, err, out)
	var st storeStats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "sqlite", st.Backend)
	assert.Equal(t, 1, st.Patterns)
	assert.Equal(t, 1, st.Reusable)
	assert.Zero(t, st.Corrupt)
	assert.Equal(t, "closed", st.Breaker.State)

	out, err = run(t, dir, "stats")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Pattern store (sqlite)")

	_, err = run(t, dir, "patterns", "delete", list[0].ID)
	require.NoError(t, err)
	_, err = run(t, dir, "patterns", "show", list[0].ID)
	assert.ErrorIs(t, err, patterns.ErrNotFound)
}

func TestCLI_TrackOutcomeFile(t *testing.T) {
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "request.yaml")
	planPath := filepath.Join(dir, "plan.json")
	outcomePath := filepath.Join(dir, "outcome.json")
	writeFile(t, reqPath, deployRequestYAML)

	_, err := run(t, dir, "plan", "-f", reqPath, "--save", planPath)
	require.NoError(t, err)

	// a failed run of a search plan teaches nothing
	writeFile(t, outcomePath, `{"success": false, "actual_cost": 1}`)
	out, err := run(t, dir, "-o", "yaml", "track", "--plan", planPath, "--outcome", outcomePath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "learned: ignored")
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()
	unreachable := filepath.Join(dir, "unreachable.yaml")
	writeFile(t, unreachable, "goal:\n  released: true\nactions:\n  - id: noop\n")
	unknownField := filepath.Join(dir, "typo.yaml")
	writeFile(t, unknownField, "goall:\n  deployed: true\n")

	_, err := run(t, dir, "plan", "-f", unreachable)
	assert.ErrorIs(t, err, planner.ErrNoPlanFound)

	_, err = run(t, dir, "plan", "-f", unknownField)
	assert.Error(t, err)

	_, err = run(t, dir, "plan")
	assert.Error(t, err, "--file is required")

	_, err = run(t, dir, "-o", "xml", "patterns", "list")
	assert.Error(t, err)

	_, err = run(t, dir, "--storage", "etcd", "patterns", "list")
	assert.ErrorIs(t, err, planner.ErrInvalidConfig)
}

func TestDocuments_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	plan := &model.Plan{
		ID:                "p1",
		Actions:           []string{"build"},
		TotalCost:         1,
		EstimatedDuration: time.Minute,
		Mode:              model.ModeSearch,
		Goal:              model.MustState(map[string]any{"built": true}),
	}
	for _, name := range []string{"plan.yaml", "plan.json", "nested/plan.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, writeDocument(path, plan))
			var got model.Plan
			require.NoError(t, readDocument(path, &got))
			assert.Equal(t, plan.ID, got.ID)
			assert.Equal(t, plan.EstimatedDuration, got.EstimatedDuration)
			assert.True(t, got.Goal["built"].Equal(model.Bool(true)))
		})
	}
}

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goalplanner.yaml")
	writeFile(t, path, "logging:\n  level: info\n")

	var level atomic.Value
	w, err := newConfigWatcher(path, func(cfg planner.Config) {
		level.Store(cfg.Logging.Level)
	}, quietLogger())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	writeFile(t, path, "logging:\n  level: debug\n")
	assert.Eventually(t, func() bool { return level.Load() == "debug" }, 2*time.Second, 5*time.Millisecond)

	// an invalid file keeps the last good level
	writeFile(t, path, "logging:\n  level: loud\n")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "debug", level.Load())

	require.NoError(t, w.close())
}
