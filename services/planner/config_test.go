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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/goalplanner/services/planner/model"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 20, cfg.Search.MaxSearchDepth)
	assert.Equal(t, 5*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 0.7, cfg.Search.PatternMatchThreshold)
	assert.Equal(t, 2, cfg.Search.MaxBridgeActions)
	assert.Equal(t, 0.5, cfg.Learning.BaselineConfidence)
	assert.Equal(t, 0.9, cfg.Learning.CeilingConfidence)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.False(t, cfg.Feedback.Enabled)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Search, cfg.Search)
	assert.Equal(t, cfg.Confidence, cfg.Patterns.Confidence)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goalplanner.yaml")
	data := `
search:
  max_search_depth: 12
  timeout: 750ms
  pattern_match_threshold: 0.8
confidence:
  learning_rate: 0.2
storage:
  backend: sqlite
  path: /var/lib/goalplanner/patterns.db
consolidation:
  enabled: true
  interval: 15m
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Search.MaxSearchDepth)
	assert.Equal(t, 750*time.Millisecond, cfg.Search.Timeout)
	assert.Equal(t, 0.8, cfg.Search.PatternMatchThreshold)
	assert.Equal(t, 0.2, cfg.Confidence.LearningRate)
	assert.Equal(t, 0.2, cfg.Patterns.Confidence.LearningRate)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.True(t, cfg.Consolidation.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Consolidation.Interval)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// untouched sections keep their defaults
	assert.Equal(t, DefaultConfig().Ledger, cfg.Ledger)
	assert.Equal(t, 200_000, cfg.Search.MaxNodes)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goalplanner.json")
	data := `{"search": {"max_search_depth": 7, "candidate_limit": 3}, "ledger": {"max_plans": 50}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.MaxSearchDepth)
	assert.Equal(t, 3, cfg.Search.CandidateLimit)
	assert.Equal(t, 50, cfg.Ledger.MaxPlans)
}

func TestLoadConfig_Unparseable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goalplanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  max_search_depth: 12\n"), 0o600))

	t.Setenv("GOALPLANNER_MAX_SEARCH_DEPTH", "30")
	t.Setenv("GOALPLANNER_TIMEOUT", "2s")
	t.Setenv("GOALPLANNER_STORAGE_BACKEND", "badger")
	t.Setenv("GOALPLANNER_STORAGE_PATH", "/tmp/patterns")
	t.Setenv("GOALPLANNER_FEEDBACK_ENABLED", "1")
	t.Setenv("GOALPLANNER_NATS_URL", "nats://bus:4222")
	t.Setenv("GOALPLANNER_LOG_LEVEL", "warn")
	t.Setenv("GOALPLANNER_PATTERN_MATCH_THRESHOLD", "not-a-number")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Search.MaxSearchDepth)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeout)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/patterns", cfg.Storage.Path)
	assert.True(t, cfg.Feedback.Enabled)
	assert.Equal(t, "nats://bus:4222", cfg.Feedback.URL)
	assert.Equal(t, "warn", cfg.Logging.Level)
	// malformed values are ignored
	assert.Equal(t, 0.7, cfg.Search.PatternMatchThreshold)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "zero depth", modify: func(c *Config) { c.Search.MaxSearchDepth = 0 }},
		{name: "zero timeout", modify: func(c *Config) { c.Search.Timeout = 0 }},
		{name: "threshold above one", modify: func(c *Config) { c.Search.PatternMatchThreshold = 1.5 }},
		{name: "baseline above ceiling", modify: func(c *Config) { c.Learning.BaselineConfidence = 0.95 }},
		{name: "unknown backend", modify: func(c *Config) { c.Storage.Backend = "postgres" }},
		{name: "badger without path", modify: func(c *Config) { c.Storage.Backend = "badger" }},
		{name: "feedback without url", modify: func(c *Config) {
			c.Feedback.Enabled = true
			c.Feedback.URL = ""
		}},
		{name: "bad log level", modify: func(c *Config) { c.Logging.Level = "verbose" }},
		{name: "bad confidence", modify: func(c *Config) { c.Confidence.MaxDelta = 0 }},
		{name: "bad store", modify: func(c *Config) { c.Patterns.CASAttempts = 0 }},
		{name: "bad consolidation", modify: func(c *Config) { c.Consolidation.Concurrency = 0 }},
		{name: "bad observability", modify: func(c *Config) { c.Observability.TraceExporter = "zipkin" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			cfg.Patterns.Confidence = cfg.Confidence
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config, string)
	}{
		{name: "memory", modify: func(*Config, string) {}},
		{name: "sqlite", modify: func(c *Config, dir string) {
			c.Storage.Backend = "sqlite"
			c.Storage.Path = filepath.Join(dir, "patterns.db")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg, t.TempDir())
			require.NoError(t, cfg.Validate())

			store, err := OpenStore(context.Background(), cfg, quietLogger())
			require.NoError(t, err)
			defer store.Close()

			p := newTestPlanner(t, store)
			plan, err := p.Plan(context.Background(), deployRequest())
			require.NoError(t, err)
			res, err := p.TrackExecution(context.Background(), plan, exactOutcome(plan))
			require.NoError(t, err)
			assert.Equal(t, LearningLearned, res.Learned)

			again, err := p.Plan(context.Background(), deployRequest())
			require.NoError(t, err)
			assert.Equal(t, model.ModePattern, again.Mode)
		})
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = "etcd"
	_, err := OpenStore(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
