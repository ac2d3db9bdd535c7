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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/goalplanner/services/planner/confidence"
	"github.com/AleutianAI/goalplanner/services/planner/consolidation"
	"github.com/AleutianAI/goalplanner/services/planner/patterns"
	badgerstore "github.com/AleutianAI/goalplanner/services/planner/storage/badger"
	"github.com/AleutianAI/goalplanner/services/planner/telemetry"
)

// Config is the full planner configuration.
type Config struct {
	Search        SearchConfig         `json:"search" yaml:"search"`
	Patterns      patterns.Config      `json:"patterns" yaml:"patterns"`
	Confidence    confidence.Config    `json:"confidence" yaml:"confidence"`
	Learning      LearningConfig       `json:"learning" yaml:"learning"`
	Consolidation consolidation.Config `json:"consolidation" yaml:"consolidation"`
	Ledger        LedgerConfig         `json:"ledger" yaml:"ledger"`
	Storage       StorageConfig        `json:"storage" yaml:"storage"`
	Feedback      FeedbackConfig       `json:"feedback" yaml:"feedback"`
	Logging       LoggingConfig        `json:"logging" yaml:"logging"`
	Observability telemetry.Config     `json:"observability" yaml:"observability"`
}

// SearchConfig bounds planning.
type SearchConfig struct {
	// MaxSearchDepth is the longest plan search may return.
	MaxSearchDepth int `json:"max_search_depth" yaml:"max_search_depth" validate:"gte=1"`

	// Timeout bounds one Plan call, pattern lookup included.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`

	// MaxNodes bounds search expansions. Zero means unlimited.
	MaxNodes int `json:"max_nodes" yaml:"max_nodes" validate:"gte=0"`

	// DefaultActionDuration is assumed for actions without a duration.
	DefaultActionDuration time.Duration `json:"default_action_duration" yaml:"default_action_duration" validate:"gte=0"`

	// PatternMatchThreshold is the effective confidence a candidate needs
	// before the planner tries to reuse it.
	PatternMatchThreshold float64 `json:"pattern_match_threshold" yaml:"pattern_match_threshold" validate:"gte=0,lte=1"`

	// CandidateLimit is the number of candidates tried for reuse.
	CandidateLimit int `json:"candidate_limit" yaml:"candidate_limit" validate:"gte=1"`

	// MaxBridgeActions is the longest prefix search may add so a pattern's
	// first action becomes applicable. Zero disables bridging.
	MaxBridgeActions int `json:"max_bridge_actions" yaml:"max_bridge_actions" validate:"gte=0,lte=8"`

	// HintLimit is the number of candidates handed to search as heuristic
	// hints.
	HintLimit int `json:"hint_limit" yaml:"hint_limit" validate:"gte=0"`
}

// LearningConfig sets the confidence given to newly learned patterns.
type LearningConfig struct {
	// BaselineConfidence is given to a pattern whose first run cost
	// nothing like the estimate.
	BaselineConfidence float64 `json:"baseline_confidence" yaml:"baseline_confidence" validate:"gte=0,lte=1"`

	// CeilingConfidence is given to a pattern whose first run cost exactly
	// the estimate.
	CeilingConfidence float64 `json:"ceiling_confidence" yaml:"ceiling_confidence" validate:"gte=0,lte=1"`
}

// LedgerConfig sizes the issued-plan ledger.
type LedgerConfig struct {
	// MaxPlans is the number of issued plans remembered.
	MaxPlans int `json:"max_plans" yaml:"max_plans" validate:"gte=1"`

	// TTL is how long an issued plan waits for its outcome.
	TTL time.Duration `json:"ttl" yaml:"ttl" validate:"gt=0"`
}

// StorageConfig selects the pattern backend.
type StorageConfig struct {
	// Backend is "memory", "badger" or "sqlite".
	Backend string `json:"backend" yaml:"backend" validate:"oneof=memory badger sqlite"`

	// Path is the Badger directory or SQLite file.
	Path string `json:"path" yaml:"path"`

	// Badger tunes the Badger backend. Its Path is taken from Path.
	Badger badgerstore.Config `json:"badger" yaml:"badger"`
}

// FeedbackConfig configures the outcome bus.
type FeedbackConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// URL is the NATS server.
	URL string `json:"url" yaml:"url"`

	OutcomeSubject     string `json:"outcome_subject" yaml:"outcome_subject" validate:"required"`
	ConsolidateSubject string `json:"consolidate_subject" yaml:"consolidate_subject" validate:"required"`

	// Workers bounds the outcome messages handled at once.
	Workers int `json:"workers" yaml:"workers" validate:"gte=1,lte=256"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `json:"dir" yaml:"dir"`
	JSON  bool   `json:"json" yaml:"json"`
}

// DefaultSearchConfig returns depth 20, a 5s timeout, 200k nodes and a
// 0.7 reuse threshold.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxSearchDepth:        20,
		Timeout:               5 * time.Second,
		MaxNodes:              200_000,
		DefaultActionDuration: time.Minute,
		PatternMatchThreshold: 0.7,
		CandidateLimit:        5,
		MaxBridgeActions:      2,
		HintLimit:             16,
	}
}

// DefaultConfig returns the standard configuration: in-memory patterns,
// feedback bus off, hourly consolidation.
func DefaultConfig() Config {
	return Config{
		Search:     DefaultSearchConfig(),
		Patterns:   patterns.DefaultConfig(),
		Confidence: confidence.DefaultConfig(),
		Learning: LearningConfig{
			BaselineConfidence: 0.5,
			CeilingConfidence:  0.9,
		},
		Consolidation: consolidation.DefaultConfig(),
		Ledger: LedgerConfig{
			MaxPlans: 10_000,
			TTL:      24 * time.Hour,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Badger:  badgerstore.DefaultConfig(),
		},
		Feedback: FeedbackConfig{
			URL:                "nats://127.0.0.1:4222",
			OutcomeSubject:     "goalplanner.outcomes",
			ConsolidateSubject: "goalplanner.consolidate",
			Workers:            4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Observability: telemetry.DefaultConfig(),
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
//
// # Inputs
//
//   - path: YAML or JSON config file. Optional; a missing file is not an
//     error.
//
// # Outputs
//
//   - Config: The merged configuration.
//   - error: Non-nil if the file cannot be parsed or the result is invalid.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&cfg)
	cfg.Patterns.Confidence = cfg.Confidence

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(cfg *Config) {
	// Search
	if v := os.Getenv("GOALPLANNER_MAX_SEARCH_DEPTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxSearchDepth = i
		}
	}
	if v := os.Getenv("GOALPLANNER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Search.Timeout = d
		}
	}
	if v := os.Getenv("GOALPLANNER_MAX_NODES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxNodes = i
		}
	}
	if v := os.Getenv("GOALPLANNER_PATTERN_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.PatternMatchThreshold = f
		}
	}

	// Storage
	if v := os.Getenv("GOALPLANNER_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("GOALPLANNER_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	// Consolidation
	if v := os.Getenv("GOALPLANNER_CONSOLIDATION_ENABLED"); v != "" {
		cfg.Consolidation.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GOALPLANNER_CONSOLIDATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Consolidation.Interval = d
		}
	}

	// Ledger
	if v := os.Getenv("GOALPLANNER_LEDGER_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ledger.TTL = d
		}
	}

	// Feedback
	if v := os.Getenv("GOALPLANNER_FEEDBACK_ENABLED"); v != "" {
		cfg.Feedback.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GOALPLANNER_NATS_URL"); v != "" {
		cfg.Feedback.URL = v
	}

	// Logging
	if v := os.Getenv("GOALPLANNER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GOALPLANNER_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
}

var configValidate = validator.New()

// Validate checks every section and the rules that span fields.
func (c Config) Validate() error {
	sections := []struct {
		name string
		v    any
	}{
		{"search", c.Search},
		{"learning", c.Learning},
		{"ledger", c.Ledger},
		{"storage", c.Storage},
		{"feedback", c.Feedback},
		{"logging", c.Logging},
		{"observability", c.Observability},
	}
	for _, s := range sections {
		if err := configValidate.Struct(s.v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, s.name, err)
		}
	}
	if err := c.Confidence.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Patterns.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Consolidation.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Learning.BaselineConfidence > c.Learning.CeilingConfidence {
		return fmt.Errorf("%w: baseline_confidence %v above ceiling_confidence %v",
			ErrInvalidConfig, c.Learning.BaselineConfidence, c.Learning.CeilingConfidence)
	}
	if c.Storage.Backend != "memory" && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required for the %s backend", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Feedback.Enabled && c.Feedback.URL == "" {
		return fmt.Errorf("%w: feedback.url is required when feedback is enabled", ErrInvalidConfig)
	}
	return nil
}
