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
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/goalplanner/pkg/logging"
	"github.com/AleutianAI/goalplanner/pkg/ux"
	"github.com/AleutianAI/goalplanner/services/planner"
	"github.com/AleutianAI/goalplanner/services/planner/patterns"
)

// app holds the state shared by every subcommand.
type app struct {
	// flags
	configPath  string
	logLevel    string
	output      string
	storage     string
	storagePath string

	cfg     planner.Config
	logger  *logging.Logger
	printer *ux.Printer

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "goalplanner",
		Short: "Plan action sequences toward goal states and learn from how they run",
		Long: `goalplanner finds low-cost action sequences that move a world state to a
goal state. Sequences that work are remembered as patterns with a
confidence score, so similar requests are answered without searching.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", envOr("GOALPLANNER_CONFIG", "goalplanner.yaml"), "config file (YAML or JSON)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVarP(&a.output, "output", "o", "text", "output format: text, json, yaml")
	pf.StringVar(&a.storage, "storage", "", "pattern store backend: memory, badger, sqlite")
	pf.StringVar(&a.storagePath, "storage-path", "", "pattern store location for badger and sqlite")

	rootCmd.AddCommand(
		newPlanCmd(a),
		newTrackCmd(a),
		newPatternsCmd(a),
		newConsolidateCmd(a),
		newStatsCmd(a),
		newServeCmd(a),
	)
	return rootCmd
}

// setup loads configuration and builds the logger and printer.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := planner.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.storage != "" {
		cfg.Storage.Backend = a.storage
	}
	if a.storagePath != "" {
		cfg.Storage.Path = a.storagePath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	format, err := ux.ParseFormat(a.output)
	if err != nil {
		return err
	}
	a.printer = ux.NewPrinter(a.stdout, format)

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "goalplanner",
		JSON:    cfg.Logging.JSON,
		Output:  a.stderr,
	})
	a.cfg.Patterns.Logger = a.logger.Slog()
	return nil
}

func (a *app) slog() *slog.Logger { return a.logger.Slog() }

// openStore opens the configured pattern store. The returned func closes
// it.
func (a *app) openStore(ctx context.Context) (*patterns.Store, func(), error) {
	store, err := planner.OpenStore(ctx, a.cfg, a.slog())
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			a.slog().Warn("close pattern store", slog.String("error", err.Error()))
		}
	}, nil
}

// openPlanner opens the configured store and a planner over it. The
// returned func closes both.
func (a *app) openPlanner(ctx context.Context, opts ...planner.Option) (*planner.Planner, *patterns.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	opts = append([]planner.Option{planner.WithLogger(a.slog())}, opts...)
	p, err := planner.New(store, a.cfg, opts...)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	closeAll := func() {
		p.Close()
		closeStore()
	}
	return p, store, closeAll, nil
}

// warnEphemeral tells the user that nothing learned by a one-shot command
// survives it.
func (a *app) warnEphemeral() {
	if a.cfg.Storage.Backend == "memory" {
		a.printer.Warning("memory backend: learned patterns are discarded when this command exits (use --storage sqlite or badger)")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
