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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/goalplanner/pkg/logging"
	"github.com/AleutianAI/goalplanner/services/planner"
	"github.com/AleutianAI/goalplanner/services/planner/api"
	"github.com/AleutianAI/goalplanner/services/planner/consolidation"
	"github.com/AleutianAI/goalplanner/services/planner/feedback"
	"github.com/AleutianAI/goalplanner/services/planner/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the planner as a long-lived service",
		Long: `Serves the planning API over HTTP, exposes Prometheus metrics on /metrics,
runs background consolidation, and, when feedback is enabled, learns from
outcomes published on NATS. The log level follows edits to the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("GOALPLANNER_ADDR", ":8085"), "HTTP listen address")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string) error {
	logger := a.slog()

	shutdownTelemetry, err := telemetry.Init(ctx, a.cfg.Observability)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()
	metrics, err := telemetry.DefaultMetrics()
	if err != nil {
		return err
	}

	p, store, closeAll, err := a.openPlanner(ctx, planner.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer closeAll()

	runner, err := consolidation.NewRunner(store, a.cfg.Consolidation,
		consolidation.WithLogger(logger), consolidation.WithMetrics(metrics))
	if err != nil {
		return err
	}
	runner.Start(ctx)
	defer runner.Stop()

	var consumer *feedback.OutcomeConsumer
	if a.cfg.Feedback.Enabled {
		stopFeedback, c, err := a.startFeedback(ctx, p, runner, metrics)
		if err != nil {
			return err
		}
		defer stopFeedback()
		consumer = c
	}

	if watcher, err := newConfigWatcher(a.configPath, a.applyReload, logger); err != nil {
		logger.Warn("config reload disabled", slog.String("error", err.Error()))
	} else {
		go watcher.run(ctx)
		defer watcher.close()
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(a.cfg.Observability.ServiceName, api.Service{
		Planner:      p,
		Patterns:     store,
		Consolidator: runner,
		Extra: func() map[string]any {
			if consumer == nil {
				return nil
			}
			return map[string]any{"feedback": consumer.Stats()}
		},
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("planner service listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// startFeedback connects to NATS and starts the outcome consumer and the
// consolidation trigger.
func (a *app) startFeedback(ctx context.Context, p *planner.Planner, runner *consolidation.Runner, metrics *telemetry.Metrics) (func(), *feedback.OutcomeConsumer, error) {
	logger := a.slog()
	opts := feedback.DefaultNATSOptions()
	opts.Queue = "goalplanner"
	opts.Logger = logger
	bus, err := feedback.ConnectNATS(a.cfg.Feedback.URL, opts)
	if err != nil {
		return nil, nil, err
	}

	consumer, err := feedback.NewOutcomeConsumer(bus, p, a.cfg.Feedback,
		feedback.WithLogger(logger), feedback.WithMetrics(metrics))
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	trigger, err := feedback.NewConsolidationTrigger(bus, runner, a.cfg.Feedback,
		feedback.WithLogger(logger), feedback.WithMetrics(metrics))
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	if err := trigger.Start(ctx); err != nil {
		consumer.Stop()
		_ = bus.Close()
		return nil, nil, err
	}

	stop := func() {
		trigger.Stop()
		consumer.Stop()
		if err := bus.Close(); err != nil && !errors.Is(err, feedback.ErrConnectionClosed) {
			logger.Warn("close nats", slog.String("error", err.Error()))
		}
	}
	return stop, consumer, nil
}

// applyReload applies the parts of a reloaded config that can change at
// runtime. Everything else needs a restart.
func (a *app) applyReload(cfg planner.Config) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		a.slog().Warn("ignoring reloaded log level", slog.String("error", err.Error()))
		return
	}
	if a.logLevel != "" {
		// --log-level pins the level
		return
	}
	if level != a.logger.Level() {
		a.logger.SetLevel(level)
		a.slog().Info("log level changed", slog.String("level", level.String()))
	}
}
