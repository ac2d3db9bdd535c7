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
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/goalplanner/services/planner"
)

// configWatcher reloads the config file when it changes on disk.
//
// # Description
//
// The parent directory is watched rather than the file so that editors
// which save by renaming a temporary file are still seen. Bursts of events
// are collapsed into one reload after a short quiet period. A file that
// fails to load or validate is logged and ignored; the running
// configuration stays in effect.
//
// # Thread Safety
//
// apply runs on the watcher goroutine only.
type configWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	apply    func(planner.Config)
	logger   *slog.Logger
	debounce time.Duration
	done     chan struct{}
}

func newConfigWatcher(path string, apply func(planner.Config), logger *slog.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &configWatcher{
		path:     abs,
		watcher:  w,
		apply:    apply,
		logger:   logger.With(slog.String("component", "config_watcher"), slog.String("path", abs)),
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// run blocks until ctx is done or the watcher is closed.
func (w *configWatcher) run(ctx context.Context) {
	defer close(w.done)

	var fire <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *configWatcher) reload() {
	cfg, err := planner.LoadConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", slog.String("error", err.Error()))
		return
	}
	w.apply(cfg)
	w.logger.Info("config reloaded")
}

// close stops the watcher and waits for run to return.
func (w *configWatcher) close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
