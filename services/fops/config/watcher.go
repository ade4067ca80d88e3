// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes on disk.
//
// # Description
//
// Detects external edits to the config file (e.g. a redeployed allow-list)
// and invokes the callback with the freshly loaded configuration. A file
// that fails to load keeps the previous configuration in effect; the
// error is logged and the watcher keeps running.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the given config file.
//
// # Inputs
//
//   - path: Config file path. Must load successfully at least once before watching.
//   - onReload: Invoked with each successfully reloaded configuration.
//   - logger: Structured logger; nil uses slog.Default().
//
// # Outputs
//
//   - *Watcher: Ready-to-start watcher.
//   - error: Non-nil if watcher creation or registration fails.
func NewWatcher(path string, onReload func(*Config), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		watcher:  fsw,
		onReload: onReload,
		logger:   logger,
	}, nil
}

// Start begins watching for config changes. Blocks until the context is
// cancelled. Should be run in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Debug("Started watching config file", "path", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)

		case <-ctx.Done():
			w.logger.Debug("Config watcher stopping")
			return
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Editors rename-and-replace as often as they write in place.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous configuration",
			"path", w.path,
			"error", err)
		return
	}

	w.logger.Info("Config reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}

	// A rename drops the watch on the old inode; re-add the path.
	if event.Op&fsnotify.Rename != 0 {
		if err := w.watcher.Add(w.path); err != nil {
			w.logger.Warn("Failed to re-watch config after rename",
				"path", w.path,
				"error", err)
		}
	}
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
