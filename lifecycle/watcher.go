// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// StagingWatcher watches a staging directory for new version drops. Each
// subdirectory is a candidate version; its name is the version string. New
// drops are handed to the controller, which installs them and raises the
// update-available prompt.
type StagingWatcher struct {
	dir        string
	controller *Controller
	logger     *slog.Logger
	fsw        *fsnotify.Watcher
}

// NewStagingWatcher sets up a watcher on dir, creating it if needed.
func NewStagingWatcher(dir string, controller *Controller, logger *slog.Logger) (*StagingWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &StagingWatcher{dir: dir, controller: controller, logger: logger, fsw: fsw}, nil
}

// Run scans versions already present, then blocks processing filesystem
// events until ctx is cancelled.
func (w *StagingWatcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.scan(); err != nil {
		w.logger.Warn("initial staging scan failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				w.maybeStage(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("staging watcher error", "error", err)
		}
	}
}

func (w *StagingWatcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			w.maybeStage(filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

func (w *StagingWatcher) maybeStage(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	version := filepath.Base(path)
	w.logger.Info("staged version detected", "version", version)
	if err := w.controller.StageVersion(version, path); err != nil {
		w.logger.Error("staging failed", "version", version, "error", err)
	}
}
