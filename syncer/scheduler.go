// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/coolsheets/truenorth-sync/connectivity"
)

// SchedulerConfig controls when push cycles are triggered.
type SchedulerConfig struct {
	StartupDelay time.Duration // first push after startup, if online
	Interval     time.Duration // fixed period while online
}

// DefaultSchedulerConfig returns the production timings: one push shortly
// after startup and every five minutes while online.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		StartupDelay: 15 * time.Second,
		Interval:     5 * time.Minute,
	}
}

// Scheduler triggers push cycles on startup, on every transition to online,
// and on a fixed period. It is process-wide background state: started once at
// startup, torn down only when the process context is cancelled — never by UI
// navigation.
type Scheduler struct {
	engine  *Engine
	monitor *connectivity.Monitor
	config  *SchedulerConfig
	notify  func(Result) // optional user-facing "N synced, M failed" surface
	logger  *slog.Logger
}

// NewScheduler wires a scheduler. notify may be nil.
func NewScheduler(engine *Engine, monitor *connectivity.Monitor, config *SchedulerConfig, notify func(Result), logger *slog.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:  engine,
		monitor: monitor,
		config:  config,
		notify:  notify,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled. Overlapping triggers collapse into the
// engine's single-flight guard.
func (s *Scheduler) Run(ctx context.Context) {
	events, cancel := s.monitor.Subscribe()
	defer cancel()

	startup := time.NewTimer(s.config.StartupDelay)
	defer startup.Stop()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-startup.C:
			if s.monitor.IsOnline() {
				s.push(ctx)
			}
		case ev := <-events:
			if ev.Online {
				s.logger.Debug("online transition, triggering push")
				s.push(ctx)
			}
		case <-ticker.C:
			if s.monitor.IsOnline() {
				s.push(ctx)
			}
		}
	}
}

func (s *Scheduler) push(ctx context.Context) {
	res := s.engine.PushOnce(ctx)
	if s.notify != nil && (res.Success > 0 || res.Failed > 0) {
		s.notify(res)
	}
}
