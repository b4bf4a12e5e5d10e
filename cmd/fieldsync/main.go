// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

// fieldsync is the field-unit agent: it keeps inspection drafts in a local
// SQLite store, pushes them to the reconciliation endpoint when a connection
// is available, and manages the offline asset cache and its update lifecycle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coolsheets/truenorth-sync/connectivity"
	"github.com/coolsheets/truenorth-sync/draftstore"
	"github.com/coolsheets/truenorth-sync/internal/config"
	"github.com/coolsheets/truenorth-sync/internal/logging"
	"github.com/coolsheets/truenorth-sync/lifecycle"
	"github.com/coolsheets/truenorth-sync/syncer"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "TrueNorth field sync agent",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newRunCommand(&configPath))
	cmd.AddCommand(newPushCommand(&configPath))
	cmd.AddCommand(newPullCommand(&configPath))
	cmd.AddCommand(newStatusCommand(&configPath))
	return cmd
}

// app bundles the wired client components.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *draftstore.Store
	monitor *connectivity.Monitor
	engine  *syncer.Engine
}

func buildApp(configPath string) (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, nil, err
	}

	logger := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	store, err := draftstore.Open(cfg.Client.StorePath, logger)
	if err != nil {
		return nil, nil, err
	}

	monitor := connectivity.NewMonitor(connectivity.Capabilities{
		Standalone: cfg.Client.Standalone,
	}, logger)

	var token syncer.TokenFunc
	if cfg.Client.Token != "" {
		staticToken := cfg.Client.Token
		token = func(context.Context) (string, error) { return staticToken, nil }
	}
	transport := syncer.NewTransport(cfg.Client.BaseURL, token, logger)
	engine := syncer.NewEngine(store, monitor, transport, logger)

	cleanup := func() { store.Close() }
	return &app{cfg: cfg, logger: logger, store: store, monitor: monitor, engine: engine}, cleanup, nil
}

// newRunCommand starts the long-running agent: sync scheduler, connectivity
// probing, and the asset cache lifecycle.
func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			logger := a.logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cache, err := lifecycle.NewAssetCache(a.cfg.Client.CacheDir, logger)
			if err != nil {
				return err
			}
			ctrl := lifecycle.NewController(cache, func() {
				logger.Info("new app version active, restart the UI")
			}, a.cfg.Client.GracePeriod, logger)
			watcher, err := lifecycle.NewStagingWatcher(a.cfg.Client.StagingDir, ctrl, logger)
			if err != nil {
				return err
			}
			go watcher.Run(ctx)
			go consumeLifecycleEvents(ctx, ctrl, logger)

			go probeLoop(ctx, a.cfg.Client.BaseURL, a.monitor)

			sched := syncer.NewScheduler(a.engine, a.monitor, &syncer.SchedulerConfig{
				StartupDelay: a.cfg.Client.StartupDelay,
				Interval:     a.cfg.Client.SyncInterval,
			}, func(res syncer.Result) {
				logger.Info("sync finished", "success", res.Success, "failed", res.Failed)
			}, logger)

			sched.Run(ctx)
			return nil
		},
	}
}

func newPushCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push unsynced drafts now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			res := a.engine.PushOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%d synced, %d failed\n", res.Success, res.Failed)
			return nil
		},
	}
}

func newPullCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch remote inspections into the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			merged, err := a.engine.PullOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d inspections merged\n", merged)
			return nil
		},
	}
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local store and connectivity status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			unsynced, err := a.store.ListUnsynced(ctx)
			if err != nil {
				return err
			}
			settings, err := a.store.Settings(ctx)
			if err != nil {
				return err
			}

			status := map[string]any{
				"deviceId": a.store.DeviceID(),
				"unsynced": len(unsynced),
				"online":   a.monitor.IsOnline(),
			}
			if settings.LastSync != nil {
				status["lastSync"] = settings.LastSync.Format(time.RFC3339)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
}

// probeLoop supplies the platform online/offline signal. The headless agent
// has no host environment to report transitions, so here the health probe IS
// the platform signal; an embedded UI would call SetOnline from its host
// events instead and leave the probe advisory.
func probeLoop(ctx context.Context, baseURL string, monitor *connectivity.Monitor) {
	probe := connectivity.NewHealthProbe(baseURL)
	check := func() {
		if err := probe.Check(ctx); err != nil {
			monitor.SetOnline(false)
			return
		}
		monitor.SetOnline(true)
	}

	check()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func consumeLifecycleEvents(ctx context.Context, ctrl *lifecycle.Controller, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ctrl.Events():
			switch ev.Kind {
			case lifecycle.EventUpdateAvailable:
				logger.Info("update staged and waiting", "version", ev.Version)
			case lifecycle.EventControllerChanged:
				logger.Info("update active", "version", ev.Version)
			case lifecycle.EventActivationFailed:
				logger.Warn("update activation failed, previous version still active", "version", ev.Version)
			}
		}
	}
}
