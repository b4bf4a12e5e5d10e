// Package lifecycle manages the background worker that keeps the app usable
// offline: versioned asset caches, detection of a staged new version, and the
// waiting -> activating -> active hand-off that must never interrupt an
// in-flight user session with a silent reload.
//
// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State of a worker version.
type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant" // a newer version won the race
)

// LifecycleError wraps an update-activation failure. The previous working
// version always remains authoritative.
type LifecycleError struct {
	Stage string
	Err   error
}

func (e *LifecycleError) Error() string { return fmt.Sprintf("lifecycle: %s: %v", e.Stage, e.Err) }
func (e *LifecycleError) Unwrap() error { return e.Err }

// EventKind identifies a lifecycle notification.
type EventKind string

const (
	// EventUpdateAvailable is emitted when a new version reaches waiting.
	// The UI surfaces it as a persistent, dismissible prompt; the
	// controller never reloads on its own while the user may have unsaved
	// draft edits.
	EventUpdateAvailable EventKind = "update-available"
	// EventControllerChanged is emitted once the new version has taken
	// control; it is the trigger for the page reload.
	EventControllerChanged EventKind = "controller-changed"
	// EventActivationFailed is emitted when activation failed and the
	// previous version stayed in control.
	EventActivationFailed EventKind = "activation-failed"
)

// Event is a typed lifecycle message.
type Event struct {
	Kind    EventKind
	Version string
}

// Status is the diagnostic surface: pure introspection, no invariants.
type Status struct {
	ActiveVersion  string   `json:"activeVersion"`
	WaitingVersion string   `json:"waitingVersion,omitempty"`
	State          State    `json:"state"`
	// RedundantVersions are versions that lost the race: staged versions a
	// newer drop superseded before activation, and previously active
	// versions after a hand-off.
	RedundantVersions []string `json:"redundantVersions,omitempty"`
	Failures          []string `json:"failures,omitempty"`
}

// Controller drives the worker lifecycle state machine.
type Controller struct {
	cache  *AssetCache
	reload func()
	logger *slog.Logger
	events chan Event

	// GracePeriod, when non-zero, auto-applies a waiting update that was
	// neither applied nor dismissed in time.
	gracePeriod time.Duration

	mu            sync.Mutex
	activeVersion string
	staged        string
	state         State
	redundant     []string
	failures      []string
	graceTimer    *time.Timer
}

// NewController creates a controller over the given asset cache. reload is
// invoked exactly once per successful activation, after control has
// transferred. gracePeriod of zero disables auto-apply.
func NewController(cache *AssetCache, reload func(), gracePeriod time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if reload == nil {
		reload = func() {}
	}
	return &Controller{
		cache:         cache,
		reload:        reload,
		logger:        logger,
		events:        make(chan Event, 8),
		gracePeriod:   gracePeriod,
		activeVersion: cache.ActiveVersion(),
		state:         StateActive,
	}
}

// Events returns the notification channel consumed by the UI layer.
func (c *Controller) Events() <-chan Event { return c.events }

// Status reports the current lifecycle state for support diagnostics.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		ActiveVersion:     c.activeVersion,
		WaitingVersion:    c.staged,
		State:             c.state,
		RedundantVersions: append([]string(nil), c.redundant...),
		Failures:          append([]string(nil), c.failures...),
	}
	return st
}

// StageVersion installs a newly detected version into the cache and moves it
// to waiting. A version already waiting is superseded and becomes redundant.
// The UI is notified; nothing reloads here.
func (c *Controller) StageVersion(version, srcDir string) error {
	c.mu.Lock()
	if version == c.activeVersion || version == c.staged {
		c.mu.Unlock()
		return nil
	}
	prev := c.staged
	c.state = StateInstalling
	c.mu.Unlock()

	if err := c.cache.InstallVersion(version, srcDir); err != nil {
		c.recordFailure("install", err)
		c.mu.Lock()
		c.state = stateAfterInstallFailure(c.staged)
		c.mu.Unlock()
		return &LifecycleError{Stage: "install", Err: err}
	}

	c.mu.Lock()
	if prev != "" {
		// The waiting version lost the race without ever activating.
		c.redundant = append(c.redundant, prev)
		c.logger.Info("staged version superseded", "version", prev, "state", StateRedundant, "by", version)
	}
	c.staged = version
	c.state = StateWaiting
	if c.gracePeriod > 0 {
		if c.graceTimer != nil {
			c.graceTimer.Stop()
		}
		c.graceTimer = time.AfterFunc(c.gracePeriod, func() {
			c.logger.Info("grace period elapsed, auto-applying update", "version", version)
			if err := c.ApplyUpdate(context.Background()); err != nil {
				c.logger.Error("auto-apply failed", "error", err)
			}
		})
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventUpdateAvailable, Version: version})
	return nil
}

func stateAfterInstallFailure(staged string) State {
	if staged != "" {
		return StateWaiting
	}
	return StateActive
}

// ApplyUpdate is the explicit "apply update now" signal. It activates the
// waiting version, hands control over, and triggers exactly one reload. On
// failure the previous working version stays in control, so the app is never
// left without a controller able to serve cached assets.
func (c *Controller) ApplyUpdate(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateWaiting || c.staged == "" {
		state := c.state
		c.mu.Unlock()
		return &LifecycleError{Stage: "apply", Err: fmt.Errorf("no update waiting (state %s)", state)}
	}
	version := c.staged
	c.state = StateActivating
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.mu.Unlock()

	if err := c.cache.Activate(version); err != nil {
		c.recordFailure("activate", err)
		c.mu.Lock()
		c.state = StateWaiting // previous version remains authoritative
		c.mu.Unlock()
		c.emit(Event{Kind: EventActivationFailed, Version: version})
		return &LifecycleError{Stage: "activate", Err: err}
	}

	c.mu.Lock()
	old := c.activeVersion
	c.activeVersion = version
	c.staged = ""
	c.state = StateActive
	if old != "" {
		c.redundant = append(c.redundant, old)
	}
	c.mu.Unlock()

	if old != "" {
		c.logger.Info("controller changed", "from", old, "to", version)
	}

	// Claim open clients and pre-warm offline assets for the new version.
	if err := c.cache.PrewarmInstalled(ctx, version); err != nil {
		c.logger.Warn("cache pre-warm incomplete", "version", version, "error", err)
	}
	if err := c.cache.PruneVersions(version); err != nil {
		c.logger.Warn("pruning old versions failed", "error", err)
	}

	c.emit(Event{Kind: EventControllerChanged, Version: version})
	c.reload()
	return nil
}

func (c *Controller) recordFailure(stage string, err error) {
	c.mu.Lock()
	c.failures = append(c.failures, fmt.Sprintf("%s: %v", stage, err))
	c.mu.Unlock()
	c.logger.Error("lifecycle failure", "stage", stage, "error", err)
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("lifecycle event dropped", "kind", ev.Kind, "version", ev.Version)
	}
}
