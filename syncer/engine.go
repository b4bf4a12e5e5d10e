// Package syncer moves inspection drafts between the local draft store and
// the remote reconciliation endpoint with auditable, count-based outcomes.
//
// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coolsheets/truenorth-sync/connectivity"
	"github.com/coolsheets/truenorth-sync/draftstore"
	"github.com/coolsheets/truenorth-sync/inspection"
)

// Result is the aggregate outcome of one push cycle, surfaced to the user as
// a transient "N synced, M failed" notification.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Engine walks unsynced drafts, pushes them through the sanitization
// boundary, and merges remote records back in. One push cycle may be in
// flight at a time; overlapping triggers are no-ops.
type Engine struct {
	store     *draftstore.Store
	monitor   *connectivity.Monitor
	transport *Transport
	logger    *slog.Logger
	clock     func() time.Time

	// In-memory cycle guard, not a persisted lock: the store itself is
	// single-process.
	cycleInFlight atomic.Int32
}

// NewEngine wires the sync engine.
func NewEngine(store *draftstore.Store, monitor *connectivity.Monitor, transport *Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		monitor:   monitor,
		transport: transport,
		logger:    logger,
		clock:     time.Now,
	}
}

// PushOnce runs one push cycle. When the connectivity verdict is offline the
// cycle aborts immediately with a zero result and no network I/O. Per-draft
// failures are isolated and counted; PushOnce never returns an error.
func (e *Engine) PushOnce(ctx context.Context) Result {
	if !e.monitor.IsOnline() {
		return Result{}
	}
	if !e.cycleInFlight.CompareAndSwap(0, 1) {
		// A cycle is already running; this trigger is neither queued nor
		// does it cancel anything.
		return Result{}
	}
	defer e.cycleInFlight.Store(0)

	drafts, err := e.store.ListUnsynced(ctx)
	if err != nil {
		e.logger.Error("push cycle aborted", "error", err)
		return Result{}
	}

	deviceID := e.store.DeviceID()
	var res Result
	for _, d := range drafts {
		if err := e.pushDraft(ctx, deviceID, d); err != nil {
			res.Failed++
			e.logger.Warn("draft push failed", "local_id", d.LocalID, "error", err)
			e.monitor.RecordFailure()
			continue
		}
		res.Success++
		e.monitor.ClearFailure()
	}

	e.forwardTombstones(ctx)

	e.logger.Info("push cycle finished", "success", res.Success, "failed", res.Failed)
	return res
}

// pushDraft submits a single draft and, only after a confirmed remote
// acknowledgment, marks it synced with the canonical identity. A crash
// between ack and mark-synced is tolerated by the remote's idempotency per
// (device, local id).
func (e *Engine) pushDraft(ctx context.Context, deviceID string, d *inspection.Draft) error {
	payload := inspection.SanitizeDraft(d, deviceID)

	canonicalID, err := e.transport.PushDraft(ctx, payload)
	if err != nil {
		return err
	}
	if canonicalID == "" {
		canonicalID = d.CanonicalID
	}
	return e.store.MarkSynced(ctx, d.LocalID, canonicalID, e.clock().UTC())
}

// forwardTombstones tells the remote about local deletions of previously
// synced drafts. Failures are left for the next cycle.
func (e *Engine) forwardTombstones(ctx context.Context) {
	tombs, err := e.store.ListTombstones(ctx)
	if err != nil {
		e.logger.Error("listing tombstones failed", "error", err)
		return
	}
	for _, ts := range tombs {
		if err := e.transport.DeleteInspection(ctx, ts.CanonicalID); err != nil {
			e.logger.Warn("tombstone forward failed", "canonical_id", ts.CanonicalID, "error", err)
			e.monitor.RecordFailure()
			continue
		}
		if err := e.store.ResolveTombstone(ctx, ts.CanonicalID); err != nil {
			e.logger.Error("resolving tombstone failed", "canonical_id", ts.CanonicalID, "error", err)
		}
	}
}

// PullOnce fetches remote records newer than the last-sync watermark and
// merges them into the local store by canonical identity. Existing drafts
// keep their local identity; unknown records get a fresh one. Pull never
// deletes local-only unsynced drafts. Used by explicit fetch operations, not
// the periodic timer.
func (e *Engine) PullOnce(ctx context.Context) (int, error) {
	settings, err := e.store.Settings(ctx)
	if err != nil {
		return 0, err
	}

	records, err := e.transport.FetchInspections(ctx, settings.LastSync)
	if err != nil {
		e.monitor.RecordFailure()
		return 0, err
	}
	e.monitor.ClearFailure()

	now := e.clock().UTC()
	merged := 0
	for _, rec := range records {
		if _, _, err := e.store.UpsertRemote(ctx, rec, now); err != nil {
			return merged, err
		}
		merged++
	}

	if err := e.store.SetLastSync(ctx, now); err != nil {
		return merged, err
	}
	return merged, nil
}
