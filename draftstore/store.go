// Package draftstore provides the durable client-side store for inspection
// drafts and the sync-settings singleton, backed by SQLite.
//
// The store is the single shared mutable resource between the form UI and the
// sync engine. The engine only ever mutates sync-status fields (synced,
// synced_at, canonical identity); user-entered content is owned by the UI.
//
// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package draftstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/coolsheets/truenorth-sync/inspection"
)

// ErrNotFound is returned when a draft does not exist in the store.
var ErrNotFound = errors.New("draftstore: draft not found")

// StorageError wraps a local persistence failure. Callers must treat it as
// fatal to the operation; the store never swallows write failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("draftstore: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Settings is the singleton sync-settings record. LastSync is nil until the
// first successful pull ("never synced, pull everything").
type Settings struct {
	DeviceID string
	LastSync *time.Time
}

// Tombstone records the deletion of a draft that had already been assigned a
// canonical identity, so the deletion can be forwarded on a later sync cycle.
type Tombstone struct {
	CanonicalID string
	DeletedAt   time.Time
}

// Store is a SQLite-backed draft store. Safe for concurrent use; writes are
// serialized to avoid SQLite locking issues.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	deviceID string
	writeMu  sync.Mutex
	clock    func() time.Time
}

// Open opens (or creates) the store at path and runs pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	s, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing SQLite handle. The schema version gate runs on
// every initialization and guarantees the settings singleton exists.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	s := &Store{db: db, logger: logger, clock: time.Now}
	var deviceID string
	err := db.QueryRow(`SELECT device_id FROM sync_settings WHERE id = 1`).Scan(&deviceID)
	if err != nil {
		return nil, storageErr("load settings", err)
	}
	s.deviceID = deviceID
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DeviceID returns the identity minted for this store on first
// initialization. It scopes push idempotency on the remote side.
func (s *Store) DeviceID() string { return s.deviceID }

// Create assigns the next local identity to d, persists it, and returns the
// identity. Never touches the network.
func (s *Store) Create(ctx context.Context, d *inspection.Draft) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = s.clock().UTC()
	}
	vehicle, sections, err := marshalContent(d.Vehicle, d.Sections)
	if err != nil {
		return 0, storageErr("create", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (canonical_id, vehicle, sections, updated_at, synced, synced_at, locally_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, nullString(d.CanonicalID), vehicle, sections, formatTime(d.UpdatedAt),
		boolInt(d.Synced), nullTime(d.SyncedAt), boolInt(d.LocallyModified))
	if err != nil {
		return 0, storageErr("create", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("create", err)
	}
	d.LocalID = id
	return id, nil
}

// Get returns the draft with the given local identity, or ErrNotFound.
func (s *Store) Get(ctx context.Context, localID int64) (*inspection.Draft, error) {
	row := s.db.QueryRowContext(ctx, draftSelect+` WHERE local_id = ?`, localID)
	return scanDraft(row)
}

// GetByCanonicalID returns the draft linked to the given canonical identity,
// or ErrNotFound. Used to decide insert-vs-update during pull.
func (s *Store) GetByCanonicalID(ctx context.Context, canonicalID string) (*inspection.Draft, error) {
	row := s.db.QueryRowContext(ctx, draftSelect+` WHERE canonical_id = ?`, canonicalID)
	return scanDraft(row)
}

// DraftPatch is a field-level partial update. Nil fields are left untouched:
// an Update that omits Sections or Vehicle never drops them.
type DraftPatch struct {
	Vehicle         *inspection.Vehicle
	Sections        *[]inspection.Section
	UpdatedAt       *time.Time
	LocallyModified *bool
}

// Update merges the provided fields into an existing draft. Content updates
// made by the UI clear the synced flag so the next push cycle picks the draft
// up again.
func (s *Store) Update(ctx context.Context, localID int64, patch DraftPatch) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	set := ""
	args := []any{}
	add := func(clause string, v any) {
		if set != "" {
			set += ", "
		}
		set += clause
		args = append(args, v)
	}

	if patch.Vehicle != nil {
		raw, err := json.Marshal(*patch.Vehicle)
		if err != nil {
			return storageErr("update", err)
		}
		add("vehicle = ?", string(raw))
	}
	if patch.Sections != nil {
		raw, err := json.Marshal(*patch.Sections)
		if err != nil {
			return storageErr("update", err)
		}
		add("sections = ?", string(raw))
	}
	if patch.UpdatedAt != nil {
		add("updated_at = ?", formatTime(*patch.UpdatedAt))
	} else {
		add("updated_at = ?", formatTime(s.clock().UTC()))
	}
	if patch.LocallyModified != nil {
		add("locally_modified = ?", boolInt(*patch.LocallyModified))
	}
	if patch.Vehicle != nil || patch.Sections != nil {
		add("synced = ?", 0)
		add("locally_modified = ?", 1)
	}

	args = append(args, localID)
	res, err := s.db.ExecContext(ctx, `UPDATE drafts SET `+set+` WHERE local_id = ?`, args...)
	if err != nil {
		return storageErr("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a draft. If the draft had already been assigned a canonical
// identity, a tombstone is recorded so the deletion reaches the remote on a
// later sync cycle.
func (s *Store) Delete(ctx context.Context, localID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("delete", err)
	}
	defer tx.Rollback()

	var canonical sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT canonical_id FROM drafts WHERE local_id = ?`, localID).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("delete", err)
	}

	if canonical.Valid && canonical.String != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO draft_tombstones (canonical_id, deleted_at) VALUES (?, ?)
		`, canonical.String, formatTime(s.clock().UTC()))
		if err != nil {
			return storageErr("delete", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM drafts WHERE local_id = ?`, localID); err != nil {
		return storageErr("delete", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("delete", err)
	}
	return nil
}

// ListUnsynced returns drafts where synced is false, in local-identity order.
func (s *Store) ListUnsynced(ctx context.Context) ([]*inspection.Draft, error) {
	rows, err := s.db.QueryContext(ctx, draftSelect+` WHERE synced = 0 ORDER BY local_id`)
	if err != nil {
		return nil, storageErr("list unsynced", err)
	}
	defer rows.Close()

	var drafts []*inspection.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list unsynced", err)
	}
	return drafts, nil
}

// MarkSynced records a confirmed remote acknowledgment for one draft. The
// canonical identity is write-once: marking with a different identity than the
// one already linked is an error.
func (s *Store) MarkSynced(ctx context.Context, localID int64, canonicalID string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("mark synced", err)
	}
	defer tx.Rollback()

	var existing sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT canonical_id FROM drafts WHERE local_id = ?`, localID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("mark synced", err)
	}
	if existing.Valid && existing.String != "" && canonicalID != "" && existing.String != canonicalID {
		return storageErr("mark synced",
			fmt.Errorf("canonical identity is immutable: have %s, got %s", existing.String, canonicalID))
	}
	if canonicalID == "" {
		canonicalID = existing.String
	}
	if canonicalID == "" {
		return storageErr("mark synced", errors.New("cannot mark synced without a canonical identity"))
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE drafts
		SET canonical_id = ?, synced = 1, synced_at = ?, locally_modified = 0
		WHERE local_id = ?
	`, canonicalID, formatTime(at.UTC()), localID)
	if err != nil {
		return storageErr("mark synced", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("mark synced", err)
	}
	return nil
}

// UpsertRemote merges one remote record into the store during pull. An
// existing draft with the same canonical identity is updated in place,
// preserving its local identity; otherwise a new draft is inserted with a
// fresh local identity. Pull never deletes local-only unsynced drafts.
func (s *Store) UpsertRemote(ctx context.Context, rec *inspection.RemoteInspection, at time.Time) (localID int64, created bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.GetByCanonicalID(ctx, rec.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, false, err
	}

	if rec.Deleted {
		// Remote tombstone: drop the local copy only if it carries no
		// unpushed edits.
		if existing != nil && existing.Synced {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE local_id = ?`, existing.LocalID); err != nil {
				return 0, false, storageErr("upsert remote", err)
			}
			return existing.LocalID, false, nil
		}
		return 0, false, nil
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = at.UTC()
	}
	vehicle, sections, merr := marshalContent(rec.Vehicle, SectionsFromWire(rec.Sections))
	if merr != nil {
		return 0, false, storageErr("upsert remote", merr)
	}

	if existing != nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE drafts
			SET vehicle = ?, sections = ?, updated_at = ?, synced = 1, synced_at = ?, locally_modified = 0
			WHERE local_id = ?
		`, vehicle, sections, formatTime(updatedAt), formatTime(at.UTC()), existing.LocalID)
		if err != nil {
			return 0, false, storageErr("upsert remote", err)
		}
		return existing.LocalID, false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (canonical_id, vehicle, sections, updated_at, synced, synced_at, locally_modified)
		VALUES (?, ?, ?, ?, 1, ?, 0)
	`, rec.ID, vehicle, sections, formatTime(updatedAt), formatTime(at.UTC()))
	if err != nil {
		return 0, false, storageErr("upsert remote", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, storageErr("upsert remote", err)
	}
	return id, true, nil
}

// ListTombstones returns pending deletions not yet acknowledged by the remote.
func (s *Store) ListTombstones(ctx context.Context) ([]Tombstone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT canonical_id, deleted_at FROM draft_tombstones ORDER BY deleted_at`)
	if err != nil {
		return nil, storageErr("list tombstones", err)
	}
	defer rows.Close()

	var out []Tombstone
	for rows.Next() {
		var ts Tombstone
		var deletedAt string
		if err := rows.Scan(&ts.CanonicalID, &deletedAt); err != nil {
			return nil, storageErr("list tombstones", err)
		}
		ts.DeletedAt = parseTime(deletedAt)
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list tombstones", err)
	}
	return out, nil
}

// ResolveTombstone removes a tombstone after the remote has acknowledged the
// deletion.
func (s *Store) ResolveTombstone(ctx context.Context, canonicalID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM draft_tombstones WHERE canonical_id = ?`, canonicalID); err != nil {
		return storageErr("resolve tombstone", err)
	}
	return nil
}

// Settings returns the sync-settings singleton.
func (s *Store) Settings(ctx context.Context) (*Settings, error) {
	var deviceID string
	var lastSync sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT device_id, last_sync FROM sync_settings WHERE id = 1`).
		Scan(&deviceID, &lastSync)
	if err != nil {
		return nil, storageErr("settings", err)
	}
	st := &Settings{DeviceID: deviceID}
	if lastSync.Valid && lastSync.String != "" {
		t := parseTime(lastSync.String)
		st.LastSync = &t
	}
	return st, nil
}

// SetLastSync advances the pull watermark.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `UPDATE sync_settings SET last_sync = ? WHERE id = 1`, formatTime(t.UTC())); err != nil {
		return storageErr("set last sync", err)
	}
	return nil
}

// SectionsFromWire converts wire sections back to the local model. Statuses
// arriving here have already been coerced through the sanitization boundary.
func SectionsFromWire(ws []inspection.WireSection) []inspection.Section {
	out := make([]inspection.Section, 0, len(ws))
	for _, w := range ws {
		sec := inspection.Section{Slug: w.Slug, Name: w.Name, Items: make([]inspection.Item, 0, len(w.Items))}
		for _, wi := range w.Items {
			sec.Items = append(sec.Items, inspection.Item{
				ID:     wi.ID,
				Status: inspection.CoerceStatus(wi.Status),
				Notes:  wi.Notes,
				Photos: append([]string{}, wi.Photos...),
			})
		}
		out = append(out, sec)
	}
	return out
}

const draftSelect = `
	SELECT local_id, canonical_id, vehicle, sections, updated_at, synced, synced_at, locally_modified
	FROM drafts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*inspection.Draft, error) {
	var d inspection.Draft
	var canonical, syncedAt sql.NullString
	var vehicle, sections, updatedAt string
	var synced, locallyModified int

	err := row.Scan(&d.LocalID, &canonical, &vehicle, &sections, &updatedAt, &synced, &syncedAt, &locallyModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("scan draft", err)
	}

	if canonical.Valid {
		d.CanonicalID = canonical.String
	}
	if err := json.Unmarshal([]byte(vehicle), &d.Vehicle); err != nil {
		return nil, storageErr("scan draft vehicle", err)
	}
	if err := json.Unmarshal([]byte(sections), &d.Sections); err != nil {
		return nil, storageErr("scan draft sections", err)
	}
	d.UpdatedAt = parseTime(updatedAt)
	d.Synced = synced == 1
	d.LocallyModified = locallyModified == 1
	if syncedAt.Valid && syncedAt.String != "" {
		t := parseTime(syncedAt.String)
		d.SyncedAt = &t
	}
	return &d, nil
}

func marshalContent(v inspection.Vehicle, sections []inspection.Section) (string, string, error) {
	if v == nil {
		v = inspection.Vehicle{}
	}
	if sections == nil {
		sections = []inspection.Section{}
	}
	vraw, err := json.Marshal(v)
	if err != nil {
		return "", "", err
	}
	sraw, err := json.Marshal(sections)
	if err != nil {
		return "", "", err
	}
	return string(vraw), string(sraw), nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
