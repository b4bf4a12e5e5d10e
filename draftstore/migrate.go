// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package draftstore

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// schemaVersion is the single integer version gate for the local store. On
// mismatch the one-time migration below runs; every step guarantees the
// sync-settings singleton exists afterwards.
const schemaVersion = 2

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return storageErr("enable WAL", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return storageErr("enable foreign keys", err)
	}

	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return storageErr("read schema version", err)
	}
	if version > schemaVersion {
		return storageErr("schema version gate",
			fmt.Errorf("store schema version %d is newer than supported %d", version, schemaVersion))
	}
	if version == schemaVersion {
		return ensureSettingsSingleton(db)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return storageErr("set schema version", err)
	}
	return ensureSettingsSingleton(db)
}

func migrateToV1(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS drafts (
			local_id         INTEGER PRIMARY KEY AUTOINCREMENT,
			canonical_id     TEXT,                         -- assigned once by the remote authority
			vehicle          TEXT NOT NULL DEFAULT '{}',   -- JSON descriptor
			sections         TEXT NOT NULL DEFAULT '[]',   -- JSON sections
			updated_at       TEXT NOT NULL,
			synced           INTEGER NOT NULL DEFAULT 0,
			synced_at        TEXT,
			locally_modified INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_drafts_canonical
			ON drafts(canonical_id) WHERE canonical_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS sync_settings (
			id        INTEGER PRIMARY KEY CHECK (id = 1),  -- singleton
			last_sync TEXT,                                -- NULL means never synced
			device_id TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return storageErr("migrate to v1", err)
		}
	}
	return nil
}

func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS draft_tombstones (
		canonical_id TEXT PRIMARY KEY,
		deleted_at   TEXT NOT NULL
	)`)
	if err != nil {
		return storageErr("migrate to v2", err)
	}
	return nil
}

// ensureSettingsSingleton mints a device identity on first initialization and
// is a no-op afterwards.
func ensureSettingsSingleton(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO sync_settings (id, last_sync, device_id) VALUES (1, NULL, ?)
	`, uuid.New().String())
	if err != nil {
		return storageErr("ensure settings singleton", err)
	}
	return nil
}
