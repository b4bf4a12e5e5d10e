// Package reconcile is the server side of draft sync: it accepts sanitized
// inspection pushes, reconciles repeated submissions of the same draft onto
// one canonical record, and serves incremental downloads.
//
// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coolsheets/truenorth-sync/inspection"
)

// ErrRecordNotFound is returned when a canonical id does not exist for the
// authenticated user.
var ErrRecordNotFound = errors.New("record not found")

// Service implements inspection reconciliation over PostgreSQL.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates the service and initializes its schema.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{pool: pool, logger: logger}
	if err := s.initializeSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// initializeSchema creates the required tables if they don't exist.
func (s *Service) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		migrations := []string{
			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS inspections (
				id         UUID        PRIMARY KEY DEFAULT gen_random_uuid(),
				user_id    TEXT        NOT NULL,
				device_id  TEXT        NOT NULL,
				local_id   BIGINT      NOT NULL,
				vehicle    JSONB       NOT NULL DEFAULT '{}'::jsonb,
				sections   JSONB       NOT NULL DEFAULT '[]'::jsonb,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				deleted    BOOLEAN     NOT NULL DEFAULT FALSE,
				UNIQUE (user_id, device_id, local_id)
			)`,
			/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS idx_inspections_user_updated
				ON inspections (user_id, updated_at)`,
		}
		for _, m := range migrations {
			if _, err := tx.Exec(ctx, m); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}
		return nil
	})
}

// ApplyPush reconciles one pushed draft. A push carrying a canonical id
// updates that record, so a draft pulled onto one device and edited there
// does not fork a second canonical record. Pushes without one fall back to
// the (user, device, local id) key, which also makes client retries after a
// lost acknowledgment safe.
func (s *Service) ApplyPush(ctx context.Context, userID string, draft *inspection.WireDraft) (string, error) {
	vehicle, err := json.Marshal(draft.Vehicle)
	if err != nil {
		return "", fmt.Errorf("encode vehicle: %w", err)
	}
	sections, err := json.Marshal(draft.Sections)
	if err != nil {
		return "", fmt.Errorf("encode sections: %w", err)
	}
	updatedAt := draft.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	// Only well-formed canonical ids reach the UUID column; anything else is
	// treated as absent.
	if _, parseErr := uuid.Parse(draft.CanonicalID); draft.CanonicalID != "" && parseErr == nil {
		var id string
		err = s.pool.QueryRow(ctx,
			/*language=postgresql*/ `UPDATE inspections
			 SET vehicle = $3, sections = $4, updated_at = $5, deleted = FALSE
			 WHERE user_id = $1 AND id = $2
			 RETURNING id`,
			userID, draft.CanonicalID, vehicle, sections, updatedAt,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("reconcile push: %w", err)
		}
		// Unknown canonical id for this user. Fall through and reconcile by
		// the device key.
	}

	var id string
	err = s.pool.QueryRow(ctx,
		/*language=postgresql*/ `INSERT INTO inspections (user_id, device_id, local_id, vehicle, sections, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, device_id, local_id) DO UPDATE
		   SET vehicle = EXCLUDED.vehicle,
		       sections = EXCLUDED.sections,
		       updated_at = EXCLUDED.updated_at,
		       deleted = FALSE
		 RETURNING id`,
		userID, draft.DeviceID, draft.LocalID, vehicle, sections, updatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("reconcile push: %w", err)
	}
	return id, nil
}

// ListUpdatedSince returns the user's records changed strictly after the
// given time, tombstones included so clients can drop deleted records.
// A zero time returns everything.
func (s *Service) ListUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		/*language=postgresql*/ `SELECT id, vehicle, sections, updated_at, deleted
		 FROM inspections
		 WHERE user_id = $1 AND updated_at > $2
		 ORDER BY updated_at`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.ID, &rec.Vehicle, &rec.Sections, &rec.UpdatedAt, &rec.Deleted); err != nil {
			return nil, fmt.Errorf("scan inspection: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkDeleted tombstones a record. The row is kept so other devices learn
// about the deletion on their next pull.
func (s *Service) MarkDeleted(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		/*language=postgresql*/ `UPDATE inspections
		 SET deleted = TRUE, updated_at = now()
		 WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Healthy reports whether the backing database is reachable.
func (s *Service) Healthy(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying connection pool for tests and admin tooling.
func (s *Service) Pool() *pgxpool.Pool {
	return s.pool
}
