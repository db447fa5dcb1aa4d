package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/models"
)

// SaveRun persists a finished run together with its identity map.
func (db *DB) SaveRun(ctx context.Context, run models.Run, entries []models.IdentityEntry) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_runs (id, kind, started_at, finished_at, created, existing, skipped, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Kind, run.StartedAt, run.FinishedAt, run.Created, run.Existing, run.Skipped, run.Failed)
	if err != nil {
		return fmt.Errorf("store: save run: %w", err)
	}

	if len(entries) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO import_map (run_id, position, external_id, local_id) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare map insert: %w", err)
		}
		defer stmt.Close()
		for i, e := range entries {
			if _, err := stmt.ExecContext(ctx, run.ID, i, e.ExternalID, e.LocalID); err != nil {
				return fmt.Errorf("store: save map entry %q: %w", e.ExternalID, err)
			}
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, kind, started_at, finished_at, created, existing, skipped, failed
		FROM import_runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()
	var out []models.Run
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.FinishedAt, &r.Created, &r.Existing, &r.Skipped, &r.Failed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunEntries returns the identity map of one run in insertion order.
func (db *DB) RunEntries(ctx context.Context, runID string) ([]models.IdentityEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT external_id, local_id FROM import_map WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: run entries: %w", err)
	}
	defer rows.Close()
	var out []models.IdentityEntry
	for rows.Next() {
		var e models.IdentityEntry
		if err := rows.Scan(&e.ExternalID, &e.LocalID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LookupLocalID returns the local id most recently mapped to externalID.
func (db *DB) LookupLocalID(ctx context.Context, externalID string) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT local_id FROM import_map WHERE external_id = ? ORDER BY run_id DESC LIMIT 1`, externalID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("store: external id %q: %w", externalID, apperr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("store: lookup local id: %w", err)
	}
	return id, nil
}
