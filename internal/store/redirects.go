package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/models"
)

// GetOrCreateGroup returns the id of the named redirect group.
func (db *DB) GetOrCreateGroup(ctx context.Context, name string) (int64, error) {
	_, err := db.conn.ExecContext(ctx, `INSERT OR IGNORE INTO redirect_groups (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("store: create redirect group: %w", err)
	}
	var id int64
	if err := db.conn.QueryRowContext(ctx, `SELECT id FROM redirect_groups WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: redirect group id: %w", err)
	}
	return id, nil
}

// FindRule returns the first rule for source in any group.
func (db *DB) FindRule(ctx context.Context, source string) (*models.RedirectRule, error) {
	var r models.RedirectRule
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, group_id, source, target, code FROM redirect_rules WHERE source = ? ORDER BY id LIMIT 1`, source,
	).Scan(&r.ID, &r.GroupID, &r.Source, &r.Target, &r.Code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find rule: %w", err)
	}
	return &r, nil
}

// CreateRule adds a redirect rule to a group.
func (db *DB) CreateRule(ctx context.Context, groupID int64, source, target string, code int) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO redirect_rules (group_id, source, target, code) VALUES (?, ?, ?, ?)`,
		groupID, source, target, code)
	if err != nil {
		return 0, fmt.Errorf("store: create rule: %w", err)
	}
	return res.LastInsertId()
}

// ListRules returns up to limit rules ordered by id.
func (db *DB) ListRules(ctx context.Context, limit int) ([]models.RedirectRule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, group_id, source, target, code FROM redirect_rules ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	defer rows.Close()
	var out []models.RedirectRule
	for rows.Next() {
		var r models.RedirectRule
		if err := rows.Scan(&r.ID, &r.GroupID, &r.Source, &r.Target, &r.Code); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
