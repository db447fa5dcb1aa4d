package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/models"
)

// AddMeta appends a metadata pair. With unique set, an existing key is left
// alone and apperr.ErrAlreadyExists is returned.
func (db *DB) AddMeta(ctx context.Context, itemID int64, key, value string, unique bool) error {
	if key == "" {
		return fmt.Errorf("store: add meta: empty key")
	}
	if unique {
		if _, found, err := db.GetMeta(ctx, itemID, key); err != nil {
			return err
		} else if found {
			return fmt.Errorf("store: add meta %q: %w", key, apperr.ErrAlreadyExists)
		}
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO item_meta (item_id, meta_key, meta_value) VALUES (?, ?, ?)`, itemID, key, value)
	if err != nil {
		return fmt.Errorf("store: add meta: %w", err)
	}
	return nil
}

// GetMeta returns the first value stored under key.
func (db *DB) GetMeta(ctx context.Context, itemID int64, key string) (string, bool, error) {
	var v string
	err := db.conn.QueryRowContext(ctx,
		`SELECT meta_value FROM item_meta WHERE item_id = ? AND meta_key = ? ORDER BY id LIMIT 1`, itemID, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get meta: %w", err)
	}
	return v, true, nil
}

// UpdateMeta sets every value under key, inserting the key if absent.
func (db *DB) UpdateMeta(ctx context.Context, itemID int64, key, value string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE item_meta SET meta_value = ? WHERE item_id = ? AND meta_key = ?`, value, itemID, key)
	if err != nil {
		return fmt.Errorf("store: update meta: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return db.AddMeta(ctx, itemID, key, value, false)
	}
	return nil
}

// ListMeta returns all metadata of an item in insertion order.
func (db *DB) ListMeta(ctx context.Context, itemID int64) ([]models.MetaPair, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT meta_key, meta_value FROM item_meta WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("store: list meta: %w", err)
	}
	defer rows.Close()
	var out []models.MetaPair
	for rows.Next() {
		var p models.MetaPair
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
