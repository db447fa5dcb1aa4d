//go:build !sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; SearchItems uses LIKE on items.title and items.body.
	return nil
}

func ftsUpsert(_ context.Context, _ execer, _ int64, _, _ string) error { return nil }

// SearchItems performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (db *DB) SearchItems(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, kind, title, substr(body, 1, 200)
		FROM items
		WHERE title LIKE ? OR body LIKE ?
		ORDER BY id
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Kind, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
