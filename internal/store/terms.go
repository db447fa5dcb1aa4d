package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/extract"
	"github.com/starford/kenaz-import/internal/models"
)

func termKey(taxonomy, slug string) string { return taxonomy + "\x00" + slug }

// FindTerm looks up a term by taxonomy and slug.
func (db *DB) FindTerm(ctx context.Context, taxonomy, slug string) (int64, bool, error) {
	key := termKey(taxonomy, slug)
	db.mu.Lock()
	if id, ok := db.termIDs[key]; ok {
		db.mu.Unlock()
		return id, true, nil
	}
	db.mu.Unlock()

	var id int64
	err := db.conn.QueryRowContext(ctx, `SELECT id FROM terms WHERE taxonomy = ? AND slug = ?`, taxonomy, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: find term: %w", err)
	}

	db.mu.Lock()
	db.termIDs[key] = id
	db.mu.Unlock()
	return id, true, nil
}

// CreateTerm inserts a term. An empty slug is derived from name.
func (db *DB) CreateTerm(ctx context.Context, taxonomy, name, slug string) (int64, error) {
	if !db.taxonomyExists(taxonomy) {
		return 0, fmt.Errorf("store: create term: taxonomy %q: %w", taxonomy, apperr.ErrNotFound)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("store: create term: empty name")
	}
	if slug == "" {
		slug = extract.Slugify(name)
	}
	if slug == "" {
		return 0, fmt.Errorf("store: create term %q: empty slug", name)
	}

	res, err := db.conn.ExecContext(ctx, `INSERT INTO terms (taxonomy, name, slug) VALUES (?, ?, ?)`, taxonomy, name, slug)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, fmt.Errorf("store: create term %q: %w", slug, apperr.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("store: create term: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: create term id: %w", err)
	}

	db.mu.Lock()
	db.termIDs[termKey(taxonomy, slug)] = id
	db.mu.Unlock()
	return id, nil
}

// SetParent sets the parent of a term within its taxonomy.
func (db *DB) SetParent(ctx context.Context, termID, parentID int64) error {
	if _, err := db.conn.ExecContext(ctx, `UPDATE terms SET parent = ? WHERE id = ?`, parentID, termID); err != nil {
		return fmt.Errorf("store: set term parent: %w", err)
	}
	return nil
}

// SetTerms replaces the item's terms in taxonomy with termIDs, in order.
func (db *DB) SetTerms(ctx context.Context, itemID int64, taxonomy string, termIDs []int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	touched, err := termIDsOf(ctx, tx, itemID, taxonomy)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM item_terms
		WHERE item_id = ? AND term_id IN (SELECT id FROM terms WHERE taxonomy = ?)
	`, itemID, taxonomy)
	if err != nil {
		return fmt.Errorf("store: clear item terms: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO item_terms (item_id, term_id, position) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare term insert: %w", err)
	}
	defer stmt.Close()
	for i, id := range termIDs {
		if _, err := stmt.ExecContext(ctx, itemID, id, i); err != nil {
			return fmt.Errorf("store: attach term %d: %w", id, err)
		}
		touched = append(touched, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit terms: %w", err)
	}
	return db.touchTerms(ctx, touched)
}

func termIDsOf(ctx context.Context, tx *sql.Tx, itemID int64, taxonomy string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT it.term_id FROM item_terms it JOIN terms t ON t.id = it.term_id
		WHERE it.item_id = ? AND t.taxonomy = ?
	`, itemID, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("store: item terms: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ItemTerms returns the terms attached to an item in taxonomy, in order.
func (db *DB) ItemTerms(ctx context.Context, itemID int64, taxonomy string) ([]models.Term, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT t.id, t.taxonomy, t.name, t.slug, t.parent, t.count
		FROM item_terms it JOIN terms t ON t.id = it.term_id
		WHERE it.item_id = ? AND t.taxonomy = ?
		ORDER BY it.position
	`, itemID, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("store: item terms: %w", err)
	}
	defer rows.Close()
	var out []models.Term
	for rows.Next() {
		var t models.Term
		if err := rows.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Parent, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTerm returns a term by id.
func (db *DB) GetTerm(ctx context.Context, id int64) (*models.Term, error) {
	var t models.Term
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, taxonomy, name, slug, parent, count FROM terms WHERE id = ?`, id,
	).Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Parent, &t.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: term %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get term: %w", err)
	}
	return &t, nil
}

// RefreshTermHierarchy rebuilds the parent/child cache of a taxonomy.
func (db *DB) RefreshTermHierarchy(ctx context.Context, taxonomy string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM term_hierarchy WHERE taxonomy = ?`, taxonomy); err != nil {
		return fmt.Errorf("store: clear hierarchy: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO term_hierarchy (taxonomy, parent_id, child_id)
		SELECT taxonomy, parent, id FROM terms WHERE taxonomy = ? AND parent != 0
	`, taxonomy)
	if err != nil {
		return fmt.Errorf("store: rebuild hierarchy: %w", err)
	}
	return tx.Commit()
}

// Children returns the cached child term ids of parentID.
func (db *DB) Children(ctx context.Context, taxonomy string, parentID int64) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT child_id FROM term_hierarchy WHERE taxonomy = ? AND parent_id = ? ORDER BY child_id`,
		taxonomy, parentID)
	if err != nil {
		return nil, fmt.Errorf("store: children: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
