package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/extract"
	"github.com/starford/kenaz-import/internal/models"
)

// errEmptyContent mirrors the host rule that an item needs some text.
var errEmptyContent = errors.New("title, body and excerpt are empty")

// updatableColumns lists the item columns UpdateFields may touch.
var updatableColumns = map[string]struct{}{
	"title":          {},
	"body":           {},
	"excerpt":        {},
	"status":         {},
	"slug":           {},
	"parent":         {},
	"menu_order":     {},
	"password":       {},
	"comment_status": {},
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateItem inserts a content item of a registered kind and returns its id.
func (db *DB) CreateItem(ctx context.Context, kind string, f models.Fields) (int64, error) {
	if !db.KindExists(kind) {
		return 0, fmt.Errorf("store: create item: kind %q: %w", kind, apperr.ErrNotFound)
	}
	if strings.TrimSpace(f.Title) == "" && strings.TrimSpace(f.Body) == "" && strings.TrimSpace(f.Excerpt) == "" {
		return 0, fmt.Errorf("store: create item: %w", errEmptyContent)
	}

	var authorID int64
	if f.Author != "" {
		id, err := db.EnsureAuthor(ctx, models.Author{Login: f.Author})
		if err != nil {
			return 0, fmt.Errorf("store: create item: %w", err)
		}
		authorID = id
	}

	status := f.Status
	if status == "" {
		status = "draft"
	}
	commentStatus := f.CommentStatus
	if commentStatus == "" {
		commentStatus = "open"
	}
	date := f.Date
	if date.IsZero() {
		date = time.Now()
	}
	dateGMT := f.DateGMT
	if dateGMT.IsZero() {
		dateGMT = date.UTC()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	slug, err := uniqueSlug(ctx, tx, kind, f.Slug, f.Title)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO items (kind, title, slug, body, excerpt, status, author_id, parent,
		                   menu_order, password, comment_status, guid, date, date_gmt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, kind, f.Title, slug, f.Body, f.Excerpt, status, authorID, f.Parent,
		f.MenuOrder, f.Password, commentStatus, f.GUID, date, dateGMT)
	if err != nil {
		return 0, fmt.Errorf("store: insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert item id: %w", err)
	}
	if err := ftsUpsert(ctx, tx, id, f.Title, f.Body); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit item: %w", err)
	}
	return id, nil
}

func uniqueSlug(ctx context.Context, tx *sql.Tx, kind, slug, title string) (string, error) {
	base := extract.Slugify(slug)
	if base == "" {
		base = extract.Slugify(title)
	}
	if base == "" {
		base = kind
	}
	candidate := base
	for n := 2; ; n++ {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT count(*) FROM items WHERE kind = ? AND slug = ?`, kind, candidate).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("store: check slug: %w", err)
		}
		if exists == 0 {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
}

// FindItemByTitle returns the oldest item of kind whose title equals title.
func (db *DB) FindItemByTitle(ctx context.Context, kind, title string) (int64, bool, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM items WHERE kind = ? AND title = ? ORDER BY id LIMIT 1`, kind, title,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: find item by title: %w", err)
	}
	return id, true, nil
}

// GetItem returns an item, serving repeated reads from the object cache.
func (db *DB) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	db.mu.Lock()
	if it, ok := db.items[id]; ok {
		if _, stale := db.dirty[id]; !stale {
			db.mu.Unlock()
			cp := *it
			return &cp, nil
		}
	}
	db.mu.Unlock()

	var it models.Item
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, kind, title, slug, body, excerpt, status, author_id, parent, menu_order,
		       password, comment_status, guid, date, date_gmt, created_at
		FROM items WHERE id = ?
	`, id).Scan(&it.ID, &it.Kind, &it.Title, &it.Slug, &it.Body, &it.Excerpt, &it.Status,
		&it.AuthorID, &it.Parent, &it.MenuOrder, &it.Password, &it.CommentStatus, &it.GUID,
		&it.Date, &it.DateGMT, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: item %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get item: %w", err)
	}

	db.mu.Lock()
	db.items[id] = &it
	delete(db.dirty, id)
	db.mu.Unlock()

	cp := it
	return &cp, nil
}

// UpdateFields updates the given item columns.
func (db *DB) UpdateFields(ctx context.Context, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		if _, ok := updatableColumns[c]; !ok {
			return fmt.Errorf("store: update item: unknown column %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = c + " = ?"
		args = append(args, fields[c])
	}
	args = append(args, id)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: update item %d: %w", id, apperr.ErrNotFound)
	}

	_, hasTitle := fields["title"]
	_, hasBody := fields["body"]
	if hasTitle || hasBody {
		var title, body string
		if err := tx.QueryRowContext(ctx, `SELECT title, body FROM items WHERE id = ?`, id).Scan(&title, &body); err != nil {
			return fmt.Errorf("store: reload item: %w", err)
		}
		if err := ftsUpsert(ctx, tx, id, title, body); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit update: %w", err)
	}

	db.invalidate(id)
	return nil
}

// CanonicalURL returns the public URL of an item.
func (db *DB) CanonicalURL(ctx context.Context, id int64) (string, error) {
	it, err := db.GetItem(ctx, id)
	if err != nil {
		return "", err
	}
	switch it.Kind {
	case "post", "page":
		return db.homeURL + "/" + it.Slug + "/", nil
	default:
		return db.homeURL + "/" + it.Kind + "/" + it.Slug + "/", nil
	}
}

// EnsureAuthor returns the id of the author with a.Login, creating it if needed.
func (db *DB) EnsureAuthor(ctx context.Context, a models.Author) (int64, error) {
	if a.Login == "" {
		return 0, fmt.Errorf("store: ensure author: empty login")
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO authors (login, display_name) VALUES (?, ?)
		ON CONFLICT(login) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE authors.display_name END
	`, a.Login, a.DisplayName)
	if err != nil {
		return 0, fmt.Errorf("store: ensure author: %w", err)
	}
	var id int64
	if err := db.conn.QueryRowContext(ctx, `SELECT id FROM authors WHERE login = ?`, a.Login).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: author id: %w", err)
	}
	return id, nil
}
