// Package store provides the SQLite-backed host content store: items, terms,
// metadata, media, redirects and import runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// ContentStore is the host store contract the import pipeline consumes.
// Consumers should depend on this interface rather than the concrete *DB.
type ContentStore interface {
	KindExists(kind string) bool
	Taxonomies() []string
	CreateItem(ctx context.Context, kind string, f models.Fields) (int64, error)
	FindItemByTitle(ctx context.Context, kind, title string) (int64, bool, error)
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]any) error
	CanonicalURL(ctx context.Context, id int64) (string, error)
	FindTerm(ctx context.Context, taxonomy, slug string) (int64, bool, error)
	CreateTerm(ctx context.Context, taxonomy, name, slug string) (int64, error)
	SetTerms(ctx context.Context, itemID int64, taxonomy string, termIDs []int64) error
	AddMeta(ctx context.Context, itemID int64, key, value string, unique bool) error
	GetMeta(ctx context.Context, itemID int64, key string) (string, bool, error)
	UpdateMeta(ctx context.Context, itemID int64, key, value string) error
	EnsureAuthor(ctx context.Context, a models.Author) (int64, error)
	SuspendCacheInvalidation(suspend bool)
	DeferTermCounting(ctx context.Context, deferred bool) error
	FlushCache()
	RefreshTermHierarchy(ctx context.Context, taxonomy string) error
	SaveRun(ctx context.Context, run models.Run, entries []models.IdentityEntry) error
}

// RedirectStore is the optional redirect rule backend.
type RedirectStore interface {
	GetOrCreateGroup(ctx context.Context, name string) (int64, error)
	FindRule(ctx context.Context, source string) (*models.RedirectRule, error)
	CreateRule(ctx context.Context, groupID int64, source, target string, code int) (int64, error)
}

// Verify *DB satisfies both contracts at compile time.
var (
	_ ContentStore  = (*DB)(nil)
	_ RedirectStore = (*DB)(nil)
)

// Options configures the registered content model of a store.
type Options struct {
	Kinds      []string
	Taxonomies []string
	HomeURL    string
	// Redirects provisions the redirect tables on open.
	Redirects bool
}

// DB wraps a sql.DB with content-store operations and an in-process
// object cache.
type DB struct {
	conn       *sql.DB
	kinds      map[string]struct{}
	taxonomies []string
	homeURL    string

	mu            sync.Mutex
	items         map[int64]*models.Item
	dirty         map[int64]struct{}
	termIDs       map[string]int64
	suspended     bool
	deferCounts   bool
	pendingCounts map[int64]struct{}
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string, opts Options) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply core schema: %w", err)
	}
	if opts.Redirects {
		if _, err := conn.Exec(redirectSchemaSQL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("store: apply redirect schema: %w", err)
		}
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply fts schema: %w", err)
	}

	db := &DB{
		conn:          conn,
		kinds:         make(map[string]struct{}, len(opts.Kinds)),
		taxonomies:    append([]string(nil), opts.Taxonomies...),
		homeURL:       strings.TrimRight(opts.HomeURL, "/"),
		items:         make(map[int64]*models.Item),
		dirty:         make(map[int64]struct{}),
		termIDs:       make(map[string]int64),
		pendingCounts: make(map[int64]struct{}),
	}
	for _, k := range opts.Kinds {
		db.kinds[k] = struct{}{}
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// KindExists reports whether kind is a registered content kind.
func (db *DB) KindExists(kind string) bool {
	_, ok := db.kinds[kind]
	return ok
}

// Taxonomies returns the registered taxonomies in configuration order.
func (db *DB) Taxonomies() []string {
	return append([]string(nil), db.taxonomies...)
}

func (db *DB) taxonomyExists(taxonomy string) bool {
	for _, t := range db.taxonomies {
		if t == taxonomy {
			return true
		}
	}
	return false
}

// Redirects returns the redirect backend, or apperr.ErrSetup when the
// redirect tables were never provisioned in this database.
func (db *DB) Redirects(ctx context.Context) (RedirectStore, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name IN ('redirect_groups', 'redirect_rules')`,
	).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("store: probe redirects: %w", err)
	}
	if n != 2 {
		return nil, fmt.Errorf("store: redirect tables not provisioned: %w", apperr.ErrSetup)
	}
	return db, nil
}
