// Package source reads raw rows from the external database being migrated.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/starford/kenaz-import/internal/apperr"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5 * time.Minute
	defaultPingTimeout     = 10 * time.Second
)

// Drivers lists the supported external database drivers.
var Drivers = []string{"postgres", "mysql", "sqlite3"}

// Querier returns the rows of one query as opaque field bags.
type Querier interface {
	Rows(ctx context.Context, query string, args ...any) ([]Row, error)
}

// DB is a Querier over an sqlx connection.
type DB struct {
	db *sqlx.DB
}

var _ Querier = (*DB)(nil)

// New wraps an existing connection.
func New(db *sqlx.DB) *DB {
	return &DB{db: db}
}

// Open connects to the external database and verifies the connection.
// Every failure is a setup error.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	supported := false
	for _, d := range Drivers {
		if d == driver {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("source: unsupported driver %q: %w", driver, apperr.ErrSetup)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("source: open: %w: %v", apperr.ErrSetup, err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("source: ping: %w: %v", apperr.ErrSetup, pingErr)
	}
	return &DB{db: db}, nil
}

// Close closes the connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Rows runs query and returns every row keyed by column name. Byte slices
// are converted to strings.
func (d *DB) Rows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := d.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("source: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("source: scan: %w", err)
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, Row(m))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: rows: %w", err)
	}
	return out, nil
}
