package store

import (
	"context"
	"fmt"
)

// SuspendCacheInvalidation toggles per-write cache eviction. While suspended,
// writes only mark cached items stale; FlushCache drops them in one go.
func (db *DB) SuspendCacheInvalidation(suspend bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.suspended = suspend
	if !suspend {
		for id := range db.dirty {
			delete(db.items, id)
		}
		clear(db.dirty)
	}
}

// DeferTermCounting toggles term count maintenance. Turning it off recounts
// every term touched while counting was deferred.
func (db *DB) DeferTermCounting(ctx context.Context, deferred bool) error {
	db.mu.Lock()
	db.deferCounts = deferred
	var pending []int64
	if !deferred {
		for id := range db.pendingCounts {
			pending = append(pending, id)
		}
		clear(db.pendingCounts)
	}
	db.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	return db.recount(ctx, pending)
}

// FlushCache drops every cached item and term lookup.
func (db *DB) FlushCache() {
	db.mu.Lock()
	defer db.mu.Unlock()
	clear(db.items)
	clear(db.dirty)
	clear(db.termIDs)
}

// CacheSize reports the number of cached items and term lookups.
func (db *DB) CacheSize() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.items) + len(db.termIDs)
}

func (db *DB) invalidate(id int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.suspended {
		if _, ok := db.items[id]; ok {
			db.dirty[id] = struct{}{}
		}
		return
	}
	delete(db.items, id)
}

func (db *DB) touchTerms(ctx context.Context, ids []int64) error {
	db.mu.Lock()
	if db.deferCounts {
		for _, id := range ids {
			db.pendingCounts[id] = struct{}{}
		}
		db.mu.Unlock()
		return nil
	}
	db.mu.Unlock()
	return db.recount(ctx, ids)
}

func (db *DB) recount(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		_, err := db.conn.ExecContext(ctx, `
			UPDATE terms SET count = (SELECT count(*) FROM item_terms WHERE term_id = terms.id)
			WHERE id = ?
		`, id)
		if err != nil {
			return fmt.Errorf("store: recount term %d: %w", id, err)
		}
	}
	return nil
}
