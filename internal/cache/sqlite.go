package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fitcoach-gateway/internal/sqlitedb"
)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL
);
`

const createCacheExpiryIndex = `
CREATE INDEX IF NOT EXISTS idx_cache_entries_expiry ON cache_entries (created_at, ttl_seconds);
`

// SQLiteExactCache persists entries in the cache_entries table. created_at is
// stored in unix milliseconds. Expired rows are deleted on read or by Sweep.
type SQLiteExactCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteExactCache migrates the schema on db and returns the backend.
// The caller owns db.
func NewSQLiteExactCache(db *sql.DB) (*SQLiteExactCache, error) {
	if err := sqlitedb.Migrate(db, createCacheTable, createCacheExpiryIndex); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &SQLiteExactCache{db: db, now: time.Now}, nil
}

func (c *SQLiteExactCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		payload    []byte
		createdAt  int64
		ttlSeconds int64
	)

	err := c.db.QueryRowContext(ctx,
		`SELECT payload, created_at, ttl_seconds FROM cache_entries WHERE fingerprint = ?`,
		key,
	).Scan(&payload, &createdAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite cache get: %w", err)
	}

	age := c.now().Sub(time.UnixMilli(createdAt))
	if age >= time.Duration(ttlSeconds)*time.Second {
		// created_at guard keeps a concurrent rewrite of the same key alive
		if _, err := c.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE fingerprint = ? AND created_at = ?`,
			key, createdAt,
		); err != nil {
			return nil, false, fmt.Errorf("sqlite cache delete expired: %w", err)
		}
		return nil, false, nil
	}

	return payload, true, nil
}

// Set upserts the entry. ttl is stored in whole seconds; ttl < 1s is not cached.
func (c *SQLiteExactCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds <= 0 {
		return nil
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cache_entries (fingerprint, payload, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   payload = excluded.payload,
		   created_at = excluded.created_at,
		   ttl_seconds = excluded.ttl_seconds`,
		key, value, c.now().UnixMilli(), ttlSeconds,
	)
	if err != nil {
		return fmt.Errorf("sqlite cache set: %w", err)
	}
	return nil
}

// Sweep deletes every expired row and reports how many were removed.
func (c *SQLiteExactCache) Sweep(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE created_at + ttl_seconds * 1000 <= ?`,
		c.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite cache sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
