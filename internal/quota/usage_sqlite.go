package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fitcoach-gateway/internal/sqlitedb"
)

const createUsageTable = `
CREATE TABLE IF NOT EXISTS usage_counters (
	subject_id TEXT NOT NULL,
	day TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (subject_id, day)
);
`

// SQLiteUsageStore persists counters in usage_counters. The upsert is a
// single statement, so concurrent increments for one key are serialized by
// SQLite itself.
type SQLiteUsageStore struct {
	db *sql.DB
}

func NewSQLiteUsageStore(db *sql.DB) (*SQLiteUsageStore, error) {
	if err := sqlitedb.Migrate(db, createUsageTable); err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}
	return &SQLiteUsageStore{db: db}, nil
}

func (s *SQLiteUsageStore) Count(ctx context.Context, subjectID, day string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM usage_counters WHERE subject_id = ? AND day = ?`,
		subjectID, day,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite usage get: %w", err)
	}
	return count, nil
}

func (s *SQLiteUsageStore) Increment(ctx context.Context, subjectID, day string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO usage_counters (subject_id, day, count, updated_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(subject_id, day) DO UPDATE SET
		   count = count + 1,
		   updated_at = excluded.updated_at
		 RETURNING count`,
		subjectID, day, time.Now().UnixMilli(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite usage incr: %w", err)
	}
	return count, nil
}

// PruneBefore deletes counters of days strictly before day.
func (s *SQLiteUsageStore) PruneBefore(ctx context.Context, day string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_counters WHERE day < ?`, day)
	if err != nil {
		return 0, fmt.Errorf("sqlite usage prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
