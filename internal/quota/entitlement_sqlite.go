package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fitcoach-gateway/internal/sqlitedb"
)

const createEntitlementTable = `
CREATE TABLE IF NOT EXISTS entitlements (
	subject_id TEXT PRIMARY KEY,
	plan_tier TEXT NOT NULL DEFAULT 'free',
	status TEXT NOT NULL DEFAULT '',
	trial_ends_at INTEGER
);
`

// SQLiteEntitlementStore reads the entitlements table; trial_ends_at is unix
// milliseconds or NULL.
type SQLiteEntitlementStore struct {
	db *sql.DB
}

func NewSQLiteEntitlementStore(db *sql.DB) (*SQLiteEntitlementStore, error) {
	if err := sqlitedb.Migrate(db, createEntitlementTable); err != nil {
		return nil, fmt.Errorf("entitlements: %w", err)
	}
	return &SQLiteEntitlementStore{db: db}, nil
}

func (s *SQLiteEntitlementStore) Lookup(ctx context.Context, subjectID string) (*Entitlement, error) {
	var (
		e       = Entitlement{SubjectID: subjectID}
		trialMs sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_tier, status, trial_ends_at FROM entitlements WHERE subject_id = ?`,
		subjectID,
	).Scan(&e.PlanTier, &e.Status, &trialMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntitlementNotFound, subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite entitlement lookup: %w", err)
	}
	if trialMs.Valid {
		t := time.UnixMilli(trialMs.Int64).UTC()
		e.TrialEndsAt = &t
	}
	return &e, nil
}

// Upsert writes e, replacing any previous row for the subject.
func (s *SQLiteEntitlementStore) Upsert(ctx context.Context, e Entitlement) error {
	var trial any
	if e.TrialEndsAt != nil {
		trial = e.TrialEndsAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entitlements (subject_id, plan_tier, status, trial_ends_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
		   plan_tier = excluded.plan_tier,
		   status = excluded.status,
		   trial_ends_at = excluded.trial_ends_at`,
		e.SubjectID, e.PlanTier, e.Status, trial,
	)
	if err != nil {
		return fmt.Errorf("sqlite entitlement upsert: %w", err)
	}
	return nil
}
