package quota

import (
	"context"
	"errors"
)

// ErrEntitlementNotFound is returned by entitlement stores for unknown subjects.
var ErrEntitlementNotFound = errors.New("quota: entitlement not found")

// EntitlementStore looks up a subject's subscription state.
type EntitlementStore interface {
	Lookup(ctx context.Context, subjectID string) (*Entitlement, error)
}

// UsageStore keeps per (subject, day) counters. Increment must be atomic per
// key and return the new count.
type UsageStore interface {
	Count(ctx context.Context, subjectID, day string) (int64, error)
	Increment(ctx context.Context, subjectID, day string) (int64, error)
}

// UsagePruner is implemented by stores that need explicit retention.
type UsagePruner interface {
	PruneBefore(ctx context.Context, day string) (int, error)
}
