package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/metrics"
	"fitcoach-gateway/pkg/logging/logging"
)

const DefaultDailyLimit = 20

type Config struct {
	DailyLimit int
	AdminIDs   []string
}

// Gate admits requests for entitled subjects within their daily quota and
// counts successful ones.
//
// The check in Authorize and the increment in Commit are not one atomic
// step: concurrent requests of one subject admitted at count limit-1 can
// all succeed and push the count past the limit. Increments themselves are
// atomic per (subject, day), so none is lost.
type Gate struct {
	entitlements EntitlementStore
	usage        UsageStore
	limit        int64
	admins       map[string]struct{}
	now          func() time.Time
	logger       *zap.Logger
}

func NewGate(entitlements EntitlementStore, usage UsageStore, cfg Config, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.DailyLimit
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	admins := make(map[string]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Gate{
		entitlements: entitlements,
		usage:        usage,
		limit:        int64(limit),
		admins:       admins,
		now:          time.Now,
		logger:       logger.Named("gate"),
	}
}

func (g *Gate) isAdmin(s auth.Subject) bool {
	if s.IsAdmin() {
		return true
	}
	_, ok := g.admins[s.ID]
	return ok
}

// Authorize checks entitlement then today's usage. No provider cost has been
// incurred when it fails.
func (g *Gate) Authorize(ctx context.Context, subject auth.Subject) (*Ticket, error) {
	logger := logging.FromContext(ctx)
	now := g.now()

	ent, err := g.entitlements.Lookup(ctx, subject.ID)
	if err != nil && !errors.Is(err, ErrEntitlementNotFound) {
		return nil, fmt.Errorf("quota: entitlement lookup: %w", err)
	}
	if !ent.Active(now) {
		metrics.GateRejectionsTotal.WithLabelValues("entitlement").Inc()
		logger.Info("gate rejected: no active plan or trial", zap.String("subject_id", subject.ID))
		return nil, &EntitlementError{SubjectID: subject.ID}
	}

	ticket := &Ticket{
		Subject: subject,
		Day:     DayBucket(now),
		Limit:   g.limit,
		ResetAt: NextReset(now),
	}

	if g.isAdmin(subject) {
		ticket.Unlimited = true
		return ticket, nil
	}

	used, err := g.usage.Count(ctx, subject.ID, ticket.Day)
	if err != nil {
		// fail open: a usage store outage must not block paying users
		logger.Warn("usage lookup failed, allowing request", zap.Error(err))
		used = 0
	}
	ticket.Used = used

	if used >= g.limit {
		metrics.GateRejectionsTotal.WithLabelValues("quota").Inc()
		logger.Info("gate rejected: daily quota reached",
			zap.String("subject_id", subject.ID),
			zap.Int64("used", used),
			zap.Int64("limit", g.limit),
		)
		return nil, &QuotaExceededError{Limit: g.limit, Used: used, ResetAt: ticket.ResetAt}
	}

	return ticket, nil
}

// Commit records one successful request for the ticket's day and returns the
// remaining quota (Unlimited for exempt subjects). A second Commit of the same
// ticket is a no-op. On store failure the error is returned together with a
// remaining count estimated from the ticket.
func (g *Gate) Commit(ctx context.Context, t *Ticket) (int, error) {
	if t == nil {
		return 0, errors.New("quota: nil ticket")
	}
	if !t.committed.CompareAndSwap(false, true) {
		return g.remaining(t, t.Used+1), nil
	}

	count, err := g.usage.Increment(ctx, t.Subject.ID, t.Day)
	if err != nil {
		logging.FromContext(ctx).Error("usage increment failed",
			zap.String("subject_id", t.Subject.ID),
			zap.String("day", t.Day),
			zap.Error(err),
		)
		return g.remaining(t, t.Used+1), fmt.Errorf("quota: increment usage: %w", err)
	}
	metrics.UsageIncrementsTotal.Inc()
	t.Used = count

	return g.remaining(t, count), nil
}

func (g *Gate) remaining(t *Ticket, used int64) int {
	if t.Unlimited {
		return Unlimited
	}
	left := t.Limit - used
	if left < 0 {
		left = 0
	}
	return int(left)
}

// AuthorizeAndRun admits subject, runs run, and counts it only if it
// succeeded. A failed run does not consume quota.
func (g *Gate) AuthorizeAndRun(ctx context.Context, subject auth.Subject, run func(context.Context) (any, error)) (*Result, error) {
	ticket, err := g.Authorize(ctx, subject)
	if err != nil {
		return nil, err
	}

	value, err := run(ctx)
	if err != nil {
		return nil, err
	}

	remaining, _ := g.Commit(ctx, ticket)
	return &Result{Value: value, Remaining: remaining}, nil
}

// Status reports today's usage without changing it.
func (g *Gate) Status(ctx context.Context, subject auth.Subject) (*UsageStatus, error) {
	now := g.now()
	day := DayBucket(now)

	used, err := g.usage.Count(ctx, subject.ID, day)
	if err != nil {
		return nil, fmt.Errorf("quota: usage lookup: %w", err)
	}

	st := &UsageStatus{
		SubjectID: subject.ID,
		Day:       day,
		Used:      used,
		Limit:     g.limit,
		ResetAt:   NextReset(now),
	}
	if g.isAdmin(subject) {
		st.Limit = Unlimited
		st.Remaining = Unlimited
		return st, nil
	}
	st.Remaining = g.remaining(&Ticket{Limit: g.limit}, used)
	return st, nil
}
