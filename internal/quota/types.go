package quota

import (
	"fmt"
	"sync/atomic"
	"time"

	"fitcoach-gateway/internal/auth"
)

const (
	TierFree     = "free"
	StatusActive = "active"

	// Unlimited is reported as remaining quota for subjects exempt from it.
	Unlimited = -1

	dayLayout = "2006-01-02"
)

// Entitlement is the subscription state of a subject. It is read-only for
// the gate.
type Entitlement struct {
	SubjectID   string     `json:"subjectId"`
	PlanTier    string     `json:"planTier"`
	Status      string     `json:"status"`
	TrialEndsAt *time.Time `json:"trialEndsAt,omitempty"`
}

// Active reports whether the subject may use the assistant at now: an active
// paid plan, or a trial that has not yet ended.
func (e *Entitlement) Active(now time.Time) bool {
	if e == nil {
		return false
	}
	if e.Status == StatusActive && e.PlanTier != "" && e.PlanTier != TierFree {
		return true
	}
	return e.TrialEndsAt != nil && now.Before(*e.TrialEndsAt)
}

// UsageCounter is one subject's count for one UTC day.
type UsageCounter struct {
	SubjectID string `json:"subjectId"`
	DayBucket string `json:"dayBucket"`
	Count     int64  `json:"count"`
}

// DayBucket returns the UTC day t falls in, as YYYY-MM-DD.
func DayBucket(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// DayRange returns the inclusive bounds of the UTC day containing t.
func DayRange(t time.Time) (start, end time.Time) {
	u := t.UTC()
	start = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	end = start.Add(24*time.Hour - time.Millisecond)
	return start, end
}

// NextReset is the start of the UTC day after t.
func NextReset(t time.Time) time.Time {
	start, _ := DayRange(t)
	return start.Add(24 * time.Hour)
}

// Ticket is issued by Authorize and redeemed once by Commit. The day bucket
// is fixed at authorization so a request crossing midnight is counted
// against the day it was admitted on.
type Ticket struct {
	Subject   auth.Subject
	Day       string
	Used      int64
	Limit     int64
	Unlimited bool
	ResetAt   time.Time

	committed atomic.Bool
}

// Result is returned by AuthorizeAndRun.
type Result struct {
	Value     any
	Remaining int
}

// UsageStatus is a read-only view of a subject's quota for today.
type UsageStatus struct {
	SubjectID string    `json:"subjectId"`
	Day       string    `json:"day"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// EntitlementError rejects a subject without an active plan or trial.
type EntitlementError struct {
	SubjectID string
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("quota: subject %s has no active plan or trial", e.SubjectID)
}

// QuotaExceededError rejects a subject that used up today's quota.
type QuotaExceededError struct {
	Limit   int64
	Used    int64
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota: daily limit reached (%d/%d), resets at %s",
		e.Used, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}
