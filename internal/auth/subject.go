package auth

import (
	"context"
	"errors"
)

const RoleAdmin = "admin"

// ErrUnauthenticated is returned when a request carries no valid credentials.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Subject is the authenticated caller.
type Subject struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func (s Subject) IsAdmin() bool { return s.Role == RoleAdmin }

type ctxKey int

const subjectKey ctxKey = iota

// WithSubject attaches the authenticated subject to ctx.
func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectKey, s)
}

// SubjectFromContext returns the subject set by the auth middleware.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(subjectKey).(Subject)
	return s, ok && s.ID != ""
}
