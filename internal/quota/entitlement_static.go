package quota

import (
	"context"
	"fmt"
)

// StaticEntitlementStore serves entitlements listed in configuration. Meant
// for development and single-tenant deployments.
type StaticEntitlementStore struct {
	bySubject map[string]Entitlement
}

func NewStaticEntitlementStore(entries []Entitlement) *StaticEntitlementStore {
	m := make(map[string]Entitlement, len(entries))
	for _, e := range entries {
		m[e.SubjectID] = e
	}
	return &StaticEntitlementStore{bySubject: m}
}

func (s *StaticEntitlementStore) Lookup(_ context.Context, subjectID string) (*Entitlement, error) {
	e, ok := s.bySubject[subjectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntitlementNotFound, subjectID)
	}
	return &e, nil
}
