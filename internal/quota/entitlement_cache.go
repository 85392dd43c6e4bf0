package quota

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedEntitlementStore memoizes lookups, including "not found", for ttl.
// Errors other than not-found are never cached.
type CachedEntitlementStore struct {
	inner EntitlementStore
	cache *gocache.Cache
}

type cachedEntitlement struct {
	ent *Entitlement
	err error
}

func NewCachedEntitlementStore(inner EntitlementStore, ttl time.Duration) *CachedEntitlementStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedEntitlementStore{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (s *CachedEntitlementStore) Lookup(ctx context.Context, subjectID string) (*Entitlement, error) {
	if v, ok := s.cache.Get(subjectID); ok {
		c := v.(cachedEntitlement)
		return c.ent, c.err
	}

	ent, err := s.inner.Lookup(ctx, subjectID)
	if err != nil && !errors.Is(err, ErrEntitlementNotFound) {
		return nil, err
	}
	s.cache.SetDefault(subjectID, cachedEntitlement{ent: ent, err: err})
	return ent, err
}

// Invalidate drops the cached entry for subjectID.
func (s *CachedEntitlementStore) Invalidate(subjectID string) {
	s.cache.Delete(subjectID)
}
