package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fitcoach-gateway/internal/llm"
	"fitcoach-gateway/pkg/logging/logging"
)

// ResponseCache maps completion requests to previously validated raw model
// output. It never fails a request: backend errors degrade to a miss on
// lookup and a dropped write on store.
type ResponseCache struct {
	backend   ExactCache
	modelID   string
	versionID string
	ttl       time.Duration
}

// NewResponseCache keys entries by model and gateway version. A non-positive
// ttl falls back to one hour.
func NewResponseCache(backend ExactCache, modelID, versionID string, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{
		backend:   backend,
		modelID:   modelID,
		versionID: versionID,
		ttl:       ttl,
	}
}

func (c *ResponseCache) key(req llm.CompletionRequest) string {
	return BuildKey(c.modelID, c.versionID, req).String()
}

// Lookup returns the cached payload for req.
func (c *ResponseCache) Lookup(ctx context.Context, req llm.CompletionRequest) ([]byte, bool) {
	if c == nil || c.backend == nil {
		return nil, false
	}
	payload, ok, err := c.backend.Get(ctx, c.key(req))
	if err != nil {
		logging.FromContext(ctx).Warn("response cache lookup failed, treating as miss", zap.Error(err))
		return nil, false
	}
	return payload, ok
}

// Store remembers payload for req. ttl <= 0 uses the cache's default TTL.
func (c *ResponseCache) Store(ctx context.Context, req llm.CompletionRequest, payload []byte, ttl time.Duration) {
	if c == nil || c.backend == nil || len(payload) == 0 {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.backend.Set(ctx, c.key(req), payload, ttl); err != nil {
		logging.FromContext(ctx).Warn("response cache store failed, dropping write", zap.Error(err))
	}
}
