package cache

import (
	"context"
	"fmt"
	"time"
)

// Hash is sha256 of the normalized fingerprint input (see Fingerprint).
type ExactCacheKey struct {
	ModelID   string
	VersionID string
	Hash      string
}

// String converts the structured key into the final string used in Redis/map/sqlite.
func (k ExactCacheKey) String() string {
	// exact:<MODEL_ID>:<VERSION_ID>:<HASH_HEX>
	return fmt.Sprintf("exact:%s:%s:%s", k.ModelID, k.VersionID, k.Hash)
}

// ExactCache is the backend interface used by ResponseCache.
// Implemented by memory (dev), Redis and SQLite backends.
type ExactCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
