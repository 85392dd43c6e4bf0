package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend       string // memory | redis | sqlite
	TTL           time.Duration
	SweepInterval time.Duration
	Prefix        string
}

// Sweeper is implemented by backends whose expired entries must be removed
// explicitly (memory, sqlite).
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// NewExactCache picks the backend named by cfg.Backend. redisClient is only
// used by "redis", db only by "sqlite".
func NewExactCache(cfg Config, redisClient redis.UniversalClient, db *sql.DB) (ExactCache, error) {
	switch cfg.Backend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("cache: redis backend requires a redis client")
		}
		return NewRedisExactCache(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}), nil
	case "sqlite":
		if db == nil {
			return nil, fmt.Errorf("cache: sqlite backend requires a database")
		}
		c, err := NewSQLiteExactCache(db)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "", "memory":
		return NewMemoryExactCache(cfg.SweepInterval), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
