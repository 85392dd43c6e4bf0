package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisUsageStore uses INCR on one key per subject and day. Keys expire a
// day after the bucket closes, so no pruning job is needed.
type RedisUsageStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisUsageStore(client redis.UniversalClient, prefix string) *RedisUsageStore {
	if prefix == "" {
		prefix = "usage"
	}
	return &RedisUsageStore{client: client, prefix: prefix}
}

func (s *RedisUsageStore) key(subjectID, day string) string {
	return fmt.Sprintf("%s:daily:%s:%s", s.prefix, subjectID, day)
}

func (s *RedisUsageStore) Count(ctx context.Context, subjectID, day string) (int64, error) {
	count, err := s.client.Get(ctx, s.key(subjectID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis usage get: %w", err)
	}
	return count, nil
}

func (s *RedisUsageStore) Increment(ctx context.Context, subjectID, day string) (int64, error) {
	key := s.key(subjectID, day)

	start, err := time.Parse(dayLayout, day)
	if err != nil {
		return 0, fmt.Errorf("redis usage incr: bad day %q: %w", day, err)
	}

	// Expire at the end of the bucket + 24h buffer
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, start.Add(48*time.Hour))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis usage incr: %w", err)
	}
	count := incr.Val()

	return count, nil
}
