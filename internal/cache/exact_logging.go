package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"fitcoach-gateway/internal/metrics"
	"fitcoach-gateway/pkg/logging/logging"
)

// LoggingExactCache wraps an ExactCache with logging + metrics.
type LoggingExactCache struct {
	inner ExactCache
}

// NewLoggingExactCache returns a cache that logs and records metrics.
func NewLoggingExactCache(inner ExactCache) *LoggingExactCache {
	return &LoggingExactCache{inner: inner}
}

func (c *LoggingExactCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(result).Inc()

	fields := append(keyFields(key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Error("exact_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Info("exact_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingExactCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := append(keyFields(key),
		zap.Int("payload_bytes", len(value)),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Error("exact_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Info("exact_cache_set", fields...)
	}

	return err
}

// Sweep forwards to the inner backend when it supports sweeping.
func (c *LoggingExactCache) Sweep(ctx context.Context) (int, error) {
	s, ok := c.inner.(Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := s.Sweep(ctx)
	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Error("exact_cache_sweep", zap.Error(err))
	} else {
		logger.Debug("exact_cache_sweep", zap.Int("removed", n))
	}
	return n, err
}

// Close closes the inner backend if it holds resources.
func (c *LoggingExactCache) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func keyFields(key string) []zap.Field {
	fields := []zap.Field{
		zap.String("cache_tier", "exact"),
		zap.String("hash_key", key),
	}
	if parts, ok := parseExactKey(key); ok {
		fields = append(fields,
			zap.String("model_id", parts.modelID),
			zap.String("version_id", parts.versionID),
			zap.String("hash", parts.hash),
		)
	}
	return fields
}

type exactKeyParts struct {
	modelID   string
	versionID string
	hash      string
}

// Expecting: exact:<MODEL_ID>:<VERSION_ID>:<HASH>
func parseExactKey(key string) (exactKeyParts, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "exact" {
		return exactKeyParts{}, false
	}
	return exactKeyParts{
		modelID:   parts[1],
		versionID: parts[2],
		hash:      parts[3],
	}, true
}
