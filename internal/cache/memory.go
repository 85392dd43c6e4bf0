package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e memoryEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

type MemoryExactCache struct {
	mu              sync.RWMutex
	items           map[string]memoryEntry
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
	cleanupInterval time.Duration
	now             func() time.Time
}

// NewMemoryExactCache creates an in-process cache and starts its sweep loop.
// A non-positive interval falls back to 5 minutes.
func NewMemoryExactCache(cleanupInterval time.Duration) *MemoryExactCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	c := &MemoryExactCache{
		items:           make(map[string]memoryEntry),
		stopCleanup:     make(chan struct{}),
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}

	//background cleanup routine
	go c.cleanupExpired()

	return c
}

// Get returns the entry only while now - createdAt < ttl. An expired entry is
// deleted on read.
func (c *MemoryExactCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	now := c.now()
	if entry.expired(now) {
		c.mu.Lock()
		if e, exists := c.items[key]; exists && e.expired(now) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set stores value with ttl, replacing any previous entry. ttl <= 0 removes the key.
func (c *MemoryExactCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil
	}

	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.mu.Lock()
	c.items[key] = memoryEntry{
		value:     valueCopy,
		createdAt: c.now(),
		ttl:       ttl,
	}
	c.mu.Unlock()

	return nil
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *MemoryExactCache) Sweep(_ context.Context) (int, error) {
	now := c.now()
	removed := 0

	c.mu.Lock()
	for k, v := range c.items {
		if v.expired(now) {
			delete(c.items, k)
			removed++
		}
	}
	c.mu.Unlock()

	return removed, nil
}

func (c *MemoryExactCache) cleanupExpired() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = c.Sweep(context.Background())
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. Call this on shutdown or in tests.
func (c *MemoryExactCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})
	return nil
}

// Len returns the number of items currently held, expired or not.
func (c *MemoryExactCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
