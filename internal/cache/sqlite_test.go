package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fitcoach-gateway/internal/sqlitedb"
)

func newSQLiteCache(t *testing.T) *SQLiteExactCache {
	t.Helper()

	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c, err := NewSQLiteExactCache(db)
	if err != nil {
		t.Fatalf("NewSQLiteExactCache: %v", err)
	}
	return c
}

func TestSQLiteExactCache_GetSet(t *testing.T) {
	c := newSQLiteCache(t)
	ctx := context.Background()

	if _, hit, err := c.Get(ctx, "missing"); err != nil || hit {
		t.Fatalf("expected clean miss, hit=%v err=%v", hit, err)
	}

	if err := c.Set(ctx, "k", []byte(`{"a":1}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, hit, err := c.Get(ctx, "k")
	if err != nil || !hit {
		t.Fatalf("expected hit, hit=%v err=%v", hit, err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected payload: %s", got)
	}

	if err := c.Set(ctx, "k", []byte(`{"a":2}`), time.Hour); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ = c.Get(ctx, "k")
	if string(got) != `{"a":2}` {
		t.Fatalf("overwrite not applied: %s", got)
	}
}

func TestSQLiteExactCache_Expiry(t *testing.T) {
	c := newSQLiteCache(t)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c.now = clock.Now
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), 10*time.Second)

	clock.Advance(9 * time.Second)
	if _, hit, _ := c.Get(ctx, "k"); !hit {
		t.Fatalf("entry within ttl must be served")
	}

	clock.Advance(time.Second)
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Fatalf("entry aged ttl must not be served")
	}

	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expired row should be deleted on read, rows=%d", n)
	}
}

func TestSQLiteExactCache_Sweep(t *testing.T) {
	c := newSQLiteCache(t)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c.now = clock.Now
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), 5*time.Second)
	_ = c.Set(ctx, "b", []byte("2"), 5*time.Second)
	_ = c.Set(ctx, "c", []byte("3"), time.Hour)

	clock.Advance(time.Minute)

	removed, err := c.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 rows removed, got %d", removed)
	}
	if _, hit, _ := c.Get(ctx, "c"); !hit {
		t.Fatalf("live row must survive the sweep")
	}
}

func TestSQLiteExactCache_SubSecondTTLNotStored(t *testing.T) {
	c := newSQLiteCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), 500*time.Millisecond)
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Fatalf("sub-second ttl should not be cached")
	}
}
