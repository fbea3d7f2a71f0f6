package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"storefront/backend/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestMemoryCacheTreatsExpiredAsAbsent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := NewMemoryRecommendationCache(clock.Now)
	ctx := context.Background()

	err := c.Put(ctx, domain.RecommendationCacheEntry{
		UserID:     "u1",
		Strategy:   domain.StrategyTrending,
		ProductIDs: []string{"p1", "p2"},
		ExpiresAt:  clock.now.Add(time.Hour),
		CreatedAt:  clock.now,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, ok, err := c.Get(ctx, "u1", domain.StrategyTrending)
	if err != nil || !ok {
		t.Fatalf("expected live entry, ok=%v err=%v", ok, err)
	}
	if len(entry.ProductIDs) != 2 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if _, ok, _ := c.Get(ctx, "u1", domain.StrategyPersonalized); ok {
		t.Fatalf("strategies must not share entries")
	}

	clock.now = clock.now.Add(time.Hour)
	if _, ok, _ := c.Get(ctx, "u1", domain.StrategyTrending); ok {
		t.Fatalf("expected entry at expiresAt to be absent")
	}

	if removed := c.Sweep(clock.now); removed != 1 || c.Len() != 0 {
		t.Fatalf("expected sweep to remove the expired entry, removed=%d len=%d", removed, c.Len())
	}
}

func TestMemoryCachePutOverwritesKey(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryRecommendationCache(func() time.Time { return now })
	ctx := context.Background()

	for _, ids := range [][]string{{"old"}, {"new-1", "new-2"}} {
		if err := c.Put(ctx, domain.RecommendationCacheEntry{
			UserID:     "u1",
			Strategy:   domain.StrategySimilar,
			ProductIDs: ids,
			ExpiresAt:  now.Add(time.Minute),
		}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	entry, ok, _ := c.Get(ctx, "u1", domain.StrategySimilar)
	if !ok || len(entry.ProductIDs) != 2 || entry.ProductIDs[0] != "new-1" {
		t.Fatalf("expected newest entry, got %+v", entry)
	}
	if c.Len() != 1 {
		t.Fatalf("expected one entry per key, got %d", c.Len())
	}

	entry.ProductIDs[0] = "mutated"
	again, _, _ := c.Get(ctx, "u1", domain.StrategySimilar)
	if again.ProductIDs[0] != "new-1" {
		t.Fatalf("expected cached slice to be isolated from callers")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("STOREFRONT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set STOREFRONT_TEST_REDIS_ADDR to run redis integration test")
	}

	c := NewRedisRecommendationCache(addr, "", 0)
	t.Cleanup(func() {
		_ = c.Close()
	})
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	userID := "it-" + time.Now().Format("150405.000000000")
	now := time.Now().UTC()
	err := c.Put(ctx, domain.RecommendationCacheEntry{
		UserID:     userID,
		Strategy:   domain.StrategyCategoryBased,
		ProductIDs: []string{"p1"},
		ExpiresAt:  now.Add(time.Minute),
		CreatedAt:  now,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, ok, err := c.Get(ctx, userID, domain.StrategyCategoryBased)
	if err != nil || !ok || entry.ProductIDs[0] != "p1" {
		t.Fatalf("expected cached entry, ok=%v err=%v entry=%+v", ok, err, entry)
	}

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok, _ := c.Get(ctx, userID, domain.StrategyCategoryBased); ok {
		t.Fatalf("expected expired entry to be absent")
	}
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryRecommendationCache(clock.Now)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop after cancel")
	}
}
