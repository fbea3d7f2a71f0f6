package cache

import (
	"context"
	"sync"
	"time"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/metrics"
)

// sweepThreshold is the entry count past which Put drops expired keys.
const sweepThreshold = 4096

type cacheKey struct {
	userID   string
	strategy domain.StrategyType
}

// MemoryRecommendationCache is a process-local cache. Expiry is a timestamp
// comparison on read; Sweep removes expired keys.
type MemoryRecommendationCache struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[cacheKey]domain.RecommendationCacheEntry
}

func NewMemoryRecommendationCache(now func() time.Time) *MemoryRecommendationCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryRecommendationCache{
		now:     now,
		entries: make(map[cacheKey]domain.RecommendationCacheEntry),
	}
}

func (c *MemoryRecommendationCache) Get(_ context.Context, userID string, strategy domain.StrategyType) (*domain.RecommendationCacheEntry, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey{userID: userID, strategy: strategy}]
	c.mu.RUnlock()

	if !ok || entry.Expired(c.now()) {
		return nil, false, nil
	}
	out := cloneEntry(entry)
	return &out, true, nil
}

func (c *MemoryRecommendationCache) Put(_ context.Context, entry domain.RecommendationCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{userID: entry.UserID, strategy: entry.Strategy}] = cloneEntry(entry)
	if len(c.entries) > sweepThreshold {
		c.sweepLocked(c.now())
	}
	metrics.RecommendationCacheEntries.Set(float64(len(c.entries)))
	return nil
}

// Sweep drops every entry expired at now and returns how many were removed.
func (c *MemoryRecommendationCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.sweepLocked(now)
	metrics.RecommendationCacheEntries.Set(float64(len(c.entries)))
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *MemoryRecommendationCache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.now())
		}
	}
}

func (c *MemoryRecommendationCache) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *MemoryRecommendationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
