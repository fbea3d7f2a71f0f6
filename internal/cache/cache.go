package cache

import (
	"context"

	"storefront/backend/internal/domain"
)

// RecommendationCache holds at most one live entry per (user, strategy).
// Get reports expired entries as absent.
type RecommendationCache interface {
	Get(ctx context.Context, userID string, strategy domain.StrategyType) (*domain.RecommendationCacheEntry, bool, error)
	Put(ctx context.Context, entry domain.RecommendationCacheEntry) error
}

type NoopRecommendationCache struct{}

func (NoopRecommendationCache) Get(_ context.Context, _ string, _ domain.StrategyType) (*domain.RecommendationCacheEntry, bool, error) {
	return nil, false, nil
}

func (NoopRecommendationCache) Put(_ context.Context, _ domain.RecommendationCacheEntry) error {
	return nil
}

func cloneEntry(entry domain.RecommendationCacheEntry) domain.RecommendationCacheEntry {
	entry.ProductIDs = append([]string(nil), entry.ProductIDs...)
	if entry.Score != nil {
		score := *entry.Score
		entry.Score = &score
	}
	return entry
}
