package recommendation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/logging"
	"storefront/backend/internal/metrics"
	"storefront/backend/internal/store"
)

// ProfileSource resolves a user's preference profile. store.ErrNotFound
// means the user has none.
type ProfileSource interface {
	Get(ctx context.Context, userID string) (*domain.UserPreferenceProfile, error)
}

type NeighborSource interface {
	Neighbors(ctx context.Context, productID string, similarityType string, limit int) ([]domain.SimilarityNeighbor, error)
}

type Config struct {
	CacheTTL           time.Duration
	TrendingWindow     time.Duration
	RecencyWindow      time.Duration
	SimilarSeedLimit   int
	CategoryEventLimit int
	NeighborLimit      int
	SimilarityType     string
	// FillLimit is the list length computed on a cache miss, so later
	// requests with a larger limit are served from the same entry.
	FillLimit int
}

func DefaultConfig() Config {
	return Config{
		CacheTTL:           24 * time.Hour,
		TrendingWindow:     7 * 24 * time.Hour,
		RecencyWindow:      30 * 24 * time.Hour,
		SimilarSeedLimit:   20,
		CategoryEventLimit: 50,
		NeighborLimit:      50,
		FillLimit:          100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.TrendingWindow <= 0 {
		c.TrendingWindow = d.TrendingWindow
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = d.RecencyWindow
	}
	if c.SimilarSeedLimit <= 0 {
		c.SimilarSeedLimit = d.SimilarSeedLimit
	}
	if c.CategoryEventLimit <= 0 {
		c.CategoryEventLimit = d.CategoryEventLimit
	}
	if c.NeighborLimit <= 0 {
		c.NeighborLimit = d.NeighborLimit
	}
	if c.FillLimit <= 0 {
		c.FillLimit = d.FillLimit
	}
	return c
}

// Engine ranks catalog products for a user. It only reads events and
// profiles; the cache is its single write target.
type Engine struct {
	catalog   store.Catalog
	events    store.BehaviorStore
	profiles  ProfileSource
	neighbors NeighborSource
	cache     cache.RecommendationCache
	cfg       Config
	now       func() time.Time
	group     singleflight.Group
	log       zerolog.Logger
}

func NewEngine(
	catalog store.Catalog,
	events store.BehaviorStore,
	profiles ProfileSource,
	neighbors NeighborSource,
	cacheStore cache.RecommendationCache,
	cfg Config,
	now func() time.Time,
) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopRecommendationCache{}
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		catalog:   catalog,
		events:    events,
		profiles:  profiles,
		neighbors: neighbors,
		cache:     cacheStore,
		cfg:       cfg.withDefaults(),
		now:       now,
		log:       logging.Component("recommendation"),
	}
}

// Recommend serves from the cache when a live entry exists and otherwise
// computes, stores and returns a fresh list. The bool reports a cache hit.
func (e *Engine) Recommend(ctx context.Context, userID string, strategy domain.StrategyType, limit int) ([]string, bool, error) {
	if !strategy.IsValid() {
		return nil, false, fmt.Errorf("unknown strategy %q: %w", strategy, store.ErrInvalidArgument)
	}
	if limit <= 0 {
		return nil, false, fmt.Errorf("limit must be positive: %w", store.ErrInvalidArgument)
	}
	logger := logging.Ctx(ctx).With().
		Str("component", "recommendation").
		Str("user_id", userID).
		Str("strategy", string(strategy)).
		Logger()

	entry, ok, err := e.cache.Get(ctx, userID, strategy)
	if err != nil {
		logger.Warn().Err(err).Msg("cache read failed, computing")
	}
	if err == nil && ok {
		ids := entry.ProductIDs
		if len(ids) > limit {
			ids = ids[:limit]
		}
		metrics.RecommendationsTotal.WithLabelValues(string(strategy), metrics.SourceCache).Inc()
		logger.Debug().Int("count", len(ids)).Msg("cache hit")
		return ids, true, nil
	}

	fill := max(limit, e.cfg.FillLimit)
	key := fmt.Sprintf("%s\x00%s\x00%d", userID, strategy, fill)
	// The shared computation outlives any single caller; each caller only
	// stops waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key, func() (any, error) {
		return e.computeAndStore(shared, userID, strategy, fill, logger)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if res.Err != nil {
		return nil, false, res.Err
	}
	ids := res.Val.([]string)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	metrics.RecommendationsTotal.WithLabelValues(string(strategy), metrics.SourceComputed).Inc()
	return slices.Clone(ids), false, nil
}

func (e *Engine) computeAndStore(ctx context.Context, userID string, strategy domain.StrategyType, limit int, logger zerolog.Logger) ([]string, error) {
	started := time.Now()
	ids, err := e.Compute(ctx, userID, strategy, limit)
	if err != nil {
		metrics.RecommendationErrorsTotal.WithLabelValues(string(strategy)).Inc()
		return nil, err
	}
	metrics.RecommendationDuration.WithLabelValues(string(strategy)).Observe(time.Since(started).Seconds())

	now := e.now().UTC()
	if err := e.cache.Put(ctx, domain.RecommendationCacheEntry{
		UserID:     userID,
		Strategy:   strategy,
		ProductIDs: ids,
		ExpiresAt:  now.Add(e.cfg.CacheTTL),
		CreatedAt:  now,
	}); err != nil {
		logger.Warn().Err(err).Msg("cache write failed")
	}
	logger.Debug().Int("count", len(ids)).Msg("cache miss, computed")
	return ids, nil
}

// Compute runs a strategy without touching the cache.
func (e *Engine) Compute(ctx context.Context, userID string, strategy domain.StrategyType, limit int) ([]string, error) {
	switch strategy {
	case domain.StrategyTrending:
		return e.trending(ctx, limit)
	case domain.StrategyPersonalized:
		return e.personalized(ctx, userID, limit)
	case domain.StrategySimilar:
		return e.similar(ctx, userID, limit)
	case domain.StrategyCategoryBased:
		return e.categoryBased(ctx, userID, limit)
	}
	return nil, fmt.Errorf("unknown strategy %q: %w", strategy, store.ErrInvalidArgument)
}

func (e *Engine) profile(ctx context.Context, userID string) (*domain.UserPreferenceProfile, error) {
	if userID == "" || e.profiles == nil {
		return nil, nil
	}
	profile, err := e.profiles.Get(ctx, userID)
	if isNotFound(err) {
		return nil, nil
	}
	return profile, err
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
