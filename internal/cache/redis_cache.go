package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"storefront/backend/internal/domain"
)

type RedisRecommendationCache struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRecommendationCache(addr string, password string, db int) *RedisRecommendationCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRecommendationCache{client: client, now: time.Now}
}

func (c *RedisRecommendationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRecommendationCache) Close() error {
	return c.client.Close()
}

func redisKey(userID string, strategy domain.StrategyType) string {
	if userID == "" {
		userID = "_anonymous"
	}
	return fmt.Sprintf("reco:%s:%s", userID, strategy)
}

func (c *RedisRecommendationCache) Get(ctx context.Context, userID string, strategy domain.StrategyType) (*domain.RecommendationCacheEntry, bool, error) {
	val, err := c.client.Get(ctx, redisKey(userID, strategy)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry domain.RecommendationCacheEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, false, err
	}
	if entry.Expired(c.now()) {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Put overwrites the key. The Redis TTL mirrors ExpiresAt so the server
// reclaims memory; reads still compare ExpiresAt themselves.
func (c *RedisRecommendationCache) Put(ctx context.Context, entry domain.RecommendationCacheEntry) error {
	ttl := entry.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return c.client.Del(ctx, redisKey(entry.UserID, entry.Strategy)).Err()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKey(entry.UserID, entry.Strategy), payload, ttl).Err()
}
