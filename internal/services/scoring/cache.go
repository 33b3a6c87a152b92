package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"microlend-engine/internal/models"
	"microlend-engine/internal/utils"
)

// redisClient is the subset of *redis.Client the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedConfigRepository is a Redis read-through cache in front of another
// ConfigRepository. Redis failures fall through to the underlying repository.
type CachedConfigRepository struct {
	next  ConfigRepository
	redis redisClient
	ttl   time.Duration
}

// NewCachedConfigRepository wraps next with a Redis cache.
func NewCachedConfigRepository(next ConfigRepository, client redisClient, ttl time.Duration) *CachedConfigRepository {
	return &CachedConfigRepository{next: next, redis: client, ttl: ttl}
}

// ScoringParameters implements ConfigRepository.
func (c *CachedConfigRepository) ScoringParameters(ctx context.Context, providerID int64) ([]models.ScoringParameter, error) {
	var params []models.ScoringParameter
	key := c.key("parameters", providerID)
	if c.get(ctx, key, &params) {
		return params, nil
	}

	params, err := c.next.ScoringParameters(ctx, providerID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, params)
	return params, nil
}

// LoanLimitTiers implements ConfigRepository.
func (c *CachedConfigRepository) LoanLimitTiers(ctx context.Context, providerID int64) ([]models.LoanLimitTier, error) {
	var tiers []models.LoanLimitTier
	key := c.key("tiers", providerID)
	if c.get(ctx, key, &tiers) {
		return tiers, nil
	}

	tiers, err := c.next.LoanLimitTiers(ctx, providerID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, tiers)
	return tiers, nil
}

// Invalidate drops a provider's cached configuration.
func (c *CachedConfigRepository) Invalidate(ctx context.Context, providerID int64) error {
	return c.redis.Del(ctx, c.key("parameters", providerID), c.key("tiers", providerID)).Err()
}

func (c *CachedConfigRepository) key(kind string, providerID int64) string {
	return fmt.Sprintf("scoring:%s:%d", kind, providerID)
}

func (c *CachedConfigRepository) get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			utils.GetLogger().Warn("Scoring cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		utils.GetLogger().Warn("Discarding corrupt scoring cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	utils.GetLogger().Debug("Scoring cache hit", zap.String("key", key))
	return true
}

func (c *CachedConfigRepository) set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		utils.GetLogger().Warn("Scoring cache write failed", zap.String("key", key), zap.Error(err))
	}
}
