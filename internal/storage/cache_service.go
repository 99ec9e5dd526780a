package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache key prefixes. Every key is <prefix>:<portfolioID>.
const (
	holdingsKeyPrefix       = "holdings"
	portfolioValueKeyPrefix = "portfolio-value"
	generationKeyPrefix     = "portfolio-gen"
)

// generationTTL must outlive any single read of a view
const generationTTL = 24 * time.Hour

// setIfGeneration writes KEYS[2] only while KEYS[1] still holds ARGV[1]. A
// missing generation counts as 0. ARGV[3] is the TTL in milliseconds.
var setIfGeneration = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

// CacheService caches the holdings and value views of portfolios as JSON.
// Orders and portfolio deletes invalidate both views of the portfolio they touch.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheService creates a cache whose entries expire after ttl
func NewCacheService(rc *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		client: rc.client,
		ttl:    ttl,
	}
}

// HoldingsKey returns holdings:<portfolioID>
func (c *CacheService) HoldingsKey(portfolioID int64) string {
	return fmt.Sprintf("%s:%d", holdingsKeyPrefix, portfolioID)
}

// PortfolioValueKey returns portfolio-value:<portfolioID>
func (c *CacheService) PortfolioValueKey(portfolioID int64) string {
	return fmt.Sprintf("%s:%d", portfolioValueKeyPrefix, portfolioID)
}

// Generation returns the invalidation counter of a portfolio. Read it before
// loading a view from the database and hand it to SetIfCurrent.
func (c *CacheService) Generation(ctx context.Context, portfolioID int64) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(portfolioID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read generation of portfolio %d: %w", portfolioID, err)
	}
	return gen, nil
}

// SetIfCurrent stores value as JSON under key unless the portfolio was
// invalidated after gen was read. It reports whether the value was stored.
func (c *CacheService) SetIfCurrent(ctx context.Context, portfolioID, gen int64, key string, value interface{}) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	stored, err := setIfGeneration.Run(ctx, c.client,
		[]string{c.generationKey(portfolioID), key},
		strconv.FormatInt(gen, 10), data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to cache %s: %w", key, err)
	}
	return stored == 1, nil
}

func (c *CacheService) generationKey(portfolioID int64) string {
	return fmt.Sprintf("%s:%d", generationKeyPrefix, portfolioID)
}

// Get loads key into dest. A miss returns (false, nil).
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// InvalidatePortfolio bumps the generation of a portfolio and drops both
// cached views in one transaction. Reads that started before the bump can no
// longer store their result.
func (c *CacheService) InvalidatePortfolio(ctx context.Context, portfolioID int64) error {
	genKey := c.generationKey(portfolioID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Unlink(ctx, c.HoldingsKey(portfolioID), c.PortfolioValueKey(portfolioID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate portfolio %d: %w", portfolioID, err)
	}
	return nil
}
