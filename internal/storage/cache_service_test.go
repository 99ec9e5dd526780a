package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*CacheService, *miniredis.Miniredis) {
	t.Helper()
	rc, mr := newTestRedis(t)
	return NewCacheService(rc, ttl), mr
}

// store writes a view for a portfolio that has never been invalidated
func store(t *testing.T, cache *CacheService, portfolioID int64, key string, value interface{}) {
	t.Helper()
	stored, err := cache.SetIfCurrent(testContext(t), portfolioID, 0, key, value)
	require.NoError(t, err)
	require.True(t, stored)
}

func TestCacheKeys(t *testing.T) {
	cache, _ := setupTestCache(t, time.Minute)

	assert.Equal(t, "holdings:7", cache.HoldingsKey(7))
	assert.Equal(t, "portfolio-value:7", cache.PortfolioValueKey(7))
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	cache, mr := setupTestCache(t, 30*time.Second)
	ctx := testContext(t)

	value := decimal.RequireFromString("1500.00")
	store(t, cache, 1, cache.PortfolioValueKey(1), value)

	var got decimal.Decimal
	hit, err := cache.Get(ctx, cache.PortfolioValueKey(1), &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.True(t, value.Equal(got))

	assert.Equal(t, 30*time.Second, mr.TTL(cache.PortfolioValueKey(1)))
}

func TestCacheMissIsNotAnError(t *testing.T) {
	cache, _ := setupTestCache(t, time.Minute)

	var got decimal.Decimal
	hit, err := cache.Get(testContext(t), "portfolio-value:404", &got)
	assert.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheExpires(t *testing.T) {
	cache, mr := setupTestCache(t, time.Second)
	ctx := testContext(t)

	store(t, cache, 3, cache.HoldingsKey(3), []int{1, 2})
	mr.FastForward(2 * time.Second)

	var got []int
	hit, err := cache.Get(ctx, cache.HoldingsKey(3), &got)
	assert.NoError(t, err)
	assert.False(t, hit)
}

func TestInvalidatePortfolio(t *testing.T) {
	cache, mr := setupTestCache(t, time.Minute)
	ctx := testContext(t)

	store(t, cache, 5, cache.HoldingsKey(5), []int{1})
	store(t, cache, 5, cache.PortfolioValueKey(5), "100")
	store(t, cache, 6, cache.PortfolioValueKey(6), "200")

	require.NoError(t, cache.InvalidatePortfolio(ctx, 5))

	assert.False(t, mr.Exists(cache.HoldingsKey(5)))
	assert.False(t, mr.Exists(cache.PortfolioValueKey(5)))
	assert.True(t, mr.Exists(cache.PortfolioValueKey(6)))

	gen, err := cache.Generation(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Positive(t, mr.TTL("portfolio-gen:5"))
}

func TestSetIfCurrentSkipsStaleGeneration(t *testing.T) {
	cache, mr := setupTestCache(t, time.Minute)
	ctx := testContext(t)

	gen, err := cache.Generation(ctx, 4)
	require.NoError(t, err)
	assert.Zero(t, gen)

	// an order commits and invalidates while the view is being computed
	require.NoError(t, cache.InvalidatePortfolio(ctx, 4))

	stored, err := cache.SetIfCurrent(ctx, 4, gen, cache.PortfolioValueKey(4), "0")
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists(cache.PortfolioValueKey(4)))

	gen, err = cache.Generation(ctx, 4)
	require.NoError(t, err)
	stored, err = cache.SetIfCurrent(ctx, 4, gen, cache.PortfolioValueKey(4), "1000")
	require.NoError(t, err)
	assert.True(t, stored)

	var got string
	hit, err := cache.Get(ctx, cache.PortfolioValueKey(4), &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "1000", got)
}

func TestSetIfCurrentWithoutTTL(t *testing.T) {
	cache, mr := setupTestCache(t, 0)

	store(t, cache, 2, cache.HoldingsKey(2), []int{7})
	assert.True(t, mr.Exists(cache.HoldingsKey(2)))
	assert.Zero(t, mr.TTL(cache.HoldingsKey(2)))
}

func TestCacheGetWhenRedisDown(t *testing.T) {
	cache, mr := setupTestCache(t, time.Minute)
	mr.Close()

	var got string
	_, err := cache.Get(testContext(t), "holdings:1", &got)
	assert.Error(t, err)
}

func TestCacheGetCorruptEntry(t *testing.T) {
	cache, mr := setupTestCache(t, time.Minute)
	require.NoError(t, mr.Set(cache.PortfolioValueKey(9), "not-json"))

	var got decimal.Decimal
	hit, err := cache.Get(testContext(t), cache.PortfolioValueKey(9), &got)
	assert.False(t, hit)
	assert.ErrorContains(t, err, "portfolio-value:9")
}
