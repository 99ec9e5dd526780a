package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/pricing"
	"github.com/stock-portfolio/internal/storage"
	"github.com/stock-portfolio/internal/types"
)

func setupViewCache(t *testing.T) (*storage.CacheService, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return storage.NewCacheService(storage.NewRedisCacheFromClient(client), time.Minute), mr
}

func sampleHoldings() *fakeHoldingRepo {
	nyse, ibm := "NYSE", "IBM"
	return &fakeHoldingRepo{
		holdings: map[int64][]*models.Holding{
			1: {
				{PortfolioID: 1, StockID: 10, Quantity: 10, PurchasePrice: decimal.RequireFromString("50")},
				{PortfolioID: 1, StockID: 11, Quantity: 5, PurchasePrice: decimal.RequireFromString("60")},
			},
		},
		views: map[int64][]*models.HoldingView{
			1: {
				{
					Holding:      models.Holding{PortfolioID: 1, StockID: 10, Quantity: 10, PurchasePrice: decimal.RequireFromString("50")},
					CompanyName:  "IBM",
					Sector:       "Technology",
					ExchangeCode: &nyse,
					SymbolCode:   &ibm,
				},
				{
					Holding:     models.Holding{PortfolioID: 1, StockID: 11, Quantity: 5, PurchasePrice: decimal.RequireFromString("60")},
					CompanyName: "Unlisted Co",
					Sector:      "Energy",
				},
			},
		},
	}
}

func TestComputeValuePlaceholderPrice(t *testing.T) {
	svc := NewValuationService(sampleHoldings(), pricing.NewFixedPriceSource(pricing.DefaultPlaceholderPrice), nil)

	total, err := svc.ComputeValue(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "1500", total.String())
}

func TestComputeValueUsesQuotes(t *testing.T) {
	prices := &fakePriceSource{prices: map[int64]decimal.Decimal{
		10: decimal.RequireFromString("12.3456"),
		11: decimal.RequireFromString("0.5"),
	}}
	svc := NewValuationService(sampleHoldings(), prices, nil)

	total, err := svc.ComputeValue(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("125.956").Equal(total), total.String())
}

func TestComputeValueEmptyPortfolioIsZero(t *testing.T) {
	svc := NewValuationService(&fakeHoldingRepo{}, &fakePriceSource{}, nil)

	for _, id := range []int64{2, 999} {
		total, err := svc.ComputeValue(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, total.IsZero())
	}
}

func TestComputeValueErrors(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		svc := NewValuationService(sampleHoldings(), &fakePriceSource{}, nil)
		_, err := svc.ComputeValue(context.Background(), 0)
		requireCode(t, err, types.CodeInvalidInput, http.StatusBadRequest)
	})

	t.Run("store failure", func(t *testing.T) {
		svc := NewValuationService(&fakeHoldingRepo{err: errors.New("conn reset")}, &fakePriceSource{}, nil)
		_, err := svc.ComputeValue(context.Background(), 1)
		requireCode(t, err, types.CodeDatabaseError, http.StatusInternalServerError)
	})

	t.Run("pricing failure", func(t *testing.T) {
		svc := NewValuationService(sampleHoldings(), &fakePriceSource{err: errors.New("feed down")}, nil)
		_, err := svc.ComputeValue(context.Background(), 1)
		requireCode(t, err, types.CodeServiceUnavailable, http.StatusServiceUnavailable)
	})
}

func TestComputeValueIsCached(t *testing.T) {
	cache, mr := setupViewCache(t)
	repo := sampleHoldings()
	svc := NewValuationService(repo, pricing.NewFixedPriceSource(pricing.DefaultPlaceholderPrice), cache)
	ctx := context.Background()

	first, err := svc.ComputeValue(ctx, 1)
	require.NoError(t, err)
	second, err := svc.ComputeValue(ctx, 1)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, 1, repo.reads, "second read is served from cache")
	assert.True(t, mr.Exists("portfolio-value:1"))

	require.NoError(t, cache.InvalidatePortfolio(ctx, 1))
	_, err = svc.ComputeValue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.reads)
}

func TestComputeValueNotCachedAcrossInvalidation(t *testing.T) {
	cache, mr := setupViewCache(t)
	repo := &fakeHoldingRepo{holdings: map[int64][]*models.Holding{}}
	svc := NewValuationService(repo, pricing.NewFixedPriceSource(pricing.DefaultPlaceholderPrice), cache)
	ctx := context.Background()

	// a buy of 10 shares commits and invalidates while the empty portfolio is read
	repo.afterRead = func() {
		repo.holdings[1] = []*models.Holding{{PortfolioID: 1, StockID: 10, Quantity: 10, PurchasePrice: decimal.RequireFromString("100")}}
		require.NoError(t, cache.InvalidatePortfolio(ctx, 1))
	}

	stale, err := svc.ComputeValue(ctx, 1)
	require.NoError(t, err)
	assert.True(t, stale.IsZero())
	assert.False(t, mr.Exists("portfolio-value:1"), "value read before the order must not be cached")

	total, err := svc.ComputeValue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1000", total.String())
	assert.True(t, mr.Exists("portfolio-value:1"))
}

func TestComputeValueCacheDownFallsThrough(t *testing.T) {
	cache, mr := setupViewCache(t)
	mr.Close()

	svc := NewValuationService(sampleHoldings(), pricing.NewFixedPriceSource(pricing.DefaultPlaceholderPrice), cache)
	total, err := svc.ComputeValue(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "1500", total.String())
}

func TestGetHoldingsFillsQuotes(t *testing.T) {
	svc := NewValuationService(sampleHoldings(), pricing.NewFixedPriceSource(pricing.DefaultPlaceholderPrice), nil)

	views, err := svc.GetHoldings(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "IBM", views[0].CompanyName)
	require.NotNil(t, views[0].SymbolCode)
	assert.Equal(t, "IBM", *views[0].SymbolCode)
	assert.True(t, pricing.DefaultPlaceholderPrice.Equal(views[0].CurrentPrice))
	assert.Equal(t, "1000", views[0].MarketValue.String())

	assert.Nil(t, views[1].ExchangeCode, "unlisted stocks have no exchange")
	assert.Equal(t, "500", views[1].MarketValue.String())
}

func TestGetHoldingsIsCached(t *testing.T) {
	cache, _ := setupViewCache(t)
	repo := sampleHoldings()
	svc := NewValuationService(repo, pricing.NewFixedPriceSource(pricing.DefaultPlaceholderPrice), cache)
	ctx := context.Background()

	_, err := svc.GetHoldings(ctx, 1)
	require.NoError(t, err)
	views, err := svc.GetHoldings(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.reads)
	require.Len(t, views, 2)
	assert.Equal(t, "1000", views[0].MarketValue.String())
}

func TestGetHoldingsNotCachedAcrossInvalidation(t *testing.T) {
	cache, mr := setupViewCache(t)
	repo := sampleHoldings()
	svc := NewValuationService(repo, pricing.NewFixedPriceSource(pricing.DefaultPlaceholderPrice), cache)
	ctx := context.Background()

	// a sell removes the unlisted holding while the views are read
	repo.afterRead = func() {
		repo.views[1] = repo.views[1][:1]
		require.NoError(t, cache.InvalidatePortfolio(ctx, 1))
	}

	views, err := svc.GetHoldings(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, views, 2)
	assert.False(t, mr.Exists("holdings:1"))

	views, err = svc.GetHoldings(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, views, 1)
	assert.Equal(t, 2, repo.reads)
}

func TestGetHoldingsEmpty(t *testing.T) {
	svc := NewValuationService(&fakeHoldingRepo{}, &fakePriceSource{}, nil)

	views, err := svc.GetHoldings(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, views)
	assert.NotNil(t, views)
}

func TestValuateCountsHoldings(t *testing.T) {
	svc := NewValuationService(sampleHoldings(), pricing.NewFixedPriceSource(pricing.DefaultPlaceholderPrice), nil)

	v, err := svc.Valuate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v.HoldingCount)
	assert.Equal(t, "1500", v.TotalValue.String())
}
