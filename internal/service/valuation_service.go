package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/stock-portfolio/internal/errors"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/pricing"
	"github.com/stock-portfolio/internal/telemetry"
)

// HoldingRepository reads holdings outside of order transactions
type HoldingRepository interface {
	ListByPortfolio(ctx context.Context, portfolioID int64) ([]*models.Holding, error)
	ListViews(ctx context.Context, portfolioID int64) ([]*models.HoldingView, error)
}

// ViewCache is the read-through cache of portfolio views. Writes carry the
// generation read before the database so a view computed across an
// invalidation is never stored.
type ViewCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Generation(ctx context.Context, portfolioID int64) (int64, error)
	SetIfCurrent(ctx context.Context, portfolioID, gen int64, key string, value interface{}) (bool, error)
	HoldingsKey(portfolioID int64) string
	PortfolioValueKey(portfolioID int64) string
}

// ValuationService prices holdings and sums portfolio values
type ValuationService struct {
	holdings HoldingRepository
	prices   pricing.PriceSource
	cache    ViewCache
}

// NewValuationService creates a new valuation service. cache may be nil.
func NewValuationService(holdings HoldingRepository, prices pricing.PriceSource, cache ViewCache) *ValuationService {
	return &ValuationService{
		holdings: holdings,
		prices:   prices,
		cache:    cache,
	}
}

// Valuation is the uncached value of a portfolio at one instant
type Valuation struct {
	TotalValue   decimal.Decimal
	HoldingCount int
}

// ComputeValue returns the sum of quantity times quoted price over every
// holding. A portfolio without holdings, or one that does not exist, is
// worth zero.
func (s *ValuationService) ComputeValue(ctx context.Context, portfolioID int64) (total decimal.Decimal, err error) {
	if portfolioID <= 0 {
		return decimal.Zero, apperrors.NewInvalidInputError("portfolioId", "must be a positive integer")
	}

	ctx, span := telemetry.StartSpan(ctx, "portfolio.value", attribute.Int64("portfolio.id", portfolioID))
	defer func() { telemetry.EndSpan(span, err) }()

	logger := logging.FromContext(ctx).WithField("portfolioId", portfolioID)

	var gen int64
	cacheable := false
	if s.cache != nil {
		var cached decimal.Decimal
		hit, err := s.cache.Get(ctx, s.cache.PortfolioValueKey(portfolioID), &cached)
		if err != nil {
			logger.WithError(err).Warn("Portfolio value cache read failed")
		} else if hit {
			return cached, nil
		}
		gen, cacheable = s.generation(ctx, portfolioID)
	}

	v, err := s.Valuate(ctx, portfolioID)
	if err != nil {
		return decimal.Zero, err
	}

	if cacheable {
		s.store(ctx, portfolioID, gen, s.cache.PortfolioValueKey(portfolioID), v.TotalValue)
	}
	return v.TotalValue, nil
}

// Valuate reads the holdings of a portfolio and prices them, bypassing the cache
func (s *ValuationService) Valuate(ctx context.Context, portfolioID int64) (*Valuation, error) {
	holdings, err := s.holdings.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to read holdings")
		return nil, apperrors.NewDatabaseError("portfolio valuation", err)
	}

	total := decimal.Zero
	for _, h := range holdings {
		price, err := s.quote(ctx, h.StockID)
		if err != nil {
			return nil, err
		}
		total = total.Add(price.Mul(decimal.NewFromInt(h.Quantity)))
	}

	return &Valuation{TotalValue: total, HoldingCount: len(holdings)}, nil
}

// GetHoldings returns the holdings of a portfolio with stock metadata and
// the current quote filled in
func (s *ValuationService) GetHoldings(ctx context.Context, portfolioID int64) ([]*models.HoldingView, error) {
	if portfolioID <= 0 {
		return nil, apperrors.NewInvalidInputError("portfolioId", "must be a positive integer")
	}

	logger := logging.FromContext(ctx).WithField("portfolioId", portfolioID)

	var gen int64
	cacheable := false
	if s.cache != nil {
		var cached []*models.HoldingView
		hit, err := s.cache.Get(ctx, s.cache.HoldingsKey(portfolioID), &cached)
		if err != nil {
			logger.WithError(err).Warn("Holdings cache read failed")
		} else if hit {
			return cached, nil
		}
		gen, cacheable = s.generation(ctx, portfolioID)
	}

	views, err := s.holdings.ListViews(ctx, portfolioID)
	if err != nil {
		logger.WithError(err).Error("Failed to read holding views")
		return nil, apperrors.NewDatabaseError("holdings lookup", err)
	}

	for _, v := range views {
		price, err := s.quote(ctx, v.StockID)
		if err != nil {
			return nil, err
		}
		v.CurrentPrice = price
		v.MarketValue = price.Mul(decimal.NewFromInt(v.Quantity))
	}

	if cacheable {
		s.store(ctx, portfolioID, gen, s.cache.HoldingsKey(portfolioID), views)
	}
	return views, nil
}

// generation reads the cache generation of a portfolio. The view is not
// cached when it cannot be read.
func (s *ValuationService) generation(ctx context.Context, portfolioID int64) (int64, bool) {
	gen, err := s.cache.Generation(ctx, portfolioID)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("portfolioId", portfolioID).Warn("Cache generation read failed")
		return 0, false
	}
	return gen, true
}

func (s *ValuationService) store(ctx context.Context, portfolioID, gen int64, key string, value interface{}) {
	logger := logging.FromContext(ctx).WithField("cacheKey", key)
	stored, err := s.cache.SetIfCurrent(ctx, portfolioID, gen, key, value)
	if err != nil {
		logger.WithError(err).Warn("Cache write failed")
		return
	}
	if !stored {
		logger.Debug("Skipped cache write for invalidated view")
	}
}

func (s *ValuationService) quote(ctx context.Context, stockID int64) (decimal.Decimal, error) {
	price, err := s.prices.Quote(ctx, stockID)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("stockId", stockID).Error("Price quote failed")
		return decimal.Zero, apperrors.NewServiceUnavailableError("pricing")
	}
	return price, nil
}
