package service

import (
	"context"

	apperrors "github.com/stock-portfolio/internal/errors"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/models"
)

// StockRepository interface for stock reference data
type StockRepository interface {
	List(ctx context.Context) ([]*models.Stock, error)
	ListListings(ctx context.Context, stockID int64) ([]*models.MarketListing, error)
}

// StockService serves the stock catalogue
type StockService struct {
	stockRepo StockRepository
}

// NewStockService creates a new stock service
func NewStockService(stockRepo StockRepository) *StockService {
	return &StockService{stockRepo: stockRepo}
}

// ListStocks returns every tradable stock
func (s *StockService) ListStocks(ctx context.Context) ([]*models.Stock, error) {
	stocks, err := s.stockRepo.List(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to list stocks")
		return nil, apperrors.NewDatabaseError("stock listing", err)
	}
	return stocks, nil
}

// ListListings returns the exchange listings of a stock, empty when unlisted
func (s *StockService) ListListings(ctx context.Context, stockID int64) ([]*models.MarketListing, error) {
	if stockID <= 0 {
		return nil, apperrors.NewInvalidInputError("stockId", "must be a positive integer")
	}

	listings, err := s.stockRepo.ListListings(ctx, stockID)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("stockId", stockID).Error("Failed to list market listings")
		return nil, apperrors.NewDatabaseError("listing lookup", err)
	}
	return listings, nil
}
