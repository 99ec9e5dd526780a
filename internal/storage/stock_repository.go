package storage

import (
	"context"
	"fmt"

	"github.com/stock-portfolio/internal/models"
)

// StockRepository reads the stock reference data
type StockRepository struct {
	db *PostgresDB
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *PostgresDB) *StockRepository {
	return &StockRepository{db: db}
}

// List returns all stocks ordered by company name
func (r *StockRepository) List(ctx context.Context) ([]*models.Stock, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT stock_id, company_name, sector FROM stocks ORDER BY company_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	defer rows.Close()

	stocks := make([]*models.Stock, 0)
	for rows.Next() {
		var s models.Stock
		if err := rows.Scan(&s.ID, &s.CompanyName, &s.Sector); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stocks = append(stocks, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stocks: %w", err)
	}
	return stocks, nil
}

// ListListings returns the exchange listings of one stock
func (r *StockRepository) ListListings(ctx context.Context, stockID int64) ([]*models.MarketListing, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT stock_id, exchange_code, symbol_code
		FROM market_listings
		WHERE stock_id = $1
		ORDER BY exchange_code
	`, stockID)
	if err != nil {
		return nil, fmt.Errorf("failed to list market listings: %w", err)
	}
	defer rows.Close()

	listings := make([]*models.MarketListing, 0)
	for rows.Next() {
		var l models.MarketListing
		if err := rows.Scan(&l.StockID, &l.ExchangeCode, &l.SymbolCode); err != nil {
			return nil, fmt.Errorf("failed to scan market listing: %w", err)
		}
		listings = append(listings, &l)
	}
	return listings, rows.Err()
}
