package storage

import (
	"context"
	"fmt"

	"github.com/stock-portfolio/internal/models"
)

// HoldingRepository reads holdings outside of order transactions
type HoldingRepository struct {
	db *PostgresDB
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(db *PostgresDB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// ListByPortfolio returns the raw holdings of a portfolio ordered by stock
func (r *HoldingRepository) ListByPortfolio(ctx context.Context, portfolioID int64) ([]*models.Holding, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT portfolio_id, stock_id, quantity, purchase_price
		FROM holdings
		WHERE portfolio_id = $1
		ORDER BY stock_id
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	holdings := make([]*models.Holding, 0)
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.PortfolioID, &h.StockID, &h.Quantity, &h.PurchasePrice); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}

// ListViews returns holdings joined with stock metadata and, when the stock is
// listed, its alphabetically first exchange listing. One row per holding;
// CurrentPrice and MarketValue are left for the caller to fill in.
func (r *HoldingRepository) ListViews(ctx context.Context, portfolioID int64) ([]*models.HoldingView, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT h.portfolio_id, h.stock_id, h.quantity, h.purchase_price,
		       s.company_name, s.sector, ml.exchange_code, ml.symbol_code
		FROM holdings h
		JOIN stocks s ON s.stock_id = h.stock_id
		LEFT JOIN LATERAL (
			SELECT exchange_code, symbol_code
			FROM market_listings
			WHERE stock_id = h.stock_id
			ORDER BY exchange_code
			LIMIT 1
		) ml ON true
		WHERE h.portfolio_id = $1
		ORDER BY s.company_name, h.stock_id
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holding views: %w", err)
	}
	defer rows.Close()

	views := make([]*models.HoldingView, 0)
	for rows.Next() {
		var v models.HoldingView
		if err := rows.Scan(
			&v.PortfolioID,
			&v.StockID,
			&v.Quantity,
			&v.PurchasePrice,
			&v.CompanyName,
			&v.Sector,
			&v.ExchangeCode,
			&v.SymbolCode,
		); err != nil {
			return nil, fmt.Errorf("failed to scan holding view: %w", err)
		}
		views = append(views, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holding views: %w", err)
	}
	return views, nil
}
