package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stock-portfolio/internal/models"
)

// OrderLedgerRepository appends committed orders to the ClickHouse
// order_events table and reads them back as a trade history.
type OrderLedgerRepository struct {
	db *ClickHouseDB
}

// NewOrderLedgerRepository creates a new order ledger repository
func NewOrderLedgerRepository(db *ClickHouseDB) *OrderLedgerRepository {
	return &OrderLedgerRepository{db: db}
}

// Record appends one event. Re-recording the same order is collapsed by the
// ReplacingMergeTree engine.
func (r *OrderLedgerRepository) Record(ctx context.Context, ev *models.OrderEvent) error {
	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return fmt.Errorf("invalid ledger price %q: %w", ev.Price, err)
	}
	notional, err := decimal.NewFromString(ev.Notional)
	if err != nil {
		return fmt.Errorf("invalid ledger notional %q: %w", ev.Notional, err)
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO order_events (
			order_id, investor_id, portfolio_id, stock_id, order_type,
			quantity, price, notional, status, executed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ledger batch: %w", err)
	}

	if err := batch.Append(
		ev.OrderID,
		ev.InvestorID,
		ev.PortfolioID,
		ev.StockID,
		ev.Type,
		ev.Quantity,
		price,
		notional,
		ev.Status,
		ev.ExecutedAt,
	); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append ledger event: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send ledger batch: %w", err)
	}
	return nil
}

// ListByPortfolio returns the newest events of a portfolio first
func (r *OrderLedgerRepository) ListByPortfolio(ctx context.Context, portfolioID int64, limit int) ([]*models.OrderEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Conn().Query(ctx, `
		SELECT order_id, investor_id, portfolio_id, stock_id, order_type,
		       quantity, toString(price), toString(notional), status, executed_at
		FROM order_events
		WHERE portfolio_id = ?
		ORDER BY executed_at DESC, order_id DESC
		LIMIT ?
	`, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]*models.OrderEvent, 0)
	for rows.Next() {
		var ev models.OrderEvent
		if err := rows.Scan(
			&ev.OrderID,
			&ev.InvestorID,
			&ev.PortfolioID,
			&ev.StockID,
			&ev.Type,
			&ev.Quantity,
			&ev.Price,
			&ev.Notional,
			&ev.Status,
			&ev.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger events: %w", err)
	}
	return events, nil
}
