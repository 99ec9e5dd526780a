package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/types"
)

// OrderTx is the set of statements an order executes inside one transaction
type OrderTx interface {
	// PortfolioOwnedBy reports whether the portfolio exists and belongs to the investor
	PortfolioOwnedBy(ctx context.Context, portfolioID, investorID int64) (bool, error)
	StockExists(ctx context.Context, stockID int64) (bool, error)
	// InsertOrder stores o and fills in its ID and OrderDate
	InsertOrder(ctx context.Context, o *models.Order) error
	InsertBuyOrder(ctx context.Context, b *models.BuyOrder) error
	InsertSellOrder(ctx context.Context, s *models.SellOrder) error
	// UpsertHolding adds quantity to the holding, creating it if absent, and
	// overwrites its purchase price. Returns the resulting row.
	UpsertHolding(ctx context.Context, portfolioID, stockID, quantity int64, price decimal.Decimal) (*models.Holding, error)
	// LockHolding returns the holding with a row lock held until the
	// transaction ends, or ErrNotFound.
	LockHolding(ctx context.Context, portfolioID, stockID int64) (*models.Holding, error)
	SetHoldingQuantity(ctx context.Context, portfolioID, stockID, quantity int64) error
	DeleteHolding(ctx context.Context, portfolioID, stockID int64) error
}

// OrderRepository handles order persistence
type OrderRepository struct {
	db  *PostgresDB
	txm *TxManager
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *PostgresDB, txm *TxManager) *OrderRepository {
	return &OrderRepository{db: db, txm: txm}
}

// WithOrderTx runs fn in one transaction; any error from fn rolls back every statement
func (r *OrderRepository) WithOrderTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error {
	return r.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgOrderTx{q: tx})
	})
}

// List returns orders newest first. limit <= 0 returns every order.
func (r *OrderRepository) List(ctx context.Context, limit int) ([]*models.Order, error) {
	query := `
		SELECT order_id, investor_id, portfolio_id, stock_id, quantity, price, order_type, status, order_date
		FROM orders
		ORDER BY order_date DESC, order_id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		var o models.Order
		var orderType, status string
		if err := rows.Scan(
			&o.ID,
			&o.InvestorID,
			&o.PortfolioID,
			&o.StockID,
			&o.Quantity,
			&o.Price,
			&orderType,
			&status,
			&o.OrderDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Type = types.OrderType(orderType)
		o.Status = types.OrderStatus(status)
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

type pgOrderTx struct {
	q DBTX
}

func (t *pgOrderTx) PortfolioOwnedBy(ctx context.Context, portfolioID, investorID int64) (bool, error) {
	var ok bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM portfolios WHERE portfolio_id = $1 AND investor_id = $2)`,
		portfolioID, investorID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check portfolio ownership: %w", err)
	}
	return ok, nil
}

func (t *pgOrderTx) StockExists(ctx context.Context, stockID int64) (bool, error) {
	var ok bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stocks WHERE stock_id = $1)`, stockID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check stock: %w", err)
	}
	return ok, nil
}

func (t *pgOrderTx) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (investor_id, portfolio_id, stock_id, quantity, price, order_type, status, order_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING order_id, order_date
	`
	err := t.q.QueryRow(ctx, query,
		o.InvestorID,
		o.PortfolioID,
		o.StockID,
		o.Quantity,
		o.Price,
		string(o.Type),
		string(o.Status),
	).Scan(&o.ID, &o.OrderDate)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (t *pgOrderTx) InsertBuyOrder(ctx context.Context, b *models.BuyOrder) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO buy_orders (order_id, payment_type) VALUES ($1, $2)`,
		b.OrderID, string(b.PaymentType),
	)
	if err != nil {
		return fmt.Errorf("failed to insert buy order: %w", err)
	}
	return nil
}

func (t *pgOrderTx) InsertSellOrder(ctx context.Context, s *models.SellOrder) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO sell_orders (order_id, settlement_date) VALUES ($1, $2)`,
		s.OrderID, s.SettlementDate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sell order: %w", err)
	}
	return nil
}

func (t *pgOrderTx) UpsertHolding(ctx context.Context, portfolioID, stockID, quantity int64, price decimal.Decimal) (*models.Holding, error) {
	// a single statement so concurrent buys of the same stock add up
	query := `
		INSERT INTO holdings (portfolio_id, stock_id, quantity, purchase_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (portfolio_id, stock_id) DO UPDATE
		SET quantity = holdings.quantity + EXCLUDED.quantity,
		    purchase_price = EXCLUDED.purchase_price
		RETURNING portfolio_id, stock_id, quantity, purchase_price
	`
	var h models.Holding
	err := t.q.QueryRow(ctx, query, portfolioID, stockID, quantity, price).Scan(
		&h.PortfolioID,
		&h.StockID,
		&h.Quantity,
		&h.PurchasePrice,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert holding: %w", err)
	}
	return &h, nil
}

func (t *pgOrderTx) LockHolding(ctx context.Context, portfolioID, stockID int64) (*models.Holding, error) {
	query := `
		SELECT portfolio_id, stock_id, quantity, purchase_price
		FROM holdings
		WHERE portfolio_id = $1 AND stock_id = $2
		FOR UPDATE
	`
	var h models.Holding
	err := t.q.QueryRow(ctx, query, portfolioID, stockID).Scan(
		&h.PortfolioID,
		&h.StockID,
		&h.Quantity,
		&h.PurchasePrice,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock holding: %w", err)
	}
	return &h, nil
}

func (t *pgOrderTx) SetHoldingQuantity(ctx context.Context, portfolioID, stockID, quantity int64) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE holdings SET quantity = $3 WHERE portfolio_id = $1 AND stock_id = $2`,
		portfolioID, stockID, quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgOrderTx) DeleteHolding(ctx context.Context, portfolioID, stockID int64) error {
	_, err := t.q.Exec(ctx,
		`DELETE FROM holdings WHERE portfolio_id = $1 AND stock_id = $2`,
		portfolioID, stockID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	return nil
}

var _ OrderTx = (*pgOrderTx)(nil)
