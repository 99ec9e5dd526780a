package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stock-portfolio/internal/types"
)

// Order records a requested trade
type Order struct {
	ID          int64             `json:"orderId" db:"order_id"`
	InvestorID  int64             `json:"investorId" db:"investor_id"`
	PortfolioID int64             `json:"portfolioId" db:"portfolio_id"`
	StockID     int64             `json:"stockId" db:"stock_id"`
	Quantity    int64             `json:"quantity" db:"quantity"`
	Price       decimal.Decimal   `json:"price" db:"price"`
	Type        types.OrderType   `json:"type" db:"order_type"`
	Status      types.OrderStatus `json:"status" db:"status"`
	OrderDate   time.Time         `json:"orderDate" db:"order_date"`
}

// Notional returns quantity times price
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// BuyOrder extends an Order with how it was paid
type BuyOrder struct {
	OrderID     int64             `json:"orderId" db:"order_id"`
	PaymentType types.PaymentType `json:"paymentType" db:"payment_type"`
}

// SellOrder extends an Order with its settlement date
type SellOrder struct {
	OrderID        int64     `json:"orderId" db:"order_id"`
	SettlementDate time.Time `json:"settlementDate" db:"settlement_date"`
}

// OrderEvent is the ledger copy of a committed order
type OrderEvent struct {
	OrderID     int64     `json:"orderId" ch:"order_id"`
	InvestorID  int64     `json:"investorId" ch:"investor_id"`
	PortfolioID int64     `json:"portfolioId" ch:"portfolio_id"`
	StockID     int64     `json:"stockId" ch:"stock_id"`
	Type        string    `json:"type" ch:"order_type"`
	Quantity    int64     `json:"quantity" ch:"quantity"`
	Price       string    `json:"price" ch:"price"`
	Notional    string    `json:"notional" ch:"notional"`
	Status      string    `json:"status" ch:"status"`
	ExecutedAt  time.Time `json:"executedAt" ch:"executed_at"`
}

// NewOrderEvent builds the ledger event for a committed order
func NewOrderEvent(o *Order) *OrderEvent {
	return &OrderEvent{
		OrderID:     o.ID,
		InvestorID:  o.InvestorID,
		PortfolioID: o.PortfolioID,
		StockID:     o.StockID,
		Type:        string(o.Type),
		Quantity:    o.Quantity,
		Price:       o.Price.String(),
		Notional:    o.Notional().String(),
		Status:      string(o.Status),
		ExecutedAt:  o.OrderDate,
	}
}
