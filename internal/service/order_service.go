package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stock-portfolio/internal/circuitbreaker"
	apperrors "github.com/stock-portfolio/internal/errors"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/storage"
	"github.com/stock-portfolio/internal/telemetry"
	"github.com/stock-portfolio/internal/types"
)

// maxPriceScale matches the NUMERIC(18,4) price columns
const maxPriceScale = 4

// maxPrice is the first value a NUMERIC(18,4) column cannot hold
var maxPrice = decimal.New(1, 18-maxPriceScale)

// sideEffectTimeout bounds the post-commit ledger and publish calls
const sideEffectTimeout = 5 * time.Second

// OrderStore runs order statements in one transaction and lists orders
type OrderStore interface {
	WithOrderTx(ctx context.Context, fn func(ctx context.Context, tx storage.OrderTx) error) error
	List(ctx context.Context, limit int) ([]*models.Order, error)
}

// OrderLedger is the append-only trade history
type OrderLedger interface {
	Record(ctx context.Context, ev *models.OrderEvent) error
	ListByPortfolio(ctx context.Context, portfolioID int64, limit int) ([]*models.OrderEvent, error)
}

// EventPublisher announces committed orders to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, ev *models.OrderEvent) error
}

// CacheInvalidator drops cached views of a portfolio after it changes
type CacheInvalidator interface {
	InvalidatePortfolio(ctx context.Context, portfolioID int64) error
}

// OrderServiceOptions carries the optional collaborators of OrderService.
// Nil collaborators are skipped.
type OrderServiceOptions struct {
	Cache     CacheInvalidator
	Ledger    OrderLedger
	Publisher EventPublisher
	Metrics   *telemetry.Metrics

	// RejectOversell fails a sell larger than the held quantity with
	// INSUFFICIENT_HOLDING instead of deleting the holding.
	RejectOversell bool
}

// OrderService executes buy and sell orders and reconciles holdings
type OrderService struct {
	store          OrderStore
	cache          CacheInvalidator
	ledger         OrderLedger
	publisher      EventPublisher
	metrics        *telemetry.Metrics
	rejectOversell bool

	ledgerBreaker    *circuitbreaker.CircuitBreaker
	publisherBreaker *circuitbreaker.CircuitBreaker

	now func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, opts OrderServiceOptions) *OrderService {
	return &OrderService{
		store:            store,
		cache:            opts.Cache,
		ledger:           opts.Ledger,
		publisher:        opts.Publisher,
		metrics:          opts.Metrics,
		rejectOversell:   opts.RejectOversell,
		ledgerBreaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("order-ledger")),
		publisherBreaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("order-events")),
		now:              time.Now,
	}
}

// PlaceOrderInput represents an order request
type PlaceOrderInput struct {
	InvestorID  int64           `json:"investorId"`
	PortfolioID int64           `json:"portfolioId"`
	StockID     int64           `json:"stockId"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Type        string          `json:"type"`
	PaymentType string          `json:"paymentType,omitempty"`
}

// OrderResult echoes the created order. Holding is the position after the
// order, nil when the order left no holding.
type OrderResult struct {
	models.Order
	PaymentType    *types.PaymentType `json:"paymentType,omitempty"`
	SettlementDate *time.Time         `json:"settlementDate,omitempty"`
	Holding        *models.Holding    `json:"holding,omitempty"`
}

// validate checks every field before anything is written
func (in *PlaceOrderInput) validate() (types.OrderType, types.PaymentType, error) {
	if in.InvestorID <= 0 {
		return "", "", apperrors.NewInvalidInputError("investorId", "must be a positive integer")
	}
	if in.PortfolioID <= 0 {
		return "", "", apperrors.NewInvalidInputError("portfolioId", "must be a positive integer")
	}
	if in.StockID <= 0 {
		return "", "", apperrors.NewInvalidInputError("stockId", "must be a positive integer")
	}
	if in.Quantity <= 0 {
		return "", "", apperrors.NewInvalidInputError("quantity", "must be a positive integer")
	}
	if !in.Price.IsPositive() {
		return "", "", apperrors.NewInvalidInputError("price", "must be a positive number")
	}
	if in.Price.Exponent() < -maxPriceScale {
		return "", "", apperrors.NewInvalidInputError("price", "must have at most 4 decimal places")
	}
	if in.Price.GreaterThanOrEqual(maxPrice) {
		return "", "", apperrors.NewInvalidInputError("price", "must be less than "+maxPrice.String())
	}
	if strings.TrimSpace(in.Type) == "" {
		return "", "", apperrors.NewInvalidInputError("type", "is required")
	}

	orderType, err := types.ParseOrderType(in.Type)
	if err != nil {
		return "", "", apperrors.NewInvalidOrderTypeError(in.Type)
	}

	var paymentType types.PaymentType
	if orderType == types.OrderTypeBuy {
		paymentType, err = types.ParsePaymentType(in.PaymentType)
		if err != nil {
			return "", "", apperrors.NewInvalidInputError("paymentType", err.Error())
		}
	}

	return orderType, paymentType, nil
}

// PlaceOrder validates the request, then records the order and reconciles
// the holding in one transaction. Any failure rolls back every row.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (result *OrderResult, err error) {
	start := s.now()
	ctx, span := telemetry.StartSpan(ctx, "order.place",
		attribute.Int64("portfolio.id", in.PortfolioID),
		attribute.Int64("stock.id", in.StockID),
		attribute.String("order.type", in.Type),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"investorId":  in.InvestorID,
		"portfolioId": in.PortfolioID,
		"stockId":     in.StockID,
	})

	orderType, paymentType, err := in.validate()
	if err != nil {
		s.metrics.RecordOrder(ctx, strings.ToLower(in.Type), telemetry.OutcomeRejected, s.now().Sub(start))
		return nil, err
	}

	order := &models.Order{
		InvestorID:  in.InvestorID,
		PortfolioID: in.PortfolioID,
		StockID:     in.StockID,
		Quantity:    in.Quantity,
		Price:       in.Price,
		Type:        orderType,
		Status:      types.OrderStatusPending,
	}
	result = &OrderResult{}

	err = s.store.WithOrderTx(ctx, func(ctx context.Context, tx storage.OrderTx) error {
		owned, err := tx.PortfolioOwnedBy(ctx, order.PortfolioID, order.InvestorID)
		if err != nil {
			return err
		}
		if !owned {
			return apperrors.NewNotFoundError(types.CodePortfolioNotFound, "portfolio", order.PortfolioID)
		}

		exists, err := tx.StockExists(ctx, order.StockID)
		if err != nil {
			return err
		}
		if !exists {
			return apperrors.NewNotFoundError(types.CodeStockNotFound, "stock", order.StockID)
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		if orderType == types.OrderTypeBuy {
			return s.applyBuy(ctx, tx, order, paymentType, result)
		}
		return s.applySell(ctx, tx, order, result)
	})
	if err != nil {
		var catErr *apperrors.CategorizedError
		if errors.As(err, &catErr) {
			s.metrics.RecordOrder(ctx, string(orderType), telemetry.OutcomeRejected, s.now().Sub(start))
			return nil, err
		}
		logger.WithError(err).Error("Order transaction failed")
		s.metrics.RecordOrder(ctx, string(orderType), telemetry.OutcomeFailed, s.now().Sub(start))
		return nil, apperrors.NewDatabaseError("order placement", err)
	}

	s.metrics.RecordOrder(ctx, string(orderType), telemetry.OutcomeAccepted, s.now().Sub(start))
	logger.WithFields(map[string]interface{}{
		"orderId":  order.ID,
		"type":     string(orderType),
		"quantity": order.Quantity,
	}).Info("Order placed")

	s.afterCommit(ctx, order)

	result.Order = *order
	return result, nil
}

// applyBuy adds the quantity to the holding and overwrites its purchase price
func (s *OrderService) applyBuy(ctx context.Context, tx storage.OrderTx, order *models.Order, paymentType types.PaymentType, result *OrderResult) error {
	if err := tx.InsertBuyOrder(ctx, &models.BuyOrder{OrderID: order.ID, PaymentType: paymentType}); err != nil {
		return err
	}

	holding, err := tx.UpsertHolding(ctx, order.PortfolioID, order.StockID, order.Quantity, order.Price)
	if err != nil {
		return err
	}

	result.PaymentType = &paymentType
	result.Holding = holding
	return nil
}

// applySell decrements the locked holding and deletes it once it reaches zero
func (s *OrderService) applySell(ctx context.Context, tx storage.OrderTx, order *models.Order, result *OrderResult) error {
	settlement := settlementDate(order.OrderDate)
	if err := tx.InsertSellOrder(ctx, &models.SellOrder{OrderID: order.ID, SettlementDate: settlement}); err != nil {
		return err
	}
	result.SettlementDate = &settlement

	holding, err := tx.LockHolding(ctx, order.PortfolioID, order.StockID)
	if errors.Is(err, storage.ErrNotFound) {
		if s.rejectOversell {
			return apperrors.NewInsufficientHoldingError(0, order.Quantity)
		}
		return nil
	}
	if err != nil {
		return err
	}

	remaining := holding.Quantity - order.Quantity
	if remaining < 0 && s.rejectOversell {
		return apperrors.NewInsufficientHoldingError(holding.Quantity, order.Quantity)
	}
	if remaining <= 0 {
		return tx.DeleteHolding(ctx, order.PortfolioID, order.StockID)
	}

	if err := tx.SetHoldingQuantity(ctx, order.PortfolioID, order.StockID, remaining); err != nil {
		return err
	}
	holding.Quantity = remaining
	result.Holding = holding
	return nil
}

// settlementDate is the calendar day (UTC) the order was placed
func settlementDate(placed time.Time) time.Time {
	return truncateToDay(placed)
}

// afterCommit runs the best-effort steps of a committed order. None of them
// can fail the order.
func (s *OrderService) afterCommit(ctx context.Context, order *models.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"orderId":     order.ID,
		"portfolioId": order.PortfolioID,
	})

	if s.cache != nil {
		if err := s.cache.InvalidatePortfolio(ctx, order.PortfolioID); err != nil {
			logger.WithError(err).Warn("Failed to invalidate portfolio cache")
		}
	}

	if s.ledger == nil && s.publisher == nil {
		return
	}
	ev := models.NewOrderEvent(order)

	if s.ledger != nil {
		err := s.ledgerBreaker.Execute(ctx, func(ctx context.Context) error {
			return s.ledger.Record(ctx, ev)
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to record order in ledger")
			s.metrics.RecordSideEffectFailure(ctx, "ledger")
		}
	}

	if s.publisher != nil {
		err := s.publisherBreaker.Execute(ctx, func(ctx context.Context) error {
			return s.publisher.Publish(ctx, ev)
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to publish order event")
			s.metrics.RecordSideEffectFailure(ctx, "events")
		}
	}
}

// ListOrders returns orders newest first; limit <= 0 returns all of them
func (s *OrderService) ListOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	orders, err := s.store.List(ctx, limit)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to list orders")
		return nil, apperrors.NewDatabaseError("order listing", err)
	}
	return orders, nil
}

// ListTrades returns the ledger history of a portfolio, newest first
func (s *OrderService) ListTrades(ctx context.Context, portfolioID int64, limit int) ([]*models.OrderEvent, error) {
	if s.ledger == nil {
		return nil, apperrors.NewServiceUnavailableError("order ledger")
	}
	if portfolioID <= 0 {
		return nil, apperrors.NewInvalidInputError("portfolioId", "must be a positive integer")
	}

	trades, err := s.ledger.ListByPortfolio(ctx, portfolioID, limit)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to read order ledger")
		return nil, apperrors.NewServiceUnavailableError("order ledger")
	}
	return trades, nil
}

// BreakerStats reports the state of the ledger and publisher circuit breakers
func (s *OrderService) BreakerStats() []circuitbreaker.Stats {
	stats := make([]circuitbreaker.Stats, 0, 2)
	if s.ledger != nil {
		stats = append(stats, s.ledgerBreaker.GetStats())
	}
	if s.publisher != nil {
		stats = append(stats, s.publisherBreaker.GetStats())
	}
	return stats
}
