package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stock-portfolio/internal/circuitbreaker"
	apperrors "github.com/stock-portfolio/internal/errors"
	"github.com/stock-portfolio/internal/types"
)

func requireCode(t *testing.T, err error, code string, status int) {
	t.Helper()
	require.Error(t, err)
	catErr := apperrors.Categorize(err)
	assert.Equal(t, code, catErr.Code)
	assert.Equal(t, status, catErr.StatusCode)
}

func TestPlaceOrderBuyBuySellScenario(t *testing.T) {
	store := newMemStore()
	svc := NewOrderService(store, OrderServiceOptions{})
	ctx := context.Background()

	res, err := svc.PlaceOrder(ctx, buyInput(10, "50"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, res.Status)
	assert.Equal(t, types.PaymentCash, *res.PaymentType)
	h, ok := store.holding(1, 10)
	require.True(t, ok)
	assert.Equal(t, int64(10), h.Quantity)
	assert.True(t, decimal.NewFromInt(50).Equal(h.PurchasePrice))

	_, err = svc.PlaceOrder(ctx, buyInput(5, "60"))
	require.NoError(t, err)
	h, ok = store.holding(1, 10)
	require.True(t, ok)
	assert.Equal(t, int64(15), h.Quantity)
	assert.True(t, decimal.NewFromInt(60).Equal(h.PurchasePrice), "latest price overwrites, no averaging")

	res, err = svc.PlaceOrder(ctx, sellInput(15, "70"))
	require.NoError(t, err)
	assert.Nil(t, res.Holding)
	_, ok = store.holding(1, 10)
	assert.False(t, ok, "holding is deleted when it reaches zero")

	assert.Equal(t, 3, store.orderCount())
}

func TestPlaceOrderResultEcho(t *testing.T) {
	store := newMemStore()
	svc := NewOrderService(store, OrderServiceOptions{})

	in := buyInput(3, "12.5")
	in.Type = "BUY"
	in.PaymentType = "wire transfer"

	res, err := svc.PlaceOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ID)
	assert.Equal(t, int64(100), res.InvestorID)
	assert.Equal(t, int64(1), res.PortfolioID)
	assert.Equal(t, int64(10), res.StockID)
	assert.Equal(t, int64(3), res.Quantity)
	assert.Equal(t, "12.5", res.Price.String())
	assert.Equal(t, types.OrderTypeBuy, res.Type)
	assert.Equal(t, types.PaymentWireTransfer, *res.PaymentType)
	assert.Equal(t, store.clock, res.OrderDate)
	require.NotNil(t, res.Holding)
	assert.Equal(t, int64(3), res.Holding.Quantity)
}

func TestPlaceOrderPartialSell(t *testing.T) {
	store := newMemStore()
	store.setHolding(1, 10, 20, "40")
	svc := NewOrderService(store, OrderServiceOptions{})

	res, err := svc.PlaceOrder(context.Background(), sellInput(8, "45"))
	require.NoError(t, err)

	h, ok := store.holding(1, 10)
	require.True(t, ok)
	assert.Equal(t, int64(12), h.Quantity)
	assert.True(t, decimal.NewFromInt(40).Equal(h.PurchasePrice), "sells keep the purchase price")
	require.NotNil(t, res.Holding)
	assert.Equal(t, int64(12), res.Holding.Quantity)

	require.NotNil(t, res.SettlementDate)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), *res.SettlementDate)
	assert.Nil(t, res.PaymentType)
}

func TestPlaceOrderSellWithoutHolding(t *testing.T) {
	store := newMemStore()
	svc := NewOrderService(store, OrderServiceOptions{})

	res, err := svc.PlaceOrder(context.Background(), sellInput(5, "10"))
	require.NoError(t, err)
	assert.Nil(t, res.Holding)
	assert.Equal(t, 1, store.orderCount(), "the order is still recorded")
	_, ok := store.holding(1, 10)
	assert.False(t, ok)
}

func TestPlaceOrderOversell(t *testing.T) {
	t.Run("deletes the holding by default", func(t *testing.T) {
		store := newMemStore()
		store.setHolding(1, 10, 4, "40")
		svc := NewOrderService(store, OrderServiceOptions{})

		_, err := svc.PlaceOrder(context.Background(), sellInput(9, "45"))
		require.NoError(t, err)
		_, ok := store.holding(1, 10)
		assert.False(t, ok)
	})

	t.Run("rejects when configured", func(t *testing.T) {
		store := newMemStore()
		store.setHolding(1, 10, 4, "40")
		svc := NewOrderService(store, OrderServiceOptions{RejectOversell: true})

		_, err := svc.PlaceOrder(context.Background(), sellInput(9, "45"))
		requireCode(t, err, types.CodeInsufficientHolding, http.StatusConflict)

		h, ok := store.holding(1, 10)
		require.True(t, ok)
		assert.Equal(t, int64(4), h.Quantity)
		assert.Equal(t, 0, store.orderCount(), "rejected sell is rolled back")
	})

	t.Run("rejects sell of unheld stock when configured", func(t *testing.T) {
		store := newMemStore()
		svc := NewOrderService(store, OrderServiceOptions{RejectOversell: true})

		_, err := svc.PlaceOrder(context.Background(), sellInput(1, "45"))
		requireCode(t, err, types.CodeInsufficientHolding, http.StatusConflict)
		assert.Equal(t, 0, store.orderCount())
	})

	t.Run("exact sell is allowed when configured", func(t *testing.T) {
		store := newMemStore()
		store.setHolding(1, 10, 4, "40")
		svc := NewOrderService(store, OrderServiceOptions{RejectOversell: true})

		_, err := svc.PlaceOrder(context.Background(), sellInput(4, "45"))
		require.NoError(t, err)
		_, ok := store.holding(1, 10)
		assert.False(t, ok)
	})
}

func TestPlaceOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PlaceOrderInput)
		code   string
	}{
		{"missing investor", func(in *PlaceOrderInput) { in.InvestorID = 0 }, types.CodeInvalidInput},
		{"missing portfolio", func(in *PlaceOrderInput) { in.PortfolioID = 0 }, types.CodeInvalidInput},
		{"negative stock", func(in *PlaceOrderInput) { in.StockID = -3 }, types.CodeInvalidInput},
		{"zero quantity", func(in *PlaceOrderInput) { in.Quantity = 0 }, types.CodeInvalidInput},
		{"negative quantity", func(in *PlaceOrderInput) { in.Quantity = -5 }, types.CodeInvalidInput},
		{"zero price", func(in *PlaceOrderInput) { in.Price = decimal.Zero }, types.CodeInvalidInput},
		{"negative price", func(in *PlaceOrderInput) { in.Price = decimal.NewFromInt(-1) }, types.CodeInvalidInput},
		{"price too precise", func(in *PlaceOrderInput) { in.Price = decimal.RequireFromString("1.00001") }, types.CodeInvalidInput},
		{"price overflows column", func(in *PlaceOrderInput) { in.Price = decimal.RequireFromString("100000000000000") }, types.CodeInvalidInput},
		{"missing type", func(in *PlaceOrderInput) { in.Type = " " }, types.CodeInvalidInput},
		{"unknown type", func(in *PlaceOrderInput) { in.Type = "short" }, types.CodeInvalidOrderType},
		{"unknown payment type", func(in *PlaceOrderInput) { in.PaymentType = "Bitcoin" }, types.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.setHolding(1, 10, 5, "10")
			before := store.rowCount()
			cache := &fakeCache{}
			ledger := &fakeLedger{}
			svc := NewOrderService(store, OrderServiceOptions{Cache: cache, Ledger: ledger})

			in := buyInput(1, "10")
			tt.mutate(&in)

			_, err := svc.PlaceOrder(context.Background(), in)
			requireCode(t, err, tt.code, http.StatusBadRequest)
			assert.Equal(t, before, store.rowCount(), "rejected request wrote rows")
			assert.Empty(t, cache.invalidated)
			assert.Zero(t, ledger.calls())
		})
	}
}

func TestPlaceOrderSellIgnoresPaymentType(t *testing.T) {
	store := newMemStore()
	store.setHolding(1, 10, 5, "10")
	svc := NewOrderService(store, OrderServiceOptions{})

	in := sellInput(1, "10")
	in.PaymentType = "Bitcoin"
	_, err := svc.PlaceOrder(context.Background(), in)
	assert.NoError(t, err)
}

func TestPlaceOrderNotFound(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PlaceOrderInput)
		code   string
	}{
		{"portfolio of another investor", func(in *PlaceOrderInput) { in.InvestorID = 101 }, types.CodePortfolioNotFound},
		{"unknown portfolio", func(in *PlaceOrderInput) { in.PortfolioID = 99 }, types.CodePortfolioNotFound},
		{"unknown stock", func(in *PlaceOrderInput) { in.StockID = 99 }, types.CodeStockNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := NewOrderService(store, OrderServiceOptions{})

			in := buyInput(1, "10")
			tt.mutate(&in)

			_, err := svc.PlaceOrder(context.Background(), in)
			requireCode(t, err, tt.code, http.StatusNotFound)
			assert.Zero(t, store.rowCount())
		})
	}
}

func TestPlaceOrderRollsBackOnStoreFailure(t *testing.T) {
	tests := []struct {
		failOn string
		input  PlaceOrderInput
	}{
		{"PortfolioOwnedBy", buyInput(2, "10")},
		{"StockExists", buyInput(2, "10")},
		{"InsertOrder", buyInput(2, "10")},
		{"InsertBuyOrder", buyInput(2, "10")},
		{"UpsertHolding", buyInput(2, "10")},
		{"InsertSellOrder", sellInput(2, "10")},
		{"LockHolding", sellInput(2, "10")},
		{"SetHoldingQuantity", sellInput(2, "10")},
		{"DeleteHolding", sellInput(7, "10")},
	}

	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			store := newMemStore()
			store.setHolding(1, 10, 5, "10")
			store.failOn = tt.failOn
			before := store.snapshot()
			cache := &fakeCache{}
			svc := NewOrderService(store, OrderServiceOptions{Cache: cache})

			_, err := svc.PlaceOrder(context.Background(), tt.input)
			requireCode(t, err, types.CodeDatabaseError, http.StatusInternalServerError)
			assert.NotContains(t, apperrors.Categorize(err).Message, "pid 4242", "driver text must not reach clients")
			assert.ErrorIs(t, err, errInjected)

			after := store.snapshot()
			assert.Equal(t, before.holdings, after.holdings)
			assert.Empty(t, after.orders)
			assert.Empty(t, after.buyOrders)
			assert.Empty(t, after.sellOrders)
			assert.Empty(t, cache.invalidated, "nothing to invalidate after rollback")
		})
	}
}

func TestPlaceOrderSideEffects(t *testing.T) {
	store := newMemStore()
	cache := &fakeCache{}
	ledger := &fakeLedger{}
	publisher := &fakePublisher{}
	svc := NewOrderService(store, OrderServiceOptions{Cache: cache, Ledger: ledger, Publisher: publisher})

	res, err := svc.PlaceOrder(context.Background(), buyInput(10, "50"))
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, cache.invalidated)
	require.Len(t, ledger.events, 1)
	assert.Equal(t, res.ID, ledger.events[0].OrderID)
	assert.Equal(t, "500", ledger.events[0].Notional)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, "buy", publisher.published[0].Type)
}

func TestPlaceOrderSideEffectFailuresDoNotFailOrder(t *testing.T) {
	store := newMemStore()
	cache := &fakeCache{err: errors.New("redis down")}
	ledger := &fakeLedger{err: errors.New("clickhouse down")}
	publisher := &fakePublisher{err: errors.New("sns down")}
	svc := NewOrderService(store, OrderServiceOptions{Cache: cache, Ledger: ledger, Publisher: publisher})

	_, err := svc.PlaceOrder(context.Background(), buyInput(1, "50"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.orderCount())
}

func TestPlaceOrderLedgerBreakerOpens(t *testing.T) {
	store := newMemStore()
	publisher := &fakePublisher{err: errors.New("sns down")}
	svc := NewOrderService(store, OrderServiceOptions{Publisher: publisher})

	for i := 0; i < 8; i++ {
		_, err := svc.PlaceOrder(context.Background(), buyInput(1, "50"))
		require.NoError(t, err)
	}

	assert.Equal(t, 5, publisher.attempts, "open breaker skips the publisher")
	stats := svc.BreakerStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "order-events", stats[0].Name)
	assert.Equal(t, circuitbreaker.StateOpen, stats[0].State)
}

func TestPlaceOrderConcurrentBuys(t *testing.T) {
	store := newMemStore()
	svc := NewOrderService(store, OrderServiceOptions{})

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), buyInput(2, "10"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	h, ok := store.holding(1, 10)
	require.True(t, ok)
	assert.Equal(t, int64(2*n), h.Quantity)
	assert.Equal(t, n, store.orderCount())
}

func TestListOrders(t *testing.T) {
	store := newMemStore()
	svc := NewOrderService(store, OrderServiceOptions{})
	ctx := context.Background()

	for _, qty := range []int64{1, 2, 3} {
		_, err := svc.PlaceOrder(ctx, buyInput(qty, "10"))
		require.NoError(t, err)
	}

	orders, err := svc.ListOrders(ctx, 0)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, int64(3), orders[0].Quantity, "newest first")

	orders, err = svc.ListOrders(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	store.listErr = errors.New("connection refused")
	_, err = svc.ListOrders(ctx, 0)
	requireCode(t, err, types.CodeDatabaseError, http.StatusInternalServerError)
}

func TestListTrades(t *testing.T) {
	ctx := context.Background()

	t.Run("ledger disabled", func(t *testing.T) {
		svc := NewOrderService(newMemStore(), OrderServiceOptions{})
		_, err := svc.ListTrades(ctx, 1, 10)
		requireCode(t, err, types.CodeServiceUnavailable, http.StatusServiceUnavailable)
	})

	t.Run("returns recorded trades", func(t *testing.T) {
		ledger := &fakeLedger{}
		svc := NewOrderService(newMemStore(), OrderServiceOptions{Ledger: ledger})
		for i := 0; i < 3; i++ {
			_, err := svc.PlaceOrder(ctx, buyInput(1, "10"))
			require.NoError(t, err)
		}

		trades, err := svc.ListTrades(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, trades, 2)
		assert.Equal(t, int64(3), trades[0].OrderID)
	})

	t.Run("invalid portfolio", func(t *testing.T) {
		svc := NewOrderService(newMemStore(), OrderServiceOptions{Ledger: &fakeLedger{}})
		_, err := svc.ListTrades(ctx, 0, 10)
		requireCode(t, err, types.CodeInvalidInput, http.StatusBadRequest)
	})

	t.Run("ledger read failure", func(t *testing.T) {
		svc := NewOrderService(newMemStore(), OrderServiceOptions{Ledger: &fakeLedger{listErr: errors.New("timeout")}})
		_, err := svc.ListTrades(ctx, 1, 10)
		requireCode(t, err, types.CodeServiceUnavailable, http.StatusServiceUnavailable)
	})
}

func TestSettlementDate(t *testing.T) {
	placed := time.Date(2026, 7, 14, 23, 59, 59, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), settlementDate(placed))
}
