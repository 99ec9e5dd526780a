package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/storage"
	"github.com/stock-portfolio/internal/types"
)

type holdingKey struct {
	portfolioID int64
	stockID     int64
}

// memStore is an in-memory OrderStore. WithOrderTx serializes transactions
// and restores the previous state when fn fails.
type memStore struct {
	mu sync.Mutex

	portfolios map[int64]int64 // portfolio -> investor
	stocks     map[int64]bool
	holdings   map[holdingKey]models.Holding
	orders     []models.Order
	buyOrders  []models.BuyOrder
	sellOrders []models.SellOrder
	nextID     int64

	failOn  string
	listErr error
	clock   time.Time
}

func newMemStore() *memStore {
	return &memStore{
		portfolios: map[int64]int64{1: 100},
		stocks:     map[int64]bool{10: true, 11: true},
		holdings:   make(map[holdingKey]models.Holding),
		clock:      time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	}
}

type memSnapshot struct {
	holdings   map[holdingKey]models.Holding
	orders     []models.Order
	buyOrders  []models.BuyOrder
	sellOrders []models.SellOrder
	nextID     int64
}

func (m *memStore) snapshot() memSnapshot {
	holdings := make(map[holdingKey]models.Holding, len(m.holdings))
	for k, v := range m.holdings {
		holdings[k] = v
	}
	return memSnapshot{
		holdings:   holdings,
		orders:     append([]models.Order(nil), m.orders...),
		buyOrders:  append([]models.BuyOrder(nil), m.buyOrders...),
		sellOrders: append([]models.SellOrder(nil), m.sellOrders...),
		nextID:     m.nextID,
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.holdings = s.holdings
	m.orders = s.orders
	m.buyOrders = s.buyOrders
	m.sellOrders = s.sellOrders
	m.nextID = s.nextID
}

func (m *memStore) WithOrderTx(ctx context.Context, fn func(ctx context.Context, tx storage.OrderTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.snapshot()
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.restore(before)
		return err
	}
	return nil
}

func (m *memStore) List(ctx context.Context, limit int) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*models.Order, 0, len(m.orders))
	for i := len(m.orders) - 1; i >= 0; i-- {
		o := m.orders[i]
		out = append(out, &o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) holding(portfolioID, stockID int64) (models.Holding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[holdingKey{portfolioID, stockID}]
	return h, ok
}

func (m *memStore) setHolding(portfolioID, stockID, qty int64, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdings[holdingKey{portfolioID, stockID}] = models.Holding{
		PortfolioID:   portfolioID,
		StockID:       stockID,
		Quantity:      qty,
		PurchasePrice: decimal.RequireFromString(price),
	}
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders) + len(m.buyOrders) + len(m.sellOrders) + len(m.holdings)
}

var errInjected = errors.New("pq: relation \"holdings\" is locked by pid 4242")

type memTx struct {
	m *memStore
}

func (t *memTx) fail(op string) error {
	if t.m.failOn == op {
		return fmt.Errorf("%s: %w", op, errInjected)
	}
	return nil
}

func (t *memTx) PortfolioOwnedBy(ctx context.Context, portfolioID, investorID int64) (bool, error) {
	if err := t.fail("PortfolioOwnedBy"); err != nil {
		return false, err
	}
	owner, ok := t.m.portfolios[portfolioID]
	return ok && owner == investorID, nil
}

func (t *memTx) StockExists(ctx context.Context, stockID int64) (bool, error) {
	if err := t.fail("StockExists"); err != nil {
		return false, err
	}
	return t.m.stocks[stockID], nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *models.Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	t.m.nextID++
	o.ID = t.m.nextID
	o.OrderDate = t.m.clock
	t.m.orders = append(t.m.orders, *o)
	return nil
}

func (t *memTx) InsertBuyOrder(ctx context.Context, b *models.BuyOrder) error {
	if err := t.fail("InsertBuyOrder"); err != nil {
		return err
	}
	t.m.buyOrders = append(t.m.buyOrders, *b)
	return nil
}

func (t *memTx) InsertSellOrder(ctx context.Context, s *models.SellOrder) error {
	if err := t.fail("InsertSellOrder"); err != nil {
		return err
	}
	t.m.sellOrders = append(t.m.sellOrders, *s)
	return nil
}

func (t *memTx) UpsertHolding(ctx context.Context, portfolioID, stockID, quantity int64, price decimal.Decimal) (*models.Holding, error) {
	if err := t.fail("UpsertHolding"); err != nil {
		return nil, err
	}
	key := holdingKey{portfolioID, stockID}
	h := t.m.holdings[key]
	h.PortfolioID, h.StockID = portfolioID, stockID
	h.Quantity += quantity
	h.PurchasePrice = price
	t.m.holdings[key] = h
	return &h, nil
}

func (t *memTx) LockHolding(ctx context.Context, portfolioID, stockID int64) (*models.Holding, error) {
	if err := t.fail("LockHolding"); err != nil {
		return nil, err
	}
	h, ok := t.m.holdings[holdingKey{portfolioID, stockID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &h, nil
}

func (t *memTx) SetHoldingQuantity(ctx context.Context, portfolioID, stockID, quantity int64) error {
	if err := t.fail("SetHoldingQuantity"); err != nil {
		return err
	}
	key := holdingKey{portfolioID, stockID}
	h, ok := t.m.holdings[key]
	if !ok {
		return storage.ErrNotFound
	}
	h.Quantity = quantity
	t.m.holdings[key] = h
	return nil
}

func (t *memTx) DeleteHolding(ctx context.Context, portfolioID, stockID int64) error {
	if err := t.fail("DeleteHolding"); err != nil {
		return err
	}
	delete(t.m.holdings, holdingKey{portfolioID, stockID})
	return nil
}

var _ storage.OrderTx = (*memTx)(nil)

type fakeCache struct {
	mu          sync.Mutex
	invalidated []int64
	err         error
}

func (c *fakeCache) InvalidatePortfolio(ctx context.Context, portfolioID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, portfolioID)
	return c.err
}

type fakeLedger struct {
	mu      sync.Mutex
	events  []*models.OrderEvent
	err     error
	listErr error
}

func (l *fakeLedger) Record(ctx context.Context, ev *models.OrderEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.events = append(l.events, ev)
	return nil
}

func (l *fakeLedger) ListByPortfolio(ctx context.Context, portfolioID int64, limit int) ([]*models.OrderEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}
	out := make([]*models.OrderEvent, 0)
	for _, ev := range l.events {
		if ev.PortfolioID == portfolioID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID > out[j].OrderID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *fakeLedger) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*models.OrderEvent
	err       error
	attempts  int
}

func (p *fakePublisher) Publish(ctx context.Context, ev *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ev)
	return nil
}

// buyInput is a valid buy of stock 10 into portfolio 1 owned by investor 100
func buyInput(qty int64, price string) PlaceOrderInput {
	return PlaceOrderInput{
		InvestorID:  100,
		PortfolioID: 1,
		StockID:     10,
		Quantity:    qty,
		Price:       decimal.RequireFromString(price),
		Type:        string(types.OrderTypeBuy),
	}
}

func sellInput(qty int64, price string) PlaceOrderInput {
	in := buyInput(qty, price)
	in.Type = string(types.OrderTypeSell)
	return in
}

type fakeHoldingRepo struct {
	holdings map[int64][]*models.Holding
	views    map[int64][]*models.HoldingView
	err      error
	reads    int

	// afterRead runs once the rows are read, before they are returned
	afterRead func()
}

func (r *fakeHoldingRepo) ListByPortfolio(ctx context.Context, portfolioID int64) ([]*models.Holding, error) {
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	rows := r.holdings[portfolioID]
	r.runAfterRead()
	return rows, nil
}

func (r *fakeHoldingRepo) runAfterRead() {
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
}

func (r *fakeHoldingRepo) ListViews(ctx context.Context, portfolioID int64) ([]*models.HoldingView, error) {
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*models.HoldingView, 0, len(r.views[portfolioID]))
	for _, v := range r.views[portfolioID] {
		cp := *v
		out = append(out, &cp)
	}
	r.runAfterRead()
	return out, nil
}

type fakePriceSource struct {
	prices map[int64]decimal.Decimal
	err    error
}

func (p *fakePriceSource) Quote(ctx context.Context, stockID int64) (decimal.Decimal, error) {
	if p.err != nil {
		return decimal.Zero, p.err
	}
	if price, ok := p.prices[stockID]; ok {
		return price, nil
	}
	return decimal.RequireFromString("100.00"), nil
}

type fakePortfolioRepo struct {
	portfolios map[int64]*models.Portfolio
	nextID     int64
	err        error
}

func newFakePortfolioRepo(ids ...int64) *fakePortfolioRepo {
	r := &fakePortfolioRepo{portfolios: make(map[int64]*models.Portfolio)}
	for _, id := range ids {
		r.portfolios[id] = &models.Portfolio{ID: id, InvestorID: 100, Name: fmt.Sprintf("Portfolio %d", id)}
		if id > r.nextID {
			r.nextID = id
		}
	}
	return r
}

func (r *fakePortfolioRepo) Create(ctx context.Context, p *models.Portfolio) error {
	if r.err != nil {
		return r.err
	}
	r.nextID++
	p.ID = r.nextID
	p.CreationDate = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	cp := *p
	r.portfolios[p.ID] = &cp
	return nil
}

func (r *fakePortfolioRepo) GetByID(ctx context.Context, id int64) (*models.Portfolio, error) {
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.portfolios[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

func (r *fakePortfolioRepo) List(ctx context.Context, investorID *int64) ([]*models.Portfolio, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*models.Portfolio, 0)
	for _, p := range r.portfolios {
		if investorID == nil || p.InvestorID == *investorID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakePortfolioRepo) Delete(ctx context.Context, id int64) error {
	if r.err != nil {
		return r.err
	}
	if _, ok := r.portfolios[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.portfolios, id)
	return nil
}

type fakeInvestorRepo struct {
	investors map[int64]*models.Investor
	err       error
	updateErr error
}

func newFakeInvestorRepo() *fakeInvestorRepo {
	return &fakeInvestorRepo{investors: map[int64]*models.Investor{
		100: {ID: 100, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", RiskProfile: types.RiskModerate},
		101: {ID: 101, FirstName: "Alan", LastName: "Turing", Email: "alan@example.com", RiskProfile: types.RiskAggressive},
	}}
}

func (r *fakeInvestorRepo) GetByID(ctx context.Context, id int64) (*models.Investor, error) {
	if r.err != nil {
		return nil, r.err
	}
	inv, ok := r.investors[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return inv, nil
}

func (r *fakeInvestorRepo) List(ctx context.Context) ([]*models.Investor, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*models.Investor, 0, len(r.investors))
	for _, inv := range r.investors {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName < out[j].LastName })
	return out, nil
}

func (r *fakeInvestorRepo) Exists(ctx context.Context, id int64) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.investors[id]
	return ok, nil
}

func (r *fakeInvestorRepo) UpdateContact(ctx context.Context, id int64, firstName, lastName, email string, risk types.RiskProfile) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	inv, ok := r.investors[id]
	if !ok {
		return storage.ErrNotFound
	}
	for otherID, other := range r.investors {
		if otherID != id && other.Email == email {
			return storage.ErrConflict
		}
	}
	inv.FirstName = firstName
	if lastName != "" {
		inv.LastName = lastName
	}
	inv.Email = email
	inv.RiskProfile = risk
	return nil
}

type fakeSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[holdingKey]*models.ValuationSnapshot // portfolio, unix day
	err       error
	cutoffs   []time.Time
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{snapshots: make(map[holdingKey]*models.ValuationSnapshot)}
}

func (r *fakeSnapshotRepo) Upsert(ctx context.Context, s *models.ValuationSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cp := *s
	r.snapshots[holdingKey{s.PortfolioID, s.SnapshotDate.Unix()}] = &cp
	return nil
}

func (r *fakeSnapshotRepo) ListRange(ctx context.Context, portfolioID int64, from, to time.Time) ([]*models.ValuationSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*models.ValuationSnapshot, 0)
	for _, s := range r.snapshots {
		if s.PortfolioID == portfolioID && !s.SnapshotDate.Before(from) && !s.SnapshotDate.After(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotDate.Before(out[j].SnapshotDate) })
	return out, nil
}

func (r *fakeSnapshotRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.cutoffs = append(r.cutoffs, cutoff)
	var removed int64
	for k, s := range r.snapshots {
		if s.SnapshotDate.Before(cutoff) {
			delete(r.snapshots, k)
			removed++
		}
	}
	return removed, nil
}

func (r *fakeSnapshotRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}
