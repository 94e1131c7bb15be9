package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quantnest/papervenue/internal/domain"
)

// memStore is an in-memory implementation of every store the engine touches.
// ApplyFill mirrors the transactional contract: the whole bundle lands or
// none of it does.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	orderSeq  []string
	trades    []domain.Trade
	positions map[string]domain.Position // userID|symbol
	accounts  map[string]domain.Account
	audit     []domain.AuditEntry
	failFills int // number of ApplyFill calls to fail before succeeding
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]domain.Order),
		positions: make(map[string]domain.Position),
		accounts:  make(map[string]domain.Account),
	}
}

func (m *memStore) Create(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.orders[o.ID] = o
	m.orderSeq = append(m.orderSeq, o.ID)
	return nil
}

func (m *memStore) Update(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	m.orders[o.ID] = o
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memStore) ListOpen(_ context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, id := range m.orderSeq {
		if o := m.orders[id]; !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, id := range m.orderSeq {
		if o := m.orders[id]; o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) ApplyFill(_ context.Context, b domain.FillBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFills > 0 {
		m.failFills--
		return errors.New("storage temporarily unavailable")
	}
	for _, o := range b.Orders {
		m.orders[o.ID] = o
	}
	m.trades = append(m.trades, b.Trades...)
	for _, p := range b.Positions {
		key := p.UserID + "|" + p.Symbol
		if p.Qty == 0 {
			delete(m.positions, key)
		} else {
			m.positions[key] = p
		}
	}
	for _, a := range b.Accounts {
		m.accounts[a.UserID] = a
	}
	return nil
}

func (m *memStore) ListByOrder(_ context.Context, orderID string) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trade
	for _, tr := range m.trades {
		if tr.OrderID == orderID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, userID string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memStore) Log(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *memStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.audit...), nil
}

func (m *memStore) ListBefore(_ context.Context, _ time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// memPositions adapts memStore to domain.PositionStore.
type memPositions struct{ s *memStore }

func (m memPositions) Get(_ context.Context, userID, symbol string) (domain.Position, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.positions[userID+"|"+symbol]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (m memPositions) ListByUser(_ context.Context, userID string) ([]domain.Position, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Position
	for _, p := range m.s.positions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m memPositions) ListOpen(_ context.Context) ([]domain.Position, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Position
	for _, p := range m.s.positions {
		out = append(out, p)
	}
	return out, nil
}

// memLTP is an in-memory domain.LTPCache.
type memLTP struct {
	mu     sync.Mutex
	prices map[string]float64
	times  map[string]time.Time
}

func newMemLTP() *memLTP {
	return &memLTP{prices: make(map[string]float64), times: make(map[string]time.Time)}
}

func (m *memLTP) Set(_ context.Context, symbol string, price float64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	m.times[symbol] = ts
	return nil
}

func (m *memLTP) Get(_ context.Context, symbol string) (float64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, m.times[symbol], nil
}

// nopBus satisfies domain.SignalBus without delivering anything.
type nopBus struct{}

func (nopBus) Publish(context.Context, string, []byte) error { return nil }

func (nopBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (nopBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (nopBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type testEnv struct {
	eng   *Engine
	store *memStore
	ltp   *memLTP
}

func newTestEngine(cfg Config) *testEnv {
	store := newMemStore()
	ltp := newMemLTP()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(cfg, store, store, store, store, memPositions{store}, ltp, nopBus{}, nil, logger)
	return &testEnv{eng: eng, store: store, ltp: ltp}
}

func (te *testEnv) tick(ctx context.Context, symbol string, price float64) error {
	return te.eng.HandleTick(ctx, domain.Tick{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Last:      price,
		Volume:    1,
	})
}

func (te *testEnv) storedOrder(id string) domain.Order {
	o, _ := te.store.GetByID(context.Background(), id)
	return o
}
