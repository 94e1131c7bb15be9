// Package engine implements the matching core: order lifecycle, price-time
// priority matching, trigger evaluation, bracket/OCO orchestration and the
// position/account ledger. The engine is the sole mutator of orders, trades,
// positions and accounts; everything else reads snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantnest/papervenue/internal/book"
	"github.com/quantnest/papervenue/internal/domain"
)

// Config tunes engine behavior. Zero values select defaults.
type Config struct {
	PlaceLimit   int           // order placements per user per window
	PlaceWindow  time.Duration // rate limit window
	FillRetries  int           // attempts for the fill transaction
	RetryBackoff time.Duration // base backoff between fill attempts
}

func (c Config) withDefaults() Config {
	if c.PlaceLimit <= 0 {
		c.PlaceLimit = 10
	}
	if c.PlaceWindow <= 0 {
		c.PlaceWindow = time.Second
	}
	if c.FillRetries <= 0 {
		c.FillRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	return c
}

// symbolState is the per-instrument mutable state. Its mutex serializes all
// matching, trigger evaluation and book mutation for one symbol; cross-symbol
// work runs in parallel.
type symbolState struct {
	mu     sync.Mutex
	book   *book.Book
	watch  map[string]struct{} // order IDs waiting on a trigger price
	last   float64             // last released trade price
	lastTS time.Time
}

// Engine is the matching engine.
type Engine struct {
	cfg Config

	orderStore domain.OrderStore
	fillStore  domain.FillStore
	auditStore domain.AuditStore
	accounts   domain.AccountStore
	positions  domain.PositionStore
	ltp        domain.LTPCache
	bus        domain.SignalBus
	limiter    domain.RateLimiter // optional
	logger     *slog.Logger

	mu       sync.RWMutex
	state    map[string]*domain.Order // open (and transiently terminal) orders
	symbols  map[string]*symbolState
	children map[string][]string // entry order ID -> child order IDs
	groups   map[string][]string // oco group -> order IDs

	// ledgerMu serializes ledger reads and the fill transaction across
	// symbols so two concurrent fills can never interleave their
	// read-modify-write of the same account.
	ledgerMu sync.Mutex
}

// New creates an Engine. The rate limiter may be nil, in which case placement
// is not rate limited.
func New(
	cfg Config,
	orders domain.OrderStore,
	fills domain.FillStore,
	audit domain.AuditStore,
	accounts domain.AccountStore,
	positions domain.PositionStore,
	ltp domain.LTPCache,
	bus domain.SignalBus,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg.withDefaults(),
		orderStore: orders,
		fillStore:  fills,
		auditStore: audit,
		accounts:   accounts,
		positions:  positions,
		ltp:        ltp,
		bus:        bus,
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "engine")),
		state:      make(map[string]*domain.Order),
		symbols:    make(map[string]*symbolState),
		children:   make(map[string][]string),
		groups:     make(map[string][]string),
	}
}

// Rehydrate rebuilds in-memory state from persisted open orders after a
// restart: resting LIMIT orders go back into their books, trigger orders back
// onto the watch list, and bracket children whose parent is still open stay
// inactive. ListOpen returns orders in arrival order so FIFO priority is
// preserved.
func (e *Engine) Rehydrate(ctx context.Context) error {
	open, err := e.orderStore.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("engine: rehydrate: %w", err)
	}

	e.mu.Lock()
	for i := range open {
		o := open[i]
		e.registerLocked(&o)
	}
	e.mu.Unlock()

	for i := range open {
		o := e.order(open[i].ID)
		if o == nil {
			continue
		}
		st := e.symbol(o.Symbol)
		st.mu.Lock()
		if st.last == 0 {
			if price, ts, err := e.ltp.Get(ctx, o.Symbol); err == nil {
				st.last, st.lastTS = price, ts
			}
		}
		// A child activates only once its entry has filled. With the entry
		// still open the child stays dormant; if the entry ended cancelled
		// or rejected the child can never activate and is cancelled here.
		if o.ParentID != "" {
			if e.orderIsOpen(o.ParentID) {
				st.mu.Unlock()
				continue
			}
			parent, perr := e.orderStore.GetByID(ctx, o.ParentID)
			if perr != nil || parent.Status != domain.OrderStatusFilled {
				e.cancelLocked(ctx, st, o, "engine", "entry order never filled")
				st.mu.Unlock()
				continue
			}
		}
		switch {
		case o.Type.HasTrigger():
			st.watch[o.ID] = struct{}{}
		case o.Type == domain.OrderTypeLimit:
			st.book.Insert(*o)
		}
		st.mu.Unlock()
	}

	e.logger.Info("rehydrated open orders", slog.Int("count", len(open)))
	return nil
}

// PlaceOrder validates, persists and executes a new order. Bracket/cover
// requests create their child orders in the same call; children activate only
// once the entry fills.
func (e *Engine) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := validateRequest(req); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusRejected, Reason: err.Error()}, err
	}

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, "orders:"+req.UserID, e.cfg.PlaceLimit, e.cfg.PlaceWindow)
		if err != nil {
			e.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			return domain.OrderResult{
				Status: domain.OrderStatusRejected,
				Reason: "rate limit exceeded",
			}, domain.ErrRateLimited
		}
	}

	now := time.Now().UTC()
	entry := buildOrder(req, now)
	kids := buildChildren(entry, req, now)

	st := e.symbol(entry.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := e.checkNotional(ctx, st, entry); err != nil {
		entry.Status = domain.OrderStatusRejected
		if cerr := e.orderStore.Create(ctx, entry); cerr != nil {
			e.logger.Error("persist rejected order", slog.String("error", cerr.Error()))
		}
		e.audit(ctx, entry.ID, domain.AuditCreated, req.UserID, map[string]any{
			"status": string(entry.Status),
			"reason": err.Error(),
		})
		e.publishOrder(ctx, entry)
		return domain.OrderResult{
			OrderID: entry.ID,
			Status:  domain.OrderStatusRejected,
			Reason:  err.Error(),
		}, err
	}

	if err := e.orderStore.Create(ctx, entry); err != nil {
		return domain.OrderResult{}, fmt.Errorf("engine: create order: %w", err)
	}
	for i := range kids {
		if err := e.orderStore.Create(ctx, kids[i]); err != nil {
			return domain.OrderResult{}, fmt.Errorf("engine: create child order: %w", err)
		}
	}

	e.mu.Lock()
	e.registerLocked(&entry)
	for i := range kids {
		e.registerLocked(&kids[i])
	}
	e.mu.Unlock()

	e.audit(ctx, entry.ID, domain.AuditCreated, req.UserID, map[string]any{
		"side": string(entry.Side), "qty": entry.Qty, "order_type": string(entry.Type),
	})
	for i := range kids {
		e.audit(ctx, kids[i].ID, domain.AuditCreated, req.UserID, map[string]any{
			"tag": string(kids[i].Tag), "parent_id": entry.ID,
		})
	}
	e.publishOrder(ctx, entry)
	for i := range kids {
		e.publishOrder(ctx, kids[i])
	}

	if entry.Type.HasTrigger() {
		st.watch[entry.ID] = struct{}{}
		return resultOf(entry, ""), nil
	}

	ptr := e.order(entry.ID)
	if err := e.execute(ctx, st, ptr); err != nil {
		return resultOf(*ptr, err.Error()), err
	}
	return resultOf(*ptr, ""), nil
}

// CancelOrder cancels a PENDING/PARTIAL order. When userID is non-empty it
// must match the order's owner. Cancelling a terminal order returns
// domain.ErrOrderTerminal.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID string) (domain.OrderResult, error) {
	o := e.order(orderID)
	if o == nil {
		stored, err := e.orderStore.GetByID(ctx, orderID)
		if err != nil {
			return domain.OrderResult{}, err
		}
		if stored.Status.Terminal() {
			return resultOf(stored, ""), domain.ErrOrderTerminal
		}
		return domain.OrderResult{}, domain.ErrNotFound
	}
	if userID != "" && o.UserID != userID {
		return domain.OrderResult{}, domain.ErrNotFound
	}

	st := e.symbol(o.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	// Re-check under the symbol lock: a racing match may have finished first.
	if o.Status.Terminal() {
		return resultOf(*o, ""), domain.ErrOrderTerminal
	}

	e.cancelLocked(ctx, st, o, userID, "cancelled by user")
	return resultOf(*o, ""), nil
}

// ModifyRequest carries the mutable fields of a modify call. Zero values
// leave the corresponding field unchanged.
type ModifyRequest struct {
	Qty   int64   `json:"qty,omitempty"`
	Price float64 `json:"price,omitempty"`
}

// ModifyOrder updates price and/or quantity of a resting LIMIT order.
// Quantity may not drop below the already-filled amount; a modified order is
// re-queued at the back of its price level.
func (e *Engine) ModifyOrder(ctx context.Context, orderID, userID string, req ModifyRequest) (domain.OrderResult, error) {
	o := e.order(orderID)
	if o == nil {
		return domain.OrderResult{}, domain.ErrNotFound
	}
	if userID != "" && o.UserID != userID {
		return domain.OrderResult{}, domain.ErrNotFound
	}

	st := e.symbol(o.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if o.Status.Terminal() {
		return resultOf(*o, ""), domain.ErrOrderTerminal
	}
	if o.Type != domain.OrderTypeLimit {
		return resultOf(*o, ""), fmt.Errorf("engine: only LIMIT orders can be modified: %w", domain.ErrInvalidOrder)
	}
	if req.Price < 0 || req.Qty < 0 {
		return resultOf(*o, ""), domain.ErrInvalidOrder
	}
	if req.Qty > 0 && req.Qty < o.FilledQty {
		return resultOf(*o, ""), fmt.Errorf("engine: qty below filled quantity: %w", domain.ErrInvalidOrder)
	}

	updated := *o
	if req.Qty > 0 {
		updated.Qty = req.Qty
	}
	if req.Price > 0 {
		updated.Price = req.Price
	}
	updated.UpdatedAt = time.Now().UTC()
	if updated.Remaining() == 0 {
		updated.Status = domain.OrderStatusFilled
	}

	if err := e.orderStore.Update(ctx, updated); err != nil {
		return resultOf(*o, ""), fmt.Errorf("engine: modify order: %w", err)
	}

	*o = updated
	st.book.Remove(o.ID)

	e.audit(ctx, o.ID, domain.AuditModified, userID, map[string]any{
		"qty": o.Qty, "price": o.Price,
	})
	e.publishOrder(ctx, *o)

	if o.Status == domain.OrderStatusFilled {
		e.afterFill(ctx, st, o)
		e.forget(o.ID)
		return resultOf(*o, ""), nil
	}

	// A dormant bracket child keeps its new terms but must not touch the
	// book until its entry fills.
	if e.childAwaitingParent(o) {
		return resultOf(*o, ""), nil
	}

	// Re-run matching at the new price, then rest any remainder.
	if err := e.execute(ctx, st, o); err != nil {
		return resultOf(*o, err.Error()), err
	}
	return resultOf(*o, ""), nil
}

// SquareOffAll closes every open position with a MARKET order at the latest
// released price. Used by the end-of-day job. Positions without a released
// price are skipped and reported in the count of failures.
func (e *Engine) SquareOffAll(ctx context.Context, performedBy string) (closed, failed int) {
	open, err := e.positions.ListOpen(ctx)
	if err != nil {
		e.logger.Error("square-off: list positions", slog.String("error", err.Error()))
		return 0, 0
	}

	for _, pos := range open {
		if pos.Qty == 0 {
			continue
		}
		side := domain.OrderSideSell
		qty := pos.Qty
		if qty < 0 {
			side = domain.OrderSideBuy
			qty = -qty
		}
		if err := e.placeInternal(ctx, pos.UserID, pos.Symbol, side, qty, performedBy); err != nil {
			e.logger.Warn("square-off failed",
				slog.String("user", pos.UserID),
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()))
			failed++
			continue
		}
		closed++
	}
	if closed > 0 || failed > 0 {
		e.logger.Info("square-off complete", slog.Int("closed", closed), slog.Int("failed", failed))
	}
	return closed, failed
}

// placeInternal places a system-generated MARKET order, bypassing the rate
// limiter and the notional check (square-offs only ever reduce exposure).
func (e *Engine) placeInternal(ctx context.Context, userID, symbol string, side domain.OrderSide, qty int64, performedBy string) error {
	now := time.Now().UTC()
	o := buildOrder(domain.OrderRequest{
		UserID: userID,
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Type:   domain.OrderTypeMarket,
	}, now)

	st := e.symbol(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := e.orderStore.Create(ctx, o); err != nil {
		return fmt.Errorf("engine: create square-off order: %w", err)
	}
	e.mu.Lock()
	e.registerLocked(&o)
	e.mu.Unlock()
	e.audit(ctx, o.ID, domain.AuditCreated, performedBy, map[string]any{
		"side": string(side), "qty": qty, "reason": "auto square-off",
	})
	e.publishOrder(ctx, o)

	return e.execute(ctx, st, e.order(o.ID))
}

// BookSnapshot returns the top-n levels of a symbol's book.
func (e *Engine) BookSnapshot(symbol string, n int) domain.BookSnapshot {
	st := e.symbol(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.book.Snapshot(n)
}

// LastPrice returns the latest released price for a symbol, or false when no
// tick has been released yet.
func (e *Engine) LastPrice(symbol string) (float64, bool) {
	st := e.symbol(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.last, st.last > 0
}

// --- internal helpers -------------------------------------------------------

func (e *Engine) symbol(sym string) *symbolState {
	e.mu.RLock()
	st, ok := e.symbols[sym]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.symbols[sym]; ok {
		return st
	}
	st = &symbolState{
		book:  book.New(sym),
		watch: make(map[string]struct{}),
	}
	e.symbols[sym] = st
	return st
}

func (e *Engine) order(id string) *domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state[id]
}

func (e *Engine) orderIsOpen(id string) bool {
	o := e.order(id)
	return o != nil && !o.Status.Terminal()
}

// childAwaitingParent reports whether o is a bracket child whose entry has not
// filled yet. Such an order is not eligible for matching.
func (e *Engine) childAwaitingParent(o *domain.Order) bool {
	return o.ParentID != "" && e.orderIsOpen(o.ParentID)
}

// registerLocked indexes an order in the in-memory maps. Caller holds e.mu.
func (e *Engine) registerLocked(o *domain.Order) {
	e.state[o.ID] = o
	if o.ParentID != "" {
		e.children[o.ParentID] = append(e.children[o.ParentID], o.ID)
	}
	if o.OCOGroup != "" {
		e.groups[o.OCOGroup] = append(e.groups[o.OCOGroup], o.ID)
	}
}

// forget drops a terminal order from the hot map. Group and child indexes
// keep the ID; lookups skip entries that are no longer present.
func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.state, id)
	e.mu.Unlock()
}

// checkNotional rejects orders whose exposure-increasing part cannot be
// backed by the account balance. Closing quantity needs no backing.
func (e *Engine) checkNotional(ctx context.Context, st *symbolState, o domain.Order) error {
	pos, err := e.positions.Get(ctx, o.UserID, o.Symbol)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("engine: read position: %w", err)
	}
	acct, err := e.accounts.Get(ctx, o.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("engine: read account: %w", err)
		}
		acct = domain.NewAccount(o.UserID)
	}

	price := o.Price
	if price == 0 {
		price = o.TriggerPrice
	}
	if price == 0 {
		price = st.last
	}
	if price == 0 {
		// No reference price yet; execution-time checks still apply.
		return nil
	}

	inc := increasingQty(pos, o.Side, o.Qty)
	required := price * float64(inc)
	if required > acct.Balance {
		// Short exposure is cash-backed too, so both sides fail on balance.
		return domain.ErrInsufficientFunds
	}
	return nil
}

// cancelLocked marks an order cancelled and removes it from the book and
// trigger watch. Caller holds the symbol lock and has verified the order is
// not terminal.
func (e *Engine) cancelLocked(ctx context.Context, st *symbolState, o *domain.Order, by, reason string) {
	st.book.Remove(o.ID)
	delete(st.watch, o.ID)

	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = time.Now().UTC()
	if err := e.orderStore.Update(ctx, *o); err != nil {
		e.logger.Error("persist cancel", slog.String("order_id", o.ID), slog.String("error", err.Error()))
	}

	e.audit(ctx, o.ID, domain.AuditCancelled, by, map[string]any{"reason": reason})
	e.publishOrder(ctx, *o)
	e.forget(o.ID)
	e.cancelChildren(ctx, st, o.ID, by)
}

// cancelChildren cancels every non-terminal child of a terminated entry.
// A child whose entry never fills can never activate. Caller holds the
// symbol lock.
func (e *Engine) cancelChildren(ctx context.Context, st *symbolState, parentID, by string) {
	e.mu.RLock()
	ids := append([]string(nil), e.children[parentID]...)
	e.mu.RUnlock()

	for _, id := range ids {
		c := e.order(id)
		if c == nil || c.Status.Terminal() {
			continue
		}
		e.cancelLocked(ctx, st, c, by, "entry order cancelled")
	}
}

// audit writes a lifecycle entry, best-effort: failures are logged and never
// affect the operation being audited.
func (e *Engine) audit(ctx context.Context, orderID string, action domain.AuditAction, by string, details map[string]any) {
	entry := domain.AuditEntry{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		Action:      action,
		PerformedBy: by,
		Timestamp:   time.Now().UTC(),
		Details:     details,
	}
	if err := e.auditStore.Log(ctx, entry); err != nil {
		e.logger.Warn("audit write failed",
			slog.String("order_id", orderID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) publish(ctx context.Context, channel string, ev domain.Event) {
	payload := ev.Encode()
	if payload == nil {
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.Warn("publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) publishOrder(ctx context.Context, o domain.Order) {
	e.publish(ctx, domain.ChannelOrders, domain.Event{Type: domain.EventOrderUpdate, Payload: o})
}

func (e *Engine) publishPosition(ctx context.Context, p domain.Position) {
	e.publish(ctx, domain.ChannelPositions, domain.Event{Type: domain.EventPositionUpdate, Payload: p})
}

func (e *Engine) publishAccount(ctx context.Context, a domain.Account) {
	e.publish(ctx, domain.ChannelAccounts, domain.Event{Type: domain.EventAccountUpdate, Payload: a})
}

// validateRequest performs field-level validation before any state exists.
func validateRequest(req domain.OrderRequest) error {
	if req.UserID == "" || req.Symbol == "" {
		return fmt.Errorf("engine: user and symbol are required: %w", domain.ErrInvalidOrder)
	}
	if req.Qty <= 0 {
		return fmt.Errorf("engine: qty must be positive: %w", domain.ErrInvalidOrder)
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return fmt.Errorf("engine: unknown side %q: %w", req.Side, domain.ErrInvalidOrder)
	}

	switch req.Type {
	case domain.OrderTypeMarket:
	case domain.OrderTypeLimit:
		if req.Price <= 0 {
			return fmt.Errorf("engine: limit order requires a price: %w", domain.ErrInvalidOrder)
		}
	case domain.OrderTypeStopMarket:
		if req.TriggerPrice <= 0 {
			return fmt.Errorf("engine: stop order requires a trigger price: %w", domain.ErrInvalidOrder)
		}
	case domain.OrderTypeStopLimit:
		if req.Price <= 0 || req.TriggerPrice <= 0 {
			return fmt.Errorf("engine: stop-limit order requires price and trigger: %w", domain.ErrInvalidOrder)
		}
	case domain.OrderTypeStop:
		if req.TriggerPrice <= 0 {
			return fmt.Errorf("engine: stop order requires a trigger price: %w", domain.ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("engine: unknown order type %q: %w", req.Type, domain.ErrInvalidOrder)
	}

	if req.TakeProfit < 0 || req.StopLoss < 0 {
		return fmt.Errorf("engine: negative bracket price: %w", domain.ErrInvalidOrder)
	}
	return nil
}

func buildOrder(req domain.OrderRequest, now time.Time) domain.Order {
	o := domain.Order{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Qty:          req.Qty,
		Type:         req.Type,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Status:       domain.OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.TakeProfit > 0 || req.StopLoss > 0 {
		o.Tag = domain.OrderTagEntry
	}
	return o
}

func resultOf(o domain.Order, reason string) domain.OrderResult {
	return domain.OrderResult{
		OrderID:      o.ID,
		Status:       o.Status,
		FilledQty:    o.FilledQty,
		AvgFillPrice: o.AvgFillPrice,
		Reason:       reason,
	}
}
