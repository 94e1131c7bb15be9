package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantnest/papervenue/internal/domain"
)

// execute runs an order through book-crossing and, for MARKET-type orders,
// the last-price fallback. Any unfilled LIMIT remainder rests in the book.
// Caller holds the symbol lock.
func (e *Engine) execute(ctx context.Context, st *symbolState, o *domain.Order) error {
	if o == nil || o.Status.Terminal() || e.childAwaitingParent(o) {
		return nil
	}

	for o.Remaining() > 0 {
		best, ok := st.book.PeekBest(o.Side.Opposite())
		if !ok {
			break
		}
		if o.Type == domain.OrderTypeLimit && !crosses(o.Side, o.Price, best.Price) {
			break
		}

		resting := e.order(best.OrderID)
		if resting == nil || resting.Status.Terminal() || resting.Remaining() == 0 {
			st.book.Remove(best.OrderID)
			continue
		}

		qty := min64(o.Remaining(), resting.Remaining())
		// Trade price is always the resting order's price.
		if err := e.applyMatch(ctx, st, o, resting, qty, best.Price); err != nil {
			return err
		}
	}

	if o.Remaining() == 0 {
		return nil
	}

	switch o.Type {
	case domain.OrderTypeLimit:
		st.book.Insert(*o)
	case domain.OrderTypeMarket:
		if st.last <= 0 {
			return e.failRemainder(ctx, st, o, "no market price available")
		}
		if err := e.applySingleFill(ctx, st, o, o.Remaining(), st.last); err != nil {
			return err
		}
	}
	return nil
}

// crosses reports whether an aggressive limit price crosses a resting price.
func crosses(side domain.OrderSide, limit, resting float64) bool {
	if side == domain.OrderSideBuy {
		return limit >= resting
	}
	return limit <= resting
}

// failRemainder terminates the unfilled part of a MARKET-type order that has
// no price to execute against: fully unfilled orders are rejected, partially
// filled ones keep their fills and cancel the rest.
func (e *Engine) failRemainder(ctx context.Context, st *symbolState, o *domain.Order, reason string) error {
	if o.FilledQty == 0 {
		o.Status = domain.OrderStatusRejected
	} else {
		o.Status = domain.OrderStatusCancelled
	}
	o.UpdatedAt = time.Now().UTC()
	if err := e.orderStore.Update(ctx, *o); err != nil {
		e.logger.Error("persist order rejection", slog.String("order_id", o.ID), slog.String("error", err.Error()))
	}
	e.audit(ctx, o.ID, domain.AuditCancelled, "engine", map[string]any{"reason": reason})
	e.publishOrder(ctx, *o)
	e.forget(o.ID)
	e.cancelChildren(ctx, st, o.ID, "engine")
	return fmt.Errorf("engine: order %s: %s: %w", o.ID, reason, domain.ErrNoMarketPrice)
}

// applyMatch fills qty between an aggressive and a resting order at the
// resting price. The whole effect — both orders, both trades, both parties'
// positions and accounts — is persisted in one transaction before any
// in-memory state changes; a persistence failure leaves everything untouched.
// Caller holds the symbol lock.
func (e *Engine) applyMatch(ctx context.Context, st *symbolState, aggr, resting *domain.Order, qty int64, price float64) error {
	now := time.Now().UTC()

	a, r := *aggr, *resting
	applyOrderFill(&a, qty, price, now)
	applyOrderFill(&r, qty, price, now)

	trades := []domain.Trade{
		{ID: uuid.New().String(), OrderID: a.ID, Qty: qty, Price: price, Timestamp: now},
		{ID: uuid.New().String(), OrderID: r.ID, Qty: qty, Price: price, Timestamp: now},
	}
	legs := []fillLeg{
		{userID: a.UserID, symbol: a.Symbol, side: a.Side, qty: qty, price: price},
		{userID: r.UserID, symbol: r.Symbol, side: r.Side, qty: qty, price: price},
	}

	bundle, err := e.settleFill(ctx, []domain.Order{a, r}, trades, legs, now)
	if err != nil {
		return err
	}

	// Commit to memory only after the transaction succeeded.
	*aggr = a
	*resting = r
	if resting.Remaining() == 0 {
		st.book.Remove(resting.ID)
	} else {
		st.book.Reduce(resting.ID, qty)
	}

	e.audit(ctx, a.ID, domain.AuditExecuted, "engine", map[string]any{"qty": qty, "price": price})
	e.audit(ctx, r.ID, domain.AuditExecuted, "engine", map[string]any{"qty": qty, "price": price})
	e.broadcastBundle(ctx, bundle)

	e.afterFill(ctx, st, aggr)
	e.afterFill(ctx, st, resting)
	return nil
}

// applySingleFill fills one order against the tape at the given price (LTP
// fallback). Caller holds the symbol lock.
func (e *Engine) applySingleFill(ctx context.Context, st *symbolState, o *domain.Order, qty int64, price float64) error {
	now := time.Now().UTC()

	c := *o
	applyOrderFill(&c, qty, price, now)

	trades := []domain.Trade{
		{ID: uuid.New().String(), OrderID: c.ID, Qty: qty, Price: price, Timestamp: now},
	}
	legs := []fillLeg{
		{userID: c.UserID, symbol: c.Symbol, side: c.Side, qty: qty, price: price},
	}

	bundle, err := e.settleFill(ctx, []domain.Order{c}, trades, legs, now)
	if err != nil {
		return err
	}

	*o = c
	e.audit(ctx, o.ID, domain.AuditExecuted, "engine", map[string]any{"qty": qty, "price": price, "tape": true})
	e.broadcastBundle(ctx, bundle)
	e.afterFill(ctx, st, o)
	return nil
}

// applyOrderFill folds a fill into an order copy.
func applyOrderFill(o *domain.Order, qty int64, price float64, now time.Time) {
	o.AvgFillPrice = fillAvgPrice(o.AvgFillPrice, o.FilledQty, qty, price)
	o.FilledQty += qty
	if o.Remaining() == 0 {
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartial
	}
	o.UpdatedAt = now
}

// fillLeg is one (user, side) participation in a fill.
type fillLeg struct {
	userID string
	symbol string
	side   domain.OrderSide
	qty    int64
	price  float64
}

// settleFill reads the ledger state for every leg, applies the fill math and
// persists the whole bundle atomically with retries. Self-trades (same user
// on both legs) fold into a single position/account pair.
func (e *Engine) settleFill(ctx context.Context, orders []domain.Order, trades []domain.Trade, legs []fillLeg, now time.Time) (domain.FillBundle, error) {
	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()

	posByKey := make(map[string]domain.Position)
	acctByUser := make(map[string]domain.Account)
	var posOrder, acctOrder []string

	for _, leg := range legs {
		key := leg.userID + "|" + leg.symbol

		pos, ok := posByKey[key]
		if !ok {
			stored, err := e.positions.Get(ctx, leg.userID, leg.symbol)
			switch {
			case err == nil:
				pos = stored
			case errors.Is(err, domain.ErrNotFound):
				pos = domain.Position{UserID: leg.userID, Symbol: leg.symbol}
			default:
				return domain.FillBundle{}, fmt.Errorf("engine: read position: %w", err)
			}
			posOrder = append(posOrder, key)
		}

		acct, ok := acctByUser[leg.userID]
		if !ok {
			stored, err := e.accounts.Get(ctx, leg.userID)
			switch {
			case err == nil:
				acct = stored
			case errors.Is(err, domain.ErrNotFound):
				acct = domain.NewAccount(leg.userID)
			default:
				return domain.FillBundle{}, fmt.Errorf("engine: read account: %w", err)
			}
			acctOrder = append(acctOrder, leg.userID)
		}

		pos, acct = applyFillToLedger(pos, acct, leg.side, leg.qty, leg.price, now)
		posByKey[key] = pos
		acctByUser[leg.userID] = acct
	}

	bundle := domain.FillBundle{Orders: orders, Trades: trades}
	for _, key := range posOrder {
		bundle.Positions = append(bundle.Positions, posByKey[key])
	}
	for _, user := range acctOrder {
		bundle.Accounts = append(bundle.Accounts, acctByUser[user])
	}

	if err := e.persistFill(ctx, bundle); err != nil {
		return domain.FillBundle{}, err
	}
	return bundle, nil
}

// persistFill applies the bundle with bounded retries. Transient storage
// errors back off and retry; exhausting the attempts aborts the fill.
func (e *Engine) persistFill(ctx context.Context, b domain.FillBundle) error {
	var err error
	for attempt := 1; attempt <= e.cfg.FillRetries; attempt++ {
		err = e.fillStore.ApplyFill(ctx, b)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("engine: fill aborted: %w", ctx.Err())
		}
		e.logger.Warn("fill transaction failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return fmt.Errorf("engine: fill aborted: %w", ctx.Err())
		case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("engine: fill transaction exhausted retries: %w", err)
}

// broadcastBundle publishes snapshot events for everything a fill touched.
func (e *Engine) broadcastBundle(ctx context.Context, b domain.FillBundle) {
	for _, o := range b.Orders {
		e.publishOrder(ctx, o)
	}
	for _, p := range b.Positions {
		e.publishPosition(ctx, p)
	}
	for _, a := range b.Accounts {
		e.publishAccount(ctx, a)
	}
}
