package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnest/papervenue/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL. ApplyFill writes
// every row touched by one fill inside a single transaction, so readers never
// observe a trade without its order, position and account effects.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// ApplyFill persists a fill bundle atomically: order state on both sides,
// the trade rows, the resulting positions (rows with Qty == 0 are deleted)
// and the updated accounts.
func (s *FillStore) ApplyFill(ctx context.Context, b domain.FillBundle) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin fill tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const orderUpsert = `
		INSERT INTO orders (
			id, user_id, symbol, side, qty, order_type,
			price, trigger_price, status, filled_qty, avg_fill_price,
			parent_id, tag, oco_group, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			NULLIF($7, 0::double precision), NULLIF($8, 0::double precision),
			$9, $10, $11,
			NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''),
			$15, $16
		)
		ON CONFLICT (id) DO UPDATE SET
			qty = EXCLUDED.qty,
			price = EXCLUDED.price,
			trigger_price = EXCLUDED.trigger_price,
			status = EXCLUDED.status,
			filled_qty = EXCLUDED.filled_qty,
			avg_fill_price = EXCLUDED.avg_fill_price,
			updated_at = EXCLUDED.updated_at`
	for _, o := range b.Orders {
		if _, err := tx.Exec(ctx, orderUpsert,
			o.ID, o.UserID, o.Symbol, string(o.Side), o.Qty, string(o.Type),
			o.Price, o.TriggerPrice, string(o.Status), o.FilledQty, o.AvgFillPrice,
			o.ParentID, string(o.Tag), o.OCOGroup, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return fmt.Errorf("postgres: fill upsert order %s: %w", o.ID, err)
		}
	}

	const tradeInsert = `
		INSERT INTO trades (id, order_id, qty, price, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
	for _, t := range b.Trades {
		if _, err := tx.Exec(ctx, tradeInsert,
			t.ID, t.OrderID, t.Qty, t.Price, t.Timestamp,
		); err != nil {
			return fmt.Errorf("postgres: fill insert trade %s: %w", t.ID, err)
		}
	}

	const positionUpsert = `
		INSERT INTO positions (user_id, symbol, qty, avg_price, realized_pnl, sl_price, tp_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0::double precision), NULLIF($7, 0::double precision), $8)
		ON CONFLICT (user_id, symbol) DO UPDATE SET
			qty = EXCLUDED.qty,
			avg_price = EXCLUDED.avg_price,
			realized_pnl = EXCLUDED.realized_pnl,
			sl_price = EXCLUDED.sl_price,
			tp_price = EXCLUDED.tp_price,
			updated_at = EXCLUDED.updated_at`
	const positionDelete = `DELETE FROM positions WHERE user_id = $1 AND symbol = $2`
	for _, p := range b.Positions {
		if p.Qty == 0 {
			if _, err := tx.Exec(ctx, positionDelete, p.UserID, p.Symbol); err != nil {
				return fmt.Errorf("postgres: fill delete position %s/%s: %w", p.UserID, p.Symbol, err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, positionUpsert,
			p.UserID, p.Symbol, p.Qty, p.AvgPrice, p.RealizedPnL,
			p.SLPrice, p.TPPrice, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("postgres: fill upsert position %s/%s: %w", p.UserID, p.Symbol, err)
		}
	}

	const accountUpsert = `
		INSERT INTO accounts (user_id, balance, equity, margin_used, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			equity = EXCLUDED.equity,
			margin_used = EXCLUDED.margin_used,
			updated_at = EXCLUDED.updated_at`
	for _, a := range b.Accounts {
		if _, err := tx.Exec(ctx, accountUpsert,
			a.UserID, a.Balance, a.Equity, a.MarginUsed, a.UpdatedAt,
		); err != nil {
			return fmt.Errorf("postgres: fill upsert account %s: %w", a.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit fill tx: %w", err)
	}
	return nil
}

var _ domain.FillStore = (*FillStore)(nil)
