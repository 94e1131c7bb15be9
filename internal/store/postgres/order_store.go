package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnest/papervenue/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderInsertQuery = `
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
	)`

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	_, err := s.pool.Exec(ctx, orderInsertQuery,
		o.ID, o.UserID, o.Symbol, string(o.Side), o.Qty, string(o.Type),
		o.Price, o.TriggerPrice, string(o.Status), o.FilledQty, o.AvgFillPrice,
		o.ParentID, string(o.Tag), o.OCOGroup, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

const orderUpdateQuery = `
	UPDATE orders SET
		qty = $2,
		order_type = $3,
		price = NULLIF($4, 0::double precision),
		trigger_price = NULLIF($5, 0::double precision),
		status = $6,
		filled_qty = $7,
		avg_fill_price = $8,
		updated_at = $9
	WHERE id = $1`

// Update persists mutable order state: quantity, type (stop orders convert
// to LIMIT/MARKET on trigger), prices, status and fill progress. Identity
// fields never change after creation.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	tag, err := s.pool.Exec(ctx, orderUpdateQuery,
		o.ID, o.Qty, string(o.Type), o.Price, o.TriggerPrice,
		string(o.Status), o.FilledQty, o.AvgFillPrice, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, user_id, symbol, side, qty, order_type,
	COALESCE(price, 0), COALESCE(trigger_price, 0), status, filled_qty, avg_fill_price,
	COALESCE(parent_id, ''), COALESCE(tag, ''), COALESCE(oco_group, ''),
	created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Order, error) {
	var o domain.Order
	var side, orderType, status, tag string

	err := scanner.Scan(
		&o.ID, &o.UserID, &o.Symbol, &side, &o.Qty, &orderType,
		&o.Price, &o.TriggerPrice, &status, &o.FilledQty, &o.AvgFillPrice,
		&o.ParentID, &tag, &o.OCOGroup,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	o.Tag = domain.OrderTag(tag)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListOpen returns every non-terminal order across all users, oldest first.
// The engine replays this at startup to rebuild its book and trigger watch.
func (s *OrderStore) ListOpen(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status IN ('PENDING', 'PARTIAL')
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// ListByUser returns a user's orders with pagination, newest first.
func (s *OrderStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by user: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by user: %w", err)
	}
	return orders, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
