package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnest/papervenue/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Positions
// are written exclusively through FillStore.ApplyFill (and the position-level
// stop/target update); this store serves reads.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `user_id, symbol, qty, avg_price, realized_pnl,
	COALESCE(sl_price, 0), COALESCE(tp_price, 0), updated_at`

func scanPositionFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Position, error) {
	var p domain.Position
	err := scanner.Scan(
		&p.UserID, &p.Symbol, &p.Qty, &p.AvgPrice, &p.RealizedPnL,
		&p.SLPrice, &p.TPPrice, &p.UpdatedAt,
	)
	return p, err
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionFromRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Get retrieves one user's position in one symbol.
func (s *PositionStore) Get(ctx context.Context, userID, symbol string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE user_id = $1 AND symbol = $2`,
		userID, symbol)

	p, err := scanPositionFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", userID, symbol, err)
	}
	return p, nil
}

// ListByUser returns all open positions for a user.
func (s *PositionStore) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE user_id = $1 ORDER BY symbol ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", userID, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", userID, err)
	}
	return positions, nil
}

// ListOpen returns every open position across all users. The end-of-day
// square-off job iterates this set.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions ORDER BY user_id, symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
