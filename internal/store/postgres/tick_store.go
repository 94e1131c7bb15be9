package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnest/papervenue/internal/domain"
)

// TickStore implements domain.TickStore using PostgreSQL.
type TickStore struct {
	pool *pgxpool.Pool
}

// NewTickStore creates a new TickStore backed by the given connection pool.
func NewTickStore(pool *pgxpool.Pool) *TickStore {
	return &TickStore{pool: pool}
}

// Append inserts a single tick.
func (s *TickStore) Append(ctx context.Context, t domain.Tick) error {
	const query = `
		INSERT INTO ticks (symbol, ts, last, bid, ask, volume)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		t.Symbol, t.Timestamp, t.Last, t.Bid, t.Ask, t.Volume)
	if err != nil {
		return fmt.Errorf("postgres: append tick %s: %w", t.Symbol, err)
	}
	return nil
}

// AppendBatch inserts a batch of ticks in a single round trip.
func (s *TickStore) AppendBatch(ctx context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO ticks (symbol, ts, last, bid, ask, volume)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, t := range ticks {
		batch.Queue(query, t.Symbol, t.Timestamp, t.Last, t.Bid, t.Ask, t.Volume)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range ticks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append tick batch: %w", err)
		}
	}
	return nil
}

const tickSelectCols = `symbol, ts, last, bid, ask, volume`

func scanTickRows(rows pgx.Rows) ([]domain.Tick, error) {
	var ticks []domain.Tick
	for rows.Next() {
		var t domain.Tick
		if err := rows.Scan(&t.Symbol, &t.Timestamp, &t.Last, &t.Bid, &t.Ask, &t.Volume); err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// ListRange returns ticks for a symbol within [from, to), oldest first.
func (s *TickStore) ListRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Tick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tickSelectCols+` FROM ticks
		 WHERE symbol = $1 AND ts >= $2 AND ts < $3
		 ORDER BY ts ASC`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks %s: %w", symbol, err)
	}
	defer rows.Close()

	ticks, err := scanTickRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ticks %s: %w", symbol, err)
	}
	return ticks, nil
}

// ListBefore returns all ticks older than the given cutoff, oldest first.
// The archiver uses this to collect rows due for cold storage.
func (s *TickStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Tick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tickSelectCols+` FROM ticks WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks before %s: %w", before, err)
	}
	defer rows.Close()

	ticks, err := scanTickRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ticks before %s: %w", before, err)
	}
	return ticks, nil
}

// DeleteBefore removes ticks older than the given cutoff and reports how many
// rows were deleted.
func (s *TickStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ticks WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete ticks before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TickStore = (*TickStore)(nil)
