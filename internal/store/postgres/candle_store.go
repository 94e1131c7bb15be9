package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnest/papervenue/internal/domain"
)

// CandleStore implements domain.CandleStore using PostgreSQL. Only the
// 1-minute base series is persisted; higher resolutions are resampled on read.
type CandleStore struct {
	pool *pgxpool.Pool
}

// NewCandleStore creates a new CandleStore backed by the given connection pool.
func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

const candleUpsertQuery = `
	INSERT INTO candles (instrument, ts, resolution, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (instrument, ts, resolution) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`

// Upsert writes a candle, replacing any existing row for the same bucket so
// re-aggregation is idempotent.
func (s *CandleStore) Upsert(ctx context.Context, c domain.Candle) error {
	_, err := s.pool.Exec(ctx, candleUpsertQuery,
		c.Instrument, c.Timestamp, string(c.Resolution),
		c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("postgres: upsert candle %s %s: %w", c.Instrument, c.Timestamp, err)
	}
	return nil
}

// UpsertBatch writes a batch of candles in a single round trip.
func (s *CandleStore) UpsertBatch(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(candleUpsertQuery,
			c.Instrument, c.Timestamp, string(c.Resolution),
			c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range candles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert candle batch: %w", err)
		}
	}
	return nil
}

// List returns candles for an instrument at the given resolution, oldest
// first, filtered and paginated by opts.
func (s *CandleStore) List(ctx context.Context, instrument string, res domain.Resolution, opts domain.ListOpts) ([]domain.Candle, error) {
	query := `SELECT instrument, ts, resolution, open, high, low, close, volume
		FROM candles WHERE instrument = $1 AND resolution = $2`
	args := []any{instrument, string(res)}
	argIdx := 3

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts ASC"

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
		return nil, fmt.Errorf("postgres: list candles %s: %w", instrument, err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var resolution string
		if err := rows.Scan(&c.Instrument, &c.Timestamp, &resolution,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("postgres: scan candle: %w", err)
		}
		c.Resolution = domain.Resolution(resolution)
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan candles %s: %w", instrument, err)
	}
	return candles, nil
}

var _ domain.CandleStore = (*CandleStore)(nil)
