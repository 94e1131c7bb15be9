package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnest/papervenue/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. The audit_log
// table is append-only; rows are never updated.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one audit entry.
func (s *AuditStore) Log(ctx context.Context, e domain.AuditEntry) error {
	var details []byte
	if len(e.Details) > 0 {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit details for %s: %w", e.OrderID, err)
		}
	}

	const query = `
		INSERT INTO audit_log (id, order_id, action, performed_by, ts, details)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.OrderID, string(e.Action), e.PerformedBy, e.Timestamp, details)
	if err != nil {
		return fmt.Errorf("postgres: log audit entry for %s: %w", e.OrderID, err)
	}
	return nil
}

const auditSelectCols = `id, order_id, action, performed_by, ts, details`

func scanAuditRows(rows pgx.Rows) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var action string
		var details []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &action, &e.PerformedBy, &e.Timestamp, &details); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns audit entries, oldest first, filtered and paginated by opts.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT ` + auditSelectCols + ` FROM audit_log`
	var args []any
	argIdx := 1
	where := ""

	if opts.Since != nil {
		where = fmt.Sprintf(" WHERE ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		if where == "" {
			where = fmt.Sprintf(" WHERE ts <= $%d", argIdx)
		} else {
			where += fmt.Sprintf(" AND ts <= $%d", argIdx)
		}
		args = append(args, *opts.Until)
		argIdx++
	}

	query += where + " ORDER BY ts ASC"

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
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanAuditRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries: %w", err)
	}
	return entries, nil
}

// ListBefore returns all audit entries older than the given cutoff.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditSelectCols+` FROM audit_log WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries before %s: %w", before, err)
	}
	defer rows.Close()

	entries, err := scanAuditRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries before %s: %w", before, err)
	}
	return entries, nil
}

// DeleteBefore removes audit entries older than the given cutoff and reports
// how many rows were deleted.
func (s *AuditStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete audit entries before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
