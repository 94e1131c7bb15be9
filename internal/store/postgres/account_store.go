package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnest/papervenue/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. Accounts are
// seeded lazily by the engine and written through FillStore.ApplyFill.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Get retrieves one user's account. It returns domain.ErrNotFound when the
// user has never traded.
func (s *AccountStore) Get(ctx context.Context, userID string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, balance, equity, margin_used, updated_at
		 FROM accounts WHERE user_id = $1`, userID)

	var a domain.Account
	err := row.Scan(&a.UserID, &a.Balance, &a.Equity, &a.MarginUsed, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", userID, err)
	}
	return a, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
