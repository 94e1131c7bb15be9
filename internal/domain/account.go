package domain

import "time"

// DefaultOpeningBalance seeds a paper account the first time a user trades.
const DefaultOpeningBalance = 100000.0

// Account is the simplified cash model for one user. Balance moves by
// qty×price on fills; equity is balance plus unrealized P&L of open positions
// marked at the latest released price.
type Account struct {
	UserID     string    `json:"user_id"`
	Balance    float64   `json:"balance"`
	Equity     float64   `json:"equity"`
	MarginUsed float64   `json:"margin_used"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewAccount returns a freshly seeded paper account.
func NewAccount(userID string) Account {
	return Account{
		UserID:  userID,
		Balance: DefaultOpeningBalance,
		Equity:  DefaultOpeningBalance,
	}
}
