package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantnest/papervenue/internal/domain"
)

// AccountHandler serves cash account snapshots. Equity is derived at read
// time: balance plus unrealized P&L of open positions marked at the latest
// released price.
type AccountHandler struct {
	accounts  domain.AccountStore
	positions domain.PositionStore
	ltp       domain.LTPCache
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts domain.AccountStore, positions domain.PositionStore, ltp domain.LTPCache, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		positions: positions,
		ltp:       ltp,
		logger:    logHandler(logger, "account"),
	}
}

// GetAccount returns a user's account with derived equity.
// GET /api/account?user_id=...
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	acct, err := h.accounts.Get(r.Context(), uid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Accounts are seeded lazily on the first trade; report the
			// opening state for users who have not traded yet.
			acct = domain.NewAccount(uid)
		} else {
			h.logger.ErrorContext(r.Context(), "get account failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to load account")
			return
		}
	}

	positions, err := h.positions.ListByUser(r.Context(), uid)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	var unrealized float64
	for _, pos := range positions {
		if mark, _, err := h.ltp.Get(r.Context(), pos.Symbol); err == nil && mark > 0 {
			unrealized += pos.UnrealizedPnL(mark)
		}
	}
	acct.Equity = acct.Balance + unrealized

	writeJSON(w, http.StatusOK, map[string]any{
		"account":        acct,
		"unrealized_pnl": unrealized,
	})
}
