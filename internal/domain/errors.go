package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrOrderTerminal      = errors.New("order is in a terminal state")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNoMarketPrice      = errors.New("no market price available")
	ErrOverfill           = errors.New("fill exceeds order quantity")
	ErrStaleTick          = errors.New("stale or malformed tick")
	ErrLockHeld           = errors.New("lock already held")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrContextDone        = errors.New("context cancelled")
)
