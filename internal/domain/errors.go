package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock held by another owner")
	ErrRateLimited   = errors.New("rate limited")

	// Ledger.
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAccount    = errors.New("invalid account")

	// Markets and pricing.
	ErrInvalidMarket    = errors.New("invalid market")
	ErrInvalidOutcome   = errors.New("invalid outcome")
	ErrAlreadyResolved  = errors.New("market already resolved")
	ErrNotResolved      = errors.New("market not resolved")
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrInvalidHint      = errors.New("invalid liquidity hint")
	ErrHintNotAllowed   = errors.New("hint not allowed on funded pool")
	ErrNoLiquidity      = errors.New("market has no liquidity")
	ErrPoolDrained      = errors.New("trade would drain pool reserve")
	ErrInvalidFee       = errors.New("invalid fee rate")
	ErrMarketClosed     = errors.New("market closed")
	ErrNothingToRedeem  = errors.New("nothing to redeem")

	// Casino.
	ErrMissingGameID       = errors.New("missing game id")
	ErrTradeNotFound       = errors.New("trade not found")
	ErrRewardTooLow        = errors.New("reward too low")
	ErrInvalidCrashFactor  = errors.New("invalid crash factor")
	ErrInvalidGameHash     = errors.New("invalid game hash")
	ErrTradeNotCancellable = errors.New("trade not cancellable")

	// Persistence. ErrConflict wraps ErrPersistence so both match.
	ErrPersistence = errors.New("persistence failure")
	ErrConflict    = fmt.Errorf("transaction conflict: %w", ErrPersistence)
)

// IsRetryable reports whether err came from a unit that lost a serialization
// race and may succeed if the caller runs it again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
