package domain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UnitOfWork opens atomic units against the persistence layer.
type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one open unit. Every write made through its stores becomes visible
// on Commit or is discarded on Rollback. Rollback after Commit is a no-op.
type Tx interface {
	Ledger() LedgerStore
	Markets() MarketStore
	Interactions() InteractionStore
	Casino() CasinoStore
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LedgerStore holds the transfer log and the cached balance table. Callers
// keep both in step inside the same unit.
type LedgerStore interface {
	AppendTransfer(ctx context.Context, t Transfer) (int64, error)
	// ReadBalance returns zero for an account that has never held symbol.
	ReadBalance(ctx context.Context, acct Account, symbol string) (*big.Int, error)
	WriteBalance(ctx context.Context, acct Account, symbol string, amount *big.Int) error
	// SumTransfers folds the transfer log for acct and symbol.
	SumTransfers(ctx context.Context, acct Account, symbol string) (*big.Int, error)
	// ListHolders returns every positive balance of symbol ordered by account key.
	ListHolders(ctx context.Context, symbol string) ([]Balance, error)
	TotalSupply(ctx context.Context, symbol string) (*big.Int, error)
}

// MarketStore persists markets, their single resolution and refund receipts.
type MarketStore interface {
	Insert(ctx context.Context, m Market) error
	Get(ctx context.Context, id string) (Market, error)
	// Lock reads the market and holds it until the unit ends.
	Lock(ctx context.Context, id string) (Market, error)
	SetStatus(ctx context.Context, id string, status MarketStatus, at time.Time) error
	// InsertResolution fails with ErrAlreadyResolved when one exists.
	InsertResolution(ctx context.Context, r Resolution) error
	GetResolution(ctx context.Context, marketID string) (Resolution, error)
	// InsertRefund returns false when the participant was already refunded.
	InsertRefund(ctx context.Context, r Refund) (bool, error)
}

// InteractionStore is the append-only market audit log.
type InteractionStore interface {
	Insert(ctx context.Context, i Interaction) error
	ListByMarket(ctx context.Context, marketID string) ([]Interaction, error)
}

// CasinoStore persists crash-game trades. The batch methods are single
// statements so no trade can change state between selection and update.
type CasinoStore interface {
	Insert(ctx context.Context, t CasinoTrade) error
	Get(ctx context.Context, id uuid.UUID) (CasinoTrade, error)
	ListByRound(ctx context.Context, gameHash string) ([]CasinoTrade, error)
	// LockOpen moves every OPEN trade of gameID to LOCKED and tags it with gameHash.
	LockOpen(ctx context.Context, gameID, gameHash string) ([]CasinoTrade, error)
	// FindLockedForCashout returns the user's LOCKED trade in the round with
	// the smallest target that is still >= factor.
	FindLockedForCashout(ctx context.Context, userID, gameHash string, factor decimal.Decimal) (CasinoTrade, error)
	// MarkWin settles one LOCKED trade as WIN. ErrNotFound if it is not LOCKED.
	MarkWin(ctx context.Context, id uuid.UUID, cashout decimal.Decimal, reward *big.Int, at time.Time) error
	// SetOutcomes marks every LOCKED trade of the round WIN when its target is
	// <= decided and LOSS otherwise. It returns the trades it changed.
	SetOutcomes(ctx context.Context, gameHash string, decided decimal.Decimal, at time.Time) ([]CasinoTrade, error)
	// RecordReward stores the paid reward of a trade already in WIN.
	RecordReward(ctx context.Context, id uuid.UUID, cashout decimal.Decimal, reward *big.Int) error
	// Cancel moves one trade from state from to CANCELLED. ErrNotFound if it
	// is not in that state.
	Cancel(ctx context.Context, id uuid.UUID, from TradeState, at time.Time) error
	// CancelLocked cancels every LOCKED trade of the round.
	CancelLocked(ctx context.Context, gameHash string, at time.Time) ([]CasinoTrade, error)
}

// ArchiveSource reads committed history outside any unit.
type ArchiveSource interface {
	ListTransfersBefore(ctx context.Context, before time.Time) ([]Transfer, error)
	ListInteractionsBefore(ctx context.Context, before time.Time) ([]Interaction, error)
	ListSettledTradesBefore(ctx context.Context, before time.Time) ([]CasinoTrade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operator audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// RunInTx runs fn in a fresh unit. An error from fn rolls the unit back and
// is returned as is. Begin and Commit failures are reported as ErrPersistence.
func RunInTx(ctx context.Context, uow UnitOfWork, fn func(tx Tx) error) error {
	tx, err := uow.Begin(ctx)
	if err != nil {
		return persistenceError("begin unit", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return persistenceError("commit unit", err)
	}
	return nil
}

func persistenceError(op string, err error) error {
	if errors.Is(err, ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
