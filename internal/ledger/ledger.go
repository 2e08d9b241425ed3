// Package ledger applies mint, burn and transfer entries against the
// persistence layer. Every balance check and write happens inside the caller's
// unit so a check and the entry it guards commit or roll back together.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// Ledger is bound to one open unit. It is not safe for concurrent use.
type Ledger struct {
	store   domain.LedgerStore
	now     func() time.Time
	applied []domain.Transfer
}

// New binds a Ledger to the ledger store of an open unit.
func New(store domain.LedgerStore, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// Mint creates amount of symbol in to.
func (l *Ledger) Mint(ctx context.Context, to domain.Account, amount *big.Int, symbol string) error {
	if to.IsZero() {
		return fmt.Errorf("ledger: mint: %w: empty receiver", domain.ErrInvalidAccount)
	}
	return l.apply(ctx, domain.Transfer{Receiver: to, Amount: amount, Symbol: symbol})
}

// Burn destroys amount of symbol held by from.
func (l *Ledger) Burn(ctx context.Context, from domain.Account, amount *big.Int, symbol string) error {
	if from.IsZero() {
		return fmt.Errorf("ledger: burn: %w: empty owner", domain.ErrInvalidAccount)
	}
	return l.apply(ctx, domain.Transfer{Sender: from, Amount: amount, Symbol: symbol})
}

// Transfer moves amount of symbol from one account to another.
func (l *Ledger) Transfer(ctx context.Context, from, to domain.Account, amount *big.Int, symbol string) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("ledger: transfer: %w: empty side", domain.ErrInvalidAccount)
	}
	return l.apply(ctx, domain.Transfer{Sender: from, Receiver: to, Amount: amount, Symbol: symbol})
}

// BalanceOf returns the balance of acct in symbol as seen by this unit.
func (l *Ledger) BalanceOf(ctx context.Context, acct domain.Account, symbol string) (*big.Int, error) {
	bal, err := l.store.ReadBalance(ctx, acct, symbol)
	if err != nil {
		return nil, fmt.Errorf("ledger: balance %s %s: %w", acct, symbol, err)
	}
	return bal, nil
}

// Verify checks that the cached balance of acct equals the fold of its
// transfer log.
func (l *Ledger) Verify(ctx context.Context, acct domain.Account, symbol string) error {
	cached, err := l.BalanceOf(ctx, acct, symbol)
	if err != nil {
		return err
	}
	folded, err := l.store.SumTransfers(ctx, acct, symbol)
	if err != nil {
		return fmt.Errorf("ledger: sum transfers %s %s: %w", acct, symbol, err)
	}
	if cached.Cmp(folded) != 0 {
		return fmt.Errorf("ledger: %s %s: cached balance %s != log %s: %w",
			acct, symbol, cached, folded, domain.ErrPersistence)
	}
	return nil
}

// Applied returns the entries appended through this Ledger, in order.
func (l *Ledger) Applied() []domain.Transfer {
	return l.applied
}

func (l *Ledger) apply(ctx context.Context, t domain.Transfer) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("ledger: %s: %w", t.Kind(), err)
	}
	t.Amount = new(big.Int).Set(t.Amount)
	t.Timestamp = l.now().UTC()

	if !t.Sender.IsZero() {
		bal, err := l.store.ReadBalance(ctx, t.Sender, t.Symbol)
		if err != nil {
			return fmt.Errorf("ledger: read %s %s: %w", t.Sender, t.Symbol, err)
		}
		if bal.Cmp(t.Amount) < 0 {
			return fmt.Errorf("ledger: %s %s %s from %s holding %s: %w",
				t.Kind(), t.Amount, t.Symbol, t.Sender, bal, domain.ErrInsufficientFunds)
		}
		if err := l.store.WriteBalance(ctx, t.Sender, t.Symbol, bal.Sub(bal, t.Amount)); err != nil {
			return fmt.Errorf("ledger: write %s %s: %w", t.Sender, t.Symbol, err)
		}
	}

	if !t.Receiver.IsZero() {
		bal, err := l.store.ReadBalance(ctx, t.Receiver, t.Symbol)
		if err != nil {
			return fmt.Errorf("ledger: read %s %s: %w", t.Receiver, t.Symbol, err)
		}
		if err := l.store.WriteBalance(ctx, t.Receiver, t.Symbol, bal.Add(bal, t.Amount)); err != nil {
			return fmt.Errorf("ledger: write %s %s: %w", t.Receiver, t.Symbol, err)
		}
	}

	id, err := l.store.AppendTransfer(ctx, t)
	if err != nil {
		return fmt.Errorf("ledger: append %s: %w", t.Kind(), err)
	}
	t.ID = id
	l.applied = append(l.applied, t)
	return nil
}
