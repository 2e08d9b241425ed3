package domain

import (
	"fmt"
	"math/big"
	"time"
)

// TransferKind classifies a ledger entry by which side is empty.
type TransferKind string

const (
	TransferMint     TransferKind = "mint"
	TransferBurn     TransferKind = "burn"
	TransferTransfer TransferKind = "transfer"
)

// Transfer is one immutable ledger entry. An empty Sender is a mint and an
// empty Receiver is a burn.
type Transfer struct {
	ID        int64     `json:"id"`
	Sender    Account   `json:"sender"`
	Receiver  Account   `json:"receiver"`
	Amount    *big.Int  `json:"amount"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
}

// Kind returns the entry's classification.
func (t Transfer) Kind() TransferKind {
	switch {
	case t.Sender.IsZero():
		return TransferMint
	case t.Receiver.IsZero():
		return TransferBurn
	default:
		return TransferTransfer
	}
}

// Validate enforces the record invariants: a positive amount, a symbol, and
// at most one empty side.
func (t Transfer) Validate() error {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, t.Amount)
	}
	if t.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidAmount)
	}
	if t.Sender.IsZero() && t.Receiver.IsZero() {
		return fmt.Errorf("%w: sender and receiver both empty", ErrInvalidAccount)
	}
	if err := t.Sender.Validate(); err != nil {
		return err
	}
	return t.Receiver.Validate()
}

// Balance is the cached net position of one account in one symbol.
type Balance struct {
	Account Account  `json:"account"`
	Symbol  string   `json:"symbol"`
	Amount  *big.Int `json:"amount"`
}
