// Package memstore is an in-process implementation of the persistence
// contract. Units are serialized by a single writer slot: a unit works on a
// private copy of the state and publishes it on commit.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/betledger/internal/domain"
)

type balanceKey struct {
	account string
	symbol  string
}

type refundKey struct {
	market      string
	participant string
}

// state is treated as a value: stored *big.Int and structs are never
// mutated in place, so cloning copies only the containers.
type state struct {
	transfers      []domain.Transfer
	nextTransferID int64
	balances       map[balanceKey]*big.Int
	markets        map[string]domain.Market
	resolutions    map[string]domain.Resolution
	refunds        map[refundKey]domain.Refund
	interactions   []domain.Interaction
	trades         map[uuid.UUID]domain.CasinoTrade
	tradeOrder     []uuid.UUID
}

func newState() *state {
	return &state{
		balances:    make(map[balanceKey]*big.Int),
		markets:     make(map[string]domain.Market),
		resolutions: make(map[string]domain.Resolution),
		refunds:     make(map[refundKey]domain.Refund),
		trades:      make(map[uuid.UUID]domain.CasinoTrade),
	}
}

func (s *state) clone() *state {
	return &state{
		transfers:      s.transfers[:len(s.transfers):len(s.transfers)],
		nextTransferID: s.nextTransferID,
		balances:       maps.Clone(s.balances),
		markets:        maps.Clone(s.markets),
		resolutions:    maps.Clone(s.resolutions),
		refunds:        maps.Clone(s.refunds),
		interactions:   s.interactions[:len(s.interactions):len(s.interactions)],
		trades:         maps.Clone(s.trades),
		tradeOrder:     s.tradeOrder[:len(s.tradeOrder):len(s.tradeOrder)],
	}
}

// Amounts cross the store boundary as copies in both directions, so callers
// can never reach the *big.Int values held in state.

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyTransfer(t domain.Transfer) domain.Transfer {
	t.Amount = copyInt(t.Amount)
	return t
}

func copyInteraction(i domain.Interaction) domain.Interaction {
	i.InvestmentAmount = copyInt(i.InvestmentAmount)
	i.FeeAmount = copyInt(i.FeeAmount)
	i.OutcomeTokens = copyInt(i.OutcomeTokens)
	return i
}

func copyTrade(ct domain.CasinoTrade) domain.CasinoTrade {
	ct.StakedAmount = copyInt(ct.StakedAmount)
	ct.Reward = copyInt(ct.Reward)
	return ct
}

// Store implements domain.UnitOfWork, domain.ArchiveSource and
// domain.AuditStore in memory.
type Store struct {
	slot chan struct{}

	mu    sync.RWMutex
	cur   *state
	audit []domain.AuditEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		slot: make(chan struct{}, 1),
		cur:  newState(),
	}
}

// Begin waits for the writer slot and opens a unit on a copy of the state.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("memstore: begin: %w", ctx.Err())
	}
	s.mu.RLock()
	work := s.cur.clone()
	s.mu.RUnlock()
	return &tx{store: s, st: work}, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// ListTransfersBefore implements domain.ArchiveSource.
func (s *Store) ListTransfersBefore(_ context.Context, before time.Time) ([]domain.Transfer, error) {
	var out []domain.Transfer
	for _, t := range s.snapshot().transfers {
		if t.Timestamp.Before(before) {
			out = append(out, copyTransfer(t))
		}
	}
	return out, nil
}

// ListInteractionsBefore implements domain.ArchiveSource.
func (s *Store) ListInteractionsBefore(_ context.Context, before time.Time) ([]domain.Interaction, error) {
	var out []domain.Interaction
	for _, i := range s.snapshot().interactions {
		if i.Timestamp.Before(before) {
			out = append(out, copyInteraction(i))
		}
	}
	return out, nil
}

// ListSettledTradesBefore implements domain.ArchiveSource.
func (s *Store) ListSettledTradesBefore(_ context.Context, before time.Time) ([]domain.CasinoTrade, error) {
	st := s.snapshot()
	var out []domain.CasinoTrade
	for _, id := range st.tradeOrder {
		t := st.trades[id]
		if t.State.Terminal() && t.SettledAt != nil && t.SettledAt.Before(before) {
			out = append(out, copyTrade(t))
		}
	}
	return out, nil
}

// Log implements domain.AuditStore.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List implements domain.AuditStore, newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// tx is one open unit.
type tx struct {
	store *Store
	st    *state
	done  bool
}

func (t *tx) Ledger() domain.LedgerStore            { return ledgerStore{t} }
func (t *tx) Markets() domain.MarketStore           { return marketStore{t} }
func (t *tx) Interactions() domain.InteractionStore { return interactionStore{t} }
func (t *tx) Casino() domain.CasinoStore            { return casinoStore{t} }

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("memstore: commit: unit already closed: %w", domain.ErrPersistence)
	}
	if err := ctx.Err(); err != nil {
		t.release()
		return fmt.Errorf("memstore: commit: %w: %w", domain.ErrPersistence, err)
	}
	t.store.mu.Lock()
	t.store.cur = t.st
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *tx) release() {
	t.done = true
	t.st = nil
	<-t.store.slot
}

var (
	_ domain.UnitOfWork    = (*Store)(nil)
	_ domain.ArchiveSource = (*Store)(nil)
	_ domain.AuditStore    = (*Store)(nil)
)
