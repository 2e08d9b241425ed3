package memstore

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betledger/internal/domain"
)

type casinoStore struct{ t *tx }

func (s casinoStore) Insert(_ context.Context, ct domain.CasinoTrade) error {
	st := s.t.st
	if _, ok := st.trades[ct.ID]; ok {
		return fmt.Errorf("memstore: insert trade %s: %w", ct.ID, domain.ErrAlreadyExists)
	}
	st.trades[ct.ID] = copyTrade(ct)
	st.tradeOrder = append(st.tradeOrder, ct.ID)
	return nil
}

func (s casinoStore) Get(_ context.Context, id uuid.UUID) (domain.CasinoTrade, error) {
	ct, ok := s.t.st.trades[id]
	if !ok {
		return domain.CasinoTrade{}, fmt.Errorf("memstore: trade %s: %w", id, domain.ErrNotFound)
	}
	return copyTrade(ct), nil
}

func (s casinoStore) ListByRound(_ context.Context, gameHash string) ([]domain.CasinoTrade, error) {
	return s.update(func(ct *domain.CasinoTrade) bool { return ct.GameHash == gameHash }, nil), nil
}

func (s casinoStore) LockOpen(_ context.Context, gameID, gameHash string) ([]domain.CasinoTrade, error) {
	return s.update(
		func(ct *domain.CasinoTrade) bool { return ct.State == domain.TradeOpen && ct.GameID == gameID },
		func(ct *domain.CasinoTrade) {
			ct.State = domain.TradeLocked
			ct.GameHash = gameHash
		},
	), nil
}

func (s casinoStore) FindLockedForCashout(_ context.Context, userID, gameHash string, factor decimal.Decimal) (domain.CasinoTrade, error) {
	var best *domain.CasinoTrade
	for _, id := range s.t.st.tradeOrder {
		ct := s.t.st.trades[id]
		if ct.State != domain.TradeLocked || ct.UserID != userID || ct.GameHash != gameHash {
			continue
		}
		if ct.CrashFactor.LessThan(factor) {
			continue
		}
		if best == nil || ct.CrashFactor.LessThan(best.CrashFactor) {
			best = &ct
		}
	}
	if best == nil {
		return domain.CasinoTrade{}, fmt.Errorf("memstore: locked trade for %s in %s: %w", userID, gameHash, domain.ErrNotFound)
	}
	return copyTrade(*best), nil
}

func (s casinoStore) MarkWin(_ context.Context, id uuid.UUID, cashout decimal.Decimal, reward *big.Int, at time.Time) error {
	ct, ok := s.t.st.trades[id]
	if !ok || ct.State != domain.TradeLocked {
		return fmt.Errorf("memstore: mark win %s: %w", id, domain.ErrNotFound)
	}
	ct.State = domain.TradeWin
	ct.CashoutFactor = decimal.NewNullDecimal(cashout)
	ct.Reward = new(big.Int).Set(reward)
	ct.SettledAt = &at
	s.t.st.trades[id] = ct
	return nil
}

func (s casinoStore) SetOutcomes(_ context.Context, gameHash string, decided decimal.Decimal, at time.Time) ([]domain.CasinoTrade, error) {
	return s.update(
		func(ct *domain.CasinoTrade) bool { return ct.State == domain.TradeLocked && ct.GameHash == gameHash },
		func(ct *domain.CasinoTrade) {
			if ct.CrashFactor.LessThanOrEqual(decided) {
				ct.State = domain.TradeWin
			} else {
				ct.State = domain.TradeLoss
			}
			ct.SettledAt = &at
		},
	), nil
}

func (s casinoStore) RecordReward(_ context.Context, id uuid.UUID, cashout decimal.Decimal, reward *big.Int) error {
	ct, ok := s.t.st.trades[id]
	if !ok || ct.State != domain.TradeWin {
		return fmt.Errorf("memstore: record reward %s: %w", id, domain.ErrNotFound)
	}
	ct.CashoutFactor = decimal.NewNullDecimal(cashout)
	ct.Reward = new(big.Int).Set(reward)
	s.t.st.trades[id] = ct
	return nil
}

func (s casinoStore) Cancel(_ context.Context, id uuid.UUID, from domain.TradeState, at time.Time) error {
	ct, ok := s.t.st.trades[id]
	if !ok || ct.State != from {
		return fmt.Errorf("memstore: cancel %s: %w", id, domain.ErrNotFound)
	}
	ct.State = domain.TradeCancelled
	ct.SettledAt = &at
	s.t.st.trades[id] = ct
	return nil
}

func (s casinoStore) CancelLocked(_ context.Context, gameHash string, at time.Time) ([]domain.CasinoTrade, error) {
	return s.update(
		func(ct *domain.CasinoTrade) bool { return ct.State == domain.TradeLocked && ct.GameHash == gameHash },
		func(ct *domain.CasinoTrade) {
			ct.State = domain.TradeCancelled
			ct.SettledAt = &at
		},
	), nil
}

// update applies set to every matching trade in insertion order and returns
// the matched trades after the change. A nil set only selects.
func (s casinoStore) update(match func(*domain.CasinoTrade) bool, set func(*domain.CasinoTrade)) []domain.CasinoTrade {
	var out []domain.CasinoTrade
	for _, id := range s.t.st.tradeOrder {
		ct := s.t.st.trades[id]
		if !match(&ct) {
			continue
		}
		if set != nil {
			set(&ct)
			s.t.st.trades[id] = ct
		}
		out = append(out, copyTrade(ct))
	}
	return out
}
