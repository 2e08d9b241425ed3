package memstore

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
)

type marketStore struct{ t *tx }

func (s marketStore) Insert(_ context.Context, m domain.Market) error {
	if _, ok := s.t.st.markets[m.ID]; ok {
		return fmt.Errorf("memstore: insert market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	m.OutcomeSymbols = slices.Clone(m.OutcomeSymbols)
	s.t.st.markets[m.ID] = m
	return nil
}

func (s marketStore) Get(_ context.Context, id string) (domain.Market, error) {
	m, ok := s.t.st.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memstore: market %s: %w", id, domain.ErrNotFound)
	}
	m.OutcomeSymbols = slices.Clone(m.OutcomeSymbols)
	return m, nil
}

// Lock is Get: the unit already holds the only writer slot.
func (s marketStore) Lock(ctx context.Context, id string) (domain.Market, error) {
	return s.Get(ctx, id)
}

func (s marketStore) SetStatus(_ context.Context, id string, status domain.MarketStatus, at time.Time) error {
	m, ok := s.t.st.markets[id]
	if !ok {
		return fmt.Errorf("memstore: market %s: %w", id, domain.ErrNotFound)
	}
	m.Status = status
	m.UpdatedAt = at
	s.t.st.markets[id] = m
	return nil
}

func (s marketStore) InsertResolution(_ context.Context, r domain.Resolution) error {
	if _, ok := s.t.st.resolutions[r.MarketID]; ok {
		return fmt.Errorf("memstore: resolve %s: %w", r.MarketID, domain.ErrAlreadyResolved)
	}
	s.t.st.resolutions[r.MarketID] = r
	return nil
}

func (s marketStore) GetResolution(_ context.Context, marketID string) (domain.Resolution, error) {
	r, ok := s.t.st.resolutions[marketID]
	if !ok {
		return domain.Resolution{}, fmt.Errorf("memstore: resolution %s: %w", marketID, domain.ErrNotFound)
	}
	return r, nil
}

func (s marketStore) InsertRefund(_ context.Context, r domain.Refund) (bool, error) {
	k := refundKey{r.MarketID, r.Participant}
	if _, ok := s.t.st.refunds[k]; ok {
		return false, nil
	}
	r.Amount = new(big.Int).Set(r.Amount)
	s.t.st.refunds[k] = r
	return true, nil
}

type interactionStore struct{ t *tx }

func (s interactionStore) Insert(_ context.Context, i domain.Interaction) error {
	s.t.st.interactions = append(s.t.st.interactions, copyInteraction(i))
	return nil
}

func (s interactionStore) ListByMarket(_ context.Context, marketID string) ([]domain.Interaction, error) {
	var out []domain.Interaction
	for _, i := range s.t.st.interactions {
		if i.MarketID == marketID {
			out = append(out, copyInteraction(i))
		}
	}
	return out, nil
}
