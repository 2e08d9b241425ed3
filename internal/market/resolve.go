package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// PayoutSummary lists what each beneficiary received, keyed by participant.
type PayoutSummary struct {
	Resolution domain.Resolution
	Paid       map[string]*big.Int
	Total      *big.Int
}

// ResolveBet records the single winning outcome of a market.
func (s *Service) ResolveBet(ctx context.Context, marketID, reporter string, outcome int) (domain.Resolution, error) {
	var res domain.Resolution
	err := s.run(ctx, "resolve", func(u *unit) error {
		var err error
		res, err = s.resolve(ctx, u, marketID, reporter, outcome)
		return err
	})
	if err != nil {
		return domain.Resolution{}, err
	}
	s.afterResolve(ctx, res)
	return res, nil
}

func (s *Service) resolve(ctx context.Context, u *unit, marketID, reporter string, outcome int) (domain.Resolution, error) {
	m, err := u.tx.Markets().Lock(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, err
	}
	if m.Oracle != "" && reporter != m.Oracle {
		return domain.Resolution{}, fmt.Errorf("reporter %s is not the oracle of %s: %w", reporter, m.ID, domain.ErrUnauthorized)
	}
	if m.Status.Resolved() {
		return domain.Resolution{}, fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyResolved)
	}
	if !m.Status.CanTransition(domain.MarketStatusResolved) {
		return domain.Resolution{}, fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrMarketClosed)
	}
	if err := checkOutcome(m, outcome); err != nil {
		return domain.Resolution{}, err
	}

	res := domain.Resolution{MarketID: m.ID, Reporter: reporter, Outcome: outcome, Timestamp: s.now().UTC()}
	if err := u.tx.Markets().InsertResolution(ctx, res); err != nil {
		return domain.Resolution{}, err
	}
	if err := u.tx.Markets().SetStatus(ctx, m.ID, domain.MarketStatusResolved, res.Timestamp); err != nil {
		return domain.Resolution{}, err
	}
	return res, nil
}

func (s *Service) afterResolve(ctx context.Context, res domain.Resolution) {
	s.logger.InfoContext(ctx, "market: resolved",
		slog.String("market_id", res.MarketID),
		slog.String("reporter", res.Reporter),
		slog.Int("outcome", res.Outcome),
	)
	s.auditLog(ctx, "market.resolved", map[string]any{
		"market_id": res.MarketID,
		"reporter":  res.Reporter,
		"outcome":   res.Outcome,
	})
	s.publish(ctx, domain.Event{Type: domain.EventMarketResolved, MarketID: res.MarketID, Data: map[string]any{
		"reporter": res.Reporter,
		"outcome":  res.Outcome,
	}})
}

// GetResult returns the recorded resolution, or ErrNotResolved.
func (s *Service) GetResult(ctx context.Context, marketID string) (domain.Resolution, error) {
	var res domain.Resolution
	err := domain.RunInTx(ctx, s.uow, func(tx domain.Tx) error {
		if _, err := tx.Markets().Get(ctx, marketID); err != nil {
			return err
		}
		var err error
		res, err = tx.Markets().GetResolution(ctx, marketID)
		if isNotFound(err) {
			return fmt.Errorf("market %s: %w", marketID, domain.ErrNotResolved)
		}
		return err
	})
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("market: result: %w", err)
	}
	return res, nil
}

// GetPayout redeems the beneficiary's winning tokens one for one against the
// pool's collateral. Losing tokens stay where they are and are worthless.
func (s *Service) GetPayout(ctx context.Context, marketID, beneficiary string) (*big.Int, error) {
	var paid *big.Int
	err := s.run(ctx, "payout", func(u *unit) error {
		who, err := userAccount(beneficiary)
		if err != nil {
			return err
		}
		m, res, err := s.resolvedMarket(ctx, u, marketID)
		if err != nil {
			return err
		}
		paid, err = s.payoutOne(ctx, u, m, res, who)
		if err != nil {
			return err
		}
		if paid.Sign() == 0 {
			return fmt.Errorf("%s holds no winning tokens of %s: %w", beneficiary, m.ID, domain.ErrNothingToRedeem)
		}
		return s.closeIfRedeemed(ctx, u, m, res)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObservePayout("market", paid)
	s.logger.InfoContext(ctx, "market: payout",
		slog.String("market_id", marketID),
		slog.String("beneficiary", beneficiary),
		slog.String("amount", paid.String()),
	)
	s.publish(ctx, domain.Event{Type: domain.EventMarketPayout, MarketID: marketID, Data: map[string]any{
		"beneficiary": beneficiary,
		"amount":      paid.String(),
	}})
	return paid, nil
}

// ResolveAndPayout resolves the market and pays every holder of the winning
// outcome in the same unit.
func (s *Service) ResolveAndPayout(ctx context.Context, marketID, reporter string, outcome int) (PayoutSummary, error) {
	var sum PayoutSummary
	err := s.run(ctx, "resolve_and_payout", func(u *unit) error {
		res, err := s.resolve(ctx, u, marketID, reporter, outcome)
		if err != nil {
			return err
		}
		m, err := u.tx.Markets().Get(ctx, marketID)
		if err != nil {
			return err
		}
		holders, err := u.tx.Ledger().ListHolders(ctx, m.OutcomeSymbols[outcome])
		if err != nil {
			return err
		}

		sum = PayoutSummary{Resolution: res, Paid: make(map[string]*big.Int), Total: new(big.Int)}
		for _, h := range holders {
			if h.Account == m.PoolAccount() {
				continue
			}
			paid, err := s.payoutOne(ctx, u, m, res, h.Account)
			if err != nil {
				return err
			}
			sum.Paid[participantOf(h.Account)] = paid
			sum.Total.Add(sum.Total, paid)
		}
		return s.closeIfRedeemed(ctx, u, m, res)
	})
	if err != nil {
		return PayoutSummary{}, err
	}

	s.afterResolve(ctx, sum.Resolution)
	s.metrics.ObservePayout("market", sum.Total)
	s.logger.InfoContext(ctx, "market: batch payout",
		slog.String("market_id", marketID),
		slog.Int("beneficiaries", len(sum.Paid)),
		slog.String("total", sum.Total.String()),
	)
	s.publish(ctx, domain.Event{Type: domain.EventMarketPayout, MarketID: marketID, Data: map[string]any{
		"beneficiaries": len(sum.Paid),
		"total":         sum.Total.String(),
	}})
	return sum, nil
}

func (s *Service) resolvedMarket(ctx context.Context, u *unit, marketID string) (domain.Market, domain.Resolution, error) {
	m, err := u.tx.Markets().Lock(ctx, marketID)
	if err != nil {
		return domain.Market{}, domain.Resolution{}, err
	}
	if m.Status == domain.MarketStatusRefunded {
		return domain.Market{}, domain.Resolution{}, fmt.Errorf("market %s is refunded: %w", m.ID, domain.ErrMarketClosed)
	}
	res, err := u.tx.Markets().GetResolution(ctx, marketID)
	if isNotFound(err) {
		return domain.Market{}, domain.Resolution{}, fmt.Errorf("market %s: %w", marketID, domain.ErrNotResolved)
	}
	if err != nil {
		return domain.Market{}, domain.Resolution{}, err
	}
	return m, res, nil
}

// payoutOne burns acct's winning tokens and pays the same amount of
// collateral from the pool. It returns zero when acct holds none.
func (s *Service) payoutOne(ctx context.Context, u *unit, m domain.Market, res domain.Resolution, acct domain.Account) (*big.Int, error) {
	sym := m.OutcomeSymbols[res.Outcome]
	bal, err := u.ledger.BalanceOf(ctx, acct, sym)
	if err != nil {
		return nil, err
	}
	if bal.Sign() == 0 {
		return bal, nil
	}
	if err := u.ledger.Burn(ctx, acct, bal, sym); err != nil {
		return nil, err
	}
	if err := u.ledger.Transfer(ctx, m.PoolAccount(), acct, bal, m.Collateral); err != nil {
		return nil, err
	}
	if err := u.record(ctx, domain.Interaction{
		Participant:      participantOf(acct),
		MarketID:         m.ID,
		Outcome:          res.Outcome,
		Direction:        domain.DirectionPayout,
		InvestmentAmount: new(big.Int).Set(bal),
		FeeAmount:        new(big.Int),
		OutcomeTokens:    new(big.Int).Set(bal),
		Timestamp:        s.now().UTC(),
	}); err != nil {
		return nil, err
	}
	return bal, nil
}

// closeIfRedeemed moves a resolved market to paid_out once no winning tokens
// remain outside the pool.
func (s *Service) closeIfRedeemed(ctx context.Context, u *unit, m domain.Market, res domain.Resolution) error {
	holders, err := u.tx.Ledger().ListHolders(ctx, m.OutcomeSymbols[res.Outcome])
	if err != nil {
		return err
	}
	for _, h := range holders {
		if h.Account != m.PoolAccount() {
			return nil
		}
	}
	return u.tx.Markets().SetStatus(ctx, m.ID, domain.MarketStatusPaidOut, s.now().UTC())
}
