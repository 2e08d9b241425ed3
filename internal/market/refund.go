package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// RefundSummary lists what each participant got back from a voided market.
type RefundSummary struct {
	Refunded map[string]*big.Int
	Total    *big.Int
}

// Refund voids the market and returns every participant's net collateral
// contribution. Participants already refunded are skipped, so calling it again
// is a no-op for them.
func (s *Service) Refund(ctx context.Context, marketID, operator string) (RefundSummary, error) {
	return s.refund(ctx, marketID, operator, "")
}

// RefundParticipant voids the market if needed and refunds one participant.
func (s *Service) RefundParticipant(ctx context.Context, marketID, operator, participant string) (*big.Int, error) {
	sum, err := s.refund(ctx, marketID, operator, participant)
	if err != nil {
		return nil, err
	}
	if amt, ok := sum.Refunded[participant]; ok {
		return amt, nil
	}
	return new(big.Int), nil
}

func (s *Service) refund(ctx context.Context, marketID, operator, only string) (RefundSummary, error) {
	sum := RefundSummary{Refunded: make(map[string]*big.Int), Total: new(big.Int)}
	var voided bool
	err := s.run(ctx, "refund", func(u *unit) error {
		m, err := u.tx.Markets().Lock(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketStatusRefunded {
			if !m.Status.CanTransition(domain.MarketStatusRefunded) {
				return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrMarketClosed)
			}
			if err := u.tx.Markets().SetStatus(ctx, m.ID, domain.MarketStatusRefunded, s.now().UTC()); err != nil {
				return err
			}
			voided = true
		}

		log, err := u.tx.Interactions().ListByMarket(ctx, m.ID)
		if err != nil {
			return err
		}
		owed := refundsOwed(log)

		participants := make([]string, 0, len(owed))
		for p := range owed {
			if only == "" || p == only {
				participants = append(participants, p)
			}
		}
		sort.Strings(participants)

		for _, p := range participants {
			amt := owed[p]
			if amt.Sign() == 0 {
				continue
			}
			fresh, err := u.tx.Markets().InsertRefund(ctx, domain.Refund{
				MarketID:    m.ID,
				Participant: p,
				Amount:      amt,
				Timestamp:   s.now().UTC(),
			})
			if err != nil {
				return err
			}
			if !fresh {
				continue
			}
			to, err := accountOf(p)
			if err != nil {
				return err
			}
			if err := u.ledger.Transfer(ctx, m.PoolAccount(), to, amt, m.Collateral); err != nil {
				return err
			}
			if err := u.record(ctx, domain.Interaction{
				Participant:      p,
				MarketID:         m.ID,
				Outcome:          domain.NoOutcome,
				Direction:        domain.DirectionRefund,
				InvestmentAmount: new(big.Int).Set(amt),
				FeeAmount:        new(big.Int),
				OutcomeTokens:    new(big.Int),
				Timestamp:        s.now().UTC(),
			}); err != nil {
				return err
			}
			sum.Refunded[p] = amt
			sum.Total.Add(sum.Total, amt)
		}
		return nil
	})
	if err != nil {
		return RefundSummary{}, err
	}

	s.metrics.ObservePayout("refund", sum.Total)
	s.logger.InfoContext(ctx, "market: refunded",
		slog.String("market_id", marketID),
		slog.String("operator", operator),
		slog.Bool("voided", voided),
		slog.Int("participants", len(sum.Refunded)),
		slog.String("total", sum.Total.String()),
	)
	if voided {
		s.auditLog(ctx, "market.refunded", map[string]any{
			"market_id": marketID,
			"operator":  operator,
		})
	}
	s.publish(ctx, domain.Event{Type: domain.EventMarketRefunded, MarketID: marketID, Data: map[string]any{
		"operator":     operator,
		"participants": len(sum.Refunded),
		"total":        sum.Total.String(),
	}})
	return sum, nil
}

// refundsOwed derives each participant's refund from the interaction log.
// A contribution is the collateral a participant put into the pool (liquidity
// and net buy investment) minus what the pool paid them (sell returns with
// their fee, payouts), floored at zero. When the positive contributions exceed
// the collateral the pool held when it was voided, each is scaled down pro
// rata. Earlier refund records do not change the result.
func refundsOwed(log []domain.Interaction) map[string]*big.Int {
	contrib := make(map[string]*big.Int)
	poolHeld := new(big.Int)
	add := func(p string, v *big.Int) {
		c, ok := contrib[p]
		if !ok {
			c = new(big.Int)
			contrib[p] = c
		}
		c.Add(c, v)
		poolHeld.Add(poolHeld, v)
	}

	for _, i := range log {
		switch i.Direction {
		case domain.DirectionLiquidity:
			add(i.Participant, i.InvestmentAmount)
		case domain.DirectionBuy:
			add(i.Participant, new(big.Int).Sub(i.InvestmentAmount, i.FeeAmount))
		case domain.DirectionSell:
			out := new(big.Int).Add(i.InvestmentAmount, i.FeeAmount)
			add(i.Participant, out.Neg(out))
		case domain.DirectionPayout:
			add(i.Participant, new(big.Int).Neg(i.InvestmentAmount))
		}
	}

	positive := new(big.Int)
	for _, c := range contrib {
		if c.Sign() > 0 {
			positive.Add(positive, c)
		} else {
			c.SetInt64(0)
		}
	}
	if poolHeld.Sign() < 0 {
		poolHeld.SetInt64(0)
	}
	if positive.Cmp(poolHeld) <= 0 {
		return contrib
	}
	for _, c := range contrib {
		c.Mul(c, poolHeld)
		c.Quo(c, positive)
	}
	return contrib
}
