package market

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/betledger/internal/amm"
	"github.com/alanyoungcy/betledger/internal/domain"
)

// LiquidityResult reports how a liquidity deposit was split.
type LiquidityResult struct {
	SentBack []*big.Int // outcome tokens returned to the provider
	Pool     []*big.Int // pool balances after the deposit
}

// AddLiquidity deposits amount of collateral from provider into the pool and
// mints amount of every outcome token. On an empty pool the optional hint sets
// the starting prices; tokens the pool does not keep go back to the provider.
func (s *Service) AddLiquidity(ctx context.Context, marketID, provider string, amount *big.Int, hint []*big.Int) (LiquidityResult, error) {
	var res LiquidityResult
	err := s.run(ctx, "add_liquidity", func(u *unit) error {
		if err := requirePositive("liquidity", amount); err != nil {
			return err
		}
		m, err := u.tx.Markets().Lock(ctx, marketID)
		if err != nil {
			return err
		}
		if err := ensureTradable(m); err != nil {
			return err
		}
		pool, err := poolOf(ctx, u.ledger, m)
		if err != nil {
			return err
		}
		sendBack, err := amm.SplitLiquidity(pool, amount, hint)
		if err != nil {
			return err
		}

		who, err := userAccount(provider)
		if err != nil {
			return err
		}
		if err := u.ledger.Transfer(ctx, who, m.PoolAccount(), amount, m.Collateral); err != nil {
			return err
		}
		returned := new(big.Int)
		for i, sym := range m.OutcomeSymbols {
			if err := u.ledger.Mint(ctx, m.PoolAccount(), amount, sym); err != nil {
				return err
			}
			if sendBack[i].Sign() > 0 {
				if err := u.ledger.Transfer(ctx, m.PoolAccount(), who, sendBack[i], sym); err != nil {
					return err
				}
			}
			returned.Add(returned, sendBack[i])
			pool[i] = new(big.Int).Add(pool[i], amount)
			pool[i].Sub(pool[i], sendBack[i])
		}

		if m.Status == domain.MarketStatusCreated {
			if err := u.tx.Markets().SetStatus(ctx, m.ID, domain.MarketStatusTrading, s.now().UTC()); err != nil {
				return err
			}
		}
		if err := u.record(ctx, domain.Interaction{
			Participant:      provider,
			MarketID:         m.ID,
			Outcome:          domain.NoOutcome,
			Direction:        domain.DirectionLiquidity,
			InvestmentAmount: new(big.Int).Set(amount),
			FeeAmount:        new(big.Int),
			OutcomeTokens:    returned,
			Timestamp:        s.now().UTC(),
		}); err != nil {
			return err
		}

		res = LiquidityResult{SentBack: sendBack, Pool: pool}
		return nil
	})
	if err != nil {
		return LiquidityResult{}, err
	}

	s.logger.InfoContext(ctx, "market: liquidity added",
		slog.String("market_id", marketID),
		slog.String("provider", provider),
		slog.String("amount", amount.String()),
		slog.Bool("hinted", hint != nil),
	)
	s.cachePrices(ctx, marketID, res.Pool)
	s.publish(ctx, domain.Event{Type: domain.EventLiquidityAdded, MarketID: marketID, Data: map[string]any{
		"provider": provider,
		"amount":   amount.String(),
	}})
	return res, nil
}
