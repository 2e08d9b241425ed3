package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/betledger/internal/amm"
	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/ledger"
)

// BuyParams describes a purchase of outcome tokens.
type BuyParams struct {
	MarketID         string
	Buyer            string
	Outcome          int
	Investment       *big.Int // collateral paid, fee included
	MinOutcomeTokens *big.Int // nil accepts any amount
}

// SellParams describes a sale of a fixed number of outcome tokens.
type SellParams struct {
	MarketID      string
	Seller        string
	Outcome       int
	OutcomeTokens *big.Int
	MinReturn     *big.Int // nil accepts any return
}

// SellExactParams describes a sale sized by the collateral to receive.
type SellExactParams struct {
	MarketID         string
	Seller           string
	Outcome          int
	ReturnAmount     *big.Int
	MaxOutcomeTokens *big.Int // nil accepts any cost
}

// TradeResult reports a committed trade.
type TradeResult struct {
	Collateral    *big.Int // paid in for a buy, paid out for a sell
	Fee           *big.Int
	OutcomeTokens *big.Int // received for a buy, surrendered for a sell
	Pool          []*big.Int
}

// Quote is a priced but unexecuted trade.
type Quote struct {
	Collateral    *big.Int
	Fee           *big.Int
	OutcomeTokens *big.Int
}

// Buy spends Investment on outcome tokens. The fee goes to the market's fee
// wallet and the net amount mints a complete set into the pool, from which the
// bought tokens are paid out.
func (s *Service) Buy(ctx context.Context, p BuyParams) (TradeResult, error) {
	var res TradeResult
	err := s.run(ctx, "buy", func(u *unit) error {
		if err := requirePositive("investment", p.Investment); err != nil {
			return err
		}
		m, err := u.tx.Markets().Lock(ctx, p.MarketID)
		if err != nil {
			return err
		}
		if err := ensureTradable(m); err != nil {
			return err
		}
		if err := checkOutcome(m, p.Outcome); err != nil {
			return err
		}
		pool, err := poolOf(ctx, u.ledger, m)
		if err != nil {
			return err
		}

		bought, err := amm.CalcBuy(pool, m.FeeRate, p.Investment, p.Outcome)
		if err != nil {
			return err
		}
		if p.MinOutcomeTokens != nil && bought.Cmp(p.MinOutcomeTokens) < 0 {
			return fmt.Errorf("bought %s < min %s: %w", bought, p.MinOutcomeTokens, domain.ErrSlippageExceeded)
		}
		fee := amm.FeeOf(p.Investment, m.FeeRate)
		net := new(big.Int).Sub(p.Investment, fee)

		buyer, err := userAccount(p.Buyer)
		if err != nil {
			return err
		}
		held, err := u.ledger.BalanceOf(ctx, buyer, m.Collateral)
		if err != nil {
			return err
		}
		if held.Cmp(p.Investment) < 0 {
			return fmt.Errorf("buyer %s holds %s %s, needs %s: %w",
				p.Buyer, held, m.Collateral, p.Investment, domain.ErrInsufficientFunds)
		}

		if err := u.ledger.Transfer(ctx, buyer, m.PoolAccount(), net, m.Collateral); err != nil {
			return err
		}
		if fee.Sign() > 0 {
			if err := u.ledger.Transfer(ctx, buyer, m.FeeAccount(), fee, m.Collateral); err != nil {
				return err
			}
		}
		for i, sym := range m.OutcomeSymbols {
			if err := u.ledger.Mint(ctx, m.PoolAccount(), net, sym); err != nil {
				return err
			}
			pool[i] = new(big.Int).Add(pool[i], net)
		}
		if err := u.ledger.Transfer(ctx, m.PoolAccount(), buyer, bought, m.OutcomeSymbols[p.Outcome]); err != nil {
			return err
		}
		pool[p.Outcome].Sub(pool[p.Outcome], bought)

		if err := u.record(ctx, domain.Interaction{
			Participant:      p.Buyer,
			MarketID:         m.ID,
			Outcome:          p.Outcome,
			Direction:        domain.DirectionBuy,
			InvestmentAmount: new(big.Int).Set(p.Investment),
			FeeAmount:        new(big.Int).Set(fee),
			OutcomeTokens:    new(big.Int).Set(bought),
			Timestamp:        s.now().UTC(),
		}); err != nil {
			return err
		}

		res = TradeResult{Collateral: new(big.Int).Set(p.Investment), Fee: fee, OutcomeTokens: bought, Pool: pool}
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}
	s.afterTrade(ctx, p.MarketID, p.Buyer, domain.DirectionBuy, p.Outcome, res)
	return res, nil
}

// Sell surrenders up to OutcomeTokens for the largest collateral return they
// cover. Only the tokens that return actually costs leave the seller.
func (s *Service) Sell(ctx context.Context, p SellParams) (TradeResult, error) {
	var res TradeResult
	err := s.run(ctx, "sell", func(u *unit) error {
		if err := requirePositive("outcome tokens", p.OutcomeTokens); err != nil {
			return err
		}
		m, pool, err := s.openForSell(ctx, u, p.MarketID, p.Outcome)
		if err != nil {
			return err
		}
		ret, err := amm.CalcSellFromAmount(pool, m.FeeRate, p.OutcomeTokens, p.Outcome)
		if err != nil {
			return err
		}
		if ret.Sign() == 0 {
			return fmt.Errorf("%s tokens return nothing: %w", p.OutcomeTokens, domain.ErrInvalidAmount)
		}
		if p.MinReturn != nil && ret.Cmp(p.MinReturn) < 0 {
			return fmt.Errorf("return %s < min %s: %w", ret, p.MinReturn, domain.ErrSlippageExceeded)
		}
		cost, err := amm.CalcSell(pool, m.FeeRate, ret, p.Outcome)
		if err != nil {
			return err
		}
		res, err = s.executeSell(ctx, u, m, pool, p.Seller, p.Outcome, ret, cost)
		return err
	})
	if err != nil {
		return TradeResult{}, err
	}
	s.afterTrade(ctx, p.MarketID, p.Seller, domain.DirectionSell, p.Outcome, res)
	return res, nil
}

// SellExact sells exactly enough outcome tokens to receive ReturnAmount.
func (s *Service) SellExact(ctx context.Context, p SellExactParams) (TradeResult, error) {
	var res TradeResult
	err := s.run(ctx, "sell_exact", func(u *unit) error {
		if err := requirePositive("return amount", p.ReturnAmount); err != nil {
			return err
		}
		m, pool, err := s.openForSell(ctx, u, p.MarketID, p.Outcome)
		if err != nil {
			return err
		}
		cost, err := amm.CalcSell(pool, m.FeeRate, p.ReturnAmount, p.Outcome)
		if err != nil {
			return err
		}
		if p.MaxOutcomeTokens != nil && cost.Cmp(p.MaxOutcomeTokens) > 0 {
			return fmt.Errorf("cost %s > max %s: %w", cost, p.MaxOutcomeTokens, domain.ErrSlippageExceeded)
		}
		res, err = s.executeSell(ctx, u, m, pool, p.Seller, p.Outcome, p.ReturnAmount, cost)
		return err
	})
	if err != nil {
		return TradeResult{}, err
	}
	s.afterTrade(ctx, p.MarketID, p.Seller, domain.DirectionSell, p.Outcome, res)
	return res, nil
}

func (s *Service) openForSell(ctx context.Context, u *unit, marketID string, outcome int) (domain.Market, []*big.Int, error) {
	m, err := u.tx.Markets().Lock(ctx, marketID)
	if err != nil {
		return domain.Market{}, nil, err
	}
	if err := ensureTradable(m); err != nil {
		return domain.Market{}, nil, err
	}
	if err := checkOutcome(m, outcome); err != nil {
		return domain.Market{}, nil, err
	}
	pool, err := poolOf(ctx, u.ledger, m)
	if err != nil {
		return domain.Market{}, nil, err
	}
	return m, pool, nil
}

// executeSell moves cost outcome tokens into the pool, burns a complete set
// of ret plus fee from the pool and pays ret to the seller and the fee to the
// fee wallet.
func (s *Service) executeSell(ctx context.Context, u *unit, m domain.Market, pool []*big.Int, seller string, outcome int, ret, cost *big.Int) (TradeResult, error) {
	who, err := userAccount(seller)
	if err != nil {
		return TradeResult{}, err
	}
	sym := m.OutcomeSymbols[outcome]
	held, err := u.ledger.BalanceOf(ctx, who, sym)
	if err != nil {
		return TradeResult{}, err
	}
	if held.Cmp(cost) < 0 {
		return TradeResult{}, fmt.Errorf("seller %s holds %s %s, needs %s: %w",
			seller, held, sym, cost, domain.ErrInsufficientFunds)
	}

	fee := amm.FeeOf(ret, m.FeeRate)
	plusFee := new(big.Int).Add(ret, fee)

	if err := u.ledger.Transfer(ctx, who, m.PoolAccount(), cost, sym); err != nil {
		return TradeResult{}, err
	}
	pool[outcome] = new(big.Int).Add(pool[outcome], cost)
	for i, osym := range m.OutcomeSymbols {
		if err := u.ledger.Burn(ctx, m.PoolAccount(), plusFee, osym); err != nil {
			return TradeResult{}, err
		}
		pool[i] = new(big.Int).Sub(pool[i], plusFee)
	}
	if err := u.ledger.Transfer(ctx, m.PoolAccount(), who, ret, m.Collateral); err != nil {
		return TradeResult{}, err
	}
	if fee.Sign() > 0 {
		if err := u.ledger.Transfer(ctx, m.PoolAccount(), m.FeeAccount(), fee, m.Collateral); err != nil {
			return TradeResult{}, err
		}
	}

	if err := u.record(ctx, domain.Interaction{
		Participant:      seller,
		MarketID:         m.ID,
		Outcome:          outcome,
		Direction:        domain.DirectionSell,
		InvestmentAmount: new(big.Int).Set(ret),
		FeeAmount:        new(big.Int).Set(fee),
		OutcomeTokens:    new(big.Int).Set(cost),
		Timestamp:        s.now().UTC(),
	}); err != nil {
		return TradeResult{}, err
	}
	return TradeResult{Collateral: new(big.Int).Set(ret), Fee: fee, OutcomeTokens: new(big.Int).Set(cost), Pool: pool}, nil
}

func (s *Service) afterTrade(ctx context.Context, marketID, who string, dir domain.Direction, outcome int, res TradeResult) {
	s.logger.InfoContext(ctx, "market: trade",
		slog.String("market_id", marketID),
		slog.String("participant", who),
		slog.String("direction", string(dir)),
		slog.Int("outcome", outcome),
		slog.String("collateral", res.Collateral.String()),
		slog.String("fee", res.Fee.String()),
		slog.String("outcome_tokens", res.OutcomeTokens.String()),
	)
	s.cachePrices(ctx, marketID, res.Pool)
	s.publish(ctx, domain.Event{Type: domain.EventMarketTrade, MarketID: marketID, Data: map[string]any{
		"participant":    who,
		"direction":      string(dir),
		"outcome":        outcome,
		"collateral":     res.Collateral.String(),
		"fee":            res.Fee.String(),
		"outcome_tokens": res.OutcomeTokens.String(),
	}})
}

// QuoteBuy prices a buy without executing it.
func (s *Service) QuoteBuy(ctx context.Context, marketID string, outcome int, investment *big.Int) (Quote, error) {
	var q Quote
	err := s.quote(ctx, marketID, outcome, func(m domain.Market, pool []*big.Int) error {
		bought, err := amm.CalcBuy(pool, m.FeeRate, investment, outcome)
		if err != nil {
			return err
		}
		q = Quote{Collateral: new(big.Int).Set(investment), Fee: amm.FeeOf(investment, m.FeeRate), OutcomeTokens: bought}
		return nil
	})
	return q, err
}

// QuoteSell prices selling tokens without executing it.
func (s *Service) QuoteSell(ctx context.Context, marketID string, outcome int, tokens *big.Int) (Quote, error) {
	var q Quote
	err := s.quote(ctx, marketID, outcome, func(m domain.Market, pool []*big.Int) error {
		ret, err := amm.CalcSellFromAmount(pool, m.FeeRate, tokens, outcome)
		if err != nil {
			return err
		}
		cost := new(big.Int)
		if ret.Sign() > 0 {
			if cost, err = amm.CalcSell(pool, m.FeeRate, ret, outcome); err != nil {
				return err
			}
		}
		q = Quote{Collateral: ret, Fee: amm.FeeOf(ret, m.FeeRate), OutcomeTokens: cost}
		return nil
	})
	return q, err
}

// QuoteSellExact prices receiving ret without executing it.
func (s *Service) QuoteSellExact(ctx context.Context, marketID string, outcome int, ret *big.Int) (Quote, error) {
	var q Quote
	err := s.quote(ctx, marketID, outcome, func(m domain.Market, pool []*big.Int) error {
		cost, err := amm.CalcSell(pool, m.FeeRate, ret, outcome)
		if err != nil {
			return err
		}
		q = Quote{Collateral: new(big.Int).Set(ret), Fee: amm.FeeOf(ret, m.FeeRate), OutcomeTokens: cost}
		return nil
	})
	return q, err
}

func (s *Service) quote(ctx context.Context, marketID string, outcome int, fn func(m domain.Market, pool []*big.Int) error) error {
	err := domain.RunInTx(ctx, s.uow, func(tx domain.Tx) error {
		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			return err
		}
		if err := checkOutcome(m, outcome); err != nil {
			return err
		}
		pool, err := poolOf(ctx, ledger.New(tx.Ledger(), s.now), m)
		if err != nil {
			return err
		}
		return fn(m, pool)
	})
	if err != nil {
		return fmt.Errorf("market: quote: %w", err)
	}
	return nil
}
