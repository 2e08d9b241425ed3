package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/betledger/internal/casino"
	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/market"
)

const (
	simOracle   = "oracle"
	simOperator = "operator"
	simProvider = "liquidity-provider"
	maxAttempts = 5
)

// simReport summarizes one simulation run.
type simReport struct {
	Market        string
	MarketPayouts *big.Int
	Refunded      *big.Int
	Rounds        int
	CasinoPaid    *big.Int
}

// simulate funds a set of traders and drives every market and casino
// operation against the wired store: concurrent buys and sells, resolution
// with payout, a voided market with refunds, and crash rounds settled from a
// hash chain. It fails if collateral supply changed.
func (a *App) simulate(ctx context.Context, deps *Dependencies) (simReport, error) {
	sc := a.cfg.Simulate
	marketSym := a.cfg.Market.DefaultCollateral
	casinoSym := a.cfg.Casino.Collateral

	traders := make([]string, sc.Traders)
	for i := range traders {
		traders[i] = fmt.Sprintf("trader-%02d", i+1)
	}

	minted := make(map[string]*big.Int)
	mint := func(acct domain.Account, amount int64, symbol string) error {
		amt := big.NewInt(amount)
		if err := deps.Ledger.Mint(ctx, acct, amt, symbol); err != nil {
			return err
		}
		if minted[symbol] == nil {
			minted[symbol] = new(big.Int)
		}
		minted[symbol].Add(minted[symbol], amt)
		return nil
	}

	for _, t := range traders {
		if err := mint(domain.UserAccount(t), sc.StartingBalance, marketSym); err != nil {
			return simReport{}, fmt.Errorf("app: simulate: fund %s: %w", t, err)
		}
		if casinoSym != marketSym {
			if err := mint(domain.UserAccount(t), sc.StartingBalance, casinoSym); err != nil {
				return simReport{}, fmt.Errorf("app: simulate: fund %s: %w", t, err)
			}
		}
	}
	if err := mint(domain.UserAccount(simProvider), 2*sc.Liquidity, marketSym); err != nil {
		return simReport{}, fmt.Errorf("app: simulate: fund provider: %w", err)
	}
	if err := mint(deps.Casino.House(), 10*sc.StartingBalance*int64(sc.Traders), casinoSym); err != nil {
		return simReport{}, fmt.Errorf("app: simulate: fund house: %w", err)
	}

	report := simReport{Rounds: sc.Rounds}

	payouts, marketID, err := a.simulateMarket(ctx, deps, traders)
	if err != nil {
		return simReport{}, err
	}
	report.Market, report.MarketPayouts = marketID, payouts

	if report.Refunded, err = a.simulateRefund(ctx, deps, traders); err != nil {
		return simReport{}, err
	}
	if report.CasinoPaid, err = a.simulateCasino(ctx, deps, traders); err != nil {
		return simReport{}, err
	}

	for symbol, want := range minted {
		got, err := deps.Ledger.TotalSupply(ctx, symbol)
		if err != nil {
			return simReport{}, fmt.Errorf("app: simulate: supply %s: %w", symbol, err)
		}
		if got.Cmp(want) != 0 {
			return simReport{}, fmt.Errorf("app: simulate: %s supply %s, minted %s", symbol, got, want)
		}
	}
	for _, t := range traders {
		bal, err := deps.Ledger.BalanceOf(ctx, domain.UserAccount(t), marketSym)
		if err != nil {
			return simReport{}, fmt.Errorf("app: simulate: balance %s: %w", t, err)
		}
		a.logger.InfoContext(ctx, "final balance",
			slog.String("trader", t),
			slog.String("symbol", marketSym),
			slog.String("balance", bal.String()),
		)
	}
	return report, nil
}

// simulateMarket runs concurrent trading on one market, resolves it to
// outcome 0 and pays every holder.
func (a *App) simulateMarket(ctx context.Context, deps *Dependencies, traders []string) (*big.Int, string, error) {
	sc := a.cfg.Simulate
	m, err := deps.Markets.CreateMarket(ctx, market.CreateParams{
		Question: "Which outcome wins the simulation?",
		Outcomes: sc.Outcomes,
		Oracle:   simOracle,
	})
	if err != nil {
		return nil, "", fmt.Errorf("app: simulate: %w", err)
	}
	if _, err := deps.Markets.AddLiquidity(ctx, m.ID, simProvider, big.NewInt(sc.Liquidity), nil); err != nil {
		return nil, "", fmt.Errorf("app: simulate: %w", err)
	}

	stake := big.NewInt(max(1, sc.StartingBalance/int64(4*max(1, sc.TradesPerTrader))))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range traders {
		g.Go(func() error {
			var last market.TradeResult
			var lastOutcome int
			for j := 0; j < sc.TradesPerTrader; j++ {
				lastOutcome = (i + j) % sc.Outcomes
				err := retry(gctx, func() error {
					var err error
					last, err = deps.Markets.Buy(gctx, market.BuyParams{
						MarketID:   m.ID,
						Buyer:      t,
						Outcome:    lastOutcome,
						Investment: stake,
					})
					return err
				})
				if err != nil {
					return fmt.Errorf("app: simulate: %s buy: %w", t, err)
				}
			}
			if i%3 != 0 || last.OutcomeTokens == nil {
				return nil
			}
			half := new(big.Int).Rsh(last.OutcomeTokens, 1)
			if half.Sign() == 0 {
				return nil
			}
			return retry(gctx, func() error {
				_, err := deps.Markets.Sell(gctx, market.SellParams{
					MarketID:      m.ID,
					Seller:        t,
					Outcome:       lastOutcome,
					OutcomeTokens: half,
				})
				if err != nil {
					return fmt.Errorf("app: simulate: %s sell: %w", t, err)
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	prices, err := deps.Markets.Prices(ctx, m.ID)
	if err != nil {
		return nil, "", err
	}
	a.logger.InfoContext(ctx, "market before resolution",
		slog.String("market_id", m.ID),
		slog.Any("pool", prices.Pool),
		slog.Any("marginal", prices.Marginal),
	)

	sum, err := deps.Markets.ResolveAndPayout(ctx, m.ID, simOracle, 0)
	if err != nil {
		return nil, "", fmt.Errorf("app: simulate: %w", err)
	}
	return sum.Total, m.ID, nil
}

// simulateRefund trades on a second market and then voids it.
func (a *App) simulateRefund(ctx context.Context, deps *Dependencies, traders []string) (*big.Int, error) {
	sc := a.cfg.Simulate
	m, err := deps.Markets.CreateMarket(ctx, market.CreateParams{
		Question: "Voided simulation market",
		Outcomes: sc.Outcomes,
		Oracle:   simOracle,
	})
	if err != nil {
		return nil, fmt.Errorf("app: simulate: %w", err)
	}
	if _, err := deps.Markets.AddLiquidity(ctx, m.ID, simProvider, big.NewInt(sc.Liquidity), nil); err != nil {
		return nil, fmt.Errorf("app: simulate: %w", err)
	}
	stake := big.NewInt(max(1, sc.StartingBalance/10))
	for i, t := range traders[:(len(traders)+1)/2] {
		err := retry(ctx, func() error {
			_, err := deps.Markets.Buy(ctx, market.BuyParams{
				MarketID:   m.ID,
				Buyer:      t,
				Outcome:    i % sc.Outcomes,
				Investment: stake,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("app: simulate: %s buy: %w", t, err)
		}
	}
	sum, err := deps.Markets.Refund(ctx, m.ID, simOperator)
	if err != nil {
		return nil, fmt.Errorf("app: simulate: %w", err)
	}
	return sum.Total, nil
}

// simulateCasino plays one crash round per chain hash. Every trader stakes
// on a spread of targets; the last trader also opens and cancels a trade.
func (a *App) simulateCasino(ctx context.Context, deps *Dependencies, traders []string) (*big.Int, error) {
	sc := a.cfg.Simulate
	chain := casino.GenerateChain([]byte(sc.Seed), sc.Rounds)
	if bad := casino.VerifyChain(chain); bad >= 0 {
		return nil, fmt.Errorf("app: simulate: hash chain broken at %d", bad)
	}

	stake := big.NewInt(max(1, sc.StartingBalance/int64(4*max(1, sc.Rounds))))
	step := decimal.RequireFromString("0.25")
	paid := new(big.Int)
	for r, h := range chain {
		gameID := fmt.Sprintf("round-%03d", r+1)
		gameHash := h.Hex()

		g, gctx := errgroup.WithContext(ctx)
		for i, t := range traders {
			g.Go(func() error {
				target := decimal.NewFromInt(1).Add(step.Mul(decimal.NewFromInt(int64(1 + (i+r)%8))))
				return retry(gctx, func() error {
					_, err := deps.Casino.PlaceTrade(gctx, casino.PlaceParams{
						UserID:      t,
						GameID:      gameID,
						CrashFactor: target,
						Stake:       stake,
					})
					return err
				})
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("app: simulate: %s place: %w", gameID, err)
		}

		last := traders[len(traders)-1]
		extra, err := deps.Casino.PlaceTrade(ctx, casino.PlaceParams{
			UserID:      last,
			GameID:      gameID,
			CrashFactor: decimal.NewFromInt(2),
			Stake:       stake,
		})
		if err == nil {
			_, err = deps.Casino.CancelTrade(ctx, last, extra.ID)
		}
		if err != nil && !domain.IsRetryable(err) {
			a.logger.WarnContext(ctx, "simulate: cancel demo skipped",
				slog.String("game_id", gameID),
				slog.String("error", err.Error()),
			)
		}

		if _, err := deps.Casino.LockOpenTrades(ctx, gameID, gameHash); err != nil {
			return nil, fmt.Errorf("app: simulate: %s lock: %w", gameID, err)
		}
		st, err := deps.Casino.SettleRound(ctx, gameHash)
		if err != nil {
			return nil, fmt.Errorf("app: simulate: %s settle: %w", gameID, err)
		}
		paid.Add(paid, st.Paid)
		a.logger.InfoContext(ctx, "round settled",
			slog.String("game_id", gameID),
			slog.String("crash_factor", st.Decided.String()),
			slog.Int("winners", len(st.Winners)),
			slog.Int("losers", len(st.Losers)),
		)
	}
	return paid, nil
}

// retry runs fn again while it fails with a retryable conflict.
func retry(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !domain.IsRetryable(err) || attempt >= maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
}
