// Package casino settles crash-game rounds. Users stake collateral on a target
// crash factor; a round locks its open trades, then either individual cashouts
// or the round's decided factor settle them against the house wallet.
package casino

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betledger/internal/amm"
	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/ledger"
	"github.com/alanyoungcy/betledger/internal/metrics"
)

// Config holds the casino settings.
type Config struct {
	House          string          // id of the house wallet in the casino namespace
	Collateral     string          // symbol staked and paid
	MinCrashFactor decimal.Decimal // lowest accepted target
	MaxCrashFactor decimal.Decimal // zero means unbounded
	RateLimit      int             // trades per user per RateWindow, 0 disables
	RateWindow     time.Duration
	RoundLockTTL   time.Duration
}

// Engine runs casino operations, each as one unit of work.
type Engine struct {
	uow     domain.UnitOfWork
	cfg     Config
	events  domain.EventPublisher
	limiter domain.RateLimiter
	locks   domain.LockManager
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithEvents publishes casino events after each committed unit.
func WithEvents(p domain.EventPublisher) Option { return func(e *Engine) { e.events = p } }

// WithRateLimiter limits how fast a single user may place trades.
func WithRateLimiter(l domain.RateLimiter) Option { return func(e *Engine) { e.limiter = l } }

// WithRoundLocks guards LockOpenTrades so one coordinator locks a game at a time.
func WithRoundLocks(l domain.LockManager) Option { return func(e *Engine) { e.locks = l } }

// WithMetrics records unit and trade metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// NewEngine creates an Engine.
func NewEngine(uow domain.UnitOfWork, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.MinCrashFactor.IsZero() {
		cfg.MinCrashFactor = decimal.NewFromInt(1)
	}
	if cfg.RoundLockTTL <= 0 {
		cfg.RoundLockTTL = 30 * time.Second
	}
	e := &Engine{
		uow:    uow,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "casino")),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// House is the wallet stakes are paid into and rewards are paid from.
func (e *Engine) House() domain.Account { return domain.CasinoAccount(e.cfg.House) }

func (e *Engine) run(ctx context.Context, op string, fn func(tx domain.Tx, l *ledger.Ledger) error) error {
	start := time.Now()
	var l *ledger.Ledger
	err := domain.RunInTx(ctx, e.uow, func(tx domain.Tx) error {
		l = ledger.New(tx.Ledger(), e.now)
		return fn(tx, l)
	})
	e.metrics.ObserveUnit("casino."+op, start, err)
	if err != nil {
		return fmt.Errorf("casino: %s: %w", op, err)
	}
	e.metrics.ObserveTransfers(l.Applied())
	return nil
}

func (e *Engine) publish(ctx context.Context, evt domain.Event) {
	if e.events == nil {
		return
	}
	evt.Timestamp = e.now().UTC()
	if err := e.events.Notify(ctx, evt); err != nil {
		e.logger.WarnContext(ctx, "casino: publish event failed",
			slog.String("event", evt.Type),
			slog.String("game_hash", evt.GameHash),
			slog.String("error", err.Error()),
		)
	}
}

// PlaceParams describes a new stake.
type PlaceParams struct {
	UserID      string
	GameID      string
	CrashFactor decimal.Decimal
	Stake       *big.Int
}

// PlaceTrade moves the stake into the house wallet and opens a trade for the
// next round of GameID.
func (e *Engine) PlaceTrade(ctx context.Context, p PlaceParams) (domain.CasinoTrade, error) {
	if p.GameID == "" {
		return domain.CasinoTrade{}, fmt.Errorf("casino: place: %w", domain.ErrMissingGameID)
	}
	if p.Stake == nil || p.Stake.Sign() <= 0 {
		return domain.CasinoTrade{}, fmt.Errorf("casino: place: stake %v: %w", p.Stake, domain.ErrInvalidAmount)
	}
	if p.CrashFactor.LessThan(e.cfg.MinCrashFactor) ||
		(!e.cfg.MaxCrashFactor.IsZero() && p.CrashFactor.GreaterThan(e.cfg.MaxCrashFactor)) {
		return domain.CasinoTrade{}, fmt.Errorf("casino: place: target %s: %w", p.CrashFactor, domain.ErrInvalidCrashFactor)
	}
	if err := e.allow(ctx, p.UserID); err != nil {
		return domain.CasinoTrade{}, err
	}

	ct := domain.CasinoTrade{
		ID:           uuid.New(),
		UserID:       p.UserID,
		CrashFactor:  p.CrashFactor,
		StakedAmount: new(big.Int).Set(p.Stake),
		State:        domain.TradeOpen,
		GameID:       p.GameID,
		CreatedAt:    e.now().UTC(),
	}
	err := e.run(ctx, "place", func(tx domain.Tx, l *ledger.Ledger) error {
		if err := l.Transfer(ctx, domain.UserAccount(p.UserID), e.House(), ct.StakedAmount, e.cfg.Collateral); err != nil {
			return err
		}
		return tx.Casino().Insert(ctx, ct)
	})
	if err != nil {
		return domain.CasinoTrade{}, err
	}

	e.metrics.ObserveTrades(domain.TradeOpen, 1)
	e.logger.InfoContext(ctx, "casino: trade placed",
		slog.String("trade_id", ct.ID.String()),
		slog.String("user_id", ct.UserID),
		slog.String("game_id", ct.GameID),
		slog.String("target", ct.CrashFactor.String()),
		slog.String("stake", ct.StakedAmount.String()),
	)
	e.publish(ctx, domain.Event{Type: domain.EventTradePlaced, Data: map[string]any{
		"trade_id": ct.ID.String(),
		"user_id":  ct.UserID,
		"game_id":  ct.GameID,
		"target":   ct.CrashFactor.String(),
		"stake":    ct.StakedAmount.String(),
	}})
	return ct, nil
}

func (e *Engine) allow(ctx context.Context, userID string) error {
	if e.limiter == nil || e.cfg.RateLimit <= 0 {
		return nil
	}
	ok, err := e.limiter.Allow(ctx, "casino:place:"+userID, e.cfg.RateLimit, e.cfg.RateWindow)
	if err != nil {
		// A limiter outage does not block trading.
		e.logger.WarnContext(ctx, "casino: rate limiter unavailable",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return fmt.Errorf("casino: place: user %s: %w", userID, domain.ErrRateLimited)
	}
	return nil
}

// LockOpenTrades closes GameID to new stakes and binds its open trades to the
// round identified by gameHash.
func (e *Engine) LockOpenTrades(ctx context.Context, gameID, gameHash string) ([]domain.CasinoTrade, error) {
	if gameID == "" {
		return nil, fmt.Errorf("casino: lock: %w", domain.ErrMissingGameID)
	}
	h, err := ParseGameHash(gameHash)
	if err != nil {
		return nil, fmt.Errorf("casino: lock: %w", err)
	}
	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "casino:round:"+gameID, e.cfg.RoundLockTTL)
		if err != nil {
			return nil, fmt.Errorf("casino: lock %s: %w", gameID, err)
		}
		defer unlock()
	}

	var locked []domain.CasinoTrade
	err = e.run(ctx, "lock", func(tx domain.Tx, _ *ledger.Ledger) error {
		var err error
		locked, err = tx.Casino().LockOpen(ctx, gameID, h.Hex())
		return err
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveTrades(domain.TradeLocked, len(locked))
	e.logger.InfoContext(ctx, "casino: round locked",
		slog.String("game_id", gameID),
		slog.String("game_hash", h.Hex()),
		slog.Int("trades", len(locked)),
	)
	e.publish(ctx, domain.Event{Type: domain.EventRoundLocked, GameHash: h.Hex(), Data: map[string]any{
		"game_id": gameID,
		"trades":  len(locked),
	}})
	return locked, nil
}

// Cashout settles the user's locked trade in the round at factor before the
// round crashes. The trade chosen is the one with the smallest target that
// is still at or above factor. Its reward is stake*factor, rounded half up.
func (e *Engine) Cashout(ctx context.Context, userID string, factor decimal.Decimal, gameHash string) (domain.CasinoTrade, error) {
	if !factor.IsPositive() {
		return domain.CasinoTrade{}, fmt.Errorf("casino: cashout: factor %s: %w", factor, domain.ErrInvalidCrashFactor)
	}
	h, err := ParseGameHash(gameHash)
	if err != nil {
		return domain.CasinoTrade{}, fmt.Errorf("casino: cashout: %w", err)
	}

	var ct domain.CasinoTrade
	err = e.run(ctx, "cashout", func(tx domain.Tx, l *ledger.Ledger) error {
		var err error
		ct, err = tx.Casino().FindLockedForCashout(ctx, userID, h.Hex(), factor)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("user %s at %s in %s: %w", userID, factor, h.Hex(), domain.ErrTradeNotFound)
		}
		if err != nil {
			return err
		}
		reward := amm.MulRate(ct.StakedAmount, factor)
		if reward.Sign() <= 0 {
			return fmt.Errorf("stake %s at %s: %w", ct.StakedAmount, factor, domain.ErrRewardTooLow)
		}
		at := e.now().UTC()
		if err := tx.Casino().MarkWin(ctx, ct.ID, factor, reward, at); err != nil {
			return err
		}
		if err := l.Transfer(ctx, e.House(), domain.UserAccount(userID), reward, e.cfg.Collateral); err != nil {
			return err
		}
		ct.State = domain.TradeWin
		ct.CashoutFactor = decimal.NewNullDecimal(factor)
		ct.Reward = reward
		ct.SettledAt = &at
		return nil
	})
	if err != nil {
		return domain.CasinoTrade{}, err
	}

	e.metrics.ObserveTrades(domain.TradeWin, 1)
	e.metrics.ObservePayout("casino", ct.Reward)
	e.logger.InfoContext(ctx, "casino: cashout",
		slog.String("trade_id", ct.ID.String()),
		slog.String("user_id", userID),
		slog.String("factor", factor.String()),
		slog.String("reward", ct.Reward.String()),
	)
	e.publish(ctx, domain.Event{Type: domain.EventTradeCashedOut, GameHash: h.Hex(), Data: map[string]any{
		"trade_id": ct.ID.String(),
		"user_id":  userID,
		"factor":   factor.String(),
		"reward":   ct.Reward.String(),
	}})
	return ct, nil
}

// Settlement summarizes a settled round.
type Settlement struct {
	GameHash string
	Decided  decimal.Decimal
	Winners  []domain.CasinoTrade
	Losers   []domain.CasinoTrade
	Paid     *big.Int
}

// RewardWinners settles every trade still locked in the round: targets at or
// below the decided crash factor win stake*target, the rest lose their stake.
func (e *Engine) RewardWinners(ctx context.Context, gameHash string, decided decimal.Decimal) (Settlement, error) {
	h, err := ParseGameHash(gameHash)
	if err != nil {
		return Settlement{}, fmt.Errorf("casino: reward: %w", err)
	}
	if decided.LessThan(decimal.NewFromInt(1)) {
		return Settlement{}, fmt.Errorf("casino: reward: decided %s: %w", decided, domain.ErrInvalidCrashFactor)
	}

	st := Settlement{GameHash: h.Hex(), Decided: decided, Paid: new(big.Int)}
	err = e.run(ctx, "reward", func(tx domain.Tx, l *ledger.Ledger) error {
		settled, err := tx.Casino().SetOutcomes(ctx, h.Hex(), decided, e.now().UTC())
		if err != nil {
			return err
		}
		for _, ct := range settled {
			if ct.State != domain.TradeWin {
				st.Losers = append(st.Losers, ct)
				continue
			}
			reward := amm.MulRate(ct.StakedAmount, ct.CrashFactor)
			if reward.Sign() <= 0 {
				return fmt.Errorf("trade %s: %w", ct.ID, domain.ErrRewardTooLow)
			}
			if err := tx.Casino().RecordReward(ctx, ct.ID, ct.CrashFactor, reward); err != nil {
				return err
			}
			if err := l.Transfer(ctx, e.House(), domain.UserAccount(ct.UserID), reward, e.cfg.Collateral); err != nil {
				return err
			}
			ct.CashoutFactor = decimal.NewNullDecimal(ct.CrashFactor)
			ct.Reward = reward
			st.Winners = append(st.Winners, ct)
			st.Paid.Add(st.Paid, reward)
		}
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	e.metrics.ObserveTrades(domain.TradeWin, len(st.Winners))
	e.metrics.ObserveTrades(domain.TradeLoss, len(st.Losers))
	e.metrics.ObservePayout("casino", st.Paid)
	e.logger.InfoContext(ctx, "casino: round settled",
		slog.String("game_hash", st.GameHash),
		slog.String("decided", decided.String()),
		slog.Int("winners", len(st.Winners)),
		slog.Int("losers", len(st.Losers)),
		slog.String("paid", st.Paid.String()),
	)
	e.publish(ctx, domain.Event{Type: domain.EventRoundSettled, GameHash: st.GameHash, Data: map[string]any{
		"decided": decided.String(),
		"winners": len(st.Winners),
		"losers":  len(st.Losers),
		"paid":    st.Paid.String(),
	}})
	return st, nil
}

// SettleRound settles the round at the crash factor its hash determines.
func (e *Engine) SettleRound(ctx context.Context, gameHash string) (Settlement, error) {
	h, err := ParseGameHash(gameHash)
	if err != nil {
		return Settlement{}, fmt.Errorf("casino: settle: %w", err)
	}
	return e.RewardWinners(ctx, h.Hex(), CrashFactor(h))
}

// CancelTrade withdraws an open trade and refunds its stake.
func (e *Engine) CancelTrade(ctx context.Context, userID string, id uuid.UUID) (domain.CasinoTrade, error) {
	var ct domain.CasinoTrade
	err := e.run(ctx, "cancel", func(tx domain.Tx, l *ledger.Ledger) error {
		var err error
		ct, err = tx.Casino().Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("trade %s: %w", id, domain.ErrTradeNotFound)
		}
		if err != nil {
			return err
		}
		if ct.UserID != userID {
			return fmt.Errorf("trade %s belongs to another user: %w", id, domain.ErrUnauthorized)
		}
		if ct.State != domain.TradeOpen {
			return fmt.Errorf("trade %s is %s: %w", id, ct.State, domain.ErrTradeNotCancellable)
		}
		at := e.now().UTC()
		if err := tx.Casino().Cancel(ctx, id, domain.TradeOpen, at); err != nil {
			return err
		}
		if err := l.Transfer(ctx, e.House(), domain.UserAccount(userID), ct.StakedAmount, e.cfg.Collateral); err != nil {
			return err
		}
		ct.State = domain.TradeCancelled
		ct.SettledAt = &at
		return nil
	})
	if err != nil {
		return domain.CasinoTrade{}, err
	}

	e.metrics.ObserveTrades(domain.TradeCancelled, 1)
	e.logger.InfoContext(ctx, "casino: trade cancelled",
		slog.String("trade_id", id.String()),
		slog.String("user_id", userID),
	)
	e.publish(ctx, domain.Event{Type: domain.EventTradeCancelled, Data: map[string]any{
		"trade_id": id.String(),
		"user_id":  userID,
	}})
	return ct, nil
}

// VoidRound cancels every trade still locked in the round and refunds the
// stakes. Trades already cashed out keep their reward.
func (e *Engine) VoidRound(ctx context.Context, gameHash string) ([]domain.CasinoTrade, error) {
	h, err := ParseGameHash(gameHash)
	if err != nil {
		return nil, fmt.Errorf("casino: void: %w", err)
	}

	var voided []domain.CasinoTrade
	refunded := new(big.Int)
	err = e.run(ctx, "void", func(tx domain.Tx, l *ledger.Ledger) error {
		var err error
		voided, err = tx.Casino().CancelLocked(ctx, h.Hex(), e.now().UTC())
		if err != nil {
			return err
		}
		for _, ct := range voided {
			if err := l.Transfer(ctx, e.House(), domain.UserAccount(ct.UserID), ct.StakedAmount, e.cfg.Collateral); err != nil {
				return err
			}
			refunded.Add(refunded, ct.StakedAmount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveTrades(domain.TradeCancelled, len(voided))
	e.logger.WarnContext(ctx, "casino: round voided",
		slog.String("game_hash", h.Hex()),
		slog.Int("trades", len(voided)),
		slog.String("refunded", refunded.String()),
	)
	e.publish(ctx, domain.Event{Type: domain.EventRoundVoided, GameHash: h.Hex(), Data: map[string]any{
		"trades":   len(voided),
		"refunded": refunded.String(),
	}})
	return voided, nil
}

// Trade returns one trade.
func (e *Engine) Trade(ctx context.Context, id uuid.UUID) (domain.CasinoTrade, error) {
	var ct domain.CasinoTrade
	err := domain.RunInTx(ctx, e.uow, func(tx domain.Tx) error {
		var err error
		ct, err = tx.Casino().Get(ctx, id)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CasinoTrade{}, fmt.Errorf("casino: trade %s: %w", id, domain.ErrTradeNotFound)
	}
	if err != nil {
		return domain.CasinoTrade{}, fmt.Errorf("casino: trade %s: %w", id, err)
	}
	return ct, nil
}

// RoundTrades lists the trades bound to a round.
func (e *Engine) RoundTrades(ctx context.Context, gameHash string) ([]domain.CasinoTrade, error) {
	h, err := ParseGameHash(gameHash)
	if err != nil {
		return nil, fmt.Errorf("casino: round trades: %w", err)
	}
	var out []domain.CasinoTrade
	err = domain.RunInTx(ctx, e.uow, func(tx domain.Tx) error {
		var err error
		out, err = tx.Casino().ListByRound(ctx, h.Hex())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("casino: round trades: %w", err)
	}
	return out, nil
}
