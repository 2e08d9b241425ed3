// Package market runs the lifecycle of AMM prediction markets: liquidity,
// trading, resolution, payout and refund. Each operation is one unit of work
// that composes ledger entries, AMM pricing and market state changes.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betledger/internal/amm"
	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/ledger"
	"github.com/alanyoungcy/betledger/internal/metrics"
)

// Config holds market defaults.
type Config struct {
	DefaultFee        decimal.Decimal
	DefaultCollateral string
}

// Service orchestrates market operations. It is safe for concurrent use; the
// persistence layer serializes conflicting units.
type Service struct {
	uow     domain.UnitOfWork
	cfg     Config
	events  domain.EventPublisher
	prices  domain.PriceCache
	audit   domain.AuditStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a market Service. events, prices, audit and m may be nil.
func NewService(
	uow domain.UnitOfWork,
	cfg Config,
	events domain.EventPublisher,
	prices domain.PriceCache,
	audit domain.AuditStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		uow:     uow,
		cfg:     cfg,
		events:  events,
		prices:  prices,
		audit:   audit,
		metrics: m,
		logger:  logger.With(slog.String("component", "market")),
		now:     time.Now,
	}
}

// unit is one open market operation.
type unit struct {
	tx     domain.Tx
	ledger *ledger.Ledger
	dirs   []domain.Direction
}

func (u *unit) record(ctx context.Context, i domain.Interaction) error {
	i.ID = uuid.NewString()
	if err := u.tx.Interactions().Insert(ctx, i); err != nil {
		return fmt.Errorf("insert %s interaction: %w", i.Direction, err)
	}
	u.dirs = append(u.dirs, i.Direction)
	return nil
}

// run executes fn in one unit and records metrics for it once it settles.
func (s *Service) run(ctx context.Context, op string, fn func(u *unit) error) error {
	start := time.Now()
	var done *unit
	err := domain.RunInTx(ctx, s.uow, func(tx domain.Tx) error {
		u := &unit{tx: tx, ledger: ledger.New(tx.Ledger(), s.now)}
		if err := fn(u); err != nil {
			return err
		}
		done = u
		return nil
	})
	s.metrics.ObserveUnit("market."+op, start, err)
	if err != nil {
		return fmt.Errorf("market: %s: %w", op, err)
	}
	s.metrics.ObserveTransfers(done.ledger.Applied())
	for _, d := range done.dirs {
		s.metrics.ObserveInteraction(d)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, evt domain.Event) {
	if s.events == nil {
		return
	}
	evt.Timestamp = s.now().UTC()
	if err := s.events.Notify(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "market: publish event failed",
			slog.String("event", evt.Type),
			slog.String("market_id", evt.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) cachePrices(ctx context.Context, marketID string, pool []*big.Int) {
	if s.prices == nil {
		return
	}
	prices, err := amm.MarginalPrices(pool)
	if err != nil {
		return
	}
	if err := s.prices.SetPrices(ctx, marketID, prices, s.now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "market: cache prices failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

// poolOf reads the pool's balance of every outcome token.
func poolOf(ctx context.Context, l *ledger.Ledger, m domain.Market) ([]*big.Int, error) {
	pool := make([]*big.Int, m.Outcomes())
	for i, sym := range m.OutcomeSymbols {
		bal, err := l.BalanceOf(ctx, m.PoolAccount(), sym)
		if err != nil {
			return nil, err
		}
		pool[i] = bal
	}
	return pool, nil
}

// ensureTradable rejects operations on markets that no longer take liquidity
// or trades.
func ensureTradable(m domain.Market) error {
	switch {
	case m.Status.Resolved():
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyResolved)
	case !m.Status.Tradable():
		return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrMarketClosed)
	}
	return nil
}

func checkOutcome(m domain.Market, outcome int) error {
	if !m.ValidOutcome(outcome) {
		return fmt.Errorf("outcome %d of market %s with %d outcomes: %w",
			outcome, m.ID, m.Outcomes(), domain.ErrInvalidOutcome)
	}
	return nil
}

func requirePositive(name string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return fmt.Errorf("%s %v: %w", name, v, domain.ErrInvalidAmount)
	}
	return nil
}

// userAccount is the wallet of a user id. Ids holding ':' are rejected, so a
// user can never name a pool, fee or casino wallet.
func userAccount(id string) (domain.Account, error) {
	acct := domain.UserAccount(id)
	if err := acct.Validate(); err != nil {
		return domain.Account{}, err
	}
	return acct, nil
}

// participantOf is the interaction participant for an account: the user id
// for user wallets and the full key otherwise. User ids never contain ':', so
// accountOf inverts it exactly.
func participantOf(acct domain.Account) string {
	if acct.Namespace == domain.NamespaceUser {
		return acct.ID
	}
	return acct.Key()
}

func accountOf(participant string) (domain.Account, error) {
	if strings.Contains(participant, ":") {
		return domain.ParseAccount(participant)
	}
	return userAccount(participant)
}

// CreateParams describes a new market.
type CreateParams struct {
	ID             string // generated when empty
	Question       string
	Outcomes       int
	OutcomeSymbols []string // defaults to "<id>/<i>"
	Collateral     string   // defaults to Config.DefaultCollateral
	FeeRate        decimal.NullDecimal
	Oracle         string
}

// CreateMarket registers a market in the created state.
func (s *Service) CreateMarket(ctx context.Context, p CreateParams) (domain.Market, error) {
	now := s.now().UTC()
	m := domain.Market{
		ID:             p.ID,
		Question:       p.Question,
		OutcomeSymbols: p.OutcomeSymbols,
		Collateral:     p.Collateral,
		FeeRate:        s.cfg.DefaultFee,
		Oracle:         p.Oracle,
		Status:         domain.MarketStatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Collateral == "" {
		m.Collateral = s.cfg.DefaultCollateral
	}
	if p.FeeRate.Valid {
		m.FeeRate = p.FeeRate.Decimal
	}
	if len(m.OutcomeSymbols) == 0 {
		for i := 0; i < p.Outcomes; i++ {
			m.OutcomeSymbols = append(m.OutcomeSymbols, domain.OutcomeSymbol(m.ID, i))
		}
	} else if p.Outcomes != 0 && p.Outcomes != len(m.OutcomeSymbols) {
		return domain.Market{}, fmt.Errorf("market: create: %d symbols for %d outcomes: %w",
			len(m.OutcomeSymbols), p.Outcomes, domain.ErrInvalidMarket)
	}
	if err := m.Validate(); err != nil {
		return domain.Market{}, fmt.Errorf("market: create: %w", err)
	}

	err := s.run(ctx, "create", func(u *unit) error {
		return u.tx.Markets().Insert(ctx, m)
	})
	if err != nil {
		return domain.Market{}, err
	}

	s.logger.InfoContext(ctx, "market: created",
		slog.String("market_id", m.ID),
		slog.Int("outcomes", m.Outcomes()),
		slog.String("collateral", m.Collateral),
		slog.String("fee", m.FeeRate.String()),
	)
	s.publish(ctx, domain.Event{Type: domain.EventMarketCreated, MarketID: m.ID, Data: map[string]any{
		"question": m.Question,
		"outcomes": m.Outcomes(),
	}})
	return m, nil
}

// GetMarket returns a committed market.
func (s *Service) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	var m domain.Market
	err := domain.RunInTx(ctx, s.uow, func(tx domain.Tx) error {
		var err error
		m, err = tx.Markets().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market: get %s: %w", id, err)
	}
	return m, nil
}

// Pool returns the pool's balance of every outcome token.
func (s *Service) Pool(ctx context.Context, id string) ([]*big.Int, error) {
	var pool []*big.Int
	err := domain.RunInTx(ctx, s.uow, func(tx domain.Tx) error {
		m, err := tx.Markets().Get(ctx, id)
		if err != nil {
			return err
		}
		pool, err = poolOf(ctx, ledger.New(tx.Ledger(), s.now), m)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market: pool %s: %w", id, err)
	}
	return pool, nil
}

// PriceSnapshot reports a market's prices. Marginal and Buy are scaled by
// amm.One; Reverse counts whole outcome tokens per amm.One of collateral.
type PriceSnapshot struct {
	Pool     []*big.Int
	Marginal []*big.Int
	Buy      []*big.Int
	Reverse  []*big.Int
}

// Prices computes the current marginal and reverse prices of every outcome.
func (s *Service) Prices(ctx context.Context, id string) (PriceSnapshot, error) {
	pool, err := s.Pool(ctx, id)
	if err != nil {
		return PriceSnapshot{}, err
	}
	marginal, err := amm.MarginalPrices(pool)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("market: prices %s: %w", id, err)
	}
	buy, err := amm.BuyPrices(pool)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("market: prices %s: %w", id, err)
	}
	reverse, err := amm.ReversePrices(pool)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("market: prices %s: %w", id, err)
	}
	return PriceSnapshot{Pool: pool, Marginal: marginal, Buy: buy, Reverse: reverse}, nil
}

// CachedPrices returns the marginal prices last written to the price cache.
func (s *Service) CachedPrices(ctx context.Context, id string) ([]*big.Int, time.Time, error) {
	if s.prices == nil {
		return nil, time.Time{}, fmt.Errorf("market: cached prices %s: %w", id, domain.ErrNotFound)
	}
	return s.prices.GetPrices(ctx, id)
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
