package ledger

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/metrics"
)

// Service runs single ledger operations in their own unit. Market and casino
// flows bind a Ledger to their own unit instead.
type Service struct {
	uow     domain.UnitOfWork
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a ledger Service.
func NewService(uow domain.UnitOfWork, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		uow:     uow,
		metrics: m,
		logger:  logger.With(slog.String("component", "ledger")),
		now:     time.Now,
	}
}

// Mint creates amount of symbol in to.
func (s *Service) Mint(ctx context.Context, to domain.Account, amount *big.Int, symbol string) error {
	return s.run(ctx, "mint", func(l *Ledger) error {
		return l.Mint(ctx, to, amount, symbol)
	})
}

// Burn destroys amount of symbol held by from.
func (s *Service) Burn(ctx context.Context, from domain.Account, amount *big.Int, symbol string) error {
	return s.run(ctx, "burn", func(l *Ledger) error {
		return l.Burn(ctx, from, amount, symbol)
	})
}

// Transfer moves amount of symbol between two accounts.
func (s *Service) Transfer(ctx context.Context, from, to domain.Account, amount *big.Int, symbol string) error {
	return s.run(ctx, "transfer", func(l *Ledger) error {
		return l.Transfer(ctx, from, to, amount, symbol)
	})
}

// BalanceOf reads a committed balance.
func (s *Service) BalanceOf(ctx context.Context, acct domain.Account, symbol string) (*big.Int, error) {
	var bal *big.Int
	err := domain.RunInTx(ctx, s.uow, func(tx domain.Tx) error {
		var err error
		bal, err = New(tx.Ledger(), s.now).BalanceOf(ctx, acct, symbol)
		return err
	})
	return bal, err
}

// TotalSupply sums every balance of symbol.
func (s *Service) TotalSupply(ctx context.Context, symbol string) (*big.Int, error) {
	var total *big.Int
	err := domain.RunInTx(ctx, s.uow, func(tx domain.Tx) error {
		var err error
		total, err = tx.Ledger().TotalSupply(ctx, symbol)
		return err
	})
	return total, err
}

// Verify checks the cached balance of acct against its transfer log.
func (s *Service) Verify(ctx context.Context, acct domain.Account, symbol string) error {
	return domain.RunInTx(ctx, s.uow, func(tx domain.Tx) error {
		return New(tx.Ledger(), s.now).Verify(ctx, acct, symbol)
	})
}

func (s *Service) run(ctx context.Context, op string, fn func(l *Ledger) error) error {
	start := time.Now()
	var applied []domain.Transfer
	err := domain.RunInTx(ctx, s.uow, func(tx domain.Tx) error {
		l := New(tx.Ledger(), s.now)
		if err := fn(l); err != nil {
			return err
		}
		applied = l.Applied()
		return nil
	})
	s.metrics.ObserveUnit("ledger."+op, start, err)
	if err != nil {
		return err
	}
	s.metrics.ObserveTransfers(applied)
	for _, t := range applied {
		s.logger.DebugContext(ctx, "ledger: applied",
			slog.String("kind", string(t.Kind())),
			slog.String("sender", t.Sender.Key()),
			slog.String("receiver", t.Receiver.Key()),
			slog.String("amount", t.Amount.String()),
			slog.String("symbol", t.Symbol),
		)
	}
	return nil
}
