package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/notify"
	"github.com/alanyoungcy/betledger/internal/server"
	"github.com/alanyoungcy/betledger/internal/server/handler"
)

// MigrateMode applies the embedded Postgres migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	if deps.Postgres == nil {
		return errors.New("app: migrate mode needs postgres")
	}
	applied, err := deps.Postgres.RunMigrations(ctx)
	if err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied",
		slog.Int("count", len(applied)),
		slog.String("files", strings.Join(applied, ",")),
	)
	return nil
}

// SimulateMode runs the scripted market and casino scenario while serving the
// ops endpoints, then keeps serving for simulate.hold before returning.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode",
		slog.Int("traders", a.cfg.Simulate.Traders),
		slog.Int("rounds", a.cfg.Simulate.Rounds),
	)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if a.cfg.Metrics.Enabled {
		a.serveOps(runCtx, g, deps)
	}

	var finishWatch func(context.Context)
	if deps.SignalBus != nil {
		f, err := a.watchEvents(runCtx, deps.SignalBus)
		if err != nil {
			return err
		}
		finishWatch = f
	}

	g.Go(func() error {
		defer stop()
		report, err := a.simulate(runCtx, deps)
		if err != nil {
			return err
		}
		a.logger.InfoContext(runCtx, "simulation finished",
			slog.String("market", report.Market),
			slog.String("market_payouts", report.MarketPayouts.String()),
			slog.String("refunded", report.Refunded.String()),
			slog.Int("rounds", report.Rounds),
			slog.String("casino_paid", report.CasinoPaid.String()),
		)
		if finishWatch != nil {
			finishWatch(runCtx)
		}
		if hold := a.cfg.Simulate.Hold.Duration; hold > 0 {
			a.logger.InfoContext(runCtx, "holding ops server", slog.Duration("hold", hold))
			select {
			case <-time.After(hold):
			case <-runCtx.Done():
			}
		}
		return nil
	})

	return g.Wait()
}

// watchEvents finds the tail of the event stream, then counts live bus events
// until the returned func is called. That func replays the stream from the
// tail and logs both tallies for this run.
func (a *App) watchEvents(ctx context.Context, bus domain.SignalBus) (func(context.Context), error) {
	w := notify.NewWatcher(bus, a.logger)
	_, cursor, err := w.Replay(ctx, "0", 0)
	if err != nil {
		return nil, fmt.Errorf("app: watch events: %w", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	done, err := w.Start(watchCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("app: watch events: %w", err)
	}

	return func(ctx context.Context) {
		replayed, _, err := w.Replay(ctx, cursor, 0)
		cancel()
		<-done
		if err != nil {
			a.logger.WarnContext(ctx, "event replay failed", slog.String("error", err.Error()))
		}
		a.logger.InfoContext(ctx, "event bus",
			slog.Any("live", w.Live()),
			slog.Any("replayed", replayed),
		)
	}, nil
}

// ArchiveMode exports settled history older than archive.retention_days to
// object storage, one kind per goroutine.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode needs object storage")
	}
	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode", slog.Time("before", before))

	kinds := []struct {
		name string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{"transfers", deps.Archiver.ArchiveTransfers},
		{"interactions", deps.Archiver.ArchiveInteractions},
		{"casino_trades", deps.Archiver.ArchiveCasinoTrades},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, k := range kinds {
		g.Go(func() error {
			n, err := k.fn(gctx, before)
			if err != nil {
				return fmt.Errorf("app: archive %s: %w", k.name, err)
			}
			a.logger.InfoContext(gctx, "archived",
				slog.String("kind", k.name),
				slog.Int64("records", n),
			)
			return nil
		})
	}
	return g.Wait()
}

// serveOps runs the ops HTTP server on g until ctx is done.
func (a *App) serveOps(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Audit:  handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	srv := server.NewServer(server.Config{Addr: a.cfg.Metrics.Addr}, handlers, deps.Registry, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
