package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// SQLSTATE codes that mean the unit lost a race and may be retried.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// ParseIsolation maps a config value to a pgx isolation level. The empty
// string means REPEATABLE READ.
func ParseIsolation(s string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "", "repeatable_read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	default:
		return "", fmt.Errorf("postgres: unsupported isolation level %q", s)
	}
}

// UnitOfWork implements domain.UnitOfWork on a pgx pool.
type UnitOfWork struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

// NewUnitOfWork creates a UnitOfWork that opens transactions at iso.
func NewUnitOfWork(pool *pgxpool.Pool, iso pgx.TxIsoLevel) *UnitOfWork {
	if iso == "" {
		iso = pgx.RepeatableRead
	}
	return &UnitOfWork{pool: pool, iso: iso}
}

// Begin opens a transaction.
func (u *UnitOfWork) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: u.iso})
	if err != nil {
		return nil, mapErr("begin", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Ledger() domain.LedgerStore            { return ledgerStore{t.tx} }
func (t *pgTx) Markets() domain.MarketStore           { return marketStore{t.tx} }
func (t *pgTx) Interactions() domain.InteractionStore { return interactionStore{t.tx} }
func (t *pgTx) Casino() domain.CasinoStore            { return casinoStore{t.tx} }

func (t *pgTx) Commit(ctx context.Context) error {
	return mapErr("commit", t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return mapErr("rollback", err)
}

// mapErr translates driver errors into domain errors: missing rows become
// ErrNotFound, lost serialization races ErrConflict, anything else
// ErrPersistence.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return fmt.Errorf("postgres: %s: %w: %s", op, domain.ErrConflict, pgErr.Message)
		}
	}
	return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrPersistence, err)
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: bad numeric %q: %w", s, domain.ErrPersistence)
	}
	return v, nil
}

func parseOptAmount(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseAmount(*s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("postgres: bad numeric %q: %w", s, domain.ErrPersistence)
	}
	return d, nil
}

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

var (
	_ domain.UnitOfWork = (*UnitOfWork)(nil)
	_ domain.Tx         = (*pgTx)(nil)
)
