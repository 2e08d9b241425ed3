package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// ledgerStore implements domain.LedgerStore inside one transaction.
type ledgerStore struct {
	tx pgx.Tx
}

func (s ledgerStore) AppendTransfer(ctx context.Context, t domain.Transfer) (int64, error) {
	const query = `
		INSERT INTO transfers (sender, receiver, amount, symbol, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
		RETURNING id`
	var id int64
	err := s.tx.QueryRow(ctx, query,
		t.Sender.Key(), t.Receiver.Key(), amountText(t.Amount), t.Symbol, t.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, mapErr("append transfer", err)
	}
	return id, nil
}

// ReadBalance locks the balance row for the rest of the unit.
func (s ledgerStore) ReadBalance(ctx context.Context, acct domain.Account, symbol string) (*big.Int, error) {
	const query = `SELECT amount::text FROM balances WHERE account = $1 AND symbol = $2 FOR UPDATE`
	var amount string
	err := s.tx.QueryRow(ctx, query, acct.Key(), symbol).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, mapErr("read balance "+acct.Key(), err)
	}
	return parseAmount(amount)
}

func (s ledgerStore) WriteBalance(ctx context.Context, acct domain.Account, symbol string, amount *big.Int) error {
	const query = `
		INSERT INTO balances (account, symbol, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (account, symbol) DO UPDATE SET amount = EXCLUDED.amount`
	if _, err := s.tx.Exec(ctx, query, acct.Key(), symbol, amountText(amount)); err != nil {
		return mapErr("write balance "+acct.Key(), err)
	}
	return nil
}

func (s ledgerStore) SumTransfers(ctx context.Context, acct domain.Account, symbol string) (*big.Int, error) {
	const query = `
		SELECT (
			COALESCE(SUM(amount) FILTER (WHERE receiver = $1), 0) -
			COALESCE(SUM(amount) FILTER (WHERE sender = $1), 0)
		)::text
		FROM transfers
		WHERE symbol = $2 AND (sender = $1 OR receiver = $1)`
	var sum string
	if err := s.tx.QueryRow(ctx, query, acct.Key(), symbol).Scan(&sum); err != nil {
		return nil, mapErr("sum transfers "+acct.Key(), err)
	}
	return parseAmount(sum)
}

func (s ledgerStore) ListHolders(ctx context.Context, symbol string) ([]domain.Balance, error) {
	const query = `
		SELECT account, amount::text FROM balances
		WHERE symbol = $1 AND amount > 0
		ORDER BY account`
	rows, err := s.tx.Query(ctx, query, symbol)
	if err != nil {
		return nil, mapErr("list holders "+symbol, err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var key, amount string
		if err := rows.Scan(&key, &amount); err != nil {
			return nil, mapErr("scan holder", err)
		}
		acct, err := domain.ParseAccount(key)
		if err != nil {
			return nil, fmt.Errorf("postgres: holder %q: %w: %w", key, domain.ErrPersistence, err)
		}
		v, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Balance{Account: acct, Symbol: symbol, Amount: v})
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list holders rows", err)
	}
	return out, nil
}

func (s ledgerStore) TotalSupply(ctx context.Context, symbol string) (*big.Int, error) {
	const query = `SELECT COALESCE(SUM(amount), 0)::text FROM balances WHERE symbol = $1`
	var total string
	if err := s.tx.QueryRow(ctx, query, symbol).Scan(&total); err != nil {
		return nil, mapErr("total supply "+symbol, err)
	}
	return parseAmount(total)
}
