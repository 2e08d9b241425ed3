package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// casinoStore implements domain.CasinoStore inside one transaction.
type casinoStore struct {
	tx pgx.Tx
}

const casinoSelectCols = `id, user_id, crash_factor::text, staked_amount::text, state,
	game_id, game_hash, cashout_factor::text, reward::text, created_at, settled_at`

func scanCasinoTrade(row rowScanner) (domain.CasinoTrade, error) {
	var (
		ct             domain.CasinoTrade
		factor, stake  string
		state          int16
		cashout, prize *string
	)
	if err := row.Scan(
		&ct.ID, &ct.UserID, &factor, &stake, &state,
		&ct.GameID, &ct.GameHash, &cashout, &prize, &ct.CreatedAt, &ct.SettledAt,
	); err != nil {
		return domain.CasinoTrade{}, err
	}
	ct.State = domain.TradeState(state)

	var err error
	if ct.CrashFactor, err = parseDecimal(factor); err != nil {
		return domain.CasinoTrade{}, err
	}
	if ct.StakedAmount, err = parseAmount(stake); err != nil {
		return domain.CasinoTrade{}, err
	}
	if cashout != nil {
		d, err := parseDecimal(*cashout)
		if err != nil {
			return domain.CasinoTrade{}, err
		}
		ct.CashoutFactor = decimal.NewNullDecimal(d)
	}
	if ct.Reward, err = parseOptAmount(prize); err != nil {
		return domain.CasinoTrade{}, err
	}
	return ct, nil
}

func scanCasinoTrades(rows pgx.Rows) ([]domain.CasinoTrade, error) {
	defer rows.Close()
	var out []domain.CasinoTrade
	for rows.Next() {
		ct, err := scanCasinoTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// queryTrades runs a statement returning casino_trades rows.
func (s casinoStore) queryTrades(ctx context.Context, op, query string, args ...any) ([]domain.CasinoTrade, error) {
	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	out, err := scanCasinoTrades(rows)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return out, nil
}

// updateTrades runs an UPDATE … RETURNING through a CTE so the changed rows
// come back in placement order.
func (s casinoStore) updateTrades(ctx context.Context, op, update string, args ...any) ([]domain.CasinoTrade, error) {
	query := `WITH changed AS (` + update + ` RETURNING seq, ` + casinoSelectCols + `)
		SELECT ` + casinoSelectCols + ` FROM changed ORDER BY seq`
	return s.queryTrades(ctx, op, query, args...)
}

// execOne runs a single-row UPDATE and reports ErrNotFound when it matched
// nothing.
func (s casinoStore) execOne(ctx context.Context, op string, id uuid.UUID, query string, args ...any) error {
	tag, err := s.tx.Exec(ctx, query, args...)
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

func (s casinoStore) Insert(ctx context.Context, ct domain.CasinoTrade) error {
	const query = `
		INSERT INTO casino_trades (
			id, user_id, crash_factor, staked_amount, state,
			game_id, game_hash, created_at
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8)`
	_, err := s.tx.Exec(ctx, query,
		ct.ID, ct.UserID, ct.CrashFactor.String(), amountText(ct.StakedAmount), int16(ct.State),
		ct.GameID, ct.GameHash, ct.CreatedAt,
	)
	if err != nil {
		return mapErr("insert casino trade", err)
	}
	return nil
}

func (s casinoStore) Get(ctx context.Context, id uuid.UUID) (domain.CasinoTrade, error) {
	ct, err := scanCasinoTrade(s.tx.QueryRow(ctx, `SELECT `+casinoSelectCols+` FROM casino_trades WHERE id = $1`, id))
	if err != nil {
		return domain.CasinoTrade{}, mapErr("get casino trade", err)
	}
	return ct, nil
}

func (s casinoStore) ListByRound(ctx context.Context, gameHash string) ([]domain.CasinoTrade, error) {
	return s.queryTrades(ctx, "list round trades",
		`SELECT `+casinoSelectCols+` FROM casino_trades WHERE game_hash = $1 ORDER BY seq`, gameHash)
}

func (s casinoStore) LockOpen(ctx context.Context, gameID, gameHash string) ([]domain.CasinoTrade, error) {
	return s.updateTrades(ctx, "lock open trades", `
		UPDATE casino_trades SET state = $3, game_hash = $2
		WHERE state = $4 AND game_id = $1`,
		gameID, gameHash, int16(domain.TradeLocked), int16(domain.TradeOpen))
}

func (s casinoStore) FindLockedForCashout(ctx context.Context, userID, gameHash string, factor decimal.Decimal) (domain.CasinoTrade, error) {
	const query = `SELECT ` + casinoSelectCols + ` FROM casino_trades
		WHERE user_id = $1 AND game_hash = $2 AND state = $3 AND crash_factor >= $4::numeric
		ORDER BY crash_factor, seq
		LIMIT 1
		FOR UPDATE`
	ct, err := scanCasinoTrade(s.tx.QueryRow(ctx, query, userID, gameHash, int16(domain.TradeLocked), factor.String()))
	if err != nil {
		return domain.CasinoTrade{}, mapErr("find trade for cashout", err)
	}
	return ct, nil
}

func (s casinoStore) MarkWin(ctx context.Context, id uuid.UUID, cashout decimal.Decimal, reward *big.Int, at time.Time) error {
	return s.execOne(ctx, "mark win", id, `
		UPDATE casino_trades
		SET state = $5, cashout_factor = $2::numeric, reward = $3::numeric, settled_at = $4
		WHERE id = $1 AND state = $6`,
		id, cashout.String(), amountText(reward), at, int16(domain.TradeWin), int16(domain.TradeLocked))
}

func (s casinoStore) SetOutcomes(ctx context.Context, gameHash string, decided decimal.Decimal, at time.Time) ([]domain.CasinoTrade, error) {
	return s.updateTrades(ctx, "set round outcomes", `
		UPDATE casino_trades
		SET state = CASE WHEN crash_factor <= $2::numeric THEN $4::smallint ELSE $5::smallint END,
		    settled_at = $3
		WHERE game_hash = $1 AND state = $6`,
		gameHash, decided.String(), at,
		int16(domain.TradeWin), int16(domain.TradeLoss), int16(domain.TradeLocked))
}

func (s casinoStore) RecordReward(ctx context.Context, id uuid.UUID, cashout decimal.Decimal, reward *big.Int) error {
	return s.execOne(ctx, "record reward", id, `
		UPDATE casino_trades SET cashout_factor = $2::numeric, reward = $3::numeric
		WHERE id = $1 AND state = $4`,
		id, cashout.String(), amountText(reward), int16(domain.TradeWin))
}

func (s casinoStore) Cancel(ctx context.Context, id uuid.UUID, from domain.TradeState, at time.Time) error {
	return s.execOne(ctx, "cancel trade", id, `
		UPDATE casino_trades SET state = $4, settled_at = $3
		WHERE id = $1 AND state = $2`,
		id, int16(from), at, int16(domain.TradeCancelled))
}

func (s casinoStore) CancelLocked(ctx context.Context, gameHash string, at time.Time) ([]domain.CasinoTrade, error) {
	return s.updateTrades(ctx, "cancel locked trades", `
		UPDATE casino_trades SET state = $3, settled_at = $2
		WHERE game_hash = $1 AND state = $4`,
		gameHash, at, int16(domain.TradeCancelled), int16(domain.TradeLocked))
}
