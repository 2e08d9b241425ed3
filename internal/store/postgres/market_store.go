package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// marketStore implements domain.MarketStore inside one transaction.
type marketStore struct {
	tx pgx.Tx
}

const marketSelectCols = `id, question, outcome_symbols, collateral, fee_rate::text,
	oracle, status, created_at, updated_at`

func scanMarket(row rowScanner) (domain.Market, error) {
	var (
		m      domain.Market
		fee    string
		status string
	)
	if err := row.Scan(
		&m.ID, &m.Question, &m.OutcomeSymbols, &m.Collateral, &fee,
		&m.Oracle, &status, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return domain.Market{}, err
	}
	rate, err := parseDecimal(fee)
	if err != nil {
		return domain.Market{}, err
	}
	m.FeeRate = rate
	m.Status = domain.MarketStatus(status)
	return m, nil
}

func (s marketStore) Insert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, outcome_symbols, collateral, fee_rate,
			oracle, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.tx.Exec(ctx, query,
		m.ID, m.Question, m.OutcomeSymbols, m.Collateral, m.FeeRate.String(),
		m.Oracle, string(m.Status), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return mapErr("insert market "+m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	return nil
}

func (s marketStore) Get(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(s.tx.QueryRow(ctx, `SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return domain.Market{}, mapErr("get market "+id, err)
	}
	return m, nil
}

// Lock reads the market and holds its row lock until the unit ends.
func (s marketStore) Lock(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(s.tx.QueryRow(ctx, `SELECT `+marketSelectCols+` FROM markets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Market{}, mapErr("lock market "+id, err)
	}
	return m, nil
}

func (s marketStore) SetStatus(ctx context.Context, id string, status domain.MarketStatus, at time.Time) error {
	tag, err := s.tx.Exec(ctx,
		`UPDATE markets SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), at,
	)
	if err != nil {
		return mapErr("set market status "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set market status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s marketStore) InsertResolution(ctx context.Context, r domain.Resolution) error {
	const query = `
		INSERT INTO resolutions (market_id, reporter, outcome, resolved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id) DO NOTHING`
	tag, err := s.tx.Exec(ctx, query, r.MarketID, r.Reporter, r.Outcome, r.Timestamp)
	if err != nil {
		return mapErr("insert resolution "+r.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert resolution %s: %w", r.MarketID, domain.ErrAlreadyResolved)
	}
	return nil
}

func (s marketStore) GetResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	r := domain.Resolution{MarketID: marketID}
	err := s.tx.QueryRow(ctx,
		`SELECT reporter, outcome, resolved_at FROM resolutions WHERE market_id = $1`, marketID,
	).Scan(&r.Reporter, &r.Outcome, &r.Timestamp)
	if err != nil {
		return domain.Resolution{}, mapErr("get resolution "+marketID, err)
	}
	return r, nil
}

func (s marketStore) InsertRefund(ctx context.Context, r domain.Refund) (bool, error) {
	const query = `
		INSERT INTO refunds (market_id, participant, amount, refunded_at)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (market_id, participant) DO NOTHING`
	tag, err := s.tx.Exec(ctx, query, r.MarketID, r.Participant, amountText(r.Amount), r.Timestamp)
	if err != nil {
		return false, mapErr("insert refund "+r.MarketID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// interactionStore implements domain.InteractionStore inside one transaction.
type interactionStore struct {
	tx pgx.Tx
}

const interactionSelectCols = `id, participant, market_id, outcome, direction,
	investment_amount::text, fee_amount::text, outcome_tokens::text, created_at`

func scanInteraction(row rowScanner) (domain.Interaction, error) {
	var (
		i                 domain.Interaction
		id                uuid.UUID
		dir               string
		inv, fee, outcome string
	)
	if err := row.Scan(
		&id, &i.Participant, &i.MarketID, &i.Outcome, &dir,
		&inv, &fee, &outcome, &i.Timestamp,
	); err != nil {
		return domain.Interaction{}, err
	}
	i.ID = id.String()
	i.Direction = domain.Direction(dir)
	var err error
	if i.InvestmentAmount, err = parseAmount(inv); err != nil {
		return domain.Interaction{}, err
	}
	if i.FeeAmount, err = parseAmount(fee); err != nil {
		return domain.Interaction{}, err
	}
	if i.OutcomeTokens, err = parseAmount(outcome); err != nil {
		return domain.Interaction{}, err
	}
	return i, nil
}

func scanInteractions(rows pgx.Rows) ([]domain.Interaction, error) {
	defer rows.Close()
	var out []domain.Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s interactionStore) Insert(ctx context.Context, i domain.Interaction) error {
	id, err := uuid.Parse(i.ID)
	if err != nil {
		return fmt.Errorf("postgres: interaction id %q: %w", i.ID, errors.Join(domain.ErrPersistence, err))
	}
	const query = `
		INSERT INTO interactions (
			id, participant, market_id, outcome, direction,
			investment_amount, fee_amount, outcome_tokens, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9)`
	_, err = s.tx.Exec(ctx, query,
		id, i.Participant, i.MarketID, i.Outcome, string(i.Direction),
		amountText(i.InvestmentAmount), amountText(i.FeeAmount), amountText(i.OutcomeTokens), i.Timestamp,
	)
	if err != nil {
		return mapErr("insert interaction", err)
	}
	return nil
}

func (s interactionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Interaction, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT `+interactionSelectCols+` FROM interactions WHERE market_id = $1 ORDER BY seq`, marketID)
	if err != nil {
		return nil, mapErr("list interactions "+marketID, err)
	}
	out, err := scanInteractions(rows)
	if err != nil {
		return nil, mapErr("scan interactions "+marketID, err)
	}
	return out, nil
}
