package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Entries are
// written outside any unit of work.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detailJSON); err != nil {
		return mapErr("log audit event "+event, err)
	}
	return nil
}

// List returns audit entries newest first, filtered and paged by opts.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list audit entries", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, mapErr("scan audit entry", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list audit entries rows", err)
	}
	return entries, nil
}

// ArchiveStore implements domain.ArchiveSource with time-ranged reads on the
// pool.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// ListTransfersBefore returns transfers created strictly before the cutoff,
// oldest first.
func (s *ArchiveStore) ListTransfersBefore(ctx context.Context, before time.Time) ([]domain.Transfer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender, receiver, amount::text, symbol, created_at
		FROM transfers WHERE created_at < $1 ORDER BY id`, before)
	if err != nil {
		return nil, mapErr("list transfers before", err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		var (
			t                        domain.Transfer
			sender, receiver, amount string
		)
		if err := rows.Scan(&t.ID, &sender, &receiver, &amount, &t.Symbol, &t.Timestamp); err != nil {
			return nil, mapErr("scan transfer", err)
		}
		if t.Sender, err = domain.ParseAccount(sender); err != nil {
			return nil, fmt.Errorf("postgres: transfer %d sender: %w", t.ID, err)
		}
		if t.Receiver, err = domain.ParseAccount(receiver); err != nil {
			return nil, fmt.Errorf("postgres: transfer %d receiver: %w", t.ID, err)
		}
		if t.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list transfers rows", err)
	}
	return out, nil
}

// ListInteractionsBefore returns market interactions strictly before the
// cutoff, oldest first.
func (s *ArchiveStore) ListInteractionsBefore(ctx context.Context, before time.Time) ([]domain.Interaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+interactionSelectCols+` FROM interactions WHERE created_at < $1 ORDER BY seq`, before)
	if err != nil {
		return nil, mapErr("list interactions before", err)
	}
	out, err := scanInteractions(rows)
	if err != nil {
		return nil, mapErr("scan interactions", err)
	}
	return out, nil
}

// ListSettledTradesBefore returns casino trades that reached a terminal
// state strictly before the cutoff.
func (s *ArchiveStore) ListSettledTradesBefore(ctx context.Context, before time.Time) ([]domain.CasinoTrade, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+casinoSelectCols+` FROM casino_trades
		WHERE settled_at IS NOT NULL AND settled_at < $1 AND state IN ($2, $3, $4)
		ORDER BY seq`,
		before, int16(domain.TradeWin), int16(domain.TradeLoss), int16(domain.TradeCancelled))
	if err != nil {
		return nil, mapErr("list settled trades before", err)
	}
	out, err := scanCasinoTrades(rows)
	if err != nil {
		return nil, mapErr("scan settled trades", err)
	}
	return out, nil
}

var (
	_ domain.AuditStore    = (*AuditStore)(nil)
	_ domain.ArchiveSource = (*ArchiveStore)(nil)
)
