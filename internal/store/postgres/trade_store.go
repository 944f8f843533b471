package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `request_id, trade_id, state, created_at, completed_at`

func scanTrade(row pgx.Row) (domain.PendingTrade, error) {
	var t domain.PendingTrade
	var state string
	var completedAt *time.Time
	if err := row.Scan(&t.RequestID, &t.TradeID, &state, &t.CreatedAt, &completedAt); err != nil {
		return domain.PendingTrade{}, err
	}
	t.State = domain.TradeState(state)
	if completedAt != nil {
		t.CompletedAt = *completedAt
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.PendingTrade, error) {
	var trades []domain.PendingTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert records a trade. A request id seen again replaces the earlier row,
// matching the ledger's last-writer-wins rule.
func (s *TradeStore) Insert(ctx context.Context, t domain.PendingTrade) error {
	const query = `
		INSERT INTO trades (request_id, trade_id, state, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO UPDATE SET
			trade_id     = EXCLUDED.trade_id,
			state        = EXCLUDED.state,
			created_at   = EXCLUDED.created_at,
			completed_at = EXCLUDED.completed_at`

	var completedAt *time.Time
	if !t.CompletedAt.IsZero() {
		completedAt = &t.CompletedAt
	}
	if _, err := s.pool.Exec(ctx, query, t.RequestID, t.TradeID, string(t.State), t.CreatedAt, completedAt); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.RequestID, err)
	}
	return nil
}

// GetByRequestID returns the trade or domain.ErrNotFound.
func (s *TradeStore) GetByRequestID(ctx context.Context, requestID string) (domain.PendingTrade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE request_id = $1`, requestID)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PendingTrade{}, domain.ErrNotFound
		}
		return domain.PendingTrade{}, fmt.Errorf("postgres: get trade %s: %w", requestID, err)
	}
	return t, nil
}

// ListRecent returns trades newest first with pagination and optional time
// filtering on created_at.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.PendingTrade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`
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

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListCompletedBefore returns up to limit completed trades whose completion
// time is strictly before the cutoff, oldest first.
func (s *TradeStore) ListCompletedBefore(ctx context.Context, before time.Time, limit int) ([]domain.PendingTrade, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE completed_at IS NOT NULL AND completed_at < $1
		 ORDER BY completed_at ASC
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list completed trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan completed trades: %w", err)
	}
	return trades, nil
}

// DeleteByRequestIDs removes the given trades and returns how many rows
// were deleted.
func (s *TradeStore) DeleteByRequestIDs(ctx context.Context, requestIDs []string) (int64, error) {
	if len(requestIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE request_id = ANY($1)`, requestIDs)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
