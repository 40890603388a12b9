package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. The trades table
// is the append-only execution audit log; rows are never updated.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, action, symbol, volume, status, error, executed_at`

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var action, status string
		if err := rows.Scan(
			&t.ID, &t.PositionID, &action, &t.Symbol,
			&t.Volume, &status, &t.Error, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		t.Action = domain.TradeAction(action)
		t.Status = domain.TradeStatus(status)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends one trade record, failures included.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			position_id, action, symbol, volume, status, error, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		t.PositionID, string(t.Action), t.Symbol,
		t.Volume, string(t.Status), t.Error, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s/%s: %w", t.Symbol, t.Action, err)
	}
	return nil
}

// ListRecent returns the newest trades across all symbols, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 ORDER BY executed_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
