package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// PositionStore implements domain.PositionLedger using PostgreSQL. The
// at-most-one-open-position-per-symbol invariant is enforced by a partial
// unique index on (symbol) WHERE status = 'open', which makes the conflict
// check atomic with the insert even across bot instances.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, position_id, symbol, spot_exchange, futures_exchange,
	status, entry_spread, current_spread, exit_spread, profit_loss, volume,
	entry_spot_ask, entry_futures_bid, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.ID, &p.PositionID, &p.Symbol, &p.SpotExchange, &p.FuturesExchange,
		&status, &p.EntrySpread, &p.CurrentSpread, &p.ExitSpread,
		&p.ProfitLoss, &p.Volume,
		&p.EntrySpotAsk, &p.EntryFuturesBid,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Open inserts a new open position. A second open position for the same
// symbol violates the partial unique index and surfaces as domain.ErrConflict.
func (s *PositionStore) Open(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			position_id, symbol, spot_exchange, futures_exchange,
			status, entry_spread, current_spread, profit_loss, volume,
			entry_spot_ask, entry_futures_bid, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			'open', $5, $6, $7, $8,
			$9, $10, $11, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.PositionID, p.Symbol, p.SpotExchange, p.FuturesExchange,
		p.EntrySpread, p.CurrentSpread, p.ProfitLoss, p.Volume,
		p.EntrySpotAsk, p.EntryFuturesBid, p.OpenedAt,
	)
	if err != nil {
		if mapped := mapConstraintErr(err); errors.Is(mapped, domain.ErrConflict) {
			return mapped
		}
		return fmt.Errorf("postgres: open position %s: %w", p.PositionID, err)
	}
	return nil
}

// Close transitions an open position to closed. The status guard in the WHERE
// clause makes a double close a no-op that reports domain.ErrNotFound, so PnL
// is never double-counted.
func (s *PositionStore) Close(ctx context.Context, positionID string, exitSpread, profitLoss float64) error {
	const query = `
		UPDATE positions SET
			status      = 'closed',
			exit_spread = $2,
			profit_loss = $3,
			closed_at   = NOW(),
			updated_at  = NOW()
		WHERE position_id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, positionID, exitSpread, profitLoss)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateMark refreshes current_spread and unrealized profit_loss on an open
// position.
func (s *PositionStore) UpdateMark(ctx context.Context, positionID string, currentSpread, profitLoss float64) error {
	const query = `
		UPDATE positions SET
			current_spread = $2,
			profit_loss    = $3,
			updated_at     = NOW()
		WHERE position_id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, positionID, currentSpread, profitLoss)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CurrentOpen returns the open position for a symbol, or domain.ErrNotFound.
func (s *PositionStore) CurrentOpen(ctx context.Context, symbol string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE symbol = $1 AND status = 'open'`, symbol)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: current open %s: %w", symbol, err)
	}
	return p, nil
}

// ListOpen returns all open positions, newest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListClosed returns positions closed at or after since, newest first. A zero
// since returns the full closed history.
func (s *PositionStore) ListClosed(ctx context.Context, since time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'closed'`
	args := []any{}
	if !since.IsZero() {
		query += ` AND closed_at >= $1`
		args = append(args, since)
	}
	query += ` ORDER BY closed_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionLedger = (*PositionStore)(nil)
