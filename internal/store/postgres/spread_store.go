package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// SpreadStore persists the append-only spread time series. The spreads table
// is a TimescaleDB hypertable partitioned on ts.
type SpreadStore struct {
	pool *pgxpool.Pool
}

// NewSpreadStore creates a SpreadStore backed by the given connection pool.
func NewSpreadStore(pool *pgxpool.Pool) *SpreadStore {
	return &SpreadStore{pool: pool}
}

const spreadSelectCols = `symbol, spot_exchange, futures_exchange,
	entry_spread, exit_spread, entry_opportunity, exit_opportunity,
	tradable_volume, exit_volume,
	spot_ask, spot_bid, futures_bid, futures_ask, ts`

func scanSpreads(rows pgx.Rows) ([]domain.SpreadSample, error) {
	var samples []domain.SpreadSample
	for rows.Next() {
		var s domain.SpreadSample
		if err := rows.Scan(
			&s.Symbol, &s.SpotExchange, &s.FuturesExchange,
			&s.EntrySpread, &s.ExitSpread, &s.EntryOpportunity, &s.ExitOpportunity,
			&s.TradableVolume, &s.ExitVolume,
			&s.SpotAsk, &s.SpotBid, &s.FuturesBid, &s.FuturesAsk, &s.Timestamp,
		); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Insert appends one spread sample. Rows are never updated.
func (s *SpreadStore) Insert(ctx context.Context, sample domain.SpreadSample) error {
	const query = `
		INSERT INTO spreads (
			symbol, spot_exchange, futures_exchange,
			entry_spread, exit_spread, entry_opportunity, exit_opportunity,
			tradable_volume, exit_volume,
			spot_ask, spot_bid, futures_bid, futures_ask, ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		sample.Symbol, sample.SpotExchange, sample.FuturesExchange,
		sample.EntrySpread, sample.ExitSpread, sample.EntryOpportunity, sample.ExitOpportunity,
		sample.TradableVolume, sample.ExitVolume,
		sample.SpotAsk, sample.SpotBid, sample.FuturesBid, sample.FuturesAsk, sample.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert spread %s: %w", sample.Symbol, err)
	}
	return nil
}

// ListRecent returns the newest samples for a symbol, newest first.
func (s *SpreadStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.SpreadSample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+spreadSelectCols+` FROM spreads
		 WHERE symbol = $1
		 ORDER BY ts DESC
		 LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent spreads %s: %w", symbol, err)
	}
	defer rows.Close()

	samples, err := scanSpreads(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan spreads: %w", err)
	}
	return samples, nil
}

// ListBefore returns up to limit samples older than cutoff, oldest first.
// Used by the archiver to page through aged data.
func (s *SpreadStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SpreadSample, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+spreadSelectCols+` FROM spreads
		 WHERE ts < $1
		 ORDER BY ts ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list spreads before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	samples, err := scanSpreads(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan spreads: %w", err)
	}
	return samples, nil
}

// DeleteBefore drops samples older than cutoff and reports how many went.
func (s *SpreadStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM spreads WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete spreads before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SpreadStore = (*SpreadStore)(nil)
