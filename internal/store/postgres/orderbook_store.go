package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// OrderBookStore implements domain.OrderBookStore using PostgreSQL. Writes go
// through the insert_order_book stored procedure, which normalizes the JSONB
// depth payload into the order_book_data hypertable.
type OrderBookStore struct {
	pool *pgxpool.Pool
}

// NewOrderBookStore creates an OrderBookStore backed by the given pool.
func NewOrderBookStore(pool *pgxpool.Pool) *OrderBookStore {
	return &OrderBookStore{pool: pool}
}

type bookLevelJSON struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

func levelsJSON(levels []domain.PriceLevel) ([]byte, error) {
	out := make([]bookLevelJSON, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, bookLevelJSON{Price: lvl.Price, Volume: lvl.Volume})
	}
	return json.Marshal(out)
}

// Insert persists one depth snapshot via the stored procedure.
func (s *OrderBookStore) Insert(ctx context.Context, snap domain.OrderBookSnapshot) error {
	bids, err := levelsJSON(snap.Bids)
	if err != nil {
		return fmt.Errorf("postgres: marshal bids: %w", err)
	}
	asks, err := levelsJSON(snap.Asks)
	if err != nil {
		return fmt.Errorf("postgres: marshal asks: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`SELECT insert_order_book($1, $2, $3, $4, $5, $6)`,
		snap.Symbol, snap.Exchange, string(snap.Kind), bids, asks, snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order book %s/%s: %w", snap.Exchange, snap.Symbol, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderBookStore = (*OrderBookStore)(nil)
