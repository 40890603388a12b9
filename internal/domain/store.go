package domain

import (
	"context"
	"time"
)

// PositionLedger is the system of record for arbitrage positions. It enforces
// the at-most-one-open-position-per-symbol invariant: Open returns ErrConflict
// when an open position already exists for the symbol, and the conflict check
// is atomic with the insert.
type PositionLedger interface {
	// Open records a new position in the open state.
	Open(ctx context.Context, pos Position) error
	// Close transitions a position to closed, setting the exit spread, final
	// profit/loss and closed_at. It returns ErrNotFound when the position is
	// unknown or already closed; a double close never double-counts PnL.
	Close(ctx context.Context, positionID string, exitSpread, profitLoss float64) error
	// UpdateMark refreshes current_spread and unrealized profit_loss on an
	// open position.
	UpdateMark(ctx context.Context, positionID string, currentSpread, profitLoss float64) error
	// CurrentOpen returns the open position for a symbol, or ErrNotFound.
	CurrentOpen(ctx context.Context, symbol string) (Position, error)
	// ListOpen returns all open positions.
	ListOpen(ctx context.Context) ([]Position, error)
	// ListClosed returns positions closed at or after since, newest first.
	ListClosed(ctx context.Context, since time.Time) ([]Position, error)
}

// SpreadStore persists the append-only spread time series.
type SpreadStore interface {
	Insert(ctx context.Context, sample SpreadSample) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]SpreadSample, error)
	// ListBefore and DeleteBefore support archival of aged samples.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]SpreadSample, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TradeStore persists the execution audit log.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
}

// OrderBookStore persists order book snapshots. Implementations write through
// the insert_order_book stored procedure, the canonical write path for
// order-book data.
type OrderBookStore interface {
	Insert(ctx context.Context, snap OrderBookSnapshot) error
}
