package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is one live or historical arbitrage position: long spot, short
// futures, entered and exited as a pair. At most one open position may exist
// per symbol at any time; the ledger enforces that invariant.
type Position struct {
	ID              int64          `json:"id"`
	PositionID      string         `json:"position_id"` // externally unique (UUID)
	Symbol          string         `json:"symbol"`
	SpotExchange    string         `json:"spot_exchange"`
	FuturesExchange string         `json:"futures_exchange"`
	Status          PositionStatus `json:"status"`
	EntrySpread     float64        `json:"entry_spread"`
	CurrentSpread   float64        `json:"current_spread"`
	ExitSpread      *float64       `json:"exit_spread,omitempty"`
	ProfitLoss      float64        `json:"profit_loss"`
	Volume          float64        `json:"volume"` // coin volume, both legs

	// Entry leg prices, needed for realized PnL on close.
	EntrySpotAsk    float64 `json:"entry_spot_ask"`
	EntryFuturesBid float64 `json:"entry_futures_bid"`

	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"` // set exactly once, on close
}
