package domain

import "time"

// TradeAction says which leg-pair a trade attempt belongs to.
type TradeAction string

const (
	TradeActionEnter TradeAction = "enter"
	TradeActionExit  TradeAction = "exit"
)

// TradeStatus records the outcome of an execution attempt.
type TradeStatus string

const (
	TradeStatusSuccess TradeStatus = "success"
	TradeStatusError   TradeStatus = "error"
)

// Trade is one row of the append-only execution audit log. Every attempt is
// recorded, failures included.
type Trade struct {
	ID         int64       `json:"id"`
	PositionID string      `json:"position_id"`
	Action     TradeAction `json:"action"`
	Symbol     string      `json:"symbol"`
	Volume     float64     `json:"volume"`
	Status     TradeStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	ExecutedAt time.Time   `json:"executed_at"`
}
