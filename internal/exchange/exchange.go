// Package exchange defines the venue-facing interfaces the engine consumes,
// and typed execution errors. Concrete REST clients for CoinEx (spot) and
// Gate.io (futures) live in the subpackages.
package exchange

import (
	"context"
	"errors"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// Side is the direction of a market order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderResult is the venue's acknowledgement of a placed order.
type OrderResult struct {
	OrderID string
	Status  string
}

// QuoteSource supplies best bid/ask snapshots for a symbol on one venue.
// Implementations may fail with domain.ErrUnavailable wrapped in a
// venue-specific message.
type QuoteSource interface {
	// Name identifies the venue (e.g. "coinex").
	Name() string
	// GetOrderBook fetches a depth snapshot for the symbol.
	GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookSnapshot, error)
}

// ExecutionGateway places market orders on one venue.
type ExecutionGateway interface {
	Name() string
	// PlaceOrder submits a market order. It may fail with
	// ErrInsufficientFunds, ErrRejectedByVenue, or ErrTimeout.
	PlaceOrder(ctx context.Context, symbol string, side Side, volume float64) (OrderResult, error)
}

// Venue bundles the two capabilities of one exchange leg.
type Venue interface {
	QuoteSource
	ExecutionGateway
}

// Execution error taxonomy. The engine treats all of them as a failed
// attempt; ErrTimeout additionally bounds how long a symbol may remain in a
// dispatched state.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRejectedByVenue   = errors.New("rejected by venue")
	ErrTimeout           = errors.New("execution timeout")
)

// IsExecutionError reports whether err belongs to the execution taxonomy.
func IsExecutionError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrRejectedByVenue) ||
		errors.Is(err, ErrTimeout)
}
