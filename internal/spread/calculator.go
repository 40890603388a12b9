// Package spread computes entry/exit spreads between a spot and a futures
// venue. The calculator is pure and safe for concurrent use.
package spread

import (
	"fmt"
	"time"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// Config holds the static thresholds and sizing limits for spread evaluation.
type Config struct {
	// EntryThreshold is the minimum entry spread (ratio) that marks an entry
	// opportunity.
	EntryThreshold float64
	// ExitThreshold is the minimum exit spread (ratio) that marks an exit
	// opportunity.
	ExitThreshold float64
	// LotSize caps the tradable volume (in coins) per execution.
	LotSize float64
	// MaxQuoteSkew bounds the staleness window between the two quotes. When
	// the quote timestamps drift further apart, the sample is kept for
	// monitoring but its tradable volumes are zeroed.
	MaxQuoteSkew time.Duration
}

// Calculator derives SpreadSamples from quote pairs.
type Calculator struct {
	cfg Config
}

// New creates a Calculator with the given config.
func New(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Compute derives a SpreadSample from one spot quote and one futures quote.
//
// Direction convention: entry = buy spot + sell futures, so
// entry_spread = (futures_bid - spot_ask) / spot_ask; exit = sell spot + buy
// futures, so exit_spread = (spot_bid - futures_ask) / futures_ask.
//
// Both quotes must share the same symbol and carry positive prices. Quotes
// whose timestamps drift beyond MaxQuoteSkew produce a low-confidence sample
// with zero tradable volume instead of an error: partial data is still worth
// recording for monitoring.
func (c *Calculator) Compute(spot, futures domain.Quote) (domain.SpreadSample, error) {
	if spot.Symbol != futures.Symbol {
		return domain.SpreadSample{}, fmt.Errorf("spread: symbol mismatch: spot %q vs futures %q", spot.Symbol, futures.Symbol)
	}
	if !spot.Valid() {
		return domain.SpreadSample{}, fmt.Errorf("spread: invalid spot quote for %s from %s", spot.Symbol, spot.Exchange)
	}
	if !futures.Valid() {
		return domain.SpreadSample{}, fmt.Errorf("spread: invalid futures quote for %s from %s", futures.Symbol, futures.Exchange)
	}

	sample := domain.SpreadSample{
		Symbol:          spot.Symbol,
		SpotExchange:    spot.Exchange,
		FuturesExchange: futures.Exchange,
		EntrySpread:     (futures.BidPrice - spot.AskPrice) / spot.AskPrice,
		ExitSpread:      (spot.BidPrice - futures.AskPrice) / futures.AskPrice,
		SpotAsk:         spot.AskPrice,
		SpotBid:         spot.BidPrice,
		FuturesBid:      futures.BidPrice,
		FuturesAsk:      futures.AskPrice,
		Timestamp:       later(spot.Timestamp, futures.Timestamp),
	}
	sample.EntryOpportunity = sample.EntrySpread >= c.cfg.EntryThreshold
	sample.ExitOpportunity = sample.ExitSpread >= c.cfg.ExitThreshold

	if c.quotesFresh(spot, futures) {
		sample.TradableVolume = c.capLot(min(spot.AskVolume, futures.BidVolume))
		sample.ExitVolume = c.capLot(min(spot.BidVolume, futures.AskVolume))
	}

	return sample, nil
}

func (c *Calculator) quotesFresh(spot, futures domain.Quote) bool {
	if c.cfg.MaxQuoteSkew <= 0 {
		return true
	}
	skew := spot.Timestamp.Sub(futures.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	return skew <= c.cfg.MaxQuoteSkew
}

func (c *Calculator) capLot(v float64) float64 {
	if v < 0 {
		return 0
	}
	if c.cfg.LotSize > 0 && v > c.cfg.LotSize {
		return c.cfg.LotSize
	}
	return v
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
