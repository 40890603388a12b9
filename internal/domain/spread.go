package domain

import "time"

// SpreadSample is one derived, append-only observation of the entry and exit
// spreads between a spot venue and a futures venue. Both spreads are computed
// from exactly one quote per venue at a consistent timestamp.
//
// Spreads are ratios, not percentages: an entry spread of 0.02 means the
// futures bid is 2% above the spot ask.
type SpreadSample struct {
	Symbol           string  `json:"symbol"`
	SpotExchange     string  `json:"spot_exchange"`
	FuturesExchange  string  `json:"futures_exchange"`
	EntrySpread      float64 `json:"entry_spread"`
	ExitSpread       float64 `json:"exit_spread"`
	EntryOpportunity bool    `json:"entry_opportunity"`
	ExitOpportunity  bool    `json:"exit_opportunity"`

	// TradableVolume is the coin volume executable for an entry (buy spot,
	// sell futures), capped by the configured lot size. Zero marks a
	// low-confidence sample (stale quotes).
	TradableVolume float64 `json:"tradable_volume"`
	// ExitVolume is the coin volume executable for an exit (sell spot, buy
	// futures), under the same cap.
	ExitVolume float64 `json:"exit_volume"`

	// Leg prices the spreads were computed from. Kept so realized PnL can be
	// derived from entry vs exit prices rather than from the ratios alone.
	SpotAsk    float64 `json:"spot_ask"`
	SpotBid    float64 `json:"spot_bid"`
	FuturesBid float64 `json:"futures_bid"`
	FuturesAsk float64 `json:"futures_ask"`

	Timestamp time.Time `json:"timestamp"`
}
