package domain

import "time"

// MarketKind distinguishes the two legs of the arbitrage pair.
type MarketKind string

const (
	MarketSpot    MarketKind = "spot"
	MarketFutures MarketKind = "futures"
)

// Quote is an immutable best bid/ask snapshot for a (symbol, exchange) pair.
// It is produced by a quote source and never mutated after creation.
type Quote struct {
	Symbol    string
	Exchange  string
	BidPrice  float64
	BidVolume float64
	AskPrice  float64
	AskVolume float64
	Timestamp time.Time
}

// Valid reports whether the quote carries usable prices on both sides.
func (q Quote) Valid() bool {
	return q.BidPrice > 0 && q.AskPrice > 0
}

// PriceLevel is a single price+volume entry in an order book.
type PriceLevel struct {
	Price  float64
	Volume float64
}

// OrderBookSnapshot is a depth snapshot for one venue. The engine persists
// every polled snapshot through the insert_order_book stored procedure.
type OrderBookSnapshot struct {
	Symbol    string
	Exchange  string
	Kind      MarketKind
	Bids      []PriceLevel // descending by price
	Asks      []PriceLevel // ascending by price
	Timestamp time.Time
}

// TopQuote reduces the snapshot to a best bid/ask Quote.
func (ob OrderBookSnapshot) TopQuote() Quote {
	q := Quote{
		Symbol:    ob.Symbol,
		Exchange:  ob.Exchange,
		Timestamp: ob.Timestamp,
	}
	if len(ob.Bids) > 0 {
		q.BidPrice = ob.Bids[0].Price
		q.BidVolume = ob.Bids[0].Volume
	}
	if len(ob.Asks) > 0 {
		q.AskPrice = ob.Asks[0].Price
		q.AskVolume = ob.Asks[0].Volume
	}
	return q
}
