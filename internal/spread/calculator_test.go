package spread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

func baseQuotes(ts time.Time) (domain.Quote, domain.Quote) {
	spot := domain.Quote{
		Symbol:    "BTC/USDT",
		Exchange:  "coinex",
		BidPrice:  99.5,
		BidVolume: 4,
		AskPrice:  100,
		AskVolume: 5,
		Timestamp: ts,
	}
	futures := domain.Quote{
		Symbol:    "BTC/USDT",
		Exchange:  "gateio",
		BidPrice:  102,
		BidVolume: 3,
		AskPrice:  102.5,
		AskVolume: 6,
		Timestamp: ts,
	}
	return spot, futures
}

func TestComputeEntryOpportunity(t *testing.T) {
	ts := time.Now()
	spot, futures := baseQuotes(ts)

	calc := New(Config{EntryThreshold: 0.01, ExitThreshold: 0.005, LotSize: 10})
	sample, err := calc.Compute(spot, futures)
	require.NoError(t, err)

	// entry = (102 - 100) / 100 = 0.02 >= 0.01
	assert.InDelta(t, 0.02, sample.EntrySpread, 1e-12)
	assert.True(t, sample.EntryOpportunity)
	// tradable = min(spot ask vol 5, futures bid vol 3) = 3
	assert.Equal(t, 3.0, sample.TradableVolume)
	// exit = (99.5 - 102.5) / 102.5 < 0
	assert.False(t, sample.ExitOpportunity)
	assert.Equal(t, "coinex", sample.SpotExchange)
	assert.Equal(t, "gateio", sample.FuturesExchange)
}

func TestComputeDeterministic(t *testing.T) {
	ts := time.Now()
	spot, futures := baseQuotes(ts)
	calc := New(Config{EntryThreshold: 0.01, ExitThreshold: 0.005, LotSize: 10})

	first, err := calc.Compute(spot, futures)
	require.NoError(t, err)
	second, err := calc.Compute(spot, futures)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestComputeExitOpportunity(t *testing.T) {
	ts := time.Now()
	spot := domain.Quote{
		Symbol: "ETH/USDT", Exchange: "coinex",
		BidPrice: 103, BidVolume: 2, AskPrice: 103.5, AskVolume: 7,
		Timestamp: ts,
	}
	futures := domain.Quote{
		Symbol: "ETH/USDT", Exchange: "gateio",
		BidPrice: 101, BidVolume: 9, AskPrice: 101.5, AskVolume: 4,
		Timestamp: ts,
	}

	calc := New(Config{EntryThreshold: 0.01, ExitThreshold: 0.01, LotSize: 10})
	sample, err := calc.Compute(spot, futures)
	require.NoError(t, err)

	// exit = (103 - 101.5) / 101.5 ≈ 0.01478 >= 0.01
	assert.True(t, sample.ExitOpportunity)
	// exit volume = min(spot bid vol 2, futures ask vol 4) = 2
	assert.Equal(t, 2.0, sample.ExitVolume)
	assert.False(t, sample.EntryOpportunity)
}

func TestComputeLotSizeCap(t *testing.T) {
	ts := time.Now()
	spot, futures := baseQuotes(ts)
	spot.AskVolume = 50
	futures.BidVolume = 40

	calc := New(Config{EntryThreshold: 0.01, ExitThreshold: 0.005, LotSize: 2.5})
	sample, err := calc.Compute(spot, futures)
	require.NoError(t, err)
	assert.Equal(t, 2.5, sample.TradableVolume)
}

func TestComputeStaleQuotesZeroVolume(t *testing.T) {
	ts := time.Now()
	spot, futures := baseQuotes(ts)
	futures.Timestamp = ts.Add(-30 * time.Second)

	calc := New(Config{
		EntryThreshold: 0.01,
		ExitThreshold:  0.005,
		LotSize:        10,
		MaxQuoteSkew:   5 * time.Second,
	})
	sample, err := calc.Compute(spot, futures)
	require.NoError(t, err)

	// Low-confidence sample: spreads still recorded, volumes zeroed.
	assert.Zero(t, sample.TradableVolume)
	assert.Zero(t, sample.ExitVolume)
	assert.InDelta(t, 0.02, sample.EntrySpread, 1e-12)
	assert.True(t, sample.EntryOpportunity)
}

func TestComputeRejectsBadInput(t *testing.T) {
	ts := time.Now()
	spot, futures := baseQuotes(ts)

	t.Run("symbol mismatch", func(t *testing.T) {
		bad := futures
		bad.Symbol = "ETH/USDT"
		_, err := New(Config{}).Compute(spot, bad)
		assert.Error(t, err)
	})

	t.Run("zero spot ask", func(t *testing.T) {
		bad := spot
		bad.AskPrice = 0
		_, err := New(Config{}).Compute(bad, futures)
		assert.Error(t, err)
	})

	t.Run("zero futures bid", func(t *testing.T) {
		bad := futures
		bad.BidPrice = 0
		_, err := New(Config{}).Compute(spot, bad)
		assert.Error(t, err)
	})
}

func TestComputeSampleTimestampIsNewerQuote(t *testing.T) {
	ts := time.Now()
	spot, futures := baseQuotes(ts)
	futures.Timestamp = ts.Add(2 * time.Second)

	calc := New(Config{MaxQuoteSkew: 10 * time.Second})
	sample, err := calc.Compute(spot, futures)
	require.NoError(t, err)
	assert.Equal(t, futures.Timestamp, sample.Timestamp)
}
