package gateio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkarpenko/spreadbot/internal/exchange"
)

// fakeVenue spins up an httptest server mimicking the two v4 endpoints the
// client touches: contract metadata and order placement.
type fakeVenue struct {
	srv          *httptest.Server
	multiplier   string
	contractHits atomic.Int64
	ordersPlaced []futuresOrder
}

func newFakeVenue(t *testing.T, multiplier string) *fakeVenue {
	t.Helper()
	f := &fakeVenue{multiplier: multiplier}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/futures/usdt/contracts/BTC_USDT", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		f.contractHits.Add(1)
		json.NewEncoder(w).Encode(map[string]string{
			"name":              "BTC_USDT",
			"quanto_multiplier": f.multiplier,
		})
	})
	mux.HandleFunc("/api/v4/futures/usdt/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var order futuresOrder
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		f.ordersPlaced = append(f.ordersPlaced, order)
		json.NewEncoder(w).Encode(map[string]any{"id": 42, "status": "finished"})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeVenue) client() *Client {
	return NewClient(Config{
		BaseURL:   f.srv.URL,
		APIKey:    "key",
		APISecret: "secret",
	})
}

func TestPlaceOrderConvertsVolumeToContracts(t *testing.T) {
	venue := newFakeVenue(t, "0.0001")
	c := venue.client()

	res, err := c.PlaceOrder(context.Background(), "BTC_USDT", exchange.SideSell, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "42", res.OrderID)

	require.Len(t, venue.ordersPlaced, 1)
	// 0.5 coins at 0.0001 coins/contract = 5000 contracts, negative for short.
	assert.Equal(t, int64(-5000), venue.ordersPlaced[0].Size)
	assert.Equal(t, "BTC_USDT", venue.ordersPlaced[0].Contract)

	_, err = c.PlaceOrder(context.Background(), "BTC_USDT", exchange.SideBuy, 0.5)
	require.NoError(t, err)
	require.Len(t, venue.ordersPlaced, 2)
	assert.Equal(t, int64(5000), venue.ordersPlaced[1].Size)
}

func TestPlaceOrderRejectsVolumeBelowOneContract(t *testing.T) {
	venue := newFakeVenue(t, "0.0001")
	c := venue.client()

	_, err := c.PlaceOrder(context.Background(), "BTC_USDT", exchange.SideSell, 0.00004)
	assert.ErrorIs(t, err, exchange.ErrRejectedByVenue)

	// The order must never reach the venue when the size rounds to zero.
	assert.Empty(t, venue.ordersPlaced)
}

func TestPlaceOrderWholeCoinContractFallback(t *testing.T) {
	// A zero multiplier means the contract quotes whole coins.
	venue := newFakeVenue(t, "0")
	c := venue.client()

	_, err := c.PlaceOrder(context.Background(), "BTC_USDT", exchange.SideSell, 3)
	require.NoError(t, err)

	require.Len(t, venue.ordersPlaced, 1)
	assert.Equal(t, int64(-3), venue.ordersPlaced[0].Size)
}

func TestContractMultiplierIsCached(t *testing.T) {
	venue := newFakeVenue(t, "0.0001")
	c := venue.client()

	for i := 0; i < 3; i++ {
		_, err := c.PlaceOrder(context.Background(), "BTC_USDT", exchange.SideSell, 0.5)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), venue.contractHits.Load())
}
