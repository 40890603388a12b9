package mem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1, err := bus.Subscribe(ctx, "spreads")
	require.NoError(t, err)
	ch2, err := bus.Subscribe(ctx, "spreads")
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, "trades")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "spreads", []byte("hello")))

	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, []byte("hello"), got)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}

	select {
	case <-other:
		t.Fatal("trades subscriber received spreads message")
	default:
	}
}

func TestBusSubscriberChannelClosesOnCancel(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "spreads")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSpreadCacheRoundTrip(t *testing.T) {
	cache := NewSpreadCache()
	ctx := context.Background()

	_, err := cache.GetLatest(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sample := domain.SpreadSample{Symbol: "BTC/USDT", EntrySpread: 0.02}
	require.NoError(t, cache.SetLatest(ctx, sample))

	got, err := cache.GetLatest(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.02, got.EntrySpread, 1e-12)
}
