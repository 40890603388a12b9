package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkarpenko/spreadbot/internal/domain"
	"github.com/vkarpenko/spreadbot/internal/exchange"
	"github.com/vkarpenko/spreadbot/internal/ledger"
	"github.com/vkarpenko/spreadbot/internal/spread"
)

type placedOrder struct {
	symbol string
	side   exchange.Side
	volume float64
}

// fakeVenue serves a canned order book and records placed orders. Setting
// orderErr fails every PlaceOrder; blockOrders makes PlaceOrder wait for the
// context deadline instead.
type fakeVenue struct {
	mu          sync.Mutex
	name        string
	kind        domain.MarketKind
	book        domain.OrderBookSnapshot
	bookErr     error
	orderErr    error
	blockOrders bool
	orders      []placedOrder
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookSnapshot, error) {
	if v.bookErr != nil {
		return domain.OrderBookSnapshot{}, v.bookErr
	}
	book := v.book
	book.Symbol = symbol
	book.Exchange = v.name
	book.Kind = v.kind
	if book.Timestamp.IsZero() {
		book.Timestamp = time.Now().UTC()
	}
	return book, nil
}

func (v *fakeVenue) PlaceOrder(ctx context.Context, symbol string, side exchange.Side, volume float64) (exchange.OrderResult, error) {
	if v.blockOrders {
		<-ctx.Done()
		return exchange.OrderResult{}, exchange.ErrTimeout
	}
	if v.orderErr != nil {
		return exchange.OrderResult{}, v.orderErr
	}
	v.mu.Lock()
	v.orders = append(v.orders, placedOrder{symbol: symbol, side: side, volume: volume})
	v.mu.Unlock()
	return exchange.OrderResult{OrderID: "1", Status: "done"}, nil
}

func (v *fakeVenue) placed() []placedOrder {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]placedOrder(nil), v.orders...)
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *fakeTradeStore) Insert(ctx context.Context, trade domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade.ID = int64(len(s.trades) + 1)
	s.trades = append(s.trades, trade)
	return nil
}

func (s *fakeTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trade(nil), s.trades...), nil
}

type notification struct {
	event, title, message string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *fakeNotifier) Notify(ctx context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{event, title, message})
	return nil
}

func (n *fakeNotifier) eventNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		names = append(names, ev.event)
	}
	return names
}

func (n *fakeNotifier) messagesFor(event string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var msgs []string
	for _, ev := range n.events {
		if ev.event == event {
			msgs = append(msgs, ev.message)
		}
	}
	return msgs
}

func book(bidPrice, bidVol, askPrice, askVol float64) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Bids:      []domain.PriceLevel{{Price: bidPrice, Volume: bidVol}},
		Asks:      []domain.PriceLevel{{Price: askPrice, Volume: askVol}},
		Timestamp: time.Now().UTC(),
	}
}

type harness struct {
	engine   *Engine
	spot     *fakeVenue
	futures  *fakeVenue
	ledger   *ledger.Memory
	trades   *fakeTradeStore
	notifier *fakeNotifier
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		spot: &fakeVenue{
			name: "coinex",
			kind: domain.MarketSpot,
			// Spot: best bid 99, best ask 100 with 5 coins.
			book: book(99, 5, 100, 5),
		},
		futures: &fakeVenue{
			name: "gateio",
			kind: domain.MarketFutures,
			// Futures: best bid 102 with 3 coins -> entry spread 0.02.
			book: book(102, 3, 103, 4),
		},
		ledger:   ledger.NewMemory(),
		trades:   &fakeTradeStore{},
		notifier: &fakeNotifier{},
	}

	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []SymbolConfig{{
			Symbol:        "BTC/USDT",
			SpotSymbol:    "BTCUSDT",
			FuturesSymbol: "BTC_USDT",
		}}
	}
	calc := spread.New(spread.Config{
		EntryThreshold: 0.01,
		ExitThreshold:  -0.05,
		LotSize:        10,
	})

	eng, err := New(cfg, Deps{
		Spot:     h.spot,
		Futures:  h.futures,
		Calc:     calc,
		Ledger:   h.ledger,
		Trades:   h.trades,
		Notifier: h.notifier,
	})
	require.NoError(t, err)
	h.engine = eng
	return h
}

func (h *harness) symbolConfig() SymbolConfig {
	return h.engine.cfg.Symbols[0]
}

func TestEvaluateOpensPositionOnEntryOpportunity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: true, MinTradeVolume: 0.1})

	h.engine.evaluate(ctx, h.symbolConfig())

	pos, err := h.ledger.CurrentOpen(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.InDelta(t, 0.02, pos.EntrySpread, 1e-9)
	assert.Equal(t, 3.0, pos.Volume) // min(spot ask vol 5, futures bid vol 3)
	assert.Equal(t, 100.0, pos.EntrySpotAsk)
	assert.Equal(t, 102.0, pos.EntryFuturesBid)

	require.Equal(t, []placedOrder{{symbol: "BTCUSDT", side: exchange.SideBuy, volume: 3}}, h.spot.placed())
	require.Equal(t, []placedOrder{{symbol: "BTC_USDT", side: exchange.SideSell, volume: 3}}, h.futures.placed())

	trades, err := h.trades.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeActionEnter, trades[0].Action)
	assert.Equal(t, domain.TradeStatusSuccess, trades[0].Status)
	assert.Equal(t, pos.PositionID, trades[0].PositionID)

	assert.Contains(t, h.notifier.eventNames(), EventPositionOpened)
	assert.Equal(t, StateOpen, h.engine.States()["BTC/USDT"])
}

func TestEvaluateBelowThresholdStaysIdle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: true})
	// Futures bid 100.5 -> entry spread 0.005, under the 0.01 threshold.
	h.futures.book = book(100.5, 3, 103, 4)

	h.engine.evaluate(ctx, h.symbolConfig())

	assert.Empty(t, h.spot.placed())
	_, err := h.ledger.CurrentOpen(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, StateIdle, h.engine.States()["BTC/USDT"])
}

func TestMonitorModeNeverTrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: false})

	h.engine.evaluate(ctx, h.symbolConfig())

	assert.Empty(t, h.spot.placed())
	assert.Empty(t, h.futures.placed())
	assert.Equal(t, StateIdle, h.engine.States()["BTC/USDT"])
}

func TestEntryFailureReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: true})
	h.futures.orderErr = exchange.ErrInsufficientFunds

	h.engine.evaluate(ctx, h.symbolConfig())

	// Spot leg went through, futures leg failed, no position recorded.
	require.Len(t, h.spot.placed(), 1)
	assert.Empty(t, h.futures.placed())
	_, err := h.ledger.CurrentOpen(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	trades, err := h.trades.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusError, trades[0].Status)
	assert.Contains(t, trades[0].Error, "insufficient funds")

	assert.Contains(t, h.notifier.eventNames(), EventTradeFailed)
	assert.Equal(t, StateIdle, h.engine.States()["BTC/USDT"])

	// The failure alert must say the spot leg is live so the operator knows
	// to unwind it.
	msgs := h.notifier.messagesFor(EventTradeFailed)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "UNHEDGED")
}

func TestEntrySpotFailureReportsNoLegsFilled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: true})
	h.spot.orderErr = exchange.ErrInsufficientFunds

	h.engine.evaluate(ctx, h.symbolConfig())

	assert.Empty(t, h.futures.placed())
	msgs := h.notifier.messagesFor(EventTradeFailed)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "no legs filled")
	assert.NotContains(t, msgs[0], "UNHEDGED")
}

func TestEntryTimeoutReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: true, ExecTimeout: 20 * time.Millisecond})
	h.spot.blockOrders = true

	h.engine.evaluate(ctx, h.symbolConfig())

	trades, err := h.trades.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusError, trades[0].Status)
	assert.Contains(t, trades[0].Error, "timeout")
	assert.Equal(t, StateIdle, h.engine.States()["BTC/USDT"])
}

func TestDuplicateOpenProducesNoTradeRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: true})

	// Another instance already holds the position; the local state machine
	// does not know yet.
	require.NoError(t, h.ledger.Open(ctx, domain.Position{
		PositionID: "ext-1",
		Symbol:     "BTC/USDT",
		Status:     domain.PositionStatusOpen,
		Volume:     1,
		OpenedAt:   time.Now().UTC(),
	}))

	err := h.engine.TriggerEnter(ctx, "BTC/USDT")
	require.ErrorIs(t, err, domain.ErrConflict)

	// The duplicate was caught before any order went out.
	assert.Empty(t, h.spot.placed())
	assert.Empty(t, h.futures.placed())
	trades, err := h.trades.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, trades)

	// The local state machine resynchronizes to the ledger.
	assert.Equal(t, StateOpen, h.engine.States()["BTC/USDT"])
}

func TestEvaluateExitsOnExitOpportunity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: true})

	// Open first.
	h.engine.evaluate(ctx, h.symbolConfig())
	pos, err := h.ledger.CurrentOpen(ctx, "BTC/USDT")
	require.NoError(t, err)

	// Converged: spot bid 101, futures ask 101.5 -> exit spread ~ -0.0049,
	// above the -0.05 exit threshold.
	h.spot.book = book(101, 5, 101.5, 5)
	h.futures.book = book(101.2, 3, 101.5, 4)

	h.engine.evaluate(ctx, h.symbolConfig())

	_, err = h.ledger.CurrentOpen(ctx, "BTC/USDT")
	require.ErrorIs(t, err, domain.ErrNotFound)

	closed, err := h.ledger.ListClosed(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, pos.PositionID, closed[0].PositionID)
	// PnL = (101 - 100)*3 spot + (102 - 101.5)*3 futures = 3 + 1.5 = 4.5
	assert.InDelta(t, 4.5, closed[0].ProfitLoss, 1e-9)

	spotOrders := h.spot.placed()
	require.Len(t, spotOrders, 2)
	assert.Equal(t, exchange.SideSell, spotOrders[1].side)
	futOrders := h.futures.placed()
	require.Len(t, futOrders, 2)
	assert.Equal(t, exchange.SideBuy, futOrders[1].side)

	assert.Contains(t, h.notifier.eventNames(), EventPositionClosed)
	assert.Equal(t, StateIdle, h.engine.States()["BTC/USDT"])
}

func TestExitFailureKeepsPositionOpen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: true})

	h.engine.evaluate(ctx, h.symbolConfig())
	require.Equal(t, StateOpen, h.engine.States()["BTC/USDT"])

	h.spot.book = book(101, 5, 101.5, 5)
	h.futures.book = book(101.2, 3, 101.5, 4)
	h.futures.orderErr = exchange.ErrRejectedByVenue

	h.engine.evaluate(ctx, h.symbolConfig())

	// Position survives the failed exit.
	_, err := h.ledger.CurrentOpen(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, h.engine.States()["BTC/USDT"])

	trades, err := h.trades.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.TradeActionExit, trades[1].Action)
	assert.Equal(t, domain.TradeStatusError, trades[1].Status)
}

func TestQuoteFailureSkipsCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: true})
	h.spot.bookErr = domain.ErrUnavailable

	h.engine.evaluate(ctx, h.symbolConfig())

	assert.Empty(t, h.spot.placed())
	assert.Empty(t, h.futures.placed())
	assert.Equal(t, StateIdle, h.engine.States()["BTC/USDT"])
}

func TestTriggerEnterBypassesThreshold(t *testing.T) {
	ctx := context.Background()
	// AutoTrade off and no entry opportunity at these prices.
	h := newHarness(t, Config{AutoTrade: false})
	h.futures.book = book(100.2, 3, 103, 4) // entry spread 0.002 < threshold

	require.NoError(t, h.engine.TriggerEnter(ctx, "BTC/USDT"))

	pos, err := h.ledger.CurrentOpen(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 3.0, pos.Volume)
	assert.Equal(t, StateOpen, h.engine.States()["BTC/USDT"])
}

func TestTriggerExitClosesPosition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{AutoTrade: false})

	require.NoError(t, h.engine.TriggerEnter(ctx, "BTC/USDT"))
	require.NoError(t, h.engine.TriggerExit(ctx, "BTC/USDT"))

	_, err := h.ledger.CurrentOpen(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, StateIdle, h.engine.States()["BTC/USDT"])
}

func TestTriggerUnknownSymbol(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	err := h.engine.TriggerEnter(ctx, "DOGE/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = h.engine.TriggerExit(ctx, "DOGE/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTriggerExitWithoutPosition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	err := h.engine.TriggerExit(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResumeOpenPositionsOnStartup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	require.NoError(t, h.ledger.Open(ctx, domain.Position{
		PositionID: "restart-1",
		Symbol:     "BTC/USDT",
		Status:     domain.PositionStatusOpen,
		Volume:     2,
		OpenedAt:   time.Now().UTC(),
	}))

	h.engine.resumeOpenPositions(ctx)
	assert.Equal(t, StateOpen, h.engine.States()["BTC/USDT"])
}
