// Package engine drives the arbitrage loop: poll both venues, compute the
// spread, persist the sample, and walk each symbol's trading state machine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vkarpenko/spreadbot/internal/domain"
	"github.com/vkarpenko/spreadbot/internal/exchange"
	"github.com/vkarpenko/spreadbot/internal/spread"
)

// State is the per-symbol trading state.
type State string

const (
	StateIdle     State = "idle"     // no open position, scanning for entry
	StateEntering State = "entering" // entry order pair dispatched
	StateOpen     State = "open"     // position live, scanning for exit
	StateExiting  State = "exiting"  // exit order pair dispatched
)

// Notification event types.
const (
	EventTradeExecuted  = "trade_executed"
	EventTradeFailed    = "trade_failed"
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
)

// Pub/sub channels the engine publishes on.
const (
	channelSpreads = "spreads"
	channelTrades  = "trades"
)

// Notifier delivers fire-and-forget alerts. Failures are logged, never
// propagated into the trading path.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SymbolConfig maps one logical symbol to its venue-specific names.
type SymbolConfig struct {
	Symbol        string // logical, e.g. "BTC/USDT"
	SpotSymbol    string // spot venue name, e.g. "BTCUSDT"
	FuturesSymbol string // futures contract, e.g. "BTC_USDT"
}

// Config holds the engine's runtime parameters.
type Config struct {
	Symbols        []SymbolConfig
	Interval       time.Duration // evaluation cycle period
	ExecTimeout    time.Duration // per order-pair confirmation deadline
	MinTradeVolume float64       // minimum coin volume worth entering for
	BookDepth      int
	AutoTrade      bool
	LockTTL        time.Duration // distributed entry-lock TTL
}

// Deps bundles the engine's collaborators. Ledger, Spot, Futures and Calc are
// required; the rest degrade to no-ops when nil.
type Deps struct {
	Spot     exchange.Venue
	Futures  exchange.Venue
	Calc     *spread.Calculator
	Ledger   domain.PositionLedger
	Trades   domain.TradeStore
	Spreads  domain.SpreadStore
	Books    domain.OrderBookStore
	Cache    domain.SpreadCache
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Notifier Notifier
	Logger   *slog.Logger
}

// symbolState serializes all transitions for one symbol. The mutex guarantees
// that evaluation cycles and manual triggers for a symbol never overlap.
type symbolState struct {
	mu    sync.Mutex
	state State
}

// Engine runs one state machine per configured symbol.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu     sync.RWMutex
	states map[string]*symbolState
	bySym  map[string]SymbolConfig
}

// New creates an Engine. It returns an error when a required dependency or a
// usable symbol list is missing.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Spot == nil || deps.Futures == nil {
		return nil, fmt.Errorf("engine: both venues are required")
	}
	if deps.Calc == nil {
		return nil, fmt.Errorf("engine: calculator is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("engine: position ledger is required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("engine: at least one symbol is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 10 * time.Second
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 20
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "engine")),
		states: make(map[string]*symbolState, len(cfg.Symbols)),
		bySym:  make(map[string]SymbolConfig, len(cfg.Symbols)),
	}
	for _, sc := range cfg.Symbols {
		if _, dup := e.bySym[sc.Symbol]; dup {
			return nil, fmt.Errorf("engine: duplicate symbol %q", sc.Symbol)
		}
		e.states[sc.Symbol] = &symbolState{state: StateIdle}
		e.bySym[sc.Symbol] = sc
	}
	return e, nil
}

// Run starts one evaluation loop per symbol and blocks until the context is
// cancelled. Loops for different symbols run in parallel; cycles for the same
// symbol are strictly serialized.
func (e *Engine) Run(ctx context.Context) error {
	e.resumeOpenPositions(ctx)

	g, ctx := errgroup.WithContext(ctx)
	for _, sc := range e.cfg.Symbols {
		sc := sc
		g.Go(func() error {
			return e.runSymbol(ctx, sc)
		})
	}
	e.logger.InfoContext(ctx, "engine started",
		slog.Int("symbols", len(e.cfg.Symbols)),
		slog.Bool("auto_trade", e.cfg.AutoTrade),
		slog.Duration("interval", e.cfg.Interval),
	)
	return g.Wait()
}

// resumeOpenPositions re-seeds symbol states from the ledger so a restart
// does not forget live positions.
func (e *Engine) resumeOpenPositions(ctx context.Context) {
	open, err := e.deps.Ledger.ListOpen(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "could not list open positions on startup",
			slog.String("error", err.Error()))
		return
	}
	for _, pos := range open {
		if st, ok := e.states[pos.Symbol]; ok {
			st.state = StateOpen
			e.logger.InfoContext(ctx, "resumed open position",
				slog.String("symbol", pos.Symbol),
				slog.String("position_id", pos.PositionID),
			)
		}
	}
}

func (e *Engine) runSymbol(ctx context.Context, sc SymbolConfig) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.evaluate(ctx, sc)
		}
	}
}

// evaluate runs one full cycle for a symbol: fetch quotes, persist, decide.
// Quote failures skip the cycle without any state change.
func (e *Engine) evaluate(ctx context.Context, sc SymbolConfig) {
	st := e.states[sc.Symbol]
	st.mu.Lock()
	defer st.mu.Unlock()

	sample, ok := e.observe(ctx, sc)
	if !ok {
		return
	}

	switch st.state {
	case StateIdle:
		if !e.cfg.AutoTrade || !sample.EntryOpportunity {
			return
		}
		if sample.TradableVolume < e.cfg.MinTradeVolume {
			return
		}
		if err := e.enter(ctx, sc, st, sample); err != nil {
			e.logger.WarnContext(ctx, "entry attempt failed",
				slog.String("symbol", sc.Symbol),
				slog.String("error", err.Error()),
			)
		}

	case StateOpen:
		pos, err := e.deps.Ledger.CurrentOpen(ctx, sc.Symbol)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Ledger says flat (e.g. closed by another instance).
				st.state = StateIdle
				return
			}
			e.logger.WarnContext(ctx, "ledger read failed",
				slog.String("symbol", sc.Symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		e.mark(ctx, pos, sample)
		if !e.cfg.AutoTrade || !sample.ExitOpportunity {
			return
		}
		if err := e.exit(ctx, sc, st, pos, sample); err != nil {
			e.logger.WarnContext(ctx, "exit attempt failed",
				slog.String("symbol", sc.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// observe fetches both order books, persists the snapshots and the derived
// spread sample, and publishes the sample to subscribers.
func (e *Engine) observe(ctx context.Context, sc SymbolConfig) (domain.SpreadSample, bool) {
	spotBook, err := e.deps.Spot.GetOrderBook(ctx, sc.SpotSymbol, e.cfg.BookDepth)
	if err != nil {
		e.logger.WarnContext(ctx, "spot quote unavailable, skipping cycle",
			slog.String("symbol", sc.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.SpreadSample{}, false
	}
	futBook, err := e.deps.Futures.GetOrderBook(ctx, sc.FuturesSymbol, e.cfg.BookDepth)
	if err != nil {
		e.logger.WarnContext(ctx, "futures quote unavailable, skipping cycle",
			slog.String("symbol", sc.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.SpreadSample{}, false
	}

	e.storeBook(ctx, sc.Symbol, spotBook)
	e.storeBook(ctx, sc.Symbol, futBook)

	spotQuote := spotBook.TopQuote()
	futQuote := futBook.TopQuote()
	spotQuote.Symbol = sc.Symbol
	futQuote.Symbol = sc.Symbol

	sample, err := e.deps.Calc.Compute(spotQuote, futQuote)
	if err != nil {
		e.logger.WarnContext(ctx, "spread computation failed",
			slog.String("symbol", sc.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.SpreadSample{}, false
	}

	if e.deps.Spreads != nil {
		if err := e.deps.Spreads.Insert(ctx, sample); err != nil {
			e.logger.WarnContext(ctx, "spread insert failed",
				slog.String("symbol", sc.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.deps.Cache != nil {
		if err := e.deps.Cache.SetLatest(ctx, sample); err != nil {
			e.logger.DebugContext(ctx, "spread cache update failed",
				slog.String("error", err.Error()))
		}
	}
	e.publish(ctx, channelSpreads, map[string]any{
		"event":  "spread_update",
		"sample": sample,
	})
	return sample, true
}

// storeBook writes one snapshot through the stored-procedure path. Failures
// are logged and never abort the cycle.
func (e *Engine) storeBook(ctx context.Context, symbol string, book domain.OrderBookSnapshot) {
	if e.deps.Books == nil {
		return
	}
	book.Symbol = symbol
	if err := e.deps.Books.Insert(ctx, book); err != nil {
		e.logger.WarnContext(ctx, "order book insert failed",
			slog.String("symbol", symbol),
			slog.String("exchange", book.Exchange),
			slog.String("error", err.Error()),
		)
	}
}

// mark refreshes the open position's current spread and unrealized PnL.
func (e *Engine) mark(ctx context.Context, pos domain.Position, sample domain.SpreadSample) {
	unrealized := pnl(pos, sample)
	if err := e.deps.Ledger.UpdateMark(ctx, pos.PositionID, sample.ExitSpread, unrealized); err != nil {
		e.logger.DebugContext(ctx, "mark update failed",
			slog.String("position_id", pos.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

// enter runs the IDLE -> ENTERING -> {OPEN, IDLE} transition.
func (e *Engine) enter(ctx context.Context, sc SymbolConfig, st *symbolState, sample domain.SpreadSample) error {
	if e.deps.Locks != nil {
		unlock, err := e.deps.Locks.Acquire(ctx, "entry:"+sc.Symbol, e.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				e.logger.InfoContext(ctx, "entry lock held elsewhere, skipping",
					slog.String("symbol", sc.Symbol))
				return nil
			}
			return fmt.Errorf("engine: acquire entry lock: %w", err)
		}
		defer unlock()
	}

	// Duplicate-open aborts before any order is placed; no trade row.
	if _, err := e.deps.Ledger.CurrentOpen(ctx, sc.Symbol); err == nil {
		st.state = StateOpen
		return domain.ErrConflict
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("engine: ledger check: %w", err)
	}

	volume := sample.TradableVolume
	if volume <= 0 {
		return fmt.Errorf("engine: no tradable volume for %s", sc.Symbol)
	}

	st.state = StateEntering
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout)
	defer cancel()

	if _, err := e.deps.Spot.PlaceOrder(execCtx, sc.SpotSymbol, exchange.SideBuy, volume); err != nil {
		return e.failEntry(ctx, st, sc.Symbol, volume, "no legs filled", err)
	}
	if _, err := e.deps.Futures.PlaceOrder(execCtx, sc.FuturesSymbol, exchange.SideSell, volume); err != nil {
		return e.failEntry(ctx, st, sc.Symbol, volume, "spot buy leg filled and UNHEDGED, unwind manually", err)
	}

	pos := domain.Position{
		PositionID:      uuid.New().String(),
		Symbol:          sc.Symbol,
		SpotExchange:    sample.SpotExchange,
		FuturesExchange: sample.FuturesExchange,
		Status:          domain.PositionStatusOpen,
		EntrySpread:     sample.EntrySpread,
		CurrentSpread:   sample.ExitSpread,
		Volume:          volume,
		EntrySpotAsk:    sample.SpotAsk,
		EntryFuturesBid: sample.FuturesBid,
		OpenedAt:        time.Now().UTC(),
	}
	if err := e.deps.Ledger.Open(ctx, pos); err != nil {
		// Orders are live but the ledger refused the position; surface loudly.
		e.recordTrade(ctx, pos.PositionID, domain.TradeActionEnter, sc.Symbol, volume, err)
		e.notify(ctx, EventTradeFailed, "Entry not recorded",
			fmt.Sprintf("%s: orders placed but ledger rejected position: %v", sc.Symbol, err))
		st.state = StateIdle
		return fmt.Errorf("engine: ledger open: %w", err)
	}

	e.recordTrade(ctx, pos.PositionID, domain.TradeActionEnter, sc.Symbol, volume, nil)
	st.state = StateOpen
	e.notify(ctx, EventPositionOpened, "Position opened",
		fmt.Sprintf("%s: entered %.6f @ spread %.4f", sc.Symbol, volume, sample.EntrySpread))
	e.publish(ctx, channelTrades, map[string]any{
		"event":        "trade_executed",
		"action":       domain.TradeActionEnter,
		"symbol":       sc.Symbol,
		"position_id":  pos.PositionID,
		"volume":       volume,
		"entry_spread": sample.EntrySpread,
	})
	e.logger.InfoContext(ctx, "position opened",
		slog.String("symbol", sc.Symbol),
		slog.String("position_id", pos.PositionID),
		slog.Float64("volume", volume),
		slog.Float64("entry_spread", sample.EntrySpread),
	)
	return nil
}

// failEntry handles the ENTERING -> IDLE transition. Retries are not
// automatic; the engine waits for the next natural opportunity. legs tells
// the operator which legs executed before the failure, so a half-filled
// entry can be unwound by hand.
func (e *Engine) failEntry(ctx context.Context, st *symbolState, symbol string, volume float64, legs string, cause error) error {
	st.state = StateIdle
	e.recordTrade(ctx, "", domain.TradeActionEnter, symbol, volume, cause)
	e.notify(ctx, EventTradeFailed, "Entry failed",
		fmt.Sprintf("%s: %v (%s)", symbol, cause, legs))
	return fmt.Errorf("engine: entry execution: %w", cause)
}

// exit runs the OPEN -> EXITING -> {IDLE, OPEN} transition.
func (e *Engine) exit(ctx context.Context, sc SymbolConfig, st *symbolState, pos domain.Position, sample domain.SpreadSample) error {
	st.state = StateExiting
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout)
	defer cancel()

	if _, err := e.deps.Spot.PlaceOrder(execCtx, sc.SpotSymbol, exchange.SideSell, pos.Volume); err != nil {
		return e.failExit(ctx, st, pos, err)
	}
	if _, err := e.deps.Futures.PlaceOrder(execCtx, sc.FuturesSymbol, exchange.SideBuy, pos.Volume); err != nil {
		return e.failExit(ctx, st, pos, err)
	}

	realized := pnl(pos, sample)
	if err := e.deps.Ledger.Close(ctx, pos.PositionID, sample.ExitSpread, realized); err != nil {
		e.logger.ErrorContext(ctx, "ledger close failed",
			slog.String("position_id", pos.PositionID),
			slog.String("error", err.Error()),
		)
	}

	e.recordTrade(ctx, pos.PositionID, domain.TradeActionExit, pos.Symbol, pos.Volume, nil)
	st.state = StateIdle
	e.notify(ctx, EventPositionClosed, "Position closed",
		fmt.Sprintf("%s: exited %.6f @ spread %.4f, pnl %.2f", pos.Symbol, pos.Volume, sample.ExitSpread, realized))
	e.publish(ctx, channelTrades, map[string]any{
		"event":       "trade_executed",
		"action":      domain.TradeActionExit,
		"symbol":      pos.Symbol,
		"position_id": pos.PositionID,
		"volume":      pos.Volume,
		"exit_spread": sample.ExitSpread,
		"profit_loss": realized,
	})
	e.logger.InfoContext(ctx, "position closed",
		slog.String("symbol", pos.Symbol),
		slog.String("position_id", pos.PositionID),
		slog.Float64("profit_loss", realized),
	)
	return nil
}

// failExit handles the EXITING -> OPEN transition; the position stays live.
func (e *Engine) failExit(ctx context.Context, st *symbolState, pos domain.Position, cause error) error {
	st.state = StateOpen
	e.recordTrade(ctx, pos.PositionID, domain.TradeActionExit, pos.Symbol, pos.Volume, cause)
	e.notify(ctx, EventTradeFailed, "Exit failed",
		fmt.Sprintf("%s: %v", pos.Symbol, cause))
	return fmt.Errorf("engine: exit execution: %w", cause)
}

// TriggerEnter forces an entry for the symbol, bypassing the threshold check.
// The confirmation transitions are the same as for automatic entries.
func (e *Engine) TriggerEnter(ctx context.Context, symbol string) error {
	sc, ok := e.bySym[symbol]
	if !ok {
		return fmt.Errorf("engine: unknown symbol %q: %w", symbol, domain.ErrNotFound)
	}
	st := e.states[symbol]
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state != StateIdle {
		return fmt.Errorf("engine: %s is %s: %w", symbol, st.state, domain.ErrConflict)
	}
	sample, ok := e.observe(ctx, sc)
	if !ok {
		return fmt.Errorf("engine: quotes unavailable for %s: %w", symbol, domain.ErrUnavailable)
	}
	return e.enter(ctx, sc, st, sample)
}

// TriggerExit forces an exit for the symbol's open position, bypassing the
// threshold check.
func (e *Engine) TriggerExit(ctx context.Context, symbol string) error {
	sc, ok := e.bySym[symbol]
	if !ok {
		return fmt.Errorf("engine: unknown symbol %q: %w", symbol, domain.ErrNotFound)
	}
	st := e.states[symbol]
	st.mu.Lock()
	defer st.mu.Unlock()

	pos, err := e.deps.Ledger.CurrentOpen(ctx, symbol)
	if err != nil {
		return fmt.Errorf("engine: no open position for %s: %w", symbol, err)
	}
	sample, ok := e.observe(ctx, sc)
	if !ok {
		return fmt.Errorf("engine: quotes unavailable for %s: %w", symbol, domain.ErrUnavailable)
	}
	return e.exit(ctx, sc, st, pos, sample)
}

// States returns a snapshot of every symbol's current state.
func (e *Engine) States() map[string]State {
	out := make(map[string]State, len(e.states))
	for sym, st := range e.states {
		st.mu.Lock()
		out[sym] = st.state
		st.mu.Unlock()
	}
	return out
}

// pnl computes the realized (or mark-to-market) profit of a position against
// the given sample: the spot leg sells at the sample's bid, the futures short
// covers at the sample's ask.
func pnl(pos domain.Position, sample domain.SpreadSample) float64 {
	spotLeg := (sample.SpotBid - pos.EntrySpotAsk) * pos.Volume
	futuresLeg := (pos.EntryFuturesBid - sample.FuturesAsk) * pos.Volume
	return spotLeg + futuresLeg
}

func (e *Engine) recordTrade(ctx context.Context, positionID string, action domain.TradeAction, symbol string, volume float64, cause error) {
	if e.deps.Trades == nil {
		return
	}
	trade := domain.Trade{
		PositionID: positionID,
		Action:     action,
		Symbol:     symbol,
		Volume:     volume,
		Status:     domain.TradeStatusSuccess,
		ExecutedAt: time.Now().UTC(),
	}
	if cause != nil {
		trade.Status = domain.TradeStatusError
		trade.Error = cause.Error()
	}
	if err := e.deps.Trades.Insert(ctx, trade); err != nil {
		e.logger.ErrorContext(ctx, "trade audit insert failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publish(ctx context.Context, channel string, payload map[string]any) {
	if e.deps.Bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.deps.Bus.Publish(ctx, channel, data); err != nil {
		e.logger.DebugContext(ctx, "bus publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
