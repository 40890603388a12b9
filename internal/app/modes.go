package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vkarpenko/spreadbot/internal/engine"
	"github.com/vkarpenko/spreadbot/internal/exchange/coinex"
	"github.com/vkarpenko/spreadbot/internal/exchange/gateio"
	"github.com/vkarpenko/spreadbot/internal/server"
	"github.com/vkarpenko/spreadbot/internal/server/handler"
	"github.com/vkarpenko/spreadbot/internal/server/ws"
	"github.com/vkarpenko/spreadbot/internal/spread"
)

// MonitorMode runs the evaluation loop without placing orders: spreads are
// computed, persisted and streamed, positions are never opened.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.buildEngine(deps, false)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	g.Go(func() error {
		return eng.Run(ctx)
	})

	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng, nil)
	}

	return g.Wait()
}

// TradeMode runs the evaluation loop with automatic execution enabled. Manual
// trigger endpoints are registered when the HTTP server is on.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.buildEngine(deps, true)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	g.Go(func() error {
		return eng.Run(ctx)
	})

	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng, eng)
	}

	return g.Wait()
}

// ServerMode serves the read API from the database without running the
// engine. Useful for a dashboard replica pointed at the same Postgres.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, nil, nil)

	return g.Wait()
}

// FullMode runs everything: the trading engine, the archiver, and the HTTP
// server regardless of server.enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.buildEngine(deps, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g.Go(func() error {
		return eng.Run(ctx)
	})

	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, eng, eng)

	return g.Wait()
}

// buildEngine constructs the exchange clients, the spread calculator and the
// per-symbol state machines. autoTrade controls whether entry opportunities
// translate into orders.
func (a *App) buildEngine(deps *Dependencies, autoTrade bool) (*engine.Engine, error) {
	spot := coinex.NewClient(coinex.Config{
		BaseURL:   a.cfg.CoinEx.BaseURL,
		AccessID:  a.cfg.CoinEx.AccessID,
		SecretKey: a.cfg.CoinEx.SecretKey,
		RateLimit: rate.Limit(a.cfg.CoinEx.RateLimit),
	})
	futures := gateio.NewClient(gateio.Config{
		BaseURL:   a.cfg.GateIO.BaseURL,
		APIKey:    a.cfg.GateIO.APIKey,
		APISecret: a.cfg.GateIO.APISecret,
		RateLimit: rate.Limit(a.cfg.GateIO.RateLimit),
	})

	calc := spread.New(spread.Config{
		EntryThreshold: a.cfg.Spread.EntryThreshold,
		ExitThreshold:  a.cfg.Spread.ExitThreshold,
		LotSize:        a.cfg.Spread.LotSize,
		MaxQuoteSkew:   a.cfg.Spread.MaxQuoteSkew.Duration,
	})

	symbols := make([]engine.SymbolConfig, 0, len(a.cfg.Engine.Symbols))
	for _, sc := range a.cfg.Engine.Symbols {
		symbols = append(symbols, engine.SymbolConfig{
			Symbol:        sc.Symbol,
			SpotSymbol:    sc.SpotSymbol,
			FuturesSymbol: sc.FuturesSymbol,
		})
	}

	return engine.New(engine.Config{
		Symbols:        symbols,
		Interval:       a.cfg.Engine.Interval.Duration,
		ExecTimeout:    a.cfg.Engine.ExecTimeout.Duration,
		MinTradeVolume: a.cfg.Engine.MinTradeVolume,
		BookDepth:      a.cfg.Engine.BookDepth,
		AutoTrade:      autoTrade,
		LockTTL:        a.cfg.Engine.LockTTL.Duration,
	}, engine.Deps{
		Spot:     spot,
		Futures:  futures,
		Calc:     calc,
		Ledger:   deps.Ledger,
		Trades:   deps.Trades,
		Spreads:  deps.Spreads,
		Books:    deps.Books,
		Cache:    deps.SpreadCache,
		Bus:      deps.SignalBus,
		Locks:    deps.Locks,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	})
}

// startArchiver adds the S3 archival loop to the errgroup when archival is
// configured.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	retention := a.cfg.Archive.Retention.Duration
	g.Go(func() error {
		return deps.Archiver.Run(ctx, interval, retention)
	})
}

// engineStates adapts the engine's typed state map to the health handler.
type engineStates struct {
	eng *engine.Engine
}

func (s engineStates) States() map[string]string {
	states := s.eng.States()
	out := make(map[string]string, len(states))
	for sym, st := range states {
		out[sym] = string(st)
	}
	return out
}

// startHTTPServer adds the HTTP server and the WebSocket hub to the errgroup.
// eng may be nil (server mode); trigger may be nil, which disables the manual
// trade endpoints.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	eng *engine.Engine,
	trigger handler.Trigger,
) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	var states handler.StateReporter
	if eng != nil {
		states = engineStates{eng: eng}
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, states, a.logger),
		Positions: handler.NewPositionHandler(deps.Ledger, a.logger),
		Spreads: handler.NewSpreadHandler(handler.SpreadReader{
			Store: deps.Spreads,
			Cache: deps.SpreadCache,
		}, a.logger),
		Trades: handler.NewTradeHandler(deps.Trades, trigger, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
