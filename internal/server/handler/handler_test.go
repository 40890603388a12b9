package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type fakeLedger struct {
	open      []domain.Position
	closed    []domain.Position
	since     time.Time
	listErr   error
	closedErr error
}

func (f *fakeLedger) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return f.open, f.listErr
}

func (f *fakeLedger) ListClosed(ctx context.Context, since time.Time) ([]domain.Position, error) {
	f.since = since
	return f.closed, f.closedErr
}

type fakeSpreadStore struct {
	samples   []domain.SpreadSample
	lastLimit int
	err       error
}

func (f *fakeSpreadStore) Insert(ctx context.Context, sample domain.SpreadSample) error {
	return nil
}

func (f *fakeSpreadStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.SpreadSample, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.SpreadSample
	for _, s := range f.samples {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSpreadStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SpreadSample, error) {
	return nil, nil
}

func (f *fakeSpreadStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeSpreadCache struct {
	latest map[string]domain.SpreadSample
	err    error
}

func (f *fakeSpreadCache) SetLatest(ctx context.Context, sample domain.SpreadSample) error {
	if f.latest == nil {
		f.latest = make(map[string]domain.SpreadSample)
	}
	f.latest[sample.Symbol] = sample
	return nil
}

func (f *fakeSpreadCache) GetLatest(ctx context.Context, symbol string) (domain.SpreadSample, error) {
	if f.err != nil {
		return domain.SpreadSample{}, f.err
	}
	s, ok := f.latest[symbol]
	if !ok {
		return domain.SpreadSample{}, domain.ErrNotFound
	}
	return s, nil
}

type fakeTradeStore struct {
	trades []domain.Trade
	err    error
}

func (f *fakeTradeStore) Insert(ctx context.Context, trade domain.Trade) error {
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.trades) > limit {
		return f.trades[:limit], nil
	}
	return f.trades, nil
}

type fakeTrigger struct {
	enterErr    error
	exitErr     error
	enterSymbol string
	exitSymbol  string
}

func (f *fakeTrigger) TriggerEnter(ctx context.Context, symbol string) error {
	f.enterSymbol = symbol
	return f.enterErr
}

func (f *fakeTrigger) TriggerExit(ctx context.Context, symbol string) error {
	f.exitSymbol = symbol
	return f.exitErr
}

type fakeStates struct {
	states map[string]string
}

func (f *fakeStates) States() map[string]string { return f.states }

// --- health ---

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("monitor", &fakeStates{states: map[string]string{"BTC/USDT": "IDLE"}}, discardLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "monitor", resp["mode"])
	assert.Equal(t, map[string]any{"BTC/USDT": "IDLE"}, resp["symbols"])
}

func TestHealthCheckWithoutEngine(t *testing.T) {
	h := NewHealthHandler("server", nil, discardLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotContains(t, resp, "symbols")
}

// --- positions ---

func TestListPositionsDefaultsToOpen(t *testing.T) {
	ledger := &fakeLedger{open: []domain.Position{
		{PositionID: "pos-1", Symbol: "BTC/USDT", Status: domain.PositionStatusOpen},
	}}
	h := NewPositionHandler(ledger, discardLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	// The response is a bare JSON array, not an object wrapper.
	var got []domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "pos-1", got[0].PositionID)
}

func TestListPositionsClosedHonorsDays(t *testing.T) {
	ledger := &fakeLedger{closed: []domain.Position{
		{PositionID: "pos-2", Status: domain.PositionStatusClosed},
	}}
	h := NewPositionHandler(ledger, discardLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status=closed&days=30", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	// since should be roughly 30 days in the past.
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), ledger.since, time.Minute)
}

func TestListPositionsRejectsUnknownStatus(t *testing.T) {
	h := NewPositionHandler(&fakeLedger{}, discardLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status=pending", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPositionsEmptyIsNotNull(t *testing.T) {
	h := NewPositionHandler(&fakeLedger{}, discardLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
}

// --- spreads ---

func TestListRecentSpreadsRequiresSymbol(t *testing.T) {
	h := NewSpreadHandler(SpreadReader{Store: &fakeSpreadStore{}}, discardLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/spreads/recent", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRecentSpreadsClampsLimit(t *testing.T) {
	store := &fakeSpreadStore{}
	h := NewSpreadHandler(SpreadReader{Store: store}, discardLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/spreads/recent?symbol=BTC/USDT&limit=99999", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1000, store.lastLimit)
}

func TestLatestSpreadPrefersCache(t *testing.T) {
	cached := domain.SpreadSample{Symbol: "BTC/USDT", EntrySpread: 0.021}
	cache := &fakeSpreadCache{latest: map[string]domain.SpreadSample{"BTC/USDT": cached}}
	store := &fakeSpreadStore{samples: []domain.SpreadSample{
		{Symbol: "BTC/USDT", EntrySpread: 0.009},
	}}
	h := NewSpreadHandler(SpreadReader{Store: store, Cache: cache}, discardLogger())

	rec := httptest.NewRecorder()
	h.Latest(rec, httptest.NewRequest(http.MethodGet, "/api/spreads/latest?symbol=BTC/USDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.SpreadSample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 0.021, got.EntrySpread, 1e-12)
}

func TestLatestSpreadFallsBackToStore(t *testing.T) {
	cache := &fakeSpreadCache{err: errors.New("redis down")}
	store := &fakeSpreadStore{samples: []domain.SpreadSample{
		{Symbol: "BTC/USDT", EntrySpread: 0.015},
	}}
	h := NewSpreadHandler(SpreadReader{Store: store, Cache: cache}, discardLogger())

	rec := httptest.NewRecorder()
	h.Latest(rec, httptest.NewRequest(http.MethodGet, "/api/spreads/latest?symbol=BTC/USDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.SpreadSample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 0.015, got.EntrySpread, 1e-12)
}

func TestLatestSpreadUnknownSymbolIs404(t *testing.T) {
	h := NewSpreadHandler(SpreadReader{Store: &fakeSpreadStore{}}, discardLogger())

	rec := httptest.NewRecorder()
	h.Latest(rec, httptest.NewRequest(http.MethodGet, "/api/spreads/latest?symbol=DOGE/USDT", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- trades ---

func TestListRecentTrades(t *testing.T) {
	store := &fakeTradeStore{trades: []domain.Trade{
		{PositionID: "pos-1", Action: domain.TradeActionEnter, Status: domain.TradeStatusSuccess},
	}}
	h := NewTradeHandler(store, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/trades/recent", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listTradesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, domain.TradeActionEnter, resp.Trades[0].Action)
}

func TestManualEnterDisabledWithoutTrigger(t *testing.T) {
	h := NewTradeHandler(&fakeTradeStore{}, nil, discardLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/trade/enter", bytes.NewBufferString(`{"symbol":"BTC/USDT"}`))
	h.Enter(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestManualEnterSucceeds(t *testing.T) {
	trigger := &fakeTrigger{}
	h := NewTradeHandler(&fakeTradeStore{}, trigger, discardLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/trade/enter", bytes.NewBufferString(`{"symbol":"BTC/USDT"}`))
	h.Enter(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC/USDT", trigger.enterSymbol)
}

func TestManualEnterRejectsEmptyBody(t *testing.T) {
	h := NewTradeHandler(&fakeTradeStore{}, &fakeTrigger{}, discardLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/trade/enter", bytes.NewBufferString(`{}`))
	h.Enter(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualTradeErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"conflict", domain.ErrConflict, http.StatusConflict},
		{"venue unavailable", domain.ErrUnavailable, http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &fakeTrigger{exitErr: tt.err}
			h := NewTradeHandler(&fakeTradeStore{}, trigger, discardLogger())

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/trade/exit", bytes.NewBufferString(`{"symbol":"BTC/USDT"}`))
			h.Exit(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
