package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// SpreadReader is the read side of the spread pipeline the handler needs.
// Cache may be nil; the handler then always reads from the store.
type SpreadReader struct {
	Store domain.SpreadStore
	Cache domain.SpreadCache
}

// SpreadHandler serves the spread time series endpoints.
type SpreadHandler struct {
	reader SpreadReader
	logger *slog.Logger
}

// NewSpreadHandler creates a SpreadHandler.
func NewSpreadHandler(reader SpreadReader, logger *slog.Logger) *SpreadHandler {
	return &SpreadHandler{
		reader: reader,
		logger: logger,
	}
}

type listSpreadsResponse struct {
	Spreads []domain.SpreadSample `json:"spreads"`
}

// ListRecent returns the newest samples for a symbol.
// GET /api/spreads/recent?symbol=BTC/USDT&limit=100
func (h *SpreadHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}
	limit := queryInt(r, "limit", 100, 1000)

	samples, err := h.reader.Store.ListRecent(r.Context(), symbol, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list spreads failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list spreads")
		return
	}

	if samples == nil {
		samples = []domain.SpreadSample{}
	}
	writeJSON(w, http.StatusOK, listSpreadsResponse{Spreads: samples})
}

// Latest returns the most recent sample for a symbol, preferring the cache.
// GET /api/spreads/latest?symbol=BTC/USDT
func (h *SpreadHandler) Latest(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}

	sample, err := h.latest(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no spread data for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: latest spread failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read spread")
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (h *SpreadHandler) latest(ctx context.Context, symbol string) (domain.SpreadSample, error) {
	if h.reader.Cache != nil {
		sample, err := h.reader.Cache.GetLatest(ctx, symbol)
		if err == nil {
			return sample, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.DebugContext(ctx, "handler: spread cache miss",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	samples, err := h.reader.Store.ListRecent(ctx, symbol, 1)
	if err != nil {
		return domain.SpreadSample{}, err
	}
	if len(samples) == 0 {
		return domain.SpreadSample{}, domain.ErrNotFound
	}
	return samples[0], nil
}
