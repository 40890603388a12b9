package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// Trigger is the manual-override surface of the engine. Nil when the bot runs
// in a mode without execution.
type Trigger interface {
	TriggerEnter(ctx context.Context, symbol string) error
	TriggerExit(ctx context.Context, symbol string) error
}

// TradeHandler serves the execution audit log and manual trade triggers.
type TradeHandler struct {
	trades  domain.TradeStore
	trigger Trigger
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler. trigger may be nil; the manual
// endpoints then answer 409.
func NewTradeHandler(trades domain.TradeStore, trigger Trigger, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades:  trades,
		trigger: trigger,
		logger:  logger,
	}
}

type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListRecent returns the newest trade attempts across all symbols.
// GET /api/trades/recent?limit=50
func (h *TradeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)

	trades, err := h.trades.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

type tradeRequest struct {
	Symbol string `json:"symbol"`
}

// Enter forces an entry for a symbol, bypassing the threshold check.
// POST /api/trade/enter {"symbol":"BTC/USDT"}
func (h *TradeHandler) Enter(w http.ResponseWriter, r *http.Request) {
	h.manual(w, r, "enter", func(ctx context.Context, symbol string) error {
		return h.trigger.TriggerEnter(ctx, symbol)
	})
}

// Exit forces an exit for a symbol's open position.
// POST /api/trade/exit {"symbol":"BTC/USDT"}
func (h *TradeHandler) Exit(w http.ResponseWriter, r *http.Request) {
	h.manual(w, r, "exit", func(ctx context.Context, symbol string) error {
		return h.trigger.TriggerExit(ctx, symbol)
	})
}

func (h *TradeHandler) manual(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) error) {
	if h.trigger == nil {
		writeError(w, http.StatusConflict, "trading is disabled in this mode")
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"symbol\":\"...\"}")
		return
	}

	if err := fn(r.Context(), req.Symbol); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrConflict):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: manual trade failed",
				slog.String("action", action),
				slog.String("symbol", req.Symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"action": action,
		"symbol": req.Symbol,
	})
}
