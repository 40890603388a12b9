package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// PositionLister is the read side of the position ledger the handler needs.
type PositionLister interface {
	ListOpen(ctx context.Context) ([]domain.Position, error)
	ListClosed(ctx context.Context, since time.Time) ([]domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	ledger PositionLister
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler backed by the given ledger.
func NewPositionHandler(ledger PositionLister, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		ledger: ledger,
		logger: logger,
	}
}

// ListPositions returns a JSON array of positions filtered by status. For
// closed positions the days parameter bounds how far back the history reaches
// (default 7).
// GET /api/positions?status={open|closed}&days={n}
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "open"
	}

	var (
		positions []domain.Position
		err       error
	)
	switch status {
	case "open":
		positions, err = h.ledger.ListOpen(r.Context())
	case "closed":
		days := queryInt(r, "days", 7, 365)
		since := time.Now().UTC().AddDate(0, 0, -days)
		positions, err = h.ledger.ListClosed(r.Context(), since)
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}
