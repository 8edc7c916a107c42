package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	List(ctx context.Context, accountID string, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error)
	CloseByID(ctx context.Context, id, reason string) (domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	accountID string
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler scoped to one account.
func NewPositionHandler(positions PositionService, accountID string, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		accountID: accountID,
		logger:    logger,
	}
}

type positionResponse struct {
	ID             string               `json:"id"`
	OpportunityID  string               `json:"opportunity_id"`
	Symbol         string               `json:"symbol"`
	Status         string               `json:"status"`
	EntryLegs      []domain.PositionLeg `json:"entry_legs"`
	ExitLegs       []domain.PositionLeg `json:"exit_legs,omitempty"`
	RealizedPnlUSD *float64             `json:"realized_pnl_usd"`
	Meta           domain.PositionMeta  `json:"meta"`
	OpenedAt       time.Time            `json:"opened_at"`
	ClosedAt       *time.Time           `json:"closed_at,omitempty"`
}

func toPositionResponse(p domain.Position) positionResponse {
	return positionResponse{
		ID:             p.ID,
		OpportunityID:  p.OpportunityID,
		Symbol:         p.Symbol,
		Status:         string(p.Status),
		EntryLegs:      p.EntryLegs,
		ExitLegs:       p.ExitLegs,
		RealizedPnlUSD: p.RealizedPnlUSD,
		Meta:           p.Meta,
		OpenedAt:       p.OpenedAt,
		ClosedAt:       p.ClosedAt,
	}
}

// ListPositions returns the account's positions with the requested status.
// GET /api/positions?status=open|closed&limit=&offset=&since=&until=
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := domain.PositionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.PositionStatusOpen
	}
	if status != domain.PositionStatusOpen && status != domain.PositionStatusClosed {
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	positions, err := h.positions.List(r.Context(), h.accountID, status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// ClosePosition closes an open position at live quotes.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	closed, err := h.positions.CloseByID(r.Context(), id, "manual")
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "position not found")
		return
	case errors.Is(err, domain.ErrAlreadyClosed):
		writeError(w, http.StatusConflict, "position already closed")
		return
	case errors.Is(err, domain.ErrQuoteUnavailable), errors.Is(err, domain.ErrInvalidQuote):
		writeError(w, http.StatusBadGateway, "live quotes unavailable")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(closed))
}
