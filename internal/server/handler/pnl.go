package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// PnlReader reads stored daily PnL rows.
type PnlReader interface {
	Day(ctx context.Context, day time.Time) ([]domain.DailyStrategyPnl, error)
}

// PnlHandler serves daily PnL rows.
type PnlHandler struct {
	pnl    PnlReader
	logger *slog.Logger
}

// NewPnlHandler creates a PnlHandler.
func NewPnlHandler(pnl PnlReader, logger *slog.Logger) *PnlHandler {
	return &PnlHandler{pnl: pnl, logger: logger}
}

type pnlRow struct {
	StrategyKey string    `json:"strategy_key"`
	ExchangeKey string    `json:"exchange_key"`
	PnlUSD      float64   `json:"pnl_usd"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetDay returns the rows for one UTC day, today when day is omitted.
// GET /api/pnl?day=YYYY-MM-DD
func (h *PnlHandler) GetDay(w http.ResponseWriter, r *http.Request) {
	day := domain.Day(time.Now())
	if v := r.URL.Query().Get("day"); v != "" {
		parsed, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	rows, err := h.pnl.Day(r.Context(), day)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read pnl failed",
			slog.String("day", day.Format(time.DateOnly)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read pnl")
		return
	}

	out := make([]pnlRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, pnlRow{
			StrategyKey: row.StrategyKey,
			ExchangeKey: row.ExchangeKey,
			PnlUSD:      row.PnlUSD,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":  day.Format(time.DateOnly),
		"rows": out,
	})
}
