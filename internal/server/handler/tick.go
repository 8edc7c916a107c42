package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/pipeline"
)

// TickRunner runs one orchestrated tick.
type TickRunner interface {
	RunTick(ctx context.Context, opts pipeline.TickOptions) (*pipeline.TickResult, error)
}

// TickHandler triggers ticks on demand.
type TickHandler struct {
	runner TickRunner
	logger *slog.Logger
}

// NewTickHandler creates a TickHandler.
func NewTickHandler(runner TickRunner, logger *slog.Logger) *TickHandler {
	return &TickHandler{runner: runner, logger: logger}
}

// RunTick runs a tick synchronously and returns its result. The body is
// optional; {"holding_hours": n} overrides the carry holding horizon.
// POST /api/tick
func (h *TickHandler) RunTick(w http.ResponseWriter, r *http.Request) {
	var opts pipeline.TickOptions
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&opts)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if opts.HoldingHours < 0 {
		writeError(w, http.StatusBadRequest, "holding_hours must be positive")
		return
	}

	res, err := h.runner.RunTick(r.Context(), opts)
	if errors.Is(err, domain.ErrTickInProgress) {
		writeError(w, http.StatusConflict, "tick already in progress")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: run tick failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
