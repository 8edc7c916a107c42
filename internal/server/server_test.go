package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/pipeline"
	"github.com/indijan/arbiter/internal/server/handler"
)

type fakeRunner struct {
	opts pipeline.TickOptions
	err  error
}

func (f *fakeRunner) RunTick(_ context.Context, opts pipeline.TickOptions) (*pipeline.TickResult, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.TickResult{
		TickID:          "tick-1",
		AccountID:       "paper",
		PartialFailures: []string{},
		JobErrors:       []pipeline.JobError{},
	}, nil
}

type fakePositions struct {
	open     []domain.Position
	closeErr error
	status   domain.PositionStatus
	opts     domain.ListOpts
}

func (f *fakePositions) List(_ context.Context, _ string, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	f.status = status
	f.opts = opts
	return f.open, nil
}

func (f *fakePositions) CloseByID(_ context.Context, id, reason string) (domain.Position, error) {
	if f.closeErr != nil {
		return domain.Position{}, f.closeErr
	}
	pnl := 1.5
	now := time.Now()
	return domain.Position{
		ID:             id,
		Status:         domain.PositionStatusClosed,
		RealizedPnlUSD: &pnl,
		Meta:           domain.PositionMeta{CloseReason: reason},
		ClosedAt:       &now,
	}, nil
}

type fakePnl struct {
	day time.Time
}

func (f *fakePnl) Day(_ context.Context, day time.Time) ([]domain.DailyStrategyPnl, error) {
	f.day = day
	return []domain.DailyStrategyPnl{{Day: day, StrategyKey: "carry", ExchangeKey: "binance", PnlUSD: 7}}, nil
}

type badPinger struct{}

func (badPinger) Health(context.Context) error { return errors.New("connection refused") }

type fixture struct {
	runner    *fakeRunner
	positions *fakePositions
	pnl       *fakePnl
	checks    map[string]handler.Pinger
	apiKey    string
}

func newFixture() *fixture {
	return &fixture{
		runner:    &fakeRunner{},
		positions: &fakePositions{},
		pnl:       &fakePnl{},
		checks:    map[string]handler.Pinger{},
	}
}

func (f *fixture) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Config{APIKey: f.apiKey}, Handlers{
		Health:    handler.NewHealthHandler(f.checks, logger),
		Tick:      handler.NewTickHandler(f.runner, logger),
		Positions: handler.NewPositionHandler(f.positions, "paper", logger),
		Pnl:       handler.NewPnlHandler(f.pnl, logger),
	}, logger)

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTickRunsWithHoldingHours(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/tick", `{"holding_hours": 12}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12.0, f.runner.opts.HoldingHours)
	assert.Equal(t, "tick-1", decode(t, rec)["tick_id"])
}

func TestTickWithoutBody(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/tick", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.runner.opts.HoldingHours)
}

func TestTickConflict(t *testing.T) {
	f := newFixture()
	f.runner.err = fmt.Errorf("orchestrator: %w", domain.ErrTickInProgress)
	rec := f.do(t, http.MethodPost, "/api/tick", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTickRejectsBadBody(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/tick", `{"holding_hours":`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/tick", `{"holding_hours":-1}`).Code)
}

func TestListPositions(t *testing.T) {
	f := newFixture()
	f.positions.open = []domain.Position{{ID: "p1", Symbol: "BTCUSDT", Status: domain.PositionStatusOpen}}

	rec := f.do(t, http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PositionStatusOpen, f.positions.status)
	positions := decode(t, rec)["positions"].([]any)
	require.Len(t, positions, 1)
	assert.Equal(t, "p1", positions[0].(map[string]any)["id"])

	f.do(t, http.MethodGet, "/api/positions?status=closed", "")
	assert.Equal(t, domain.PositionStatusClosed, f.positions.status)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/positions?status=pending", "").Code)
}

func TestListPositionsPaging(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/positions?limit=9999&offset=10&since=2026-10-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, f.positions.opts.Limit)
	assert.Equal(t, 10, f.positions.opts.Offset)
	require.NotNil(t, f.positions.opts.Since)
	assert.Equal(t, 2026, f.positions.opts.Since.Year())
	assert.Nil(t, f.positions.opts.Until)

	f.do(t, http.MethodGet, "/api/positions", "")
	assert.Equal(t, 50, f.positions.opts.Limit)

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1", "until=yesterday"} {
		rec := f.do(t, http.MethodGet, "/api/positions?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestClosePosition(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/positions/p1/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "p1", body["id"])
	assert.Equal(t, "closed", body["status"])
	assert.Equal(t, "manual", body["meta"].(map[string]any)["close_reason"])
}

func TestClosePositionErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrAlreadyClosed, http.StatusConflict},
		{domain.ErrQuoteUnavailable, http.StatusBadGateway},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newFixture()
		f.positions.closeErr = fmt.Errorf("position_service: %w", tc.err)
		assert.Equal(t, tc.code, f.do(t, http.MethodPost, "/api/positions/p1/close", "").Code, tc.err.Error())
	}
}

func TestPnlDay(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/pnl?day=2026-03-04", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), f.pnl.day)

	body := decode(t, rec)
	assert.Equal(t, "2026-03-04", body["day"])
	rows := body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, 7.0, rows[0].(map[string]any)["pnl_usd"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/pnl?day=04/03/2026", "").Code)
}

func TestHealth(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	f.checks["redis"] = badPinger{}
	rec = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestAuth(t *testing.T) {
	f := newFixture()
	f.apiKey = "s3cret"

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/positions", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/positions", "", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/positions", "", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/positions", "", "X-API-Key", "s3cret").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/health", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()
	f.do(t, http.MethodGet, "/api/health", "")
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arbiter_http_requests_total")
}
