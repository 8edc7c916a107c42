package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/detector"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/executor"
	"github.com/indijan/arbiter/internal/marketdata"
	"github.com/indijan/arbiter/internal/paper"
	"github.com/indijan/arbiter/internal/scoring"
	"github.com/indijan/arbiter/internal/service"
	"github.com/indijan/arbiter/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type blobRecorder struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *blobRecorder) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[path] = raw
	return nil
}

type failingListNew struct {
	domain.OpportunityStore
}

func (failingListNew) ListNew(context.Context, time.Time, int) ([]domain.Opportunity, error) {
	return nil, errors.New("connection reset")
}

type harness struct {
	st    *memory.Store
	md    *marketdata.Static
	locks *memory.Locker
	blobs *blobRecorder
	deps  Deps
	cfg   Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()
	cfg := config.Defaults()
	cfg.Carry.Venues = []string{"binance"}
	cfg.Carry.Symbols = []string{"BTCUSDT"}
	cfg.Cross.Venues = []string{"binance", "okx"}
	cfg.Cross.Symbols = []string{"ETHUSDT"}

	st := memory.New()
	md := marketdata.NewStatic()
	ledger := service.NewLedger(st.Accounts(), logger)
	_, err := ledger.Ensure(ctx, cfg.Account)
	require.NoError(t, err)

	events := service.NewEvents(st.Audit(), nil, "", nil, logger)
	fills := paper.NewFillSimulator(cfg.Paper.SlippageRate, cfg.Paper.FeeRate)
	dedup := detector.NewDedup(st.Opportunities(), cfg.Detect.IdempotencyWindow.Duration)
	positions := service.NewPositionService(st.Positions(), md, fills,
		service.PositionServiceConfig{Close: cfg.Close, Carry: cfg.Carry, Cross: cfg.Cross, Detect: cfg.Detect},
		events, logger)
	blobs := &blobRecorder{}

	h := &harness{
		st:    st,
		md:    md,
		locks: memory.NewLocker(),
		blobs: blobs,
		cfg: Config{
			AccountID:         cfg.Account.ID,
			TickTimeout:       5 * time.Second,
			CandidateLookback: cfg.Scoring.CandidateLookback.Duration,
		},
	}
	h.deps = Deps{
		Scraper:       NewSnapshotScraper(md, st.Snapshots(), cfg.Carry, cfg.Detect, logger),
		Carry:         detector.NewCarryDetector(cfg.Carry, st.Snapshots(), st.Opportunities(), dedup, logger),
		Cross:         detector.NewCrossExchangeDetector(cfg.Cross, cfg.Detect, md, st.Opportunities(), dedup, logger),
		Dedup:         dedup,
		Opportunities: st.Opportunities(),
		Scorer:        scoring.NewScorer(cfg.Scoring, cfg.Reranker, st.Models(), nil, nil, logger),
		Engine: executor.NewEngine(
			service.NewRiskGate(st.Positions(), cfg.Risk, logger), ledger,
			st.Positions(), st.Opportunities(), st.Decisions(), fills, events,
			executor.Config{
				ExecutePerTick: cfg.Scoring.ExecutePerTick,
				MaxQuoteAge:    cfg.Scoring.MaxQuoteAge.Duration,
			}, logger,
		),
		Positions: positions,
		Pnl:       service.NewPnlAggregator(positions, st.Positions(), st.Pnl(), logger),
		Events:    events,
		Archiver:  NewArchiver(blobs, "ticks", logger),
		Locks:     h.locks,
	}

	// Example 1 carry quote on binance; no cross edge on ETH.
	md.SetCarry(domain.CarryQuote{
		Venue: "binance", Symbol: "BTCUSDT",
		SpotBid: 100, SpotAsk: 100.1, PerpBid: 100.5, PerpAsk: 100.6, FundingRate: 0.0004,
	})
	md.SetQuote("binance", "ETHUSDT", 2000, 2000.5)
	md.SetQuote("okx", "ETHUSDT", 2000.1, 2000.6)
	return h
}

func (h *harness) orchestrator() *Orchestrator {
	return NewOrchestrator(h.deps, h.cfg, testLogger())
}

func TestRunTickEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.orchestrator().RunTick(ctx, TickOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.JobErrors)
	assert.Empty(t, res.PartialFailures)
	assert.False(t, res.Partial)

	var names []string
	for _, j := range res.Jobs {
		names = append(names, j.Name)
		assert.True(t, j.OK, j.Name)
	}
	assert.Equal(t, []string{JobIngest, JobDetectCarry, JobDetectCross, JobExecute, JobClose, JobPnl}, names)

	carry, ok := res.Job(JobDetectCarry)
	require.True(t, ok)
	rep := carry.Result.(*detector.Report)
	assert.Equal(t, 1, rep.Inserted)

	exec, _ := res.Job(JobExecute)
	erep := exec.Result.(*executor.Report)
	require.Equal(t, 1, erep.Executed)

	open, err := h.st.Positions().ListByStatus(ctx, "paper", domain.PositionStatusOpen, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.OpportunityCarry, open[0].Meta.Strategy)

	acct, err := h.st.Accounts().Get(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, acct.ReservedUSD)

	closeJob, _ := res.Job(JobClose)
	crep := closeJob.Result.(*service.CloseReport)
	assert.Equal(t, 1, crep.Checked)
	assert.Equal(t, 0, crep.Closed)

	rows, err := h.st.Pnl().ListDay(ctx, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, rows)

	require.NotEmpty(t, res.ArchiveKey)
	raw, ok := h.blobs.objects[res.ArchiveKey]
	require.True(t, ok)
	var archived map[string]any
	require.NoError(t, json.Unmarshal(raw, &archived))
	assert.Equal(t, res.TickID, archived["tick_id"])

	entries, err := h.st.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, service.EventTickCompleted, entries[0].Event)
}

func TestRunTickIsIdempotentWithinWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.orchestrator()

	_, err := o.RunTick(ctx, TickOptions{})
	require.NoError(t, err)
	res, err := o.RunTick(ctx, TickOptions{})
	require.NoError(t, err)

	carry, _ := res.Job(JobDetectCarry)
	rep := carry.Result.(*detector.Report)
	assert.Equal(t, 0, rep.Inserted)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, detector.OutcomeDuplicate, rep.Items[0].Outcome)

	open, err := h.st.Positions().ListByStatus(ctx, "paper", domain.PositionStatusOpen, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRunTickReportsQuoteFailuresAsPartial(t *testing.T) {
	h := newHarness(t)
	h.md.Fail("okx", "ETHUSDT", domain.ErrQuoteUnavailable)

	res, err := h.orchestrator().RunTick(context.Background(), TickOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.JobErrors)
	require.Len(t, res.PartialFailures, 1)
	assert.Contains(t, res.PartialFailures[0], JobDetectCross)
	assert.Contains(t, res.PartialFailures[0], "okx")
	assert.True(t, res.Partial)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	var wire struct {
		Partial bool              `json:"partial_failures"`
		Details []string          `json:"partial_failure_details"`
		Errors  []json.RawMessage `json:"job_errors"`
	}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.True(t, wire.Partial)
	assert.Len(t, wire.Details, 1)
	assert.NotNil(t, wire.Errors)
	assert.Empty(t, wire.Errors)
}

func TestRunTickContinuesAfterJobError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.deps.Opportunities = failingListNew{h.st.Opportunities()}

	res, err := h.orchestrator().RunTick(ctx, TickOptions{})
	require.NoError(t, err)
	msg, ok := res.JobError(JobExecute)
	require.True(t, ok)
	assert.Contains(t, msg, "connection reset")
	assert.True(t, res.Partial)

	pnl, ok := res.Job(JobPnl)
	require.True(t, ok)
	assert.True(t, pnl.OK)

	entries, err := h.st.Audit().List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, service.EventTickFailed, entries[0].Event)
}

func TestRunTickRejectsConcurrentTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	unlock, err := h.locks.Acquire(ctx, "tick:paper", time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = h.orchestrator().RunTick(ctx, TickOptions{})
	assert.ErrorIs(t, err, domain.ErrTickInProgress)
}

func TestRunTickHoldingHoursOverride(t *testing.T) {
	h := newHarness(t)
	// Zero basis so the edge comes from funding alone: 12 bps/day over
	// 48h is 24 bps, net 8 after 16 bps costs, below the 10 bps minimum.
	h.md.SetCarry(domain.CarryQuote{
		Venue: "binance", Symbol: "BTCUSDT",
		SpotBid: 99.9, SpotAsk: 100, PerpBid: 100, PerpAsk: 100.1, FundingRate: 0.0004,
	})

	res, err := h.orchestrator().RunTick(context.Background(), TickOptions{HoldingHours: 48})
	require.NoError(t, err)
	carry, _ := res.Job(JobDetectCarry)
	rep := carry.Result.(*detector.Report)
	require.Len(t, rep.Items, 1)
	assert.InDelta(t, 8.0, rep.Items[0].NetEdgeBps, 1e-9)
}

func TestArchiverKeyLayout(t *testing.T) {
	a := NewArchiver(&blobRecorder{}, "ticks", testLogger())
	ts := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	key := a.Key(&TickResult{StartedAt: ts})
	assert.Equal(t, "ticks/2026/03/04/"+strconv.FormatInt(ts.UnixNano(), 10)+".json", key)
}

func TestSnapshotScraperRecordsFailures(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := marketdata.NewStatic()
	md.SetCarry(domain.CarryQuote{Venue: "binance", Symbol: "BTCUSDT", SpotBid: 100, SpotAsk: 100.1, PerpBid: 100.5, PerpAsk: 100.6, FundingRate: 0.0004})

	carry := config.Defaults().Carry
	carry.Venues = []string{"binance"}
	carry.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	s := NewSnapshotScraper(md, st.Snapshots(), carry, config.Defaults().Detect, testLogger())

	rep, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 1, rep.Failed)

	snaps, err := st.Snapshots().ListSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "BTCUSDT", snaps[0].Symbol)
}
