package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/marketdata"
	"github.com/indijan/arbiter/internal/paper"
	"github.com/indijan/arbiter/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedAccount(t *testing.T, st *memory.Store) domain.PaperAccount {
	t.Helper()
	l := NewLedger(st.Accounts(), testLogger())
	a, err := l.Ensure(context.Background(), config.Defaults().Account)
	require.NoError(t, err)
	return a
}

// carryPosition is a 1000 USD carry: 10 BTC long spot and 10 short perp,
// both entered at 100 with 1 USD fee each.
func carryPosition(id string) domain.Position {
	return domain.Position{
		ID:        id,
		AccountID: "paper",
		Symbol:    "BTCUSDT",
		Status:    domain.PositionStatusOpen,
		EntryLegs: []domain.PositionLeg{
			{Name: "spot", Venue: "binance", Symbol: "BTCUSDT", Side: domain.SideBuy, Qty: 10, Price: 100, Fee: 1, Notional: 1000},
			{Name: "perp", Venue: "binance", Symbol: "BTCUSDT", Side: domain.SideSell, Qty: 10, Price: 100, Fee: 1, Notional: 1000},
		},
		Meta: domain.PositionMeta{
			NotionalUSD:  1000,
			Strategy:     domain.OpportunityCarry,
			ExchangeKey:  "binance",
			AutoExecuted: true,
			EntryFeesUSD: 2,
			HoldingHours: 24,
		},
		OpenedAt: time.Now().UTC(),
	}
}

func carryQuote(spotMid, perpMid, funding float64) domain.CarryQuote {
	return domain.CarryQuote{
		Venue: "binance", Symbol: "BTCUSDT",
		SpotBid: spotMid - 0.1, SpotAsk: spotMid + 0.1,
		PerpBid: perpMid - 0.1, PerpAsk: perpMid + 0.1,
		FundingRate: funding,
	}
}

type closeFixture struct {
	st  *memory.Store
	md  *marketdata.Static
	svc *PositionService
}

func newCloseFixture(t *testing.T) closeFixture {
	t.Helper()
	st := memory.New()
	seedAccount(t, st)
	md := marketdata.NewStatic()
	cfg := config.Defaults()
	svc := NewPositionService(
		st.Positions(),
		md,
		paper.NewFillSimulator(0, 0.001),
		PositionServiceConfig{Close: cfg.Close, Carry: cfg.Carry, Cross: cfg.Cross, Detect: cfg.Detect},
		NewEvents(st.Audit(), nil, "", nil, testLogger()),
		testLogger(),
	)
	return closeFixture{st: st, md: md, svc: svc}
}

func (f closeFixture) open(t *testing.T, p domain.Position) {
	t.Helper()
	require.NoError(t, f.st.Positions().Open(context.Background(), p, nil, p.Meta.NotionalUSD))
}

func TestLedgerReserveAndReleaseExactly(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := NewLedger(st.Accounts(), testLogger())
	_, err := l.Ensure(ctx, config.AccountConfig{ID: "paper", StartingBalanceUSD: 10_000, MinNotional: 100, MaxNotional: 1000})
	require.NoError(t, err)

	p := carryPosition("p1")
	p.Meta.NotionalUSD = 300
	require.NoError(t, st.Positions().Open(ctx, p, nil, 300))

	a, err := l.Get(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, 9700.0, a.Available())

	_, err = st.Positions().Close(ctx, domain.ClosePositionRequest{
		PositionID: "p1", Reason: CloseTakeProfit, ClosedAt: time.Now().UTC(), ReleaseUSD: 300,
	}, nil)
	require.NoError(t, err)

	a, err = l.Get(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.ReservedUSD)
	assert.Equal(t, 10_000.0, a.Available())
}

func TestLedgerEnsureKeepsExistingBalance(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := NewLedger(st.Accounts(), testLogger())
	cfg := config.AccountConfig{ID: "paper", StartingBalanceUSD: 10_000, MinNotional: 100, MaxNotional: 1000}
	_, err := l.Ensure(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, st.Positions().Open(ctx, carryPosition("p1"), nil, 500))

	cfg.StartingBalanceUSD = 1
	a, err := l.Ensure(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 500.0, a.ReservedUSD)
	assert.Equal(t, 10_000.0, a.BalanceUSD)
}

func TestLedgerRefusesOpenBeyondAvailable(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := NewLedger(st.Accounts(), testLogger())
	_, err := l.Ensure(ctx, config.AccountConfig{ID: "paper", StartingBalanceUSD: 100, MinNotional: 10, MaxNotional: 100})
	require.NoError(t, err)

	err = st.Positions().Open(ctx, carryPosition("p1"), nil, 101)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapital)

	a, err := l.Get(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.ReservedUSD)
}

func TestSizeNotionalTiers(t *testing.T) {
	cfg := config.Defaults().Risk
	acct := domain.PaperAccount{BalanceUSD: 10_000, MinNotional: 100, MaxNotional: 1000}
	carry := func(be, conf float64) domain.Opportunity {
		return domain.Opportunity{
			Type:       domain.OpportunityCarry,
			Confidence: conf,
			Details:    domain.OpportunityDetails{Carry: &domain.CarryDetails{BreakEvenHours: be}},
		}
	}

	assert.Equal(t, 1000.0, SizeNotional(cfg, acct, carry(6, 0.9)))
	assert.Equal(t, 550.0, SizeNotional(cfg, acct, carry(6, 0.5)))
	assert.Equal(t, 550.0, SizeNotional(cfg, acct, carry(40, 0.5)))
	assert.Equal(t, 100.0, SizeNotional(cfg, acct, carry(40, 0.1)))
	assert.Equal(t, 550.0, SizeNotional(cfg, acct, domain.Opportunity{Type: domain.OpportunityCrossExchange, Confidence: 0.1}))
}

func TestRiskGateRejectsWholeTickAtMaxOpen(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	acct := seedAccount(t, st)
	require.NoError(t, st.Positions().Open(ctx, carryPosition("p1"), nil, 0))

	cfg := config.Defaults().Risk
	cfg.MaxOpenPositions = 1
	sess, reason, err := NewRiskGate(st.Positions(), cfg, testLogger()).Begin(ctx, acct)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, RejectMaxOpen, reason)
}

func TestRiskGateRejectsWholeTickAtHourlyCap(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	acct := seedAccount(t, st)
	p := carryPosition("p1")
	require.NoError(t, st.Positions().Open(ctx, p, nil, 0))

	cfg := config.Defaults().Risk
	cfg.MaxOpenedPerHour = 1
	sess, reason, err := NewRiskGate(st.Positions(), cfg, testLogger()).Begin(ctx, acct)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, RejectMaxOpenedPerHour, reason)
}

func TestRiskSessionPerCandidateChecks(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	acct := seedAccount(t, st)
	p := carryPosition("p1")
	p.OpportunityID = "opp-1"
	require.NoError(t, st.Positions().Open(ctx, p, nil, 0))

	cfg := config.Defaults().Risk
	cfg.MaxOpenPerSymbol = 3
	sess, reason, err := NewRiskGate(st.Positions(), cfg, testLogger()).Begin(ctx, acct)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Empty(t, reason)

	same := domain.Opportunity{ID: "opp-1", Type: domain.OpportunityCarry, VenueKey: "binance", Symbol: "BTCUSDT", Confidence: 0.9}
	_, reason = sess.Check(same)
	assert.Equal(t, RejectAlreadyOpen, reason)

	// A fresh opportunity on the same strategy, venue and symbol is only
	// bounded by the per-symbol cap.
	again := domain.Opportunity{ID: "opp-2", Type: domain.OpportunityCarry, VenueKey: "binance", Symbol: "BTCUSDT", Confidence: 0.5}
	notional, reason := sess.Check(again)
	assert.Empty(t, reason)
	assert.Equal(t, 550.0, notional)
	sess.Accept(again, notional, true)

	_, reason = sess.Check(again)
	assert.Equal(t, RejectAlreadyOpen, reason)

	cross := domain.Opportunity{ID: "opp-3", Type: domain.OpportunityCrossExchange, VenueKey: "binance:okx", Symbol: "BTCUSDT", Confidence: 0.5}
	notional, reason = sess.Check(cross)
	assert.Empty(t, reason)
	sess.Accept(cross, notional, true)

	other := domain.Opportunity{ID: "opp-4", Type: domain.OpportunityCrossExchange, VenueKey: "bybit:okx", Symbol: "BTCUSDT", Confidence: 0.5}
	_, reason = sess.Check(other)
	assert.Equal(t, RejectSymbolCap, reason)

	sess.SetAccount(domain.PaperAccount{AccountID: "paper", BalanceUSD: 600, ReservedUSD: 500, MinNotional: 100, MaxNotional: 1000})
	eth := domain.Opportunity{Type: domain.OpportunityCrossExchange, VenueKey: "binance:okx", Symbol: "ETHUSDT", Confidence: 0.5}
	_, reason = sess.Check(eth)
	assert.Equal(t, RejectInsufficientBalance, reason)
}

func TestMonitorClosesOnTakeProfitAndReleases(t *testing.T) {
	ctx := context.Background()
	f := newCloseFixture(t)
	f.open(t, carryPosition("p1"))
	f.md.SetCarry(carryQuote(101, 100, 0.0001))

	rep, err := f.svc.MonitorOpen(ctx, "paper")
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, 1, rep.Closed)
	assert.Equal(t, CloseTakeProfit, rep.Items[0].Reason)

	// unrealized 10 - 2 = 8; exit fees 1.01 + 1.00
	assert.InDelta(t, 8.0, rep.Items[0].UnrealizedUSD, 1e-9)
	assert.InDelta(t, 5.99, rep.Items[0].RealizedUSD, 1e-9)

	pos, err := f.st.Positions().GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, CloseTakeProfit, pos.Meta.CloseReason)
	require.Len(t, pos.ExitLegs, 2)
	assert.Equal(t, domain.SideSell, pos.ExitLegs[0].Side)
	assert.Equal(t, domain.SideBuy, pos.ExitLegs[1].Side)

	acct, err := f.st.Accounts().Get(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, 0.0, acct.ReservedUSD)

	execs, err := f.st.Positions().ListExecutions(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}

func TestMonitorClosesOnStopLoss(t *testing.T) {
	f := newCloseFixture(t)
	f.open(t, carryPosition("p1"))
	f.md.SetCarry(carryQuote(99, 100, 0.0001))

	rep, err := f.svc.MonitorOpen(context.Background(), "paper")
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, CloseStopLoss, rep.Items[0].Reason)
	assert.InDelta(t, -12.0, rep.Items[0].UnrealizedUSD, 1e-9)
}

func TestMonitorClosesCarryOnFundingFlip(t *testing.T) {
	f := newCloseFixture(t)
	f.open(t, carryPosition("p1"))
	f.md.SetCarry(carryQuote(100, 100, -0.0001))

	rep, err := f.svc.MonitorOpen(context.Background(), "paper")
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, CloseFundingFlip, rep.Items[0].Reason)
}

func TestMonitorHoldsWhileEdgeRemains(t *testing.T) {
	f := newCloseFixture(t)
	f.open(t, carryPosition("p1"))
	f.md.SetCarry(carryQuote(100, 100, 0.003))

	rep, err := f.svc.MonitorOpen(context.Background(), "paper")
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, actionHeld, rep.Items[0].Action)
	assert.Equal(t, 0, rep.Closed)
}

func TestMonitorClosesOnNegativeEdge(t *testing.T) {
	f := newCloseFixture(t)
	f.open(t, carryPosition("p1"))
	f.md.SetCarry(carryQuote(100, 100, 0.0004))

	rep, err := f.svc.MonitorOpen(context.Background(), "paper")
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, CloseEdgeGone, rep.Items[0].Reason)
}

func TestMonitorSkipsPositionsWithoutQuotes(t *testing.T) {
	ctx := context.Background()
	f := newCloseFixture(t)
	f.open(t, carryPosition("p1"))
	f.md.Fail("binance", "BTCUSDT", domain.ErrQuoteUnavailable)

	rep, err := f.svc.MonitorOpen(ctx, "paper")
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, SkipLivePriceError, rep.Items[0].Reason)
	assert.Equal(t, 1, rep.Skipped)

	pos, err := f.st.Positions().GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
}

func TestMonitorMarksCrossPosition(t *testing.T) {
	ctx := context.Background()
	f := newCloseFixture(t)
	p := domain.Position{
		ID: "x1", AccountID: "paper", Symbol: "BTCUSDT", Status: domain.PositionStatusOpen,
		EntryLegs: []domain.PositionLeg{
			{Name: "buy", Venue: "binance", Symbol: "BTCUSDT", Side: domain.SideBuy, Qty: 10, Price: 100, Fee: 1},
			{Name: "sell", Venue: "okx", Symbol: "BTC-USDT", Side: domain.SideSell, Qty: 10, Price: 101, Fee: 1},
		},
		Meta:     domain.PositionMeta{NotionalUSD: 1000, Strategy: domain.OpportunityCrossExchange, ExchangeKey: "binance:okx", AutoExecuted: true, EntryFeesUSD: 2},
		OpenedAt: time.Now().UTC(),
	}
	f.open(t, p)
	f.md.SetQuote("binance", "BTCUSDT", 100.4, 100.6)
	f.md.SetQuote("okx", "BTC-USDT", 100.4, 100.6)

	m, err := f.svc.Mark(ctx, p)
	require.NoError(t, err)
	// 10*(100.5-100) - 10*(100.5-101) - 2
	assert.InDelta(t, 8.0, m.UnrealizedUSD, 1e-9)
	assert.Equal(t, CloseTakeProfit, f.svc.ExitReason(m))
}

func TestCloseByIDRejectsClosedPosition(t *testing.T) {
	ctx := context.Background()
	f := newCloseFixture(t)
	f.open(t, carryPosition("p1"))
	f.md.SetCarry(carryQuote(100, 100, 0.003))

	_, err := f.svc.CloseByID(ctx, "p1", CloseManual)
	require.NoError(t, err)

	_, err = f.svc.CloseByID(ctx, "p1", CloseManual)
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
}

func TestPnlAggregateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newCloseFixture(t)
	f.open(t, carryPosition("open1"))
	closed := carryPosition("closed1")
	closed.Meta.AutoExecuted = false
	f.open(t, closed)
	_, err := f.st.Positions().Close(ctx, domain.ClosePositionRequest{
		PositionID: "closed1", RealizedPnlUSD: 4, ClosedAt: time.Now().UTC(),
	}, nil)
	require.NoError(t, err)
	f.md.SetCarry(carryQuote(100.5, 100, 0.003))

	agg := NewPnlAggregator(f.svc, f.st.Positions(), f.st.Pnl(), testLogger())
	now := time.Now().UTC()
	agg.now = func() time.Time { return now }
	first, err := agg.Aggregate(ctx, "paper")
	require.NoError(t, err)
	second, err := agg.Aggregate(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, first.Rows, second.Rows)

	// open: 10*0.5 - 2 = 3; closed: 4
	assert.InDelta(t, 3.0, first.UnrealizedUSD, 1e-9)
	assert.InDelta(t, 4.0, first.RealizedUSD, 1e-9)

	rows, err := agg.Day(ctx, now)
	require.NoError(t, err)
	byKey := make(map[string]float64)
	for _, r := range rows {
		byKey[r.StrategyKey+"/"+r.ExchangeKey] = r.PnlUSD
	}
	assert.Len(t, byKey, 3)
	assert.InDelta(t, 7.0, byKey["carry/binance"], 1e-9)
	assert.InDelta(t, 3.0, byKey[BucketAuto+"/"+BucketExchangeKey], 1e-9)
	assert.InDelta(t, 4.0, byKey[BucketManual+"/"+BucketExchangeKey], 1e-9)
}

func TestPnlAggregateSkipsUnpricedOpenPositions(t *testing.T) {
	f := newCloseFixture(t)
	f.open(t, carryPosition("open1"))

	agg := NewPnlAggregator(f.svc, f.st.Positions(), f.st.Pnl(), testLogger())
	rep, err := agg.Aggregate(context.Background(), "paper")
	require.NoError(t, err)
	assert.Equal(t, []string{"open1"}, rep.Unpriced)
	assert.Empty(t, rep.Rows)
}

func TestTrainerNeedsMinimumSamples(t *testing.T) {
	st := memory.New()
	cfg := config.Defaults().Scoring
	_, err := NewTrainer(st.Decisions(), st.Models(), cfg, testLogger()).Train(context.Background())
	assert.True(t, errors.Is(err, domain.ErrNoModel))

	_, err = st.Models().Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTrainerSavesModel(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	seedAccount(t, st)
	now := time.Now().UTC()

	for i, pnl := range []float64{5, -3, 2, 8} {
		id := string(rune('a' + i))
		p := carryPosition("p" + id)
		require.NoError(t, st.Positions().Open(ctx, p, nil, 0))
		feats := []float64{float64(i), 1, 0.5, 12, 0, 0, 1, 0, 0}
		require.NoError(t, st.Decisions().Insert(ctx, domain.OpportunityDecision{ID: "d" + id, TS: now, Features: feats}))
		require.NoError(t, st.Decisions().MarkChosen(ctx, "d"+id, p.ID))
		_, err := st.Positions().Close(ctx, domain.ClosePositionRequest{PositionID: p.ID, RealizedPnlUSD: pnl, ClosedAt: now}, nil)
		require.NoError(t, err)
	}

	cfg := config.Defaults().Scoring
	cfg.MinSamples = 4
	m, err := NewTrainer(st.Decisions(), st.Models(), cfg, testLogger()).Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Samples)
	assert.Len(t, m.Weights, 9)

	latest, err := st.Models().Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.ID, latest.ID)
}

func TestEventsWriteAuditLog(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ev := NewEvents(st.Audit(), nil, "", nil, testLogger())
	ev.Emit(ctx, EventTickCompleted, map[string]any{"account": "paper"})

	var nilEvents *Events
	nilEvents.Emit(ctx, EventTickFailed, nil)

	entries, err := st.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventTickCompleted, entries[0].Event)
	assert.Equal(t, "Tick completed", eventTitle(EventTickCompleted))
}
