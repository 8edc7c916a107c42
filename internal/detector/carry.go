package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
)

// CarryDetector evaluates spot-long / perp-short funding carry from the
// snapshots written by the ingestion stage.
type CarryDetector struct {
	cfg    config.CarryConfig
	snaps  domain.SnapshotStore
	opps   domain.OpportunityStore
	dedup  *Dedup
	logger *slog.Logger
	now    func() time.Time
}

// NewCarryDetector creates a CarryDetector.
func NewCarryDetector(cfg config.CarryConfig, snaps domain.SnapshotStore, opps domain.OpportunityStore, dedup *Dedup, logger *slog.Logger) *CarryDetector {
	return &CarryDetector{
		cfg:    cfg,
		snaps:  snaps,
		opps:   opps,
		dedup:  dedup,
		logger: logger.With(slog.String("component", "carry_detector")),
		now:    time.Now,
	}
}

// CarryEval is the carry arithmetic for one snapshot.
type CarryEval struct {
	BasisBps           float64
	MidBasisBps        float64
	FundingDailyBps    float64
	ExpectedHoldingBps float64
	GrossEdgeBps       float64
	NetEdgeBps         float64
	BreakEvenHours     float64
}

// EvaluateCarry computes basis, funding yield, net edge and break-even for a
// carry quote. Basis is measured at executable prices: buy spot at the ask,
// sell perp at the bid.
func EvaluateCarry(q domain.CarryQuote, periodsPerDay, holdingHours, costsBps float64) CarryEval {
	var e CarryEval
	e.BasisBps = (q.PerpBid - q.SpotAsk) / q.SpotAsk * 1e4
	spotMid := (q.SpotBid + q.SpotAsk) / 2
	perpMid := (q.PerpBid + q.PerpAsk) / 2
	e.MidBasisBps = (perpMid - spotMid) / spotMid * 1e4
	e.FundingDailyBps = q.FundingRate * periodsPerDay * 1e4
	e.ExpectedHoldingBps = e.FundingDailyBps * holdingHours / 24
	e.GrossEdgeBps = e.BasisBps + e.ExpectedHoldingBps
	e.NetEdgeBps = e.GrossEdgeBps - costsBps
	if e.FundingDailyBps > 0 {
		e.BreakEvenHours = math.Max(0, 24*(costsBps-e.BasisBps)/e.FundingDailyBps)
	} else {
		e.BreakEvenHours = math.Inf(1)
	}
	return e
}

type venueSymbol struct {
	venue  string
	symbol string
}

// Detect runs the carry policy over the freshest valid snapshot of every
// configured venue and symbol. holdingHours <= 0 uses the configured default.
// Only persistence failures are returned as errors.
func (d *CarryDetector) Detect(ctx context.Context, holdingHours float64) (*Report, error) {
	rep := newReport(domain.OpportunityCarry)
	if holdingHours <= 0 {
		holdingHours = d.cfg.HoldingHours
	}
	now := d.now().UTC()

	snaps, err := d.snaps.ListSince(ctx, now.Add(-d.cfg.Lookback.Duration))
	if err != nil {
		return rep, fmt.Errorf("carry: list snapshots: %w", err)
	}

	// Snapshots arrive freshest first, so the first valid one per key wins.
	freshest := make(map[venueSymbol]domain.MarketSnapshot)
	var order []venueSymbol
	for _, s := range snaps {
		k := venueSymbol{s.Venue, s.Symbol}
		if _, ok := freshest[k]; ok || !s.Valid() {
			continue
		}
		freshest[k] = s
		order = append(order, k)
	}

	keys := d.targets(order)
	for _, k := range keys {
		it := Item{VenueKey: k.venue, Symbol: k.symbol}
		snap, ok := freshest[k]
		if !ok {
			it.Outcome = OutcomeSkipped
			it.Reason = ReasonNoValidSnapshot
			rep.add(it)
			continue
		}

		if err := d.evaluate(ctx, snap, holdingHours, now, &it); err != nil {
			return rep, fmt.Errorf("carry: %w", err)
		}
		d.logger.DebugContext(ctx, "carry evaluated",
			slog.String("venue", k.venue),
			slog.String("symbol", k.symbol),
			slog.String("outcome", string(it.Outcome)),
			slog.String("reason", it.Reason),
			slog.Float64("net_edge_bps", it.NetEdgeBps),
		)
		rep.add(it)
	}
	return rep, nil
}

// targets returns the configured venue/symbol pairs, or every pair seen in
// the snapshot window when none are configured.
func (d *CarryDetector) targets(seen []venueSymbol) []venueSymbol {
	if len(d.cfg.Venues) == 0 || len(d.cfg.Symbols) == 0 {
		return seen
	}
	out := make([]venueSymbol, 0, len(d.cfg.Venues)*len(d.cfg.Symbols))
	for _, v := range d.cfg.Venues {
		for _, s := range d.cfg.Symbols {
			out = append(out, venueSymbol{v, s})
		}
	}
	return out
}

func (d *CarryDetector) evaluate(ctx context.Context, snap domain.MarketSnapshot, holdingHours float64, now time.Time, it *Item) error {
	e := EvaluateCarry(snap.Carry(), d.cfg.PeriodsPerDay, holdingHours, d.cfg.TotalCostsBps)
	it.NetEdgeBps = e.NetEdgeBps

	if e.FundingDailyBps <= 0 {
		it.Outcome = OutcomeSkipped
		it.Reason = ReasonNonPositiveFunding
		return nil
	}
	it.BreakEvenHours = e.BreakEvenHours

	switch {
	case e.BreakEvenHours <= d.cfg.BreakEvenMaxHours:
		if e.NetEdgeBps < d.cfg.MinNetEdgeBps {
			it.Outcome = OutcomeSkipped
			it.Reason = ReasonBelowMinEdge
			return nil
		}
	case e.BreakEvenHours <= d.cfg.WatchlistMaxHours:
		it.Outcome = OutcomeWatchlist
		return nil
	default:
		it.Outcome = OutcomeSkipped
		it.Reason = ReasonBelowThreshold
		return nil
	}

	opp := domain.Opportunity{
		ID:               uuid.NewString(),
		TS:               now,
		VenueKey:         snap.Venue,
		Symbol:           snap.Symbol,
		Type:             domain.OpportunityCarry,
		NetEdgeBps:       e.NetEdgeBps,
		ExpectedDailyBps: e.FundingDailyBps,
		Confidence:       confidence(e.NetEdgeBps, d.cfg.ConfidenceScaleBps),
		Status:           domain.OpportunityStatusNew,
		Details: domain.OpportunityDetails{Carry: &domain.CarryDetails{
			Venue:              snap.Venue,
			SpotBid:            snap.SpotBid,
			SpotAsk:            snap.SpotAsk,
			PerpBid:            snap.PerpBid,
			PerpAsk:            snap.PerpAsk,
			FundingRate:        snap.FundingRate,
			BasisBps:           e.BasisBps,
			MidBasisBps:        e.MidBasisBps,
			FundingDailyBps:    e.FundingDailyBps,
			HoldingHours:       holdingHours,
			ExpectedHoldingBps: e.ExpectedHoldingBps,
			GrossEdgeBps:       e.GrossEdgeBps,
			TotalCostsBps:      d.cfg.TotalCostsBps,
			BreakEvenHours:     e.BreakEvenHours,
			SnapshotTS:         snap.TS,
		}},
	}
	return insert(ctx, d.opps, d.dedup, opp, it)
}
