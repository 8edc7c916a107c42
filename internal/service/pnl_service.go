package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// Bucket rows roll PnL up by execution mode across all strategies.
const (
	BucketAuto        = "bucket:auto"
	BucketManual      = "bucket:manual"
	BucketExchangeKey = "all"
)

// PnlReport is the result of one aggregation pass.
type PnlReport struct {
	Day           string                    `json:"day"`
	RealizedUSD   float64                   `json:"realized_usd"`
	UnrealizedUSD float64                   `json:"unrealized_usd"`
	Rows          []domain.DailyStrategyPnl `json:"rows"`
	Unpriced      []string                  `json:"unpriced,omitempty"`
}

// PnlAggregator rolls realized and mark-to-market PnL up by
// (strategy, exchange) and by execution bucket for the current day.
type PnlAggregator struct {
	positions *PositionService
	store     domain.PositionStore
	pnl       domain.PnlStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewPnlAggregator creates a PnlAggregator. Open positions are valued
// through the position service's Mark.
func NewPnlAggregator(positions *PositionService, store domain.PositionStore, pnl domain.PnlStore, logger *slog.Logger) *PnlAggregator {
	return &PnlAggregator{
		positions: positions,
		store:     store,
		pnl:       pnl,
		logger:    logger.With(slog.String("component", "pnl_aggregator")),
		now:       time.Now,
	}
}

type pnlGroup struct {
	strategy string
	exchange string
}

// Aggregate computes today's rows and upserts them. Re-running it for the
// same day overwrites the same rows. Open positions that cannot be priced
// are listed in Unpriced and contribute nothing.
func (a *PnlAggregator) Aggregate(ctx context.Context, accountID string) (*PnlReport, error) {
	day := domain.Day(a.now())
	rep := &PnlReport{Day: day.Format(time.DateOnly)}

	open, err := a.store.ListByStatus(ctx, accountID, domain.PositionStatusOpen, domain.ListOpts{})
	if err != nil {
		return rep, fmt.Errorf("pnl_aggregator: list open: %w", err)
	}
	closed, err := a.store.ListClosedSince(ctx, accountID, day)
	if err != nil {
		return rep, fmt.Errorf("pnl_aggregator: list closed: %w", err)
	}

	totals := make(map[pnlGroup]float64)
	add := func(p domain.Position, v float64) {
		totals[pnlGroup{string(p.Meta.Strategy), p.Meta.ExchangeKey}] += v
		bucket := BucketManual
		if p.Meta.AutoExecuted {
			bucket = BucketAuto
		}
		totals[pnlGroup{bucket, BucketExchangeKey}] += v
	}

	marks, errs := a.positions.MarkAll(ctx, open)
	for i, p := range open {
		if errs[i] != nil {
			rep.Unpriced = append(rep.Unpriced, p.ID)
			a.logger.DebugContext(ctx, "pnl_aggregator: open position not priced",
				slog.String("position_id", p.ID),
				slog.String("error", errs[i].Error()),
			)
			continue
		}
		rep.UnrealizedUSD += marks[i].UnrealizedUSD
		add(p, marks[i].UnrealizedUSD)
	}
	for _, p := range closed {
		if p.RealizedPnlUSD == nil {
			continue
		}
		rep.RealizedUSD += *p.RealizedPnlUSD
		add(p, *p.RealizedPnlUSD)
	}

	now := a.now().UTC()
	rows := make([]domain.DailyStrategyPnl, 0, len(totals))
	for g, v := range totals {
		rows = append(rows, domain.DailyStrategyPnl{
			Day:         day,
			StrategyKey: g.strategy,
			ExchangeKey: g.exchange,
			PnlUSD:      v,
			UpdatedAt:   now,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StrategyKey != rows[j].StrategyKey {
			return rows[i].StrategyKey < rows[j].StrategyKey
		}
		return rows[i].ExchangeKey < rows[j].ExchangeKey
	})
	rep.Rows = rows

	if len(rows) > 0 {
		if err := a.pnl.Upsert(ctx, rows); err != nil {
			return rep, fmt.Errorf("pnl_aggregator: upsert: %w", err)
		}
	}
	return rep, nil
}

// Day returns the stored rows for day.
func (a *PnlAggregator) Day(ctx context.Context, day time.Time) ([]domain.DailyStrategyPnl, error) {
	rows, err := a.pnl.ListDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("pnl_aggregator: list day: %w", err)
	}
	return rows, nil
}
