package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/detector"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/metrics"
	"github.com/indijan/arbiter/internal/paper"
)

// Close reasons.
const (
	CloseTakeProfit    = "take_profit"
	CloseStopLoss      = "stop_loss"
	CloseFundingFlip   = "funding_non_positive"
	CloseEdgeGone      = "edge_negative"
	CloseManual        = "manual"
	SkipLivePriceError = "live_price_error"
	SkipAlreadyClosed  = "already_closed"

	actionHeld    = "held"
	actionClosed  = "closed"
	actionSkipped = "skipped"
)

// Mark is a live valuation of an open position.
type Mark struct {
	Position      domain.Position
	Mids          []float64 // per entry leg
	UnrealizedUSD float64
	PnlPct        float64
	NetEdgeBps    float64
	FundingRate   float64
}

// CloseItem is the monitor outcome for one position.
type CloseItem struct {
	PositionID    string  `json:"position_id"`
	Symbol        string  `json:"symbol"`
	Strategy      string  `json:"strategy"`
	Action        string  `json:"action"`
	Reason        string  `json:"reason,omitempty"`
	UnrealizedUSD float64 `json:"unrealized_usd"`
	RealizedUSD   float64 `json:"realized_usd,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// CloseReport summarises one monitor pass.
type CloseReport struct {
	Checked int         `json:"checked"`
	Closed  int         `json:"closed"`
	Skipped int         `json:"skipped"`
	Items   []CloseItem `json:"items"`
}

// PositionService re-quotes open positions, applies the strategy exit rules
// and closes positions with simulated opposite-side fills.
type PositionService struct {
	positions    domain.PositionStore
	md           domain.MarketDataProvider
	fills        *paper.FillSimulator
	closeCfg     config.CloseConfig
	carryCfg     config.CarryConfig
	crossCfg     config.CrossConfig
	quoteTimeout time.Duration
	concurrency  int
	events       *Events
	logger       *slog.Logger
	now          func() time.Time
}

// PositionServiceConfig groups the settings PositionService reads.
type PositionServiceConfig struct {
	Close  config.CloseConfig
	Carry  config.CarryConfig
	Cross  config.CrossConfig
	Detect config.DetectConfig
}

// NewPositionService creates a PositionService.
func NewPositionService(
	positions domain.PositionStore,
	md domain.MarketDataProvider,
	fills *paper.FillSimulator,
	cfg PositionServiceConfig,
	events *Events,
	logger *slog.Logger,
) *PositionService {
	conc := cfg.Detect.MaxConcurrency
	if conc < 1 {
		conc = 1
	}
	return &PositionService{
		positions:    positions,
		md:           md,
		fills:        fills,
		closeCfg:     cfg.Close,
		carryCfg:     cfg.Carry,
		crossCfg:     cfg.Cross,
		quoteTimeout: cfg.Detect.QuoteTimeout.Duration,
		concurrency:  conc,
		events:       events,
		logger:       logger.With(slog.String("component", "position_service")),
		now:          time.Now,
	}
}

func legIndex(legs []domain.PositionLeg, name string) int {
	for i, l := range legs {
		if l.Name == name {
			return i
		}
	}
	return -1
}

// Mark values an open position at live mid prices:
// unrealized = Σ signed_qty × (mid − entry_price) − entry fees.
func (s *PositionService) Mark(ctx context.Context, pos domain.Position) (Mark, error) {
	if s.quoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.quoteTimeout)
		defer cancel()
	}

	m := Mark{Position: pos, Mids: make([]float64, len(pos.EntryLegs))}
	switch pos.Meta.Strategy {
	case domain.OpportunityCarry:
		spot, perp := legIndex(pos.EntryLegs, "spot"), legIndex(pos.EntryLegs, "perp")
		if spot < 0 || perp < 0 {
			return m, fmt.Errorf("position_service: carry position %s has no spot/perp legs", pos.ID)
		}
		venue := pos.EntryLegs[spot].Venue
		q, err := s.md.GetCarryQuote(ctx, venue, pos.Symbol)
		if err != nil {
			return m, fmt.Errorf("position_service: carry quote %s/%s: %w", venue, pos.Symbol, err)
		}
		m.Mids[spot] = (q.SpotBid + q.SpotAsk) / 2
		m.Mids[perp] = (q.PerpBid + q.PerpAsk) / 2
		m.FundingRate = q.FundingRate
		holding := pos.Meta.HoldingHours
		if holding <= 0 {
			holding = s.carryCfg.HoldingHours
		}
		m.NetEdgeBps = detector.EvaluateCarry(q, s.carryCfg.PeriodsPerDay, holding, s.carryCfg.TotalCostsBps).NetEdgeBps

	case domain.OpportunityCrossExchange:
		bi, si := legIndex(pos.EntryLegs, "buy"), legIndex(pos.EntryLegs, "sell")
		if bi < 0 || si < 0 {
			return m, fmt.Errorf("position_service: cross position %s has no buy/sell legs", pos.ID)
		}
		buyLeg, sellLeg := pos.EntryLegs[bi], pos.EntryLegs[si]
		var bq, sq domain.Quote
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			bq, err = s.md.GetQuote(gctx, buyLeg.Venue, buyLeg.Symbol)
			return err
		})
		g.Go(func() (err error) {
			sq, err = s.md.GetQuote(gctx, sellLeg.Venue, sellLeg.Symbol)
			return err
		})
		if err := g.Wait(); err != nil {
			return m, fmt.Errorf("position_service: cross quotes %s: %w", pos.ID, err)
		}
		m.Mids[bi] = bq.Mid()
		m.Mids[si] = sq.Mid()
		m.NetEdgeBps = (sq.Bid-bq.Ask)/bq.Ask*1e4 - s.crossCfg.CostsBps()

	default:
		return m, fmt.Errorf("position_service: cannot mark %s position %s", pos.Meta.Strategy, pos.ID)
	}

	var u float64
	for i, l := range pos.EntryLegs {
		u += l.SignedQty() * (m.Mids[i] - l.Price)
	}
	u -= pos.Meta.EntryFeesUSD
	m.UnrealizedUSD = u
	if pos.Meta.NotionalUSD > 0 {
		m.PnlPct = u / pos.Meta.NotionalUSD
	}
	return m, nil
}

// ExitReason returns why a marked position should close, or "" to hold.
func (s *PositionService) ExitReason(m Mark) string {
	switch {
	case m.PnlPct >= s.closeCfg.TakeProfitPct:
		return CloseTakeProfit
	case m.PnlPct <= -s.closeCfg.StopLossPct:
		return CloseStopLoss
	}
	if m.Position.Meta.Strategy == domain.OpportunityCarry && m.FundingRate <= 0 {
		return CloseFundingFlip
	}
	if m.NetEdgeBps < 0 {
		return CloseEdgeGone
	}
	return ""
}

// Close unwinds a marked position with opposite-side fills at the mark,
// releases its reserved capital and appends the exit executions.
// realized = unrealized − exit fees.
func (s *PositionService) Close(ctx context.Context, m Mark, reason string) (domain.Position, error) {
	pos := m.Position
	exitLegs := make([]domain.PositionLeg, 0, len(pos.EntryLegs))
	var exitFees float64
	for i, l := range pos.EntryLegs {
		f, err := s.fills.FillQty(l.Side.Opposite(), m.Mids[i], l.Qty)
		if err != nil {
			return domain.Position{}, fmt.Errorf("position_service: exit fill %s/%s: %w", pos.ID, l.Name, err)
		}
		exitLegs = append(exitLegs, f.Leg(l.Name, l.Venue, l.Symbol))
		exitFees += f.Fee
	}

	now := s.now().UTC()
	var release float64
	if pos.Reserves() {
		release = pos.Meta.NotionalUSD
	}
	req := domain.ClosePositionRequest{
		PositionID:     pos.ID,
		ExitLegs:       exitLegs,
		RealizedPnlUSD: m.UnrealizedUSD - exitFees,
		ExitFeesUSD:    exitFees,
		Reason:         reason,
		ClosedAt:       now,
		ReleaseUSD:     release,
	}
	closed, err := s.positions.Close(ctx, req, domain.ExecutionsFromLegs(pos.ID, "exit", exitLegs, now))
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: close %s: %w", pos.ID, err)
	}

	metrics.PositionsClosed.WithLabelValues(string(pos.Meta.Strategy), reason).Inc()
	s.events.Emit(ctx, EventPositionClosed, map[string]any{
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"strategy":     string(pos.Meta.Strategy),
		"reason":       reason,
		"realized_pnl": req.RealizedPnlUSD,
		"released_usd": release,
	})
	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", reason),
		slog.Float64("realized_pnl", req.RealizedPnlUSD),
	)
	return closed, nil
}

// CloseByID closes an open position at live quotes regardless of the exit
// rules.
func (s *PositionService) CloseByID(ctx context.Context, id, reason string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %s: %w", id, err)
	}
	if pos.Status != domain.PositionStatusOpen {
		return pos, fmt.Errorf("position_service: close %s: %w", id, domain.ErrAlreadyClosed)
	}
	m, err := s.Mark(ctx, pos)
	if err != nil {
		return domain.Position{}, err
	}
	return s.Close(ctx, m, reason)
}

// MarkAll values positions concurrently. Errors are returned per position.
func (s *PositionService) MarkAll(ctx context.Context, positions []domain.Position) ([]Mark, []error) {
	marks := make([]Mark, len(positions))
	errs := make([]error, len(positions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range positions {
		g.Go(func() error {
			marks[i], errs[i] = s.Mark(gctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return marks, errs
}

// MonitorOpen checks every open position of the account and closes those
// that hit an exit rule. Positions without live quotes are skipped with
// SkipLivePriceError. Only persistence failures are returned.
func (s *PositionService) MonitorOpen(ctx context.Context, accountID string) (*CloseReport, error) {
	rep := &CloseReport{Items: []CloseItem{}}
	open, err := s.positions.ListByStatus(ctx, accountID, domain.PositionStatusOpen, domain.ListOpts{})
	if err != nil {
		return rep, fmt.Errorf("position_service: list open: %w", err)
	}

	marks, errs := s.MarkAll(ctx, open)
	for i, pos := range open {
		rep.Checked++
		it := CloseItem{PositionID: pos.ID, Symbol: pos.Symbol, Strategy: string(pos.Meta.Strategy)}

		if errs[i] != nil {
			it.Action = actionSkipped
			it.Reason = SkipLivePriceError
			it.Error = errs[i].Error()
			rep.Skipped++
			rep.Items = append(rep.Items, it)
			s.logger.DebugContext(ctx, "position_service: mark failed",
				slog.String("position_id", pos.ID),
				slog.String("error", errs[i].Error()),
			)
			continue
		}

		m := marks[i]
		it.UnrealizedUSD = m.UnrealizedUSD
		reason := s.ExitReason(m)
		if reason == "" {
			it.Action = actionHeld
			rep.Items = append(rep.Items, it)
			continue
		}

		closed, err := s.Close(ctx, m, reason)
		if errors.Is(err, domain.ErrAlreadyClosed) {
			it.Action = actionSkipped
			it.Reason = SkipAlreadyClosed
			rep.Skipped++
			rep.Items = append(rep.Items, it)
			continue
		}
		if err != nil {
			return rep, err
		}
		it.Action = actionClosed
		it.Reason = reason
		if closed.RealizedPnlUSD != nil {
			it.RealizedUSD = *closed.RealizedPnlUSD
		}
		rep.Closed++
		rep.Items = append(rep.Items, it)
	}
	return rep, nil
}

// List returns the account's positions with the given status.
func (s *PositionService) List(ctx context.Context, accountID string, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	out, err := s.positions.ListByStatus(ctx, accountID, status, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list %s: %w", status, err)
	}
	return out, nil
}
