package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/metrics"
	"github.com/indijan/arbiter/internal/paper"
	"github.com/indijan/arbiter/internal/scoring"
	"github.com/indijan/arbiter/internal/service"
)

// Item outcomes.
const (
	OutcomeExecuted = "executed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

const (
	// CloseCompleted is the close reason of positions that settle on entry.
	CloseCompleted = "completed"
	// RejectFillError marks candidates whose stored quotes cannot be filled.
	RejectFillError = "fill_error"
	// RejectStaleQuote marks candidates detected longer ago than MaxQuoteAge.
	RejectStaleQuote = "stale_quote"
)

// Item is the execution outcome for one candidate.
type Item struct {
	OpportunityID  string  `json:"opportunity_id"`
	Type           string  `json:"type"`
	Symbol         string  `json:"symbol"`
	Variant        string  `json:"variant"`
	DecisionID     string  `json:"decision_id"`
	ScoreEffective float64 `json:"score_effective"`
	Reranked       bool    `json:"reranked"`
	Outcome        string  `json:"outcome"`
	Reason         string  `json:"reason,omitempty"`
	PositionID     string  `json:"position_id,omitempty"`
	NotionalUSD    float64 `json:"notional_usd,omitempty"`
}

// Report summarises one execution pass. A non-empty Rejected means the
// whole tick was refused by the risk gate and nothing was written.
type Report struct {
	Rejected   string `json:"rejected,omitempty"`
	Candidates int    `json:"candidates"`
	Executed   int    `json:"executed"`
	Refused    int    `json:"refused"`
	Items      []Item `json:"items"`
}

// Config holds the settings the engine reads.
type Config struct {
	ExecutePerTick int
	// MaxQuoteAge bounds how old a candidate's detection quotes may be when
	// they are filled. Zero disables the check.
	MaxQuoteAge time.Duration
}

// Engine turns ranked candidates into paper positions. Every candidate it
// considers gets a decision row before any fill is simulated; the row is then
// marked chosen or rejected.
type Engine struct {
	gate      *service.RiskGate
	ledger    *service.Ledger
	positions domain.PositionStore
	opps      domain.OpportunityStore
	decisions domain.DecisionStore
	fills     *paper.FillSimulator
	events    *service.Events
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(
	gate *service.RiskGate,
	ledger *service.Ledger,
	positions domain.PositionStore,
	opps domain.OpportunityStore,
	decisions domain.DecisionStore,
	fills *paper.FillSimulator,
	events *service.Events,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		gate:      gate,
		ledger:    ledger,
		positions: positions,
		opps:      opps,
		decisions: decisions,
		fills:     fills,
		events:    events,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "executor")),
		now:       time.Now,
	}
}

// Execute runs the top candidates through the risk gate and opens paper
// positions for those that pass. Candidates must already be ranked best
// first. Rejections are reported per item; only persistence failures are
// returned as errors.
func (e *Engine) Execute(ctx context.Context, accountID string, cands []scoring.Candidate) (*Report, error) {
	rep := &Report{Items: []Item{}}

	acct, err := e.ledger.Get(ctx, accountID)
	if err != nil {
		return rep, fmt.Errorf("executor: %w", err)
	}
	sess, reason, err := e.gate.Begin(ctx, acct)
	if err != nil {
		return rep, fmt.Errorf("executor: %w", err)
	}
	if reason != "" {
		rep.Rejected = reason
		e.logger.InfoContext(ctx, "tick rejected by risk gate", slog.String("reason", reason))
		return rep, nil
	}

	n := len(cands)
	if e.cfg.ExecutePerTick > 0 && n > e.cfg.ExecutePerTick {
		n = e.cfg.ExecutePerTick
	}
	rep.Candidates = n

	for _, c := range cands[:n] {
		it, err := e.executeOne(ctx, accountID, sess, c)
		rep.Items = append(rep.Items, it)
		switch it.Outcome {
		case OutcomeExecuted:
			rep.Executed++
		case OutcomeRejected:
			rep.Refused++
		}
		if err != nil {
			return rep, err
		}
	}

	// Refresh the reserved-capital gauge.
	if _, err := e.ledger.Get(ctx, accountID); err != nil {
		e.logger.WarnContext(ctx, "refresh account failed", slog.String("error", err.Error()))
	}
	return rep, nil
}

func (e *Engine) executeOne(ctx context.Context, accountID string, sess *service.RiskSession, c scoring.Candidate) (Item, error) {
	o := c.Opportunity
	now := e.now().UTC()
	it := Item{
		OpportunityID:  o.ID,
		Type:           string(o.Type),
		Symbol:         o.Symbol,
		Variant:        string(c.Variant),
		DecisionID:     uuid.NewString(),
		ScoreEffective: c.ScoreEffective,
		Reranked:       c.Reranked,
	}

	err := e.decisions.Insert(ctx, domain.OpportunityDecision{
		ID:             it.DecisionID,
		TS:             now,
		OpportunityID:  o.ID,
		Variant:        c.Variant,
		ScoreRule:      c.ScoreRule,
		ScoreAI:        c.ScoreAI,
		ScoreEffective: c.ScoreEffective,
		Reranked:       c.Reranked,
		Features:       c.Features,
	})
	if err != nil {
		it.Outcome = OutcomeFailed
		return it, fmt.Errorf("executor: insert decision for %s: %w", o.ID, err)
	}

	if e.cfg.MaxQuoteAge > 0 && now.Sub(o.TS) > e.cfg.MaxQuoteAge {
		return e.reject(ctx, it, RejectStaleQuote)
	}

	notional, reason := sess.Check(o)
	if reason != "" {
		return e.reject(ctx, it, reason)
	}
	it.NotionalUSD = notional

	g, err := buildLegs(e.fills, o, notional)
	if err != nil {
		e.logger.WarnContext(ctx, "simulate fills failed",
			slog.String("opportunity_id", o.ID),
			slog.String("error", err.Error()),
		)
		return e.reject(ctx, it, RejectFillError)
	}

	pos := domain.Position{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		OpportunityID: o.ID,
		Symbol:        o.Symbol,
		Status:        domain.PositionStatusOpen,
		EntryLegs:     g.legs,
		Meta: domain.PositionMeta{
			NotionalUSD:  notional,
			Strategy:     o.Type,
			ExchangeKey:  o.ExchangeKey(),
			AutoExecuted: true,
			DecisionID:   it.DecisionID,
			Variant:      c.Variant,
			EntryFeesUSD: g.feesUSD,
			HoldingHours: g.holding,
		},
		OpenedAt: now,
	}
	if g.realizedUSD != nil {
		pos.Status = domain.PositionStatusClosed
		pos.RealizedPnlUSD = g.realizedUSD
		pos.ClosedAt = &now
		pos.Meta.CloseReason = CloseCompleted
	}

	err = e.positions.Open(ctx, pos, domain.ExecutionsFromLegs(pos.ID, "entry", g.legs, now), g.reserveUSD)
	if errors.Is(err, domain.ErrInsufficientCapital) {
		if a, gerr := e.ledger.Get(ctx, accountID); gerr == nil {
			sess.SetAccount(a)
		}
		return e.reject(ctx, it, service.RejectInsufficientBalance)
	}
	if err != nil {
		it.Outcome = OutcomeFailed
		return it, fmt.Errorf("executor: open position for %s: %w", o.ID, err)
	}
	it.PositionID = pos.ID

	if err := e.decisions.MarkChosen(ctx, it.DecisionID, pos.ID); err != nil {
		it.Outcome = OutcomeFailed
		return it, fmt.Errorf("executor: mark decision chosen: %w", err)
	}
	if err := e.opps.MarkConsumed(ctx, o.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		it.Outcome = OutcomeFailed
		return it, fmt.Errorf("executor: mark opportunity consumed: %w", err)
	}
	sess.Accept(o, notional, g.reserveUSD > 0)
	it.Outcome = OutcomeExecuted

	metrics.PositionsOpened.WithLabelValues(string(o.Type)).Inc()
	detail := map[string]any{
		"position_id":    pos.ID,
		"opportunity_id": o.ID,
		"symbol":         o.Symbol,
		"strategy":       string(o.Type),
		"venue":          g.venue,
		"notional_usd":   notional,
		"variant":        string(c.Variant),
	}
	if g.realizedUSD != nil {
		detail["realized_pnl"] = *g.realizedUSD
	}
	e.events.Emit(ctx, service.EventPositionOpened, detail)
	e.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("strategy", string(o.Type)),
		slog.String("symbol", o.Symbol),
		slog.Float64("notional", notional),
	)
	return it, nil
}

func (e *Engine) reject(ctx context.Context, it Item, reason string) (Item, error) {
	it.Outcome = OutcomeRejected
	it.Reason = reason
	if err := e.decisions.MarkRejected(ctx, it.DecisionID, reason); err != nil {
		it.Outcome = OutcomeFailed
		return it, fmt.Errorf("executor: mark decision rejected: %w", err)
	}
	e.logger.DebugContext(ctx, "candidate rejected",
		slog.String("opportunity_id", it.OpportunityID),
		slog.String("reason", reason),
	)
	return it, nil
}
