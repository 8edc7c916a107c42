package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
)

// Risk rejection reasons.
const (
	RejectMaxOpen             = "max_open_positions"
	RejectMaxOpenedPerHour    = "max_opened_per_hour"
	RejectAlreadyOpen         = "already_open"
	RejectSymbolCap           = "max_open_per_symbol"
	RejectInsufficientBalance = "insufficient_balance"
)

// RiskGate applies position-count, per-symbol and hourly limits and sizes
// each accepted candidate.
type RiskGate struct {
	positions domain.PositionStore
	cfg       config.RiskConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewRiskGate creates a RiskGate.
func NewRiskGate(positions domain.PositionStore, cfg config.RiskConfig, logger *slog.Logger) *RiskGate {
	return &RiskGate{
		positions: positions,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk_gate")),
		now:       time.Now,
	}
}

// RiskSession holds the limits state for one tick. It is not safe for
// concurrent use.
type RiskSession struct {
	cfg            config.RiskConfig
	account        domain.PaperAccount
	open           int
	openedLastHour int
	bySymbol       map[string]int
	openOpps       map[string]bool
}

// Begin loads the account's open positions and hourly count. When the
// account is already at either cap it returns the rejection reason and a nil
// session, and the tick must not touch any state.
func (g *RiskGate) Begin(ctx context.Context, account domain.PaperAccount) (*RiskSession, string, error) {
	open, err := g.positions.ListByStatus(ctx, account.AccountID, domain.PositionStatusOpen, domain.ListOpts{})
	if err != nil {
		return nil, "", fmt.Errorf("risk_gate: list open positions: %w", err)
	}
	opened, err := g.positions.CountOpenedSince(ctx, account.AccountID, g.now().Add(-time.Hour))
	if err != nil {
		return nil, "", fmt.Errorf("risk_gate: count opened: %w", err)
	}

	if len(open) >= g.cfg.MaxOpenPositions {
		g.logger.InfoContext(ctx, "risk_gate: max open positions reached",
			slog.Int("open", len(open)),
			slog.Int("max", g.cfg.MaxOpenPositions),
		)
		return nil, RejectMaxOpen, nil
	}
	if g.cfg.MaxOpenedPerHour > 0 && opened >= g.cfg.MaxOpenedPerHour {
		g.logger.InfoContext(ctx, "risk_gate: hourly open cap reached",
			slog.Int("opened", opened),
			slog.Int("max", g.cfg.MaxOpenedPerHour),
		)
		return nil, RejectMaxOpenedPerHour, nil
	}

	s := &RiskSession{
		cfg:            g.cfg,
		account:        account,
		open:           len(open),
		openedLastHour: opened,
		bySymbol:       make(map[string]int),
		openOpps:       make(map[string]bool),
	}
	for _, p := range open {
		s.bySymbol[p.Symbol]++
		if p.OpportunityID != "" {
			s.openOpps[p.OpportunityID] = true
		}
	}
	return s, "", nil
}

// Check sizes a candidate and returns its notional, or a rejection reason.
func (s *RiskSession) Check(o domain.Opportunity) (float64, string) {
	if s.open >= s.cfg.MaxOpenPositions {
		return 0, RejectMaxOpen
	}
	if s.cfg.MaxOpenedPerHour > 0 && s.openedLastHour >= s.cfg.MaxOpenedPerHour {
		return 0, RejectMaxOpenedPerHour
	}
	if o.ID != "" && s.openOpps[o.ID] {
		return 0, RejectAlreadyOpen
	}
	if s.bySymbol[o.Symbol] >= s.cfg.MaxOpenPerSymbol {
		return 0, RejectSymbolCap
	}
	notional := SizeNotional(s.cfg, s.account, o)
	if notional > s.account.Available() {
		return notional, RejectInsufficientBalance
	}
	return notional, ""
}

// Accept records an executed candidate against the session limits. Positions
// that close immediately count toward the hourly cap only.
func (s *RiskSession) Accept(o domain.Opportunity, notional float64, reserved bool) {
	s.openedLastHour++
	if !reserved {
		return
	}
	s.open++
	s.bySymbol[o.Symbol]++
	if o.ID != "" {
		s.openOpps[o.ID] = true
	}
	if next, err := s.account.Reserve(notional); err == nil {
		s.account = next
	}
}

// SetAccount replaces the session's view of the account, e.g. after the
// store rejected a reservation.
func (s *RiskSession) SetAccount(a domain.PaperAccount) {
	s.account = a
}

// SizeNotional picks a notional tier for the candidate and clamps it to the
// account's bounds:
//
//	break-even <= fast and confidence >= high  -> max notional
//	break-even <= slow or confidence >= mid    -> midpoint
//	otherwise                                  -> min notional
//
// Non-carry opportunities have a zero break-even and always reach at least
// the midpoint tier.
func SizeNotional(cfg config.RiskConfig, a domain.PaperAccount, o domain.Opportunity) float64 {
	lo, hi := a.MinNotional, a.MaxNotional
	be := o.BreakEvenHours()

	var n float64
	switch {
	case be <= cfg.FastBreakEvenHours && o.Confidence >= cfg.HighConfidence:
		n = hi
	case be <= cfg.SlowBreakEvenHours || o.Confidence >= cfg.MidConfidence:
		n = (lo + hi) / 2
	default:
		n = lo
	}
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return n
}
