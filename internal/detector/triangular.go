package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
)

// TriangularDetector walks configured home -> A -> B -> home cycles on a
// single venue with unit notional.
type TriangularDetector struct {
	cfg         config.TriangularConfig
	concurrency int
	md          domain.MarketDataProvider
	opps        domain.OpportunityStore
	dedup       *Dedup
	logger      *slog.Logger
	now         func() time.Time
}

// NewTriangularDetector creates a TriangularDetector.
func NewTriangularDetector(cfg config.TriangularConfig, detect config.DetectConfig, md domain.MarketDataProvider, opps domain.OpportunityStore, dedup *Dedup, logger *slog.Logger) *TriangularDetector {
	conc := detect.MaxConcurrency
	if conc < 1 {
		conc = 1
	}
	return &TriangularDetector{
		cfg:         cfg,
		concurrency: conc,
		md:          md,
		opps:        opps,
		dedup:       dedup,
		logger:      logger.With(slog.String("component", "triangular_detector")),
		now:         time.Now,
	}
}

// WalkPath converts one unit of the home asset through each leg: buys divide
// by the ask, sells multiply by the bid. It returns the per-leg trail and the
// final amount.
func WalkPath(legs []config.TriangularLegConfig, quotes []domain.Quote) ([]domain.TriangularLeg, float64) {
	amount := 1.0
	trail := make([]domain.TriangularLeg, 0, len(legs))
	for i, l := range legs {
		q := quotes[i]
		in := amount
		if domain.Side(l.Side) == domain.SideBuy {
			amount = amount / q.Ask
		} else {
			amount = amount * q.Bid
		}
		trail = append(trail, domain.TriangularLeg{
			Symbol:    l.Symbol,
			Side:      domain.Side(l.Side),
			Bid:       q.Bid,
			Ask:       q.Ask,
			AmountIn:  in,
			AmountOut: amount,
		})
	}
	return trail, amount
}

type pathResult struct {
	quotes []domain.Quote
	errs   []error
}

// Detect evaluates every configured path. A failed or invalid leg quote
// skips only its path.
func (d *TriangularDetector) Detect(ctx context.Context) (*Report, error) {
	rep := newReport(domain.OpportunityTriangular)
	results := make([]pathResult, len(d.cfg.Paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, p := range d.cfg.Paths {
		g.Go(func() error {
			results[i] = d.quotePath(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	now := d.now().UTC()
	for i, p := range d.cfg.Paths {
		it := Item{VenueKey: p.Venue, Symbol: p.Name}
		res := results[i]
		if err := errors.Join(res.errs...); err != nil {
			for _, e := range res.errs {
				if e != nil {
					it.Errors = append(it.Errors, e.Error())
				}
			}
			it.Outcome = OutcomeFailed
			it.Reason = err.Error()
			d.logger.DebugContext(ctx, "triangular path skipped",
				slog.String("path", p.Name),
				slog.String("error", err.Error()),
			)
			rep.add(it)
			continue
		}

		trail, final := WalkPath(p.Legs, res.quotes)
		gross := (final - 1) * 1e4
		net := gross - d.cfg.FixedCostsBps
		it.NetEdgeBps = net
		if net < d.cfg.MinNetEdgeBps {
			it.Outcome = OutcomeSkipped
			it.Reason = ReasonBelowMinEdge
			rep.add(it)
			continue
		}

		opp := domain.Opportunity{
			ID:               uuid.NewString(),
			TS:               now,
			VenueKey:         p.Venue,
			Symbol:           p.Name,
			Type:             domain.OpportunityTriangular,
			NetEdgeBps:       net,
			ExpectedDailyBps: net,
			Confidence:       confidence(net, d.cfg.ConfidenceScaleBps),
			Status:           domain.OpportunityStatusNew,
			Details: domain.OpportunityDetails{Triangular: &domain.TriangularDetails{
				Venue:       p.Venue,
				Path:        p.Name,
				Home:        p.Home,
				Legs:        trail,
				FinalAmount: final,
				GrossBps:    gross,
				CostsBps:    d.cfg.FixedCostsBps,
			}},
		}
		if err := insert(ctx, d.opps, d.dedup, opp, &it); err != nil {
			return rep, fmt.Errorf("triangular: %w", err)
		}
		rep.add(it)
	}
	return rep, nil
}

// quotePath fetches all legs of a path concurrently, each under the leg
// timeout.
func (d *TriangularDetector) quotePath(ctx context.Context, p config.TriangularPath) pathResult {
	res := pathResult{
		quotes: make([]domain.Quote, len(p.Legs)),
		errs:   make([]error, len(p.Legs)),
	}
	var g errgroup.Group
	for i, l := range p.Legs {
		g.Go(func() error {
			callCtx := ctx
			if d.cfg.LegTimeout.Duration > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, d.cfg.LegTimeout.Duration)
				defer cancel()
			}
			q, err := d.md.GetQuote(callCtx, p.Venue, l.Symbol)
			switch {
			case err != nil:
				res.errs[i] = fmt.Errorf("leg %s: %w", l.Symbol, err)
			case !q.Valid():
				res.errs[i] = fmt.Errorf("leg %s: %w", l.Symbol, domain.ErrInvalidQuote)
			default:
				res.quotes[i] = q
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}
