package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
)

// CrossExchangeDetector compares top-of-book across venues for the same
// canonical symbol and records buy-low / sell-high spreads that clear costs.
type CrossExchangeDetector struct {
	cfg          config.CrossConfig
	quoteTimeout time.Duration
	concurrency  int
	md           domain.MarketDataProvider
	opps         domain.OpportunityStore
	dedup        *Dedup
	logger       *slog.Logger
	now          func() time.Time
}

// NewCrossExchangeDetector creates a CrossExchangeDetector.
func NewCrossExchangeDetector(cfg config.CrossConfig, detect config.DetectConfig, md domain.MarketDataProvider, opps domain.OpportunityStore, dedup *Dedup, logger *slog.Logger) *CrossExchangeDetector {
	conc := detect.MaxConcurrency
	if conc < 1 {
		conc = 1
	}
	return &CrossExchangeDetector{
		cfg:          cfg,
		quoteTimeout: detect.QuoteTimeout.Duration,
		concurrency:  conc,
		md:           md,
		opps:         opps,
		dedup:        dedup,
		logger:       logger.With(slog.String("component", "cross_detector")),
		now:          time.Now,
	}
}

// venueSymbolFor maps a canonical symbol to the venue's own name.
func (d *CrossExchangeDetector) venueSymbolFor(canonical, venue string) string {
	if m, ok := d.cfg.SymbolMap[canonical]; ok {
		if s, ok := m[venue]; ok && s != "" {
			return s
		}
	}
	return canonical
}

type venueQuote struct {
	venue  string
	symbol string
	quote  domain.Quote
	err    error
}

// fetch quotes every venue for every symbol concurrently. Results are
// indexed [symbol][venue] in configuration order.
func (d *CrossExchangeDetector) fetch(ctx context.Context) [][]venueQuote {
	out := make([][]venueQuote, len(d.cfg.Symbols))
	for i := range out {
		out[i] = make([]venueQuote, len(d.cfg.Venues))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, sym := range d.cfg.Symbols {
		for j, venue := range d.cfg.Venues {
			g.Go(func() error {
				callCtx := gctx
				if d.quoteTimeout > 0 {
					var cancel context.CancelFunc
					callCtx, cancel = context.WithTimeout(gctx, d.quoteTimeout)
					defer cancel()
				}
				vs := d.venueSymbolFor(sym, venue)
				q, err := d.md.GetQuote(callCtx, venue, vs)
				out[i][j] = venueQuote{venue: venue, symbol: vs, quote: q, err: err}
				return nil
			})
		}
	}
	_ = g.Wait()
	return out
}

// Detect evaluates every configured canonical symbol. Quote failures are
// attached to their symbol; only persistence failures are returned.
func (d *CrossExchangeDetector) Detect(ctx context.Context) (*Report, error) {
	rep := newReport(domain.OpportunityCrossExchange)
	quotes := d.fetch(ctx)
	now := d.now().UTC()

	for i, sym := range d.cfg.Symbols {
		it, opp := d.evaluate(sym, quotes[i], now)
		if opp != nil {
			if err := insert(ctx, d.opps, d.dedup, *opp, &it); err != nil {
				return rep, fmt.Errorf("cross_exchange: %w", err)
			}
		}
		d.logger.DebugContext(ctx, "cross-exchange evaluated",
			slog.String("symbol", sym),
			slog.String("venue_key", it.VenueKey),
			slog.String("outcome", string(it.Outcome)),
			slog.String("reason", it.Reason),
			slog.Float64("net_edge_bps", it.NetEdgeBps),
		)
		rep.add(it)
	}
	return rep, nil
}

// evaluate picks the cheapest ask and richest bid among valid quotes. Ties
// resolve to the venue listed first.
func (d *CrossExchangeDetector) evaluate(symbol string, quotes []venueQuote, now time.Time) (Item, *domain.Opportunity) {
	it := Item{Symbol: symbol}

	var valid []venueQuote
	for _, vq := range quotes {
		switch {
		case vq.err != nil:
			it.Errors = append(it.Errors, fmt.Sprintf("%s: %v", vq.venue, vq.err))
		case !vq.quote.Valid():
			it.Errors = append(it.Errors, fmt.Sprintf("%s: %v", vq.venue, domain.ErrInvalidQuote))
		default:
			valid = append(valid, vq)
		}
	}
	if len(valid) < 2 {
		it.Outcome = OutcomeSkipped
		it.Reason = ReasonInsufficientQuotes
		return it, nil
	}

	buy, sell := valid[0], valid[0]
	for _, vq := range valid[1:] {
		if vq.quote.Ask < buy.quote.Ask {
			buy = vq
		}
		if vq.quote.Bid > sell.quote.Bid {
			sell = vq
		}
	}
	if buy.venue == sell.venue {
		it.Outcome = OutcomeSkipped
		it.Reason = ReasonNoCrossEdge
		return it, nil
	}

	it.VenueKey = buy.venue + ":" + sell.venue
	gross := (sell.quote.Bid - buy.quote.Ask) / buy.quote.Ask * 1e4
	costs := d.cfg.CostsBps()
	net := gross - costs
	it.NetEdgeBps = net
	if net < d.cfg.MinNetEdgeBps {
		it.Outcome = OutcomeSkipped
		it.Reason = ReasonBelowMinEdge
		return it, nil
	}

	return it, &domain.Opportunity{
		ID:               uuid.NewString(),
		TS:               now,
		VenueKey:         it.VenueKey,
		Symbol:           symbol,
		Type:             domain.OpportunityCrossExchange,
		NetEdgeBps:       net,
		ExpectedDailyBps: net,
		Confidence:       confidence(net, d.cfg.ConfidenceScaleBps),
		Status:           domain.OpportunityStatusNew,
		Details: domain.OpportunityDetails{CrossExchange: &domain.CrossExchangeDetails{
			BuyVenue:        buy.venue,
			SellVenue:       sell.venue,
			BuySymbol:       buy.symbol,
			SellSymbol:      sell.symbol,
			BuyAsk:          buy.quote.Ask,
			SellBid:         sell.quote.Bid,
			GrossBps:        gross,
			CostsBps:        costs,
			CanonicalSymbol: symbol,
		}},
	}
}
