package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
)

// IngestItem is the outcome for one venue/symbol.
type IngestItem struct {
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
	Error  string `json:"error,omitempty"`
}

// IngestReport summarises one ingestion run.
type IngestReport struct {
	Inserted int          `json:"inserted"`
	Failed   int          `json:"failed"`
	Items    []IngestItem `json:"items"`
}

// SnapshotScraper fetches carry quotes for every configured venue and symbol
// and persists them as market snapshots for the carry detector.
type SnapshotScraper struct {
	md           domain.MarketDataProvider
	snaps        domain.SnapshotStore
	venues       []string
	symbols      []string
	quoteTimeout time.Duration
	concurrency  int
	logger       *slog.Logger
}

// NewSnapshotScraper creates a SnapshotScraper over the carry venues and
// symbols.
func NewSnapshotScraper(md domain.MarketDataProvider, snaps domain.SnapshotStore, carry config.CarryConfig, detect config.DetectConfig, logger *slog.Logger) *SnapshotScraper {
	conc := detect.MaxConcurrency
	if conc < 1 {
		conc = 1
	}
	return &SnapshotScraper{
		md:           md,
		snaps:        snaps,
		venues:       carry.Venues,
		symbols:      carry.Symbols,
		quoteTimeout: detect.QuoteTimeout.Duration,
		concurrency:  conc,
		logger:       logger.With(slog.String("component", "snapshot_scraper")),
	}
}

// Run fetches and stores one snapshot per venue/symbol. Fetch failures are
// recorded per item; a store failure aborts the run.
func (s *SnapshotScraper) Run(ctx context.Context) (*IngestReport, error) {
	rep := &IngestReport{Items: []IngestItem{}}

	type fetched struct {
		item IngestItem
		snap *domain.MarketSnapshot
	}
	var (
		mu      sync.Mutex
		results []fetched
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, venue := range s.venues {
		for _, symbol := range s.symbols {
			g.Go(func() error {
				qctx := gctx
				if s.quoteTimeout > 0 {
					var cancel context.CancelFunc
					qctx, cancel = context.WithTimeout(gctx, s.quoteTimeout)
					defer cancel()
				}
				f := fetched{item: IngestItem{Venue: venue, Symbol: symbol}}
				q, err := s.md.GetCarryQuote(qctx, venue, symbol)
				if err != nil {
					f.item.Error = err.Error()
				} else {
					snap := domain.SnapshotFromCarry(q)
					f.snap = &snap
				}
				mu.Lock()
				results = append(results, f)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, f := range results {
		if f.snap == nil {
			rep.Failed++
			rep.Items = append(rep.Items, f.item)
			s.logger.DebugContext(ctx, "carry quote unavailable",
				slog.String("venue", f.item.Venue),
				slog.String("symbol", f.item.Symbol),
				slog.String("error", f.item.Error),
			)
			continue
		}
		if err := s.snaps.Insert(ctx, *f.snap); err != nil {
			return rep, fmt.Errorf("snapshot_scraper: insert %s/%s: %w", f.item.Venue, f.item.Symbol, err)
		}
		rep.Inserted++
		rep.Items = append(rep.Items, f.item)
	}

	s.logger.DebugContext(ctx, "snapshots ingested",
		slog.Int("inserted", rep.Inserted),
		slog.Int("failed", rep.Failed),
	)
	return rep, nil
}
