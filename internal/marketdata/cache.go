package marketdata

import (
	"context"
	"log/slog"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// Cached serves quotes from a QuoteCache when fresh and falls through to the
// wrapped provider otherwise. Cache failures never fail a fetch.
type Cached struct {
	next   domain.MarketDataProvider
	cache  domain.QuoteCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached creates a Cached provider.
func NewCached(next domain.MarketDataProvider, cache domain.QuoteCache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "quote_cache")),
	}
}

// GetQuote implements domain.MarketDataProvider.
func (c *Cached) GetQuote(ctx context.Context, venue, symbol string) (domain.Quote, error) {
	if q, err := c.cache.GetQuote(ctx, venue, symbol); err == nil {
		return q, nil
	}
	q, err := c.next.GetQuote(ctx, venue, symbol)
	if err != nil {
		return q, err
	}
	if err := c.cache.SetQuote(ctx, q, c.ttl); err != nil {
		c.logger.Debug("cache set failed", slog.String("venue", venue), slog.String("symbol", symbol), slog.String("error", err.Error()))
	}
	return q, nil
}

// GetCarryQuote implements domain.MarketDataProvider.
func (c *Cached) GetCarryQuote(ctx context.Context, venue, symbol string) (domain.CarryQuote, error) {
	if q, err := c.cache.GetCarryQuote(ctx, venue, symbol); err == nil {
		return q, nil
	}
	q, err := c.next.GetCarryQuote(ctx, venue, symbol)
	if err != nil {
		return q, err
	}
	if err := c.cache.SetCarryQuote(ctx, q, c.ttl); err != nil {
		c.logger.Debug("cache set failed", slog.String("venue", venue), slog.String("symbol", symbol), slog.String("error", err.Error()))
	}
	return q, nil
}

var _ domain.MarketDataProvider = (*Cached)(nil)
