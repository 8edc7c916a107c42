// Package marketdata decorates a domain.MarketDataProvider with per-venue
// rate limiting, circuit breaking and a short-lived quote cache.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/indijan/arbiter/internal/domain"
)

// GuardConfig configures Guarded.
type GuardConfig struct {
	RequestsPerSecond float64
	Burst             int
	// BreakerFailures is the number of consecutive transport failures that
	// open a venue's breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Guarded wraps a provider with a token bucket and a circuit breaker per
// venue. Invalid quotes count as successful calls; only transport failures
// trip the breaker.
type Guarded struct {
	next   domain.MarketDataProvider
	cfg    GuardConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewGuarded creates a Guarded provider.
func NewGuarded(next domain.MarketDataProvider, cfg GuardConfig, logger *slog.Logger) *Guarded {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	return &Guarded{
		next:     next,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "marketdata")),
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *Guarded) venue(name string) (*rate.Limiter, *gobreaker.CircuitBreaker) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lim, ok := g.limiters[name]
	if !ok {
		limit := rate.Inf
		if g.cfg.RequestsPerSecond > 0 {
			limit = rate.Limit(g.cfg.RequestsPerSecond)
		}
		lim = rate.NewLimiter(limit, g.cfg.Burst)
		g.limiters[name] = lim
	}

	cb, ok := g.breakers[name]
	if !ok {
		failures := g.cfg.BreakerFailures
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "venue:" + name,
			Timeout: g.cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, domain.ErrQuoteUnavailable)
			},
			OnStateChange: func(n string, from, to gobreaker.State) {
				g.logger.Warn("venue breaker state change",
					slog.String("breaker", n),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		})
		g.breakers[name] = cb
	}
	return lim, cb
}

func (g *Guarded) call(ctx context.Context, venue string, fn func() (interface{}, error)) (interface{}, error) {
	lim, cb := g.venue(venue)
	if err := lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("marketdata: %s rate limit wait: %v: %w", venue, err, domain.ErrQuoteUnavailable)
	}
	res, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("marketdata: %s breaker: %v: %w", venue, err, domain.ErrQuoteUnavailable)
	}
	return res, err
}

// GetQuote implements domain.MarketDataProvider.
func (g *Guarded) GetQuote(ctx context.Context, venue, symbol string) (domain.Quote, error) {
	res, err := g.call(ctx, venue, func() (interface{}, error) {
		return g.next.GetQuote(ctx, venue, symbol)
	})
	q, _ := res.(domain.Quote)
	return q, err
}

// GetCarryQuote implements domain.MarketDataProvider.
func (g *Guarded) GetCarryQuote(ctx context.Context, venue, symbol string) (domain.CarryQuote, error) {
	res, err := g.call(ctx, venue, func() (interface{}, error) {
		return g.next.GetCarryQuote(ctx, venue, symbol)
	})
	q, _ := res.(domain.CarryQuote)
	return q, err
}

// BreakerState reports the breaker state for a venue ("closed", "open",
// "half-open").
func (g *Guarded) BreakerState(venue string) string {
	_, cb := g.venue(venue)
	return cb.State().String()
}

var _ domain.MarketDataProvider = (*Guarded)(nil)
