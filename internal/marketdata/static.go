package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// Static is a provider backed by fixed quotes. It is used by tests and by
// dry runs without venue gateways. Validity is checked on read, so crossed
// quotes can be injected.
type Static struct {
	mu      sync.RWMutex
	quotes  map[string]domain.Quote
	carries map[string]domain.CarryQuote
	errs    map[string]error
	delays  map[string]time.Duration
	calls   map[string]int
}

// NewStatic creates an empty Static provider.
func NewStatic() *Static {
	return &Static{
		quotes:  make(map[string]domain.Quote),
		carries: make(map[string]domain.CarryQuote),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
		calls:   make(map[string]int),
	}
}

func staticKey(venue, symbol string) string { return venue + "|" + symbol }

// SetQuote installs a top-of-book quote.
func (s *Static) SetQuote(venue, symbol string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := staticKey(venue, symbol)
	s.quotes[k] = domain.Quote{Venue: venue, Symbol: symbol, Bid: bid, Ask: ask}
	delete(s.errs, k)
}

// SetCarry installs a carry quote.
func (s *Static) SetCarry(q domain.CarryQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := staticKey(q.Venue, q.Symbol)
	s.carries[k] = q
	delete(s.errs, k)
}

// Fail makes every call for (venue, symbol) return err.
func (s *Static) Fail(venue, symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[staticKey(venue, symbol)] = err
}

// Delay makes calls for (venue, symbol) block for d or until ctx is done.
func (s *Static) Delay(venue, symbol string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[staticKey(venue, symbol)] = d
}

// Calls returns how many times (venue, symbol) was requested.
func (s *Static) Calls(venue, symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[staticKey(venue, symbol)]
}

func (s *Static) lookup(ctx context.Context, venue, symbol string) (string, error) {
	k := staticKey(venue, symbol)
	s.mu.Lock()
	s.calls[k]++
	delay := s.delays[k]
	err := s.errs[k]
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return k, fmt.Errorf("static %s: %v: %w", k, ctx.Err(), domain.ErrQuoteUnavailable)
		case <-t.C:
		}
	}
	return k, err
}

// GetQuote implements domain.MarketDataProvider.
func (s *Static) GetQuote(ctx context.Context, venue, symbol string) (domain.Quote, error) {
	k, err := s.lookup(ctx, venue, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	s.mu.RLock()
	q, ok := s.quotes[k]
	s.mu.RUnlock()
	if !ok {
		return domain.Quote{}, fmt.Errorf("static %s: no quote: %w", k, domain.ErrQuoteUnavailable)
	}
	if !q.Valid() {
		return q, fmt.Errorf("static %s: %w", k, domain.ErrInvalidQuote)
	}
	q.TS = time.Now().UTC()
	return q, nil
}

// GetCarryQuote implements domain.MarketDataProvider.
func (s *Static) GetCarryQuote(ctx context.Context, venue, symbol string) (domain.CarryQuote, error) {
	k, err := s.lookup(ctx, venue, symbol)
	if err != nil {
		return domain.CarryQuote{}, err
	}
	s.mu.RLock()
	q, ok := s.carries[k]
	s.mu.RUnlock()
	if !ok {
		return domain.CarryQuote{}, fmt.Errorf("static %s: no carry quote: %w", k, domain.ErrQuoteUnavailable)
	}
	if !q.Valid() {
		return q, fmt.Errorf("static %s: %w", k, domain.ErrInvalidQuote)
	}
	if q.TS.IsZero() {
		q.TS = time.Now().UTC()
	}
	return q, nil
}

var _ domain.MarketDataProvider = (*Static)(nil)
