package memory

import (
	"context"
	"sync"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

type cachedEntry struct {
	quote   domain.Quote
	carry   domain.CarryQuote
	expires time.Time
}

// QuoteCache is an in-process domain.QuoteCache.
type QuoteCache struct {
	mu      sync.Mutex
	now     func() time.Time
	quotes  map[string]cachedEntry
	carries map[string]cachedEntry
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		now:     time.Now,
		quotes:  make(map[string]cachedEntry),
		carries: make(map[string]cachedEntry),
	}
}

func cacheKey(venue, symbol string) string { return venue + ":" + symbol }

func (c *QuoteCache) lookupLocked(m map[string]cachedEntry, key string) (cachedEntry, bool) {
	e, ok := m[key]
	if !ok {
		return e, false
	}
	if !c.now().Before(e.expires) {
		delete(m, key)
		return e, false
	}
	return e, true
}

// GetQuote returns a cached quote or domain.ErrNotFound.
func (c *QuoteCache) GetQuote(_ context.Context, venue, symbol string) (domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(c.quotes, cacheKey(venue, symbol))
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return e.quote, nil
}

// SetQuote caches q for ttl.
func (c *QuoteCache) SetQuote(_ context.Context, q domain.Quote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[cacheKey(q.Venue, q.Symbol)] = cachedEntry{quote: q, expires: c.now().Add(ttl)}
	return nil
}

// GetCarryQuote returns a cached carry quote or domain.ErrNotFound.
func (c *QuoteCache) GetCarryQuote(_ context.Context, venue, symbol string) (domain.CarryQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(c.carries, cacheKey(venue, symbol))
	if !ok {
		return domain.CarryQuote{}, domain.ErrNotFound
	}
	return e.carry, nil
}

// SetCarryQuote caches q for ttl.
func (c *QuoteCache) SetCarryQuote(_ context.Context, q domain.CarryQuote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carries[cacheKey(q.Venue, q.Symbol)] = cachedEntry{carry: q, expires: c.now().Add(ttl)}
	return nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
