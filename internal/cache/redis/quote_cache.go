package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/indijan/arbiter/internal/domain"
)

// QuoteCache implements domain.QuoteCache with JSON values under
// "arbiter:quote:{venue}:{symbol}" and "arbiter:carry:{venue}:{symbol}".
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(kind, venue, symbol string) string {
	return keyPrefix + kind + ":" + venue + ":" + symbol
}

func (qc *QuoteCache) get(ctx context.Context, key string, dst any) error {
	raw, err := qc.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return nil
}

func (qc *QuoteCache) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	if err := qc.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// GetQuote returns a cached quote or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, venue, symbol string) (domain.Quote, error) {
	var q domain.Quote
	err := qc.get(ctx, quoteKey("quote", venue, symbol), &q)
	return q, err
}

// SetQuote caches a quote for ttl.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote, ttl time.Duration) error {
	return qc.set(ctx, quoteKey("quote", q.Venue, q.Symbol), q, ttl)
}

// GetCarryQuote returns a cached carry quote or domain.ErrNotFound.
func (qc *QuoteCache) GetCarryQuote(ctx context.Context, venue, symbol string) (domain.CarryQuote, error) {
	var q domain.CarryQuote
	err := qc.get(ctx, quoteKey("carry", venue, symbol), &q)
	return q, err
}

// SetCarryQuote caches a carry quote for ttl.
func (qc *QuoteCache) SetCarryQuote(ctx context.Context, q domain.CarryQuote, ttl time.Duration) error {
	return qc.set(ctx, quoteKey("carry", q.Venue, q.Symbol), q, ttl)
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
