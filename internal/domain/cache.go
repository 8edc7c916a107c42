package domain

import (
	"context"
	"time"
)

// QuoteCache holds recently fetched quotes for a short TTL.
type QuoteCache interface {
	GetQuote(ctx context.Context, venue, symbol string) (Quote, error)
	SetQuote(ctx context.Context, q Quote, ttl time.Duration) error
	GetCarryQuote(ctx context.Context, venue, symbol string) (CarryQuote, error)
	SetCarryQuote(ctx context.Context, q CarryQuote, ttl time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// UsageCounter is a shared counter with expiry, used for daily call budgets.
type UsageCounter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// SignalBus publishes events to subscribers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
