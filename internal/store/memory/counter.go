package memory

import (
	"context"
	"sync"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// Counter is an in-process domain.UsageCounter with per-key expiry.
type Counter struct {
	mu      sync.Mutex
	now     func() time.Time
	values  map[string]int64
	expires map[string]time.Time
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{
		now:     time.Now,
		values:  make(map[string]int64),
		expires: make(map[string]time.Time),
	}
}

func (c *Counter) expireLocked(key string) {
	if exp, ok := c.expires[key]; ok && !c.now().Before(exp) {
		delete(c.values, key)
		delete(c.expires, key)
	}
}

// Incr adds one to key, setting ttl when the key is created.
func (c *Counter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(key)
	if _, ok := c.values[key]; !ok && ttl > 0 {
		c.expires[key] = c.now().Add(ttl)
	}
	c.values[key]++
	return c.values[key], nil
}

// Decr subtracts one from key.
func (c *Counter) Decr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(key)
	c.values[key]--
	return c.values[key], nil
}

// Get returns the current value of key.
func (c *Counter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(key)
	return c.values[key], nil
}

// Locker is an in-process domain.LockManager.
type Locker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]time.Time)}
}

// Acquire takes key until the returned unlock is called or ttl passes.
func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.held[key]; ok && time.Now().Before(exp) {
		return nil, domain.ErrLockHeld
	}
	exp := time.Now().Add(ttl)
	l.held[key] = exp
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(exp) {
			delete(l.held, key)
		}
	}, nil
}

var (
	_ domain.UsageCounter = (*Counter)(nil)
	_ domain.LockManager  = (*Locker)(nil)
)
