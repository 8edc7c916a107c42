package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/indijan/arbiter/internal/domain"
)

// releaseTimeout bounds the unlock round trip; the tick context is usually
// done by the time the lease is released.
const releaseTimeout = 5 * time.Second

// compareAndDelete removes KEYS[1] only while it still stores ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager hands out TTL leases stored under arbiter:lock:<name>. A lease
// left behind by a crashed holder expires on its own.
type LockManager struct {
	rdb *redis.Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

type lease struct {
	rdb   *redis.Client
	key   string
	token string
	once  sync.Once
}

func (l *lease) release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = compareAndDelete.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}

// Acquire takes the named lease for ttl. It returns domain.ErrLockHeld when
// another holder has it; the release func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	l := &lease{rdb: lm.rdb, key: keyPrefix + "lock:" + name, token: uuid.NewString()}

	won, err := lm.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", name, err)
	case !won:
		return nil, domain.ErrLockHeld
	}
	return l.release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
