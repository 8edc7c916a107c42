package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
)

func TestUsageCounterSetsTTLOnFirstIncrement(t *testing.T) {
	db, mock := redismock.NewClientMock()
	counter := NewUsageCounter(Wrap(db))
	ctx := context.Background()

	mock.ExpectIncr("arbiter:rerank:2026-10-15").SetVal(1)
	mock.ExpectExpire("arbiter:rerank:2026-10-15", 48*time.Hour).SetVal(true)
	mock.ExpectIncr("arbiter:rerank:2026-10-15").SetVal(2)

	n, err := counter.Incr(ctx, "rerank:2026-10-15", 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = counter.Incr(ctx, "rerank:2026-10-15", 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageCounterMissingKeyReadsZero(t *testing.T) {
	db, mock := redismock.NewClientMock()
	counter := NewUsageCounter(Wrap(db))

	mock.ExpectGet("arbiter:rerank:2026-10-15").RedisNil()
	mock.ExpectDecr("arbiter:rerank:2026-10-15").SetVal(4)

	n, err := counter.Get(context.Background(), "rerank:2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = counter.Decr(context.Background(), "rerank:2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteCacheRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewQuoteCache(Wrap(db))
	ctx := context.Background()

	q := domain.Quote{Venue: "okx", Symbol: "BTCUSDT", Bid: 100, Ask: 100.2, TS: time.Unix(1700000000, 0).UTC()}
	raw, err := json.Marshal(q)
	require.NoError(t, err)

	mock.ExpectSet("arbiter:quote:okx:BTCUSDT", raw, 2*time.Second).SetVal("OK")
	mock.ExpectGet("arbiter:quote:okx:BTCUSDT").SetVal(string(raw))
	mock.ExpectGet("arbiter:carry:okx:ETHUSDT").RedisNil()

	require.NoError(t, cache.SetQuote(ctx, q, 2*time.Second))

	got, err := cache.GetQuote(ctx, "okx", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, q, got)

	_, err = cache.GetCarryQuote(ctx, "okx", "ETHUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalBusPublish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewSignalBus(Wrap(db))

	mock.ExpectPublish(EventsChannel, []byte(`{"event":"tick_completed"}`)).SetVal(1)

	require.NoError(t, bus.Publish(context.Background(), EventsChannel, []byte(`{"event":"tick_completed"}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockManagerAcquire(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locks := NewLockManager(Wrap(db))
	ctx := context.Background()

	mock.Regexp().ExpectSetNX("arbiter:lock:tick:paper", `[0-9a-f-]{36}`, 30*time.Second).SetVal(true)
	mock.Regexp().ExpectSetNX("arbiter:lock:tick:paper", `[0-9a-f-]{36}`, 30*time.Second).SetVal(false)

	unlock, err := locks.Acquire(ctx, "tick:paper", 30*time.Second)
	require.NoError(t, err)
	assert.NotNil(t, unlock)

	_, err = locks.Acquire(ctx, "tick:paper", 30*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientHealth(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := Wrap(db)

	mock.ExpectPing().SetVal("PONG")
	mock.ExpectPing().SetErr(errors.New("connection refused"))

	require.NoError(t, c.Health(context.Background()))
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOptionsFromConfig(t *testing.T) {
	opts := options(config.RedisConfig{Addr: "cache:6379", DB: 2, PoolSize: 8, TLSEnabled: true})
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 8, opts.PoolSize)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), opts.TLSConfig.MinVersion)

	assert.Nil(t, options(config.RedisConfig{Addr: "cache:6379"}).TLSConfig)
}
