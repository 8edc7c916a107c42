package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	s3blob "github.com/indijan/arbiter/internal/blob/s3"
	"github.com/indijan/arbiter/internal/cache/redis"
	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/marketdata"
	"github.com/indijan/arbiter/internal/notify"
	"github.com/indijan/arbiter/internal/platform/venue"
	"github.com/indijan/arbiter/internal/server/handler"
	"github.com/indijan/arbiter/internal/service"
	"github.com/indijan/arbiter/internal/store/memory"
	"github.com/indijan/arbiter/internal/store/postgres"
)

// Dependencies bundles the infrastructure the services are built on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Snapshots     domain.SnapshotStore
	Opportunities domain.OpportunityStore
	Positions     domain.PositionStore
	Accounts      domain.AccountStore
	Decisions     domain.DecisionStore
	Models        domain.ModelStore
	Pnl           domain.PnlStore
	Audit         domain.AuditStore

	// Caches and coordination. Without Redis these are in-process.
	Locks      domain.LockManager
	Counter    domain.UsageCounter
	QuoteCache domain.QuoteCache
	SignalBus  domain.SignalBus

	MarketData domain.MarketDataProvider
	BlobWriter domain.BlobWriter
	Notifier   service.Notifier

	// Health checks keyed by dependency name.
	Checks map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.Pinger{}}

	// --- Repository ---
	if strings.EqualFold(cfg.Store, "memory") {
		st := memory.New()
		deps.Snapshots = st.Snapshots()
		deps.Opportunities = st.Opportunities()
		deps.Positions = st.Positions()
		deps.Accounts = st.Accounts()
		deps.Decisions = st.Decisions()
		deps.Models = st.Models()
		deps.Pnl = st.Pnl()
		deps.Audit = st.Audit()
	} else {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, db.Close)

		if cfg.Postgres.RunMigrations {
			if err := db.Migrate(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := db.Pool()
		deps.Snapshots = postgres.NewSnapshotStore(pool)
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Decisions = postgres.NewDecisionStore(pool)
		deps.Models = postgres.NewModelStore(pool)
		deps.Pnl = postgres.NewPnlStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = db
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Counter = redis.NewUsageCounter(redisClient)
		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient
	} else {
		deps.Locks = memory.NewLocker()
		deps.Counter = memory.NewCounter()
		deps.QuoteCache = memory.NewQuoteCache()
	}

	// --- Market data: venue gateways behind rate limit, breaker and cache ---
	deps.MarketData = buildMarketData(cfg.Venues, deps.QuoteCache, logger)

	// --- S3 tick archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Checks["s3"] = s3Client
	}

	// --- Notifications ---
	if n := notify.FromConfig(cfg.Notify, logger); n != nil {
		logger.InfoContext(ctx, "notifications enabled", slog.Any("senders", n.Senders()))
		deps.Notifier = n
	}

	return deps, cleanup, nil
}

func buildMarketData(cfg config.VenuesConfig, cache domain.QuoteCache, logger *slog.Logger) domain.MarketDataProvider {
	names := make([]string, 0, len(cfg.Endpoints))
	for name := range cfg.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	clients := make([]*venue.Client, 0, len(names))
	for _, name := range names {
		ep := cfg.Endpoints[name]
		clients = append(clients, venue.NewClient(name, ep.BaseURL, ep.APIKey).WithSecret(ep.APISecret))
	}
	if len(clients) == 0 {
		logger.Warn("no venue endpoints configured; every quote will be unavailable")
	}

	var md domain.MarketDataProvider = marketdata.NewGuarded(venue.NewRouter(clients...), marketdata.GuardConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		BreakerFailures:   uint32(cfg.BreakerFailures),
		BreakerCooldown:   cfg.BreakerCooldown.Duration,
	}, logger)
	if cfg.QuoteCacheTTL.Duration > 0 {
		md = marketdata.NewCached(md, cache, cfg.QuoteCacheTTL.Duration, logger)
	}
	return md
}
