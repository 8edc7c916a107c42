// Package app wires the arbitrage paper trader together: stores, caches,
// market data, detectors, scoring, execution, and the tick orchestrator. It
// also runs the long-lived serve loop (HTTP API, tick scheduler, retraining).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indijan/arbiter/internal/cache/redis"
	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/detector"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/executor"
	"github.com/indijan/arbiter/internal/paper"
	"github.com/indijan/arbiter/internal/pipeline"
	"github.com/indijan/arbiter/internal/platform/reranker"
	"github.com/indijan/arbiter/internal/scoring"
	"github.com/indijan/arbiter/internal/server"
	"github.com/indijan/arbiter/internal/server/handler"
	"github.com/indijan/arbiter/internal/service"
	"github.com/indijan/arbiter/internal/store/postgres"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// Runtime holds the built services for one process.
type Runtime struct {
	Deps         *Dependencies
	Orchestrator *pipeline.Orchestrator
	Positions    *service.PositionService
	Pnl          *service.PnlAggregator
	Trainer      *service.Trainer
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Build wires dependencies and constructs every service. Cleanup is
// registered on the App.
func (a *App) Build(ctx context.Context) (*Runtime, error) {
	cfg := a.cfg
	logger := a.logger

	deps, cleanup, err := Wire(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	ledger := service.NewLedger(deps.Accounts, logger)
	if _, err := ledger.Ensure(ctx, cfg.Account); err != nil {
		return nil, fmt.Errorf("app: ensure account: %w", err)
	}

	events := service.NewEvents(deps.Audit, deps.SignalBus, redis.EventsChannel, deps.Notifier, logger)
	fills := paper.NewFillSimulator(cfg.Paper.SlippageRate, cfg.Paper.FeeRate)
	dedup := detector.NewDedup(deps.Opportunities, cfg.Detect.IdempotencyWindow.Duration)

	positions := service.NewPositionService(deps.Positions, deps.MarketData, fills,
		service.PositionServiceConfig{Close: cfg.Close, Carry: cfg.Carry, Cross: cfg.Cross, Detect: cfg.Detect},
		events, logger)
	pnl := service.NewPnlAggregator(positions, deps.Positions, deps.Pnl, logger)

	var rr scoring.Reranker
	var budget *scoring.Budget
	if cfg.Reranker.Enabled() {
		client, err := reranker.New(reranker.Config{
			URL:          cfg.Reranker.URL,
			APIKey:       cfg.Reranker.APIKey,
			Model:        cfg.Reranker.Model,
			Timeout:      cfg.Reranker.Timeout.Duration,
			FeatureNames: scoring.FeatureNames,
		})
		if err != nil {
			return nil, fmt.Errorf("app: reranker: %w", err)
		}
		rr = client
		budget = scoring.NewBudget(deps.Counter, cfg.Reranker.DailyBudget)
	}

	orchDeps := pipeline.Deps{
		Scraper:       pipeline.NewSnapshotScraper(deps.MarketData, deps.Snapshots, cfg.Carry, cfg.Detect, logger),
		Dedup:         dedup,
		Opportunities: deps.Opportunities,
		Scorer:        scoring.NewScorer(cfg.Scoring, cfg.Reranker, deps.Models, rr, budget, logger),
		Engine: executor.NewEngine(
			service.NewRiskGate(deps.Positions, cfg.Risk, logger), ledger,
			deps.Positions, deps.Opportunities, deps.Decisions, fills, events,
			executor.Config{
				ExecutePerTick: cfg.Scoring.ExecutePerTick,
				MaxQuoteAge:    cfg.Scoring.MaxQuoteAge.Duration,
			}, logger,
		),
		Positions: positions,
		Pnl:       pnl,
		Events:    events,
		Locks:     deps.Locks,
	}
	if cfg.Carry.Enabled {
		orchDeps.Carry = detector.NewCarryDetector(cfg.Carry, deps.Snapshots, deps.Opportunities, dedup, logger)
	}
	if cfg.Cross.Enabled {
		orchDeps.Cross = detector.NewCrossExchangeDetector(cfg.Cross, cfg.Detect, deps.MarketData, deps.Opportunities, dedup, logger)
	}
	if cfg.Triangular.Enabled {
		orchDeps.Triangular = detector.NewTriangularDetector(cfg.Triangular, cfg.Detect, deps.MarketData, deps.Opportunities, dedup, logger)
	}
	if deps.BlobWriter != nil {
		orchDeps.Archiver = pipeline.NewArchiver(deps.BlobWriter, cfg.S3.Prefix, logger)
	}

	orch := pipeline.NewOrchestrator(orchDeps, pipeline.Config{
		AccountID:         cfg.Account.ID,
		TickTimeout:       cfg.Scheduler.TickTimeout.Duration,
		CandidateLookback: cfg.Scoring.CandidateLookback.Duration,
	}, logger)

	return &Runtime{
		Deps:         deps,
		Orchestrator: orch,
		Positions:    positions,
		Pnl:          pnl,
		Trainer:      service.NewTrainer(deps.Decisions, deps.Models, cfg.Scoring, logger),
	}, nil
}

// Tick builds the runtime and runs a single tick.
func (a *App) Tick(ctx context.Context, opts pipeline.TickOptions) (*pipeline.TickResult, error) {
	rt, err := a.Build(ctx)
	if err != nil {
		return nil, err
	}
	return rt.Orchestrator.RunTick(ctx, opts)
}

// Train builds the runtime and fits a new scoring model.
func (a *App) Train(ctx context.Context) (domain.ScoringModel, error) {
	rt, err := a.Build(ctx)
	if err != nil {
		return domain.ScoringModel{}, err
	}
	return rt.Trainer.Train(ctx)
}

// Migrate applies the embedded PostgreSQL migrations.
func (a *App) Migrate(ctx context.Context) error {
	db, err := postgres.Open(ctx, a.cfg.Postgres)
	if err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}

// Serve runs the HTTP API, the tick scheduler and periodic retraining until
// ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("account", a.cfg.Account.ID),
		slog.String("store", a.cfg.Store),
		slog.String("log_level", a.cfg.LogLevel),
	)

	if !a.cfg.Server.Enabled && !a.cfg.Scheduler.Enabled {
		return fmt.Errorf("app: serve: both server and scheduler are disabled")
	}

	rt, err := a.Build(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(rt.Deps.Checks, a.logger),
			Tick:      handler.NewTickHandler(rt.Orchestrator, a.logger),
			Positions: handler.NewPositionHandler(rt.Positions, a.cfg.Account.ID, a.logger),
			Pnl:       handler.NewPnlHandler(rt.Pnl, a.logger),
		}, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			a.scheduleTicks(ctx, rt.Orchestrator, a.cfg.Scheduler.Interval.Duration)
			return nil
		})
	}

	if every := a.cfg.Scoring.RetrainInterval.Duration; every > 0 {
		g.Go(func() error {
			a.scheduleTraining(ctx, rt.Trainer, every)
			return nil
		})
	}

	return g.Wait()
}

func (a *App) scheduleTicks(ctx context.Context, orch *pipeline.Orchestrator, every time.Duration) {
	a.logger.InfoContext(ctx, "tick scheduler started", slog.Duration("interval", every))
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		res, err := orch.RunTick(ctx, pipeline.TickOptions{})
		switch {
		case errors.Is(err, domain.ErrTickInProgress):
			a.logger.WarnContext(ctx, "scheduled tick skipped, previous tick still running")
		case err != nil:
			a.logger.ErrorContext(ctx, "scheduled tick failed", slog.String("error", err.Error()))
		default:
			a.logger.InfoContext(ctx, "scheduled tick done",
				slog.String("tick_id", res.TickID),
				slog.Int("partial_failures", len(res.PartialFailures)),
				slog.Int("job_errors", len(res.JobErrors)),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) scheduleTraining(ctx context.Context, trainer *service.Trainer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		model, err := trainer.Train(ctx)
		if errors.Is(err, domain.ErrNoModel) {
			a.logger.InfoContext(ctx, "retrain skipped", slog.String("reason", err.Error()))
			continue
		}
		if err != nil {
			a.logger.ErrorContext(ctx, "retrain failed", slog.String("error", err.Error()))
			continue
		}
		a.logger.InfoContext(ctx, "model retrained",
			slog.Int("samples", model.Samples),
			slog.String("model_id", model.ID),
		)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
