package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/indijan/arbiter/internal/detector"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/executor"
	"github.com/indijan/arbiter/internal/metrics"
	"github.com/indijan/arbiter/internal/scoring"
	"github.com/indijan/arbiter/internal/service"
)

// Job names, in execution order.
const (
	JobIngest           = "ingest"
	JobDetectCarry      = "detect_carry"
	JobDetectCross      = "detect_cross_exchange"
	JobDetectTriangular = "detect_triangular"
	JobExecute          = "execute"
	JobClose            = "close"
	JobPnl              = "pnl"
)

// maxCandidates bounds how many new opportunities one tick scores.
const maxCandidates = 500

// TickOptions are the per-tick overrides accepted by RunTick.
type TickOptions struct {
	HoldingHours float64 `json:"holding_hours,omitempty"`
}

// JobResult is the outcome of one job within a tick.
type JobResult struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// JobError is a job that aborted, with its error message.
type JobError struct {
	Job   string `json:"job"`
	Error string `json:"error"`
}

// TickResult is the full report of one tick. Partial is set when any unit
// was skipped or any job aborted. PartialFailures lists the skipped units
// (symbols, paths, positions); JobErrors lists the aborted jobs in run order.
type TickResult struct {
	TickID          string              `json:"tick_id"`
	AccountID       string              `json:"account_id"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
	Jobs            []JobResult         `json:"jobs"`
	Partial         bool                `json:"partial_failures"`
	PartialFailures []string            `json:"partial_failure_details"`
	JobErrors       []JobError          `json:"job_errors"`
	Rerank          scoring.RerankStats `json:"rerank"`
	ArchiveKey      string              `json:"archive_key,omitempty"`
}

// JobError returns the error message of the named job, if it aborted.
func (r *TickResult) JobError(name string) (string, bool) {
	for _, je := range r.JobErrors {
		if je.Job == name {
			return je.Error, true
		}
	}
	return "", false
}

// Job returns the named job result, if it ran.
func (r *TickResult) Job(name string) (JobResult, bool) {
	for _, j := range r.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobResult{}, false
}

// Deps are the stages the orchestrator drives. Nil detectors are disabled;
// Archiver and Locks are optional.
type Deps struct {
	Scraper       *SnapshotScraper
	Carry         *detector.CarryDetector
	Cross         *detector.CrossExchangeDetector
	Triangular    *detector.TriangularDetector
	Dedup         *detector.Dedup
	Opportunities domain.OpportunityStore
	Scorer        *scoring.Scorer
	Engine        *executor.Engine
	Positions     *service.PositionService
	Pnl           *service.PnlAggregator
	Events        *service.Events
	Archiver      *Archiver
	Locks         domain.LockManager
}

// Config holds the orchestrator settings.
type Config struct {
	AccountID         string
	TickTimeout       time.Duration
	CandidateLookback time.Duration
}

// Orchestrator runs ticks: ingest, detect, score and execute, close and
// aggregate, one tick at a time per account.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "orchestrator")),
		now:      time.Now,
		accounts: make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) accountMutex(accountID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.accounts[accountID]
	if !ok {
		m = &sync.Mutex{}
		o.accounts[accountID] = m
	}
	return m
}

// RunTick runs one tick for the configured account. It fails only with
// domain.ErrTickInProgress when another tick holds the account; job failures
// are reported in the result.
func (o *Orchestrator) RunTick(ctx context.Context, opts TickOptions) (*TickResult, error) {
	accountID := o.cfg.AccountID

	am := o.accountMutex(accountID)
	if !am.TryLock() {
		return nil, fmt.Errorf("orchestrator: account %s: %w", accountID, domain.ErrTickInProgress)
	}
	defer am.Unlock()

	res := &TickResult{
		TickID:          uuid.NewString(),
		AccountID:       accountID,
		StartedAt:       o.now().UTC(),
		Jobs:            []JobResult{},
		PartialFailures: []string{},
		JobErrors:       []JobError{},
	}

	if o.deps.Locks != nil {
		ttl := o.cfg.TickTimeout
		if ttl <= 0 {
			ttl = time.Minute
		}
		unlock, err := o.deps.Locks.Acquire(ctx, "tick:"+accountID, ttl)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return nil, fmt.Errorf("orchestrator: account %s: %w", accountID, domain.ErrTickInProgress)
		case err != nil:
			o.logger.WarnContext(ctx, "distributed tick lock unavailable, continuing with local lock",
				slog.String("error", err.Error()),
			)
			res.PartialFailures = append(res.PartialFailures, "lock: "+err.Error())
		default:
			defer unlock()
		}
	}

	if o.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TickTimeout)
		defer cancel()
	}

	log := o.logger.With(slog.String("tick_id", res.TickID), slog.String("account", accountID))
	log.InfoContext(ctx, "tick started")

	if o.deps.Scraper != nil {
		o.runJob(ctx, res, JobIngest, func(ctx context.Context) (any, []string, error) {
			rep, err := o.deps.Scraper.Run(ctx)
			var partial []string
			if rep != nil {
				for _, it := range rep.Items {
					if it.Error != "" {
						partial = append(partial, fmt.Sprintf("%s/%s: %s", it.Venue, it.Symbol, it.Error))
					}
				}
			}
			return rep, partial, err
		})
	}
	if o.deps.Carry != nil {
		o.runJob(ctx, res, JobDetectCarry, func(ctx context.Context) (any, []string, error) {
			return detectorJob(o.deps.Carry.Detect(ctx, opts.HoldingHours))
		})
	}
	if o.deps.Cross != nil {
		o.runJob(ctx, res, JobDetectCross, func(ctx context.Context) (any, []string, error) {
			return detectorJob(o.deps.Cross.Detect(ctx))
		})
	}
	if o.deps.Triangular != nil {
		o.runJob(ctx, res, JobDetectTriangular, func(ctx context.Context) (any, []string, error) {
			return detectorJob(o.deps.Triangular.Detect(ctx))
		})
	}
	if o.deps.Engine != nil && o.deps.Scorer != nil {
		o.runJob(ctx, res, JobExecute, func(ctx context.Context) (any, []string, error) {
			since := o.now().Add(-o.cfg.CandidateLookback)
			opps, err := o.deps.Opportunities.ListNew(ctx, since, maxCandidates)
			if err != nil {
				return nil, nil, fmt.Errorf("list candidates: %w", err)
			}
			cands, stats := o.deps.Scorer.Rank(ctx, opps)
			res.Rerank = stats
			rep, err := o.deps.Engine.Execute(ctx, accountID, cands)
			return rep, nil, err
		})
	}
	if o.deps.Positions != nil {
		o.runJob(ctx, res, JobClose, func(ctx context.Context) (any, []string, error) {
			rep, err := o.deps.Positions.MonitorOpen(ctx, accountID)
			var partial []string
			if rep != nil {
				for _, it := range rep.Items {
					if it.Reason == service.SkipLivePriceError {
						partial = append(partial, fmt.Sprintf("position %s: %s", it.PositionID, it.Error))
					}
				}
			}
			return rep, partial, err
		})
	}
	if o.deps.Pnl != nil {
		o.runJob(ctx, res, JobPnl, func(ctx context.Context) (any, []string, error) {
			rep, err := o.deps.Pnl.Aggregate(ctx, accountID)
			var partial []string
			if rep != nil {
				for _, id := range rep.Unpriced {
					partial = append(partial, "position "+id+": unpriced")
				}
			}
			return rep, partial, err
		})
	}

	if o.deps.Dedup != nil {
		o.deps.Dedup.Cleanup()
	}

	res.FinishedAt = o.now().UTC()
	res.Partial = len(res.PartialFailures) > 0 || len(res.JobErrors) > 0
	metrics.TickDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	// Archival and events run after the deadline-bound jobs.
	post := context.WithoutCancel(ctx)
	if o.deps.Archiver != nil {
		key, err := o.deps.Archiver.Archive(post, res)
		if err != nil {
			log.WarnContext(ctx, "archive tick report failed", slog.String("error", err.Error()))
		} else {
			res.ArchiveKey = key
		}
	}

	summary := map[string]any{
		"tick_id":          res.TickID,
		"account":          accountID,
		"duration_ms":      res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		"partial_failures": len(res.PartialFailures),
		"job_errors":       len(res.JobErrors),
	}
	if len(res.JobErrors) > 0 {
		for _, je := range res.JobErrors {
			summary["error_"+je.Job] = je.Error
		}
		o.deps.Events.Emit(post, service.EventTickFailed, summary)
		log.ErrorContext(ctx, "tick finished with job errors", slog.Int("job_errors", len(res.JobErrors)))
	} else {
		o.deps.Events.Emit(post, service.EventTickCompleted, summary)
		log.InfoContext(ctx, "tick finished",
			slog.Int("partial_failures", len(res.PartialFailures)),
			slog.Int64("duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds()),
		)
	}
	return res, nil
}

type jobFunc func(ctx context.Context) (result any, partial []string, err error)

// runJob runs fn and records its result. A panic or error fails the job but
// never the tick.
func (o *Orchestrator) runJob(ctx context.Context, res *TickResult, name string, fn jobFunc) {
	start := time.Now()
	jr := JobResult{Name: name}

	result, partial, err := func() (result any, partial []string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if cerr := ctx.Err(); cerr != nil {
			return nil, nil, fmt.Errorf("tick deadline: %w", cerr)
		}
		return fn(ctx)
	}()

	jr.DurationMS = time.Since(start).Milliseconds()
	jr.Result = result
	for _, p := range partial {
		res.PartialFailures = append(res.PartialFailures, name+": "+p)
	}
	if err != nil {
		jr.Error = err.Error()
		res.JobErrors = append(res.JobErrors, JobError{Job: name, Error: err.Error()})
		metrics.JobFailures.WithLabelValues(name).Inc()
		o.logger.ErrorContext(ctx, "job failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
	} else {
		jr.OK = true
	}
	res.Jobs = append(res.Jobs, jr)
}

// detectorJob adapts a detector run to a job, turning quote errors and
// failed items into partial failures.
func detectorJob(rep *detector.Report, err error) (any, []string, error) {
	if rep == nil {
		return nil, nil, err
	}
	var partial []string
	for _, it := range rep.Items {
		unit := it.Symbol
		if it.VenueKey != "" {
			unit = it.VenueKey + "/" + it.Symbol
		}
		switch {
		case len(it.Errors) > 0:
			for _, e := range it.Errors {
				partial = append(partial, unit+": "+e)
			}
		case it.Outcome == detector.OutcomeFailed:
			partial = append(partial, unit+": "+it.Reason)
		}
	}
	return rep, partial, err
}
