package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SnapshotStore persists ingested market snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, snap MarketSnapshot) error
	// ListSince returns snapshots newer than since, freshest first.
	ListSince(ctx context.Context, since time.Time) ([]MarketSnapshot, error)
}

// OpportunityStore persists detected opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	// ExistsSince reports whether an opportunity with the same key was
	// recorded at or after since.
	ExistsSince(ctx context.Context, venueKey, symbol string, typ OpportunityType, since time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (Opportunity, error)
	ListNew(ctx context.Context, since time.Time, limit int) ([]Opportunity, error)
	MarkConsumed(ctx context.Context, id string) error
}

// PositionStore persists positions and their executions. Open and Close are
// atomic with their ledger effect.
type PositionStore interface {
	// Open records the position and its executions, then reserves
	// reserveUSD on the account, all in one unit. A zero reserve skips the
	// ledger update.
	Open(ctx context.Context, pos Position, execs []Execution, reserveUSD float64) error
	// Close transitions an open position to closed, appends exit
	// executions and releases capital, all in one unit.
	Close(ctx context.Context, req ClosePositionRequest, execs []Execution) (Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	ListByStatus(ctx context.Context, accountID string, status PositionStatus, opts ListOpts) ([]Position, error)
	CountOpenedSince(ctx context.Context, accountID string, since time.Time) (int, error)
	ListClosedSince(ctx context.Context, accountID string, since time.Time) ([]Position, error)
	ListExecutions(ctx context.Context, positionID string) ([]Execution, error)
}

// AccountStore persists paper accounts. Reserved capital changes only
// inside PositionStore.Open and PositionStore.Close.
type AccountStore interface {
	Ensure(ctx context.Context, acct PaperAccount) error
	Get(ctx context.Context, accountID string) (PaperAccount, error)
}

// DecisionStore persists scoring decisions.
type DecisionStore interface {
	Insert(ctx context.Context, d OpportunityDecision) error
	MarkChosen(ctx context.Context, id, positionID string) error
	MarkRejected(ctx context.Context, id, reason string) error
	// ListTrainingSamples joins decisions to closed positions and returns
	// those with a realized outcome.
	ListTrainingSamples(ctx context.Context, since time.Time) ([]TrainingSample, error)
}

// ModelStore persists fitted scoring models.
type ModelStore interface {
	Save(ctx context.Context, m ScoringModel) error
	Latest(ctx context.Context) (ScoringModel, error)
}

// PnlStore persists daily PnL rollups.
type PnlStore interface {
	Upsert(ctx context.Context, rows []DailyStrategyPnl) error
	ListDay(ctx context.Context, day time.Time) ([]DailyStrategyPnl, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
