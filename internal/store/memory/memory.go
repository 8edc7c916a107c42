// Package memory implements the arbiter repositories with in-memory maps.
// Used for tests, dry runs and development; nothing is persisted.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// Store holds every table behind a single mutex so multi-table operations
// (open/close with their ledger effect) are atomic.
type Store struct {
	mu            sync.RWMutex
	snapshots     []domain.MarketSnapshot
	opportunities map[string]domain.Opportunity
	positions     map[string]domain.Position
	executions    []domain.Execution
	accounts      map[string]domain.PaperAccount
	decisions     map[string]domain.OpportunityDecision
	models        []domain.ScoringModel
	pnl           map[pnlKey]domain.DailyStrategyPnl
	audit         []domain.AuditEntry
	nextID        int64
}

type pnlKey struct {
	day      string
	strategy string
	exchange string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		opportunities: make(map[string]domain.Opportunity),
		positions:     make(map[string]domain.Position),
		accounts:      make(map[string]domain.PaperAccount),
		decisions:     make(map[string]domain.OpportunityDecision),
		pnl:           make(map[pnlKey]domain.DailyStrategyPnl),
	}
}

// Snapshots returns the SnapshotStore view.
func (s *Store) Snapshots() *SnapshotStore { return &SnapshotStore{s} }

// Opportunities returns the OpportunityStore view.
func (s *Store) Opportunities() *OpportunityStore { return &OpportunityStore{s} }

// Positions returns the PositionStore view.
func (s *Store) Positions() *PositionStore { return &PositionStore{s} }

// Accounts returns the AccountStore view.
func (s *Store) Accounts() *AccountStore { return &AccountStore{s} }

// Decisions returns the DecisionStore view.
func (s *Store) Decisions() *DecisionStore { return &DecisionStore{s} }

// Models returns the ModelStore view.
func (s *Store) Models() *ModelStore { return &ModelStore{s} }

// Pnl returns the PnlStore view.
func (s *Store) Pnl() *PnlStore { return &PnlStore{s} }

// Audit returns the AuditStore view.
func (s *Store) Audit() *AuditStore { return &AuditStore{s} }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct{ s *Store }

func (v *SnapshotStore) Insert(_ context.Context, snap domain.MarketSnapshot) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	snap.ID = v.s.id()
	v.s.snapshots = append(v.s.snapshots, snap)
	return nil
}

func (v *SnapshotStore) ListSince(_ context.Context, since time.Time) ([]domain.MarketSnapshot, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.MarketSnapshot
	for _, m := range v.s.snapshots {
		if !m.TS.Before(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TS.Equal(out[j].TS) {
			return out[i].ID > out[j].ID
		}
		return out[i].TS.After(out[j].TS)
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// Opportunities
// ---------------------------------------------------------------------------

// OpportunityStore implements domain.OpportunityStore.
type OpportunityStore struct{ s *Store }

func (v *OpportunityStore) Insert(_ context.Context, o domain.Opportunity) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.opportunities[o.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if o.Status == "" {
		o.Status = domain.OpportunityStatusNew
	}
	v.s.opportunities[o.ID] = o
	return nil
}

func (v *OpportunityStore) ExistsSince(_ context.Context, venueKey, symbol string, typ domain.OpportunityType, since time.Time) (bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, o := range v.s.opportunities {
		if o.VenueKey == venueKey && o.Symbol == symbol && o.Type == typ && !o.TS.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (v *OpportunityStore) GetByID(_ context.Context, id string) (domain.Opportunity, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	o, ok := v.s.opportunities[id]
	if !ok {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	return o, nil
}

func (v *OpportunityStore) ListNew(_ context.Context, since time.Time, limit int) ([]domain.Opportunity, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Opportunity
	for _, o := range v.s.opportunities {
		if o.Status == domain.OpportunityStatusNew && !o.TS.Before(since) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TS.Equal(out[j].TS) {
			return out[i].ID < out[j].ID
		}
		return out[i].TS.After(out[j].TS)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *OpportunityStore) MarkConsumed(_ context.Context, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	o, ok := v.s.opportunities[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = domain.OpportunityStatusConsumed
	v.s.opportunities[id] = o
	return nil
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// AccountStore implements domain.AccountStore.
type AccountStore struct{ s *Store }

func (v *AccountStore) Ensure(_ context.Context, a domain.PaperAccount) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.accounts[a.AccountID]; ok {
		return nil
	}
	a.ReservedUSD = 0
	a.UpdatedAt = time.Now().UTC()
	v.s.accounts[a.AccountID] = a
	return nil
}

func (v *AccountStore) Get(_ context.Context, accountID string) (domain.PaperAccount, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	a, ok := v.s.accounts[accountID]
	if !ok {
		return domain.PaperAccount{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *Store) reserveLocked(accountID string, amount float64) (domain.PaperAccount, error) {
	a, ok := s.accounts[accountID]
	if !ok {
		return domain.PaperAccount{}, domain.ErrNotFound
	}
	next, err := a.Reserve(amount)
	if err != nil {
		return a, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = next
	return next, nil
}

func (s *Store) releaseLocked(accountID string, amount float64) (domain.PaperAccount, error) {
	a, ok := s.accounts[accountID]
	if !ok {
		return domain.PaperAccount{}, domain.ErrNotFound
	}
	next, err := a.Release(amount)
	if err != nil {
		return a, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = next
	return next, nil
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// PositionStore implements domain.PositionStore.
type PositionStore struct{ s *Store }

func clonePosition(p domain.Position) domain.Position {
	p.EntryLegs = append([]domain.PositionLeg(nil), p.EntryLegs...)
	p.ExitLegs = append([]domain.PositionLeg(nil), p.ExitLegs...)
	if p.RealizedPnlUSD != nil {
		v := *p.RealizedPnlUSD
		p.RealizedPnlUSD = &v
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		p.ClosedAt = &t
	}
	return p
}

func (v *PositionStore) Open(_ context.Context, p domain.Position, execs []domain.Execution, reserveUSD float64) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.positions[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := v.s.accounts[p.AccountID]; !ok {
		return domain.ErrNotFound
	}
	if reserveUSD > 0 {
		// Validate first so a failed reserve leaves nothing behind.
		if _, err := v.s.accounts[p.AccountID].Reserve(reserveUSD); err != nil {
			return err
		}
	}

	v.s.positions[p.ID] = clonePosition(p)
	v.s.appendExecutionsLocked(execs)
	if reserveUSD > 0 {
		if _, err := v.s.reserveLocked(p.AccountID, reserveUSD); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendExecutionsLocked(execs []domain.Execution) {
	for _, e := range execs {
		e.ID = s.id()
		s.executions = append(s.executions, e)
	}
}

func (v *PositionStore) Close(_ context.Context, req domain.ClosePositionRequest, execs []domain.Execution) (domain.Position, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.positions[req.PositionID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	if p.Status != domain.PositionStatusOpen {
		return domain.Position{}, domain.ErrAlreadyClosed
	}

	closedAt := req.ClosedAt
	realized := req.RealizedPnlUSD
	p.Status = domain.PositionStatusClosed
	p.ExitLegs = append([]domain.PositionLeg(nil), req.ExitLegs...)
	p.RealizedPnlUSD = &realized
	p.ClosedAt = &closedAt
	p.Meta.ExitFeesUSD = req.ExitFeesUSD
	p.Meta.CloseReason = req.Reason

	if req.ReleaseUSD > 0 {
		if _, err := v.s.releaseLocked(p.AccountID, req.ReleaseUSD); err != nil {
			return domain.Position{}, err
		}
	}
	v.s.positions[p.ID] = p
	v.s.appendExecutionsLocked(execs)
	return clonePosition(p), nil
}

func (v *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	p, ok := v.s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(p), nil
}

func (v *PositionStore) ListByStatus(_ context.Context, accountID string, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Position
	for _, p := range v.s.positions {
		if p.AccountID != accountID || p.Status != status {
			continue
		}
		if opts.Since != nil && p.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && p.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, clonePosition(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (v *PositionStore) CountOpenedSince(_ context.Context, accountID string, since time.Time) (int, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	n := 0
	for _, p := range v.s.positions {
		if p.AccountID == accountID && !p.OpenedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (v *PositionStore) ListClosedSince(_ context.Context, accountID string, since time.Time) ([]domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Position
	for _, p := range v.s.positions {
		if p.AccountID == accountID && p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && !p.ClosedAt.Before(since) {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.After(*out[j].ClosedAt) })
	return out, nil
}

func (v *PositionStore) ListExecutions(_ context.Context, positionID string) ([]domain.Execution, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Execution
	for _, e := range v.s.executions {
		if e.PositionID == positionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Decisions and models
// ---------------------------------------------------------------------------

// DecisionStore implements domain.DecisionStore.
type DecisionStore struct{ s *Store }

func (v *DecisionStore) Insert(_ context.Context, d domain.OpportunityDecision) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.decisions[d.ID]; ok {
		return domain.ErrAlreadyExists
	}
	d.Features = append([]float64(nil), d.Features...)
	v.s.decisions[d.ID] = d
	return nil
}

func (v *DecisionStore) MarkChosen(_ context.Context, id, positionID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.decisions[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Chosen = true
	d.PositionID = positionID
	d.Reason = ""
	v.s.decisions[id] = d
	return nil
}

func (v *DecisionStore) MarkRejected(_ context.Context, id, reason string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.decisions[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Chosen = false
	d.Reason = reason
	v.s.decisions[id] = d
	return nil
}

// Get returns a decision by id.
func (v *DecisionStore) Get(id string) (domain.OpportunityDecision, bool) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	d, ok := v.s.decisions[id]
	return d, ok
}

// All returns every decision, oldest first.
func (v *DecisionStore) All() []domain.OpportunityDecision {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.OpportunityDecision, 0, len(v.s.decisions))
	for _, d := range v.s.decisions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

func (v *DecisionStore) ListTrainingSamples(_ context.Context, since time.Time) ([]domain.TrainingSample, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.TrainingSample
	for _, d := range v.s.decisions {
		if !d.Chosen || d.PositionID == "" || d.TS.Before(since) {
			continue
		}
		p, ok := v.s.positions[d.PositionID]
		if !ok || p.Status != domain.PositionStatusClosed || p.RealizedPnlUSD == nil || p.Meta.NotionalUSD <= 0 {
			continue
		}
		out = append(out, domain.TrainingSample{
			Features:    append([]float64(nil), d.Features...),
			OutcomeBps:  *p.RealizedPnlUSD / p.Meta.NotionalUSD * 10_000,
			DecidedAt:   d.TS,
			NotionalUSD: p.Meta.NotionalUSD,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

// ModelStore implements domain.ModelStore.
type ModelStore struct{ s *Store }

func (v *ModelStore) Save(_ context.Context, m domain.ScoringModel) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	m.Weights = append([]float64(nil), m.Weights...)
	v.s.models = append(v.s.models, m)
	return nil
}

func (v *ModelStore) Latest(_ context.Context) (domain.ScoringModel, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if len(v.s.models) == 0 {
		return domain.ScoringModel{}, domain.ErrNotFound
	}
	latest := v.s.models[0]
	for _, m := range v.s.models[1:] {
		if !m.TrainedAt.Before(latest.TrainedAt) {
			latest = m
		}
	}
	return latest, nil
}

// ---------------------------------------------------------------------------
// PnL and audit
// ---------------------------------------------------------------------------

// PnlStore implements domain.PnlStore.
type PnlStore struct{ s *Store }

func (v *PnlStore) Upsert(_ context.Context, rows []domain.DailyStrategyPnl) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range rows {
		r.Day = domain.Day(r.Day)
		r.UpdatedAt = now
		v.s.pnl[pnlKey{r.Day.Format(time.DateOnly), r.StrategyKey, r.ExchangeKey}] = r
	}
	return nil
}

func (v *PnlStore) ListDay(_ context.Context, day time.Time) ([]domain.DailyStrategyPnl, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	want := domain.Day(day).Format(time.DateOnly)
	var out []domain.DailyStrategyPnl
	for k, r := range v.s.pnl {
		if k.day == want {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyKey == out[j].StrategyKey {
			return out[i].ExchangeKey < out[j].ExchangeKey
		}
		return out[i].StrategyKey < out[j].StrategyKey
	})
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

func (v *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.audit = append(v.s.audit, domain.AuditEntry{
		ID:        v.s.id(),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (v *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.AuditEntry, 0, len(v.s.audit))
	for i := len(v.s.audit) - 1; i >= 0; i-- {
		e := v.s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

var (
	_ domain.SnapshotStore    = (*SnapshotStore)(nil)
	_ domain.OpportunityStore = (*OpportunityStore)(nil)
	_ domain.PositionStore    = (*PositionStore)(nil)
	_ domain.AccountStore     = (*AccountStore)(nil)
	_ domain.DecisionStore    = (*DecisionStore)(nil)
	_ domain.ModelStore       = (*ModelStore)(nil)
	_ domain.PnlStore         = (*PnlStore)(nil)
	_ domain.AuditStore       = (*AuditStore)(nil)
)
