package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// Dedup suppresses opportunities already recorded for the same
// (venue key, symbol, type) within the idempotency window. Keys inserted by
// this process are remembered locally and the store is consulted for the
// rest. Safe for concurrent use.
type Dedup struct {
	opps domain.OpportunityStore
	ttl  time.Duration
	now  func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // key -> insert time
}

// NewDedup creates a Dedup with the given window.
func NewDedup(opps domain.OpportunityStore, ttl time.Duration) *Dedup {
	return &Dedup{
		opps: opps,
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

func dedupKey(venueKey, symbol string, typ domain.OpportunityType) string {
	return string(typ) + "|" + venueKey + "|" + symbol
}

// IsDuplicate reports whether an equivalent opportunity exists inside the
// window. It does not record anything.
func (d *Dedup) IsDuplicate(ctx context.Context, venueKey, symbol string, typ domain.OpportunityType) (bool, error) {
	now := d.now()
	key := dedupKey(venueKey, symbol, typ)

	d.mu.Lock()
	last, ok := d.seen[key]
	d.mu.Unlock()
	if ok && now.Sub(last) < d.ttl {
		return true, nil
	}

	exists, err := d.opps.ExistsSince(ctx, venueKey, symbol, typ, now.Add(-d.ttl))
	if err != nil {
		return false, fmt.Errorf("dedup: exists since: %w", err)
	}
	return exists, nil
}

// Record marks a key as inserted at ts.
func (d *Dedup) Record(venueKey, symbol string, typ domain.OpportunityType, ts time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[dedupKey(venueKey, symbol, typ)] = ts
}

// Cleanup removes entries older than the window.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// insert dedupes and persists opp, filling in the item. A non-nil error is a
// persistence failure.
func insert(ctx context.Context, opps domain.OpportunityStore, dedup *Dedup, opp domain.Opportunity, it *Item) error {
	dup, err := dedup.IsDuplicate(ctx, opp.VenueKey, opp.Symbol, opp.Type)
	if err != nil {
		return err
	}
	if dup {
		it.Outcome = OutcomeDuplicate
		it.Reason = ReasonDuplicate
		return nil
	}
	if err := opps.Insert(ctx, opp); err != nil {
		return fmt.Errorf("insert opportunity %s/%s: %w", opp.VenueKey, opp.Symbol, err)
	}
	dedup.Record(opp.VenueKey, opp.Symbol, opp.Type, opp.TS)
	it.Outcome = OutcomeInserted
	it.OpportunityID = opp.ID
	return nil
}
