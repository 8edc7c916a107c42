package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// Reranker is an external scorer consulted for a few top candidates. A nil
// Reranker disables re-ranking.
type Reranker interface {
	Score(ctx context.Context, features []float64) (float64, error)
}

// rerankCounterTTL keeps a day's counter around long enough to span UTC
// midnight for late ticks.
const rerankCounterTTL = 48 * time.Hour

// Budget enforces the shared daily re-rank call budget.
type Budget struct {
	counter domain.UsageCounter
	daily   int
	now     func() time.Time
}

// NewBudget creates a Budget of daily calls per UTC day.
func NewBudget(counter domain.UsageCounter, daily int) *Budget {
	return &Budget{counter: counter, daily: daily, now: time.Now}
}

// Key returns the usage counter key for the current UTC day.
func (b *Budget) Key() string {
	return "rerank:" + b.now().UTC().Format("2006-01-02")
}

// Take claims one call from today's budget. It returns
// domain.ErrBudgetExhausted when the budget is spent; the claim is rolled
// back in that case.
func (b *Budget) Take(ctx context.Context) error {
	if b.daily <= 0 {
		return domain.ErrBudgetExhausted
	}
	key := b.Key()
	n, err := b.counter.Incr(ctx, key, rerankCounterTTL)
	if err != nil {
		return fmt.Errorf("scoring: rerank budget: %w", err)
	}
	if n > int64(b.daily) {
		if _, err := b.counter.Decr(ctx, key); err != nil {
			return fmt.Errorf("scoring: rerank budget rollback: %w", err)
		}
		return domain.ErrBudgetExhausted
	}
	return nil
}

// Used returns how many calls were consumed today.
func (b *Budget) Used(ctx context.Context) (int64, error) {
	return b.counter.Get(ctx, b.Key())
}
