package scoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func carryOpp(id string, net, conf, breakEven float64) domain.Opportunity {
	return domain.Opportunity{
		ID:         id,
		Type:       domain.OpportunityCarry,
		NetEdgeBps: net,
		Confidence: conf,
		Details: domain.OpportunityDetails{Carry: &domain.CarryDetails{
			BreakEvenHours:  breakEven,
			FundingDailyBps: 12,
			BasisBps:        40,
		}},
	}
}

// idWithVariant finds an id with the requested variant so tests do not
// depend on specific hash values.
func idWithVariant(t *testing.T, prefix string, v domain.Variant) string {
	t.Helper()
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		if AssignVariant(id) == v {
			return id
		}
	}
	t.Fatalf("no id with variant %s", v)
	return ""
}

func TestBuildFeaturesLayout(t *testing.T) {
	x := BuildFeatures(carryOpp("a", 36, 0.72, 0))
	require.Len(t, x, len(FeatureNames))
	assert.Equal(t, []float64{1, 36, 0.72, 0, 12, 40, 1, 0, 0}, x)

	cross := BuildFeatures(domain.Opportunity{Type: domain.OpportunityCrossExchange, NetEdgeBps: 20, Confidence: 0.5})
	assert.Equal(t, []float64{1, 20, 0.5, 0, 0, 0, 0, 1, 0}, cross)
}

func TestRuleScoreMonotonic(t *testing.T) {
	base := carryOpp("a", 20, 0.4, 10)

	better := base
	better.NetEdgeBps = 30
	assert.Less(t, RuleScore(better), RuleScore(base))

	confident := base
	confident.Confidence = 0.9
	assert.Less(t, RuleScore(confident), RuleScore(base))

	slow := carryOpp("a", 20, 0.4, 40)
	assert.Greater(t, RuleScore(slow), RuleScore(base))

	cross := base
	cross.Type = domain.OpportunityCrossExchange
	tri := base
	tri.Type = domain.OpportunityTriangular
	unknown := base
	unknown.Type = "other"
	assert.Less(t, RuleScore(base), RuleScore(cross))
	assert.Less(t, RuleScore(cross), RuleScore(tri))
	assert.Less(t, RuleScore(tri), RuleScore(unknown))
}

func TestAssignVariantDeterministic(t *testing.T) {
	// FNV-1a("") = 0x811c9dc5 (odd), FNV-1a("a") = 0xe40c292c (even).
	assert.Equal(t, domain.VariantB, AssignVariant(""))
	assert.Equal(t, domain.VariantA, AssignVariant("a"))
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("opp-%d", i)
		assert.Equal(t, AssignVariant(id), AssignVariant(id))
	}
}

func TestFitRequiresMinSamples(t *testing.T) {
	samples := []domain.TrainingSample{{Features: make([]float64, FeatureCount), OutcomeBps: 1}}
	_, err := Fit(samples, 1, 30)
	assert.ErrorIs(t, err, domain.ErrNoModel)

	_, err = Fit(nil, 1, 0)
	assert.ErrorIs(t, err, domain.ErrNoModel)
}

func TestFitRecoversLinearTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var samples []domain.TrainingSample
	for i := 0; i < 200; i++ {
		net := rng.Float64() * 50
		o := carryOpp("x", net, net/50, 0)
		// Realized outcome grows with net edge: y = -(net/2).
		samples = append(samples, domain.TrainingSample{Features: BuildFeatures(o), OutcomeBps: net / 2})
	}

	m, err := Fit(samples, 0.01, 30)
	require.NoError(t, err)
	assert.Equal(t, 200, m.Samples)
	require.Len(t, m.Weights, FeatureCount)

	hi, ok := Predict(m, BuildFeatures(carryOpp("h", 40, 0.8, 0)))
	require.True(t, ok)
	lo, _ := Predict(m, BuildFeatures(carryOpp("l", 10, 0.2, 0)))
	assert.Less(t, hi, lo)
	assert.InDelta(t, -20, hi, 0.5)
}

func TestFitRidgeShrinksWeights(t *testing.T) {
	var samples []domain.TrainingSample
	for i := 0; i < 40; i++ {
		net := float64(i)
		samples = append(samples, domain.TrainingSample{Features: BuildFeatures(carryOpp("x", net, 0, 0)), OutcomeBps: net})
	}
	loose, err := Fit(samples, 0.001, 30)
	require.NoError(t, err)
	tight, err := Fit(samples, 1e6, 30)
	require.NoError(t, err)

	norm := func(w []float64) float64 {
		var s float64
		for _, v := range w {
			s += v * v
		}
		return s
	}
	assert.Less(t, norm(tight.Weights), norm(loose.Weights))
}

func TestPredictDimensionMismatch(t *testing.T) {
	_, ok := Predict(domain.ScoringModel{Weights: []float64{1, 2}}, make([]float64, FeatureCount))
	assert.False(t, ok)
}

func TestScoreVariantUsesModel(t *testing.T) {
	a := carryOpp(idWithVariant(t, "a", domain.VariantA), 20, 0.4, 0)
	b := carryOpp(idWithVariant(t, "b", domain.VariantB), 20, 0.4, 0)
	model := &domain.ScoringModel{Weights: []float64{-100, 0, 0, 0, 0, 0, 0, 0, 0}}

	cs := Score([]domain.Opportunity{a, b}, model)
	require.Len(t, cs, 2)
	assert.Equal(t, cs[0].ScoreRule, cs[0].ScoreEffective)
	require.NotNil(t, cs[1].ScoreAI)
	assert.Equal(t, -100.0, cs[1].ScoreEffective)

	noModel := Score([]domain.Opportunity{b}, nil)
	assert.Nil(t, noModel[0].ScoreAI)
	assert.Equal(t, noModel[0].ScoreRule, noModel[0].ScoreEffective)
}

type stubReranker struct {
	calls int
	score float64
	err   error
	block bool
}

func (s *stubReranker) Score(ctx context.Context, _ []float64) (float64, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.score, s.err
}

func newTestScorer(models domain.ModelStore, rr Reranker, budget *Budget) *Scorer {
	cfg := config.Defaults()
	cfg.Reranker.Timeout.Duration = 20 * time.Millisecond
	return NewScorer(cfg.Scoring, cfg.Reranker, models, rr, budget, testLogger())
}

func TestRankSortsAscendingAndTruncates(t *testing.T) {
	var opps []domain.Opportunity
	for i := 0; i < 30; i++ {
		opps = append(opps, carryOpp(fmt.Sprintf("o%02d", i), float64(i), 0.5, 0))
	}
	s := newTestScorer(memory.New().Models(), nil, nil)

	cs, stats := s.Rank(context.Background(), opps)
	require.Len(t, cs, 20)
	assert.Zero(t, stats.Attempted)
	assert.Equal(t, 29.0, cs[0].Opportunity.NetEdgeBps)
	for i := 1; i < len(cs); i++ {
		assert.LessOrEqual(t, cs[i-1].ScoreEffective, cs[i].ScoreEffective)
	}
}

func TestRerankerTimeoutFallsBack(t *testing.T) {
	o := carryOpp(idWithVariant(t, "b", domain.VariantB), 25, 0.5, 0)
	counter := memory.NewCounter()
	rr := &stubReranker{block: true}
	s := newTestScorer(memory.New().Models(), rr, NewBudget(counter, 50))

	cs, stats := s.Rank(context.Background(), []domain.Opportunity{o})
	require.Len(t, cs, 1)
	assert.Equal(t, cs[0].ScoreRule, cs[0].ScoreEffective)
	assert.False(t, cs[0].Reranked)
	assert.Equal(t, 1, stats.Attempted)
	assert.Equal(t, 1, stats.Failed)

	used, err := counter.Get(context.Background(), NewBudget(counter, 50).Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)
}

func TestRerankerOverridesVariantBOnly(t *testing.T) {
	a := carryOpp(idWithVariant(t, "a", domain.VariantA), 25, 0.5, 0)
	b := carryOpp(idWithVariant(t, "b", domain.VariantB), 10, 0.5, 0)
	rr := &stubReranker{score: -1000}
	s := newTestScorer(memory.New().Models(), rr, NewBudget(memory.NewCounter(), 50))

	cs, stats := s.Rank(context.Background(), []domain.Opportunity{a, b})
	require.Len(t, cs, 2)
	assert.Equal(t, 1, rr.calls)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, b.ID, cs[0].Opportunity.ID)
	assert.True(t, cs[0].Reranked)
	assert.Equal(t, -1000.0, cs[0].ScoreEffective)
}

func TestRerankerPerTickCap(t *testing.T) {
	var opps []domain.Opportunity
	for i := 0; i < 6; i++ {
		opps = append(opps, carryOpp(idWithVariant(t, fmt.Sprintf("b%d", i), domain.VariantB), 10, 0.5, 0))
	}
	rr := &stubReranker{score: 1}
	s := newTestScorer(memory.New().Models(), rr, NewBudget(memory.NewCounter(), 50))

	_, stats := s.Rank(context.Background(), opps)
	assert.Equal(t, 3, rr.calls)
	assert.Equal(t, 3, stats.Attempted)
}

func TestRerankerDailyBudget(t *testing.T) {
	counter := memory.NewCounter()
	budget := NewBudget(counter, 2)
	ctx := context.Background()
	require.NoError(t, budget.Take(ctx))

	var opps []domain.Opportunity
	for i := 0; i < 3; i++ {
		opps = append(opps, carryOpp(idWithVariant(t, fmt.Sprintf("b%d", i), domain.VariantB), 10, 0.5, 0))
	}
	rr := &stubReranker{score: 1}
	s := newTestScorer(memory.New().Models(), rr, budget)

	_, stats := s.Rank(ctx, opps)
	assert.Equal(t, 1, rr.calls)
	assert.Equal(t, 1, stats.Exhausted)

	used, err := budget.Used(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), used)
}

func TestRerankerErrorKeepsScore(t *testing.T) {
	o := carryOpp(idWithVariant(t, "b", domain.VariantB), 25, 0.5, 0)
	rr := &stubReranker{err: errors.New("upstream 500")}
	s := newTestScorer(memory.New().Models(), rr, NewBudget(memory.NewCounter(), 50))

	cs, _ := s.Rank(context.Background(), []domain.Opportunity{o})
	assert.Equal(t, cs[0].ScoreRule, cs[0].ScoreEffective)
}

func TestLoadModelIgnoresWrongDimension(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.Models().Save(context.Background(), domain.ScoringModel{ID: "m", Weights: []float64{1}}))
	s := newTestScorer(st.Models(), nil, nil)
	assert.Nil(t, s.LoadModel(context.Background()))
}
