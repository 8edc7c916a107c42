package scoring

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/metrics"
)

// Candidate is a scored opportunity.
type Candidate struct {
	Opportunity    domain.Opportunity `json:"opportunity"`
	Features       []float64          `json:"features"`
	Variant        domain.Variant     `json:"variant"`
	ScoreRule      float64            `json:"score_rule"`
	ScoreAI        *float64           `json:"score_ai,omitempty"`
	ScoreEffective float64            `json:"score_effective"`
	Reranked       bool               `json:"reranked"`
}

// RerankStats summarises re-ranker use during one Rank call.
type RerankStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// Scorer ranks opportunities. It is safe for concurrent use.
type Scorer struct {
	candidateCount int
	perTick        int
	timeout        time.Duration
	models         domain.ModelStore
	reranker       Reranker
	budget         *Budget
	logger         *slog.Logger
}

// NewScorer creates a Scorer. reranker and budget may be nil, which disables
// external re-ranking.
func NewScorer(cfg config.ScoringConfig, rcfg config.RerankerConfig, models domain.ModelStore, reranker Reranker, budget *Budget, logger *slog.Logger) *Scorer {
	return &Scorer{
		candidateCount: cfg.CandidateCount,
		perTick:        rcfg.PerTick,
		timeout:        rcfg.Timeout.Duration,
		models:         models,
		reranker:       reranker,
		budget:         budget,
		logger:         logger.With(slog.String("component", "scorer")),
	}
}

// LoadModel returns the latest stored model, or nil when none exists or the
// store is unavailable.
func (s *Scorer) LoadModel(ctx context.Context) *domain.ScoringModel {
	if s.models == nil {
		return nil
	}
	m, err := s.models.Latest(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "load scoring model failed, using rule score", slog.String("error", err.Error()))
		}
		return nil
	}
	if len(m.Weights) != FeatureCount {
		s.logger.WarnContext(ctx, "scoring model has wrong dimension, ignoring",
			slog.String("model_id", m.ID),
			slog.Int("weights", len(m.Weights)),
		)
		return nil
	}
	return &m
}

// Score computes features, variant and rule/learned scores for every
// opportunity without ranking or re-ranking.
func Score(opps []domain.Opportunity, model *domain.ScoringModel) []Candidate {
	out := make([]Candidate, 0, len(opps))
	for _, o := range opps {
		c := Candidate{
			Opportunity: o,
			Features:    BuildFeatures(o),
			Variant:     AssignVariant(o.ID),
			ScoreRule:   RuleScore(o),
		}
		c.ScoreEffective = c.ScoreRule
		if model != nil {
			if p, ok := Predict(*model, c.Features); ok {
				c.ScoreAI = &p
				if c.Variant == domain.VariantB {
					c.ScoreEffective = p
				}
			}
		}
		out = append(out, c)
	}
	return out
}

func sortCandidates(cs []Candidate, key func(Candidate) float64) {
	sort.SliceStable(cs, func(i, j int) bool {
		ki, kj := key(cs[i]), key(cs[j])
		if ki != kj {
			return ki < kj
		}
		return cs[i].Opportunity.ID < cs[j].Opportunity.ID
	})
}

// Rank scores opportunities, keeps the best candidateCount by rule score,
// consults the re-ranker for the leading variant-B candidates and returns the
// result sorted by effective score ascending.
func (s *Scorer) Rank(ctx context.Context, opps []domain.Opportunity) ([]Candidate, RerankStats) {
	model := s.LoadModel(ctx)
	cs := Score(opps, model)

	sortCandidates(cs, func(c Candidate) float64 { return c.ScoreRule })
	if s.candidateCount > 0 && len(cs) > s.candidateCount {
		cs = cs[:s.candidateCount]
	}

	sortCandidates(cs, func(c Candidate) float64 { return c.ScoreEffective })
	stats := s.rerank(ctx, cs)
	sortCandidates(cs, func(c Candidate) float64 { return c.ScoreEffective })
	return cs, stats
}

// rerank overrides the effective score of up to perTick variant-B candidates
// in order. Failures keep the previous score.
func (s *Scorer) rerank(ctx context.Context, cs []Candidate) RerankStats {
	var stats RerankStats
	if s.reranker == nil || s.budget == nil || s.perTick <= 0 {
		return stats
	}

	for i := range cs {
		if stats.Attempted >= s.perTick {
			break
		}
		c := &cs[i]
		if c.Variant != domain.VariantB {
			continue
		}

		if err := s.budget.Take(ctx); err != nil {
			if errors.Is(err, domain.ErrBudgetExhausted) {
				stats.Exhausted++
				metrics.RerankCalls.WithLabelValues("budget_exhausted").Inc()
				s.logger.DebugContext(ctx, "rerank budget exhausted")
			} else {
				stats.Failed++
				metrics.RerankCalls.WithLabelValues("counter_error").Inc()
				s.logger.WarnContext(ctx, "rerank budget unavailable", slog.String("error", err.Error()))
			}
			break
		}

		stats.Attempted++
		score, err := s.callReranker(ctx, c.Features)
		if err != nil {
			stats.Failed++
			metrics.RerankCalls.WithLabelValues("error").Inc()
			s.logger.WarnContext(ctx, "rerank failed, keeping score",
				slog.String("opportunity_id", c.Opportunity.ID),
				slog.Float64("score", c.ScoreEffective),
				slog.String("error", err.Error()),
			)
			continue
		}
		stats.Succeeded++
		metrics.RerankCalls.WithLabelValues("ok").Inc()
		c.ScoreEffective = score
		c.Reranked = true
	}
	return stats
}

func (s *Scorer) callReranker(ctx context.Context, features []float64) (float64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.reranker.Score(ctx, features)
}
