package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/scoring"
)

// Trainer fits the ridge scoring model from decisions joined to realized
// outcomes and stores it.
type Trainer struct {
	decisions domain.DecisionStore
	models    domain.ModelStore
	cfg       config.ScoringConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewTrainer creates a Trainer.
func NewTrainer(decisions domain.DecisionStore, models domain.ModelStore, cfg config.ScoringConfig, logger *slog.Logger) *Trainer {
	return &Trainer{
		decisions: decisions,
		models:    models,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "trainer")),
		now:       time.Now,
	}
}

// Train fits and saves a model over the rolling window. It returns
// domain.ErrNoModel (wrapped) when there are too few samples; nothing is
// saved in that case.
func (t *Trainer) Train(ctx context.Context) (domain.ScoringModel, error) {
	since := t.now().Add(-t.cfg.TrainingWindow.Duration)
	samples, err := t.decisions.ListTrainingSamples(ctx, since)
	if err != nil {
		return domain.ScoringModel{}, fmt.Errorf("trainer: list samples: %w", err)
	}

	m, err := scoring.Fit(samples, t.cfg.RidgeLambda, t.cfg.MinSamples)
	if err != nil {
		return domain.ScoringModel{}, fmt.Errorf("trainer: %w", err)
	}
	if err := t.models.Save(ctx, m); err != nil {
		return domain.ScoringModel{}, fmt.Errorf("trainer: save model: %w", err)
	}

	t.logger.InfoContext(ctx, "scoring model trained",
		slog.String("model_id", m.ID),
		slog.Int("samples", m.Samples),
		slog.Float64("lambda", m.Lambda),
	)
	return m, nil
}
