package scoring

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/indijan/arbiter/internal/domain"
)

// TrainingTarget converts a realized outcome into a regression target. The
// sign is flipped so that a lower prediction means a better trade, matching
// the ascending rule score.
func TrainingTarget(outcomeBps float64) float64 {
	return -outcomeBps
}

// Fit solves the ridge regression w = (XᵀX + λI)⁻¹Xᵀy over the samples. It
// returns domain.ErrNoModel when fewer than minSamples usable samples exist.
func Fit(samples []domain.TrainingSample, lambda float64, minSamples int) (domain.ScoringModel, error) {
	usable := make([]domain.TrainingSample, 0, len(samples))
	for _, s := range samples {
		if len(s.Features) == FeatureCount {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 || len(usable) < minSamples {
		return domain.ScoringModel{}, fmt.Errorf("scoring: fit with %d samples (need %d): %w", len(usable), minSamples, domain.ErrNoModel)
	}

	n, d := len(usable), FeatureCount
	flat := make([]float64, 0, n*d)
	ys := make([]float64, n)
	for i, s := range usable {
		flat = append(flat, s.Features...)
		ys[i] = TrainingTarget(s.OutcomeBps)
	}
	x := mat.NewDense(n, d, flat)
	y := mat.NewVecDense(n, ys)

	var a mat.Dense
	a.Mul(x.T(), x)
	for i := 0; i < d; i++ {
		a.Set(i, i, a.At(i, i)+lambda)
	}
	var b mat.VecDense
	b.MulVec(x.T(), y)

	var w mat.VecDense
	if err := w.SolveVec(&a, &b); err != nil {
		// A Condition error still carries a solution; only refuse singular
		// systems.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return domain.ScoringModel{}, fmt.Errorf("scoring: solve ridge system: %w", err)
		}
	}

	weights := make([]float64, d)
	for i := range weights {
		weights[i] = w.AtVec(i)
	}
	return domain.ScoringModel{
		ID:        uuid.NewString(),
		TrainedAt: time.Now().UTC(),
		Weights:   weights,
		Lambda:    lambda,
		Samples:   n,
	}, nil
}

// Predict returns w · x. ok is false when the model does not match the
// feature layout.
func Predict(m domain.ScoringModel, x []float64) (float64, bool) {
	if len(m.Weights) != len(x) || len(x) == 0 {
		return 0, false
	}
	return mat.Dot(mat.NewVecDense(len(x), m.Weights), mat.NewVecDense(len(x), x)), true
}
