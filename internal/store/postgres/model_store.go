package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indijan/arbiter/internal/domain"
)

// ModelStore implements domain.ModelStore using PostgreSQL.
type ModelStore struct {
	pool *pgxpool.Pool
}

// NewModelStore creates a new ModelStore.
func NewModelStore(pool *pgxpool.Pool) *ModelStore {
	return &ModelStore{pool: pool}
}

// Save stores a fitted model.
func (s *ModelStore) Save(ctx context.Context, m domain.ScoringModel) error {
	weights, err := json.Marshal(m.Weights)
	if err != nil {
		return fmt.Errorf("postgres: marshal weights: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scoring_models (id, trained_at, weights, lambda, samples) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.TrainedAt, weights, m.Lambda, m.Samples)
	if err != nil {
		return fmt.Errorf("postgres: save model %s: %w", m.ID, err)
	}
	return nil
}

// Latest returns the most recently trained model.
func (s *ModelStore) Latest(ctx context.Context) (domain.ScoringModel, error) {
	var m domain.ScoringModel
	var weights []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, trained_at, weights, lambda, samples FROM scoring_models ORDER BY trained_at DESC LIMIT 1`,
	).Scan(&m.ID, &m.TrainedAt, &weights, &m.Lambda, &m.Samples)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScoringModel{}, domain.ErrNotFound
		}
		return domain.ScoringModel{}, fmt.Errorf("postgres: latest model: %w", err)
	}
	if err := json.Unmarshal(weights, &m.Weights); err != nil {
		return domain.ScoringModel{}, fmt.Errorf("postgres: unmarshal weights: %w", err)
	}
	return m, nil
}
