package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indijan/arbiter/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Insert records a scoring decision.
func (s *DecisionStore) Insert(ctx context.Context, d domain.OpportunityDecision) error {
	features, err := json.Marshal(d.Features)
	if err != nil {
		return fmt.Errorf("postgres: marshal features: %w", err)
	}
	var positionID *string
	if d.PositionID != "" {
		positionID = &d.PositionID
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO opportunity_decisions (
			id, ts, opportunity_id, variant, score_rule, score_ai, score_effective,
			reranked, features, chosen, position_id, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.TS, d.OpportunityID, string(d.Variant), d.ScoreRule, d.ScoreAI, d.ScoreEffective,
		d.Reranked, features, d.Chosen, positionID, d.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// MarkChosen records that the decision led to a position.
func (s *DecisionStore) MarkChosen(ctx context.Context, id, positionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunity_decisions SET chosen = TRUE, position_id = $2, reason = '' WHERE id = $1`,
		id, positionID)
	if err != nil {
		return fmt.Errorf("postgres: mark decision %s chosen: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkRejected records why a decision did not lead to a position.
func (s *DecisionStore) MarkRejected(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunity_decisions SET chosen = FALSE, reason = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark decision %s rejected: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListTrainingSamples joins chosen decisions to their closed positions.
func (s *DecisionStore) ListTrainingSamples(ctx context.Context, since time.Time) ([]domain.TrainingSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.features, d.ts, p.realized_pnl_usd, COALESCE((p.meta->>'notional_usd')::float8, 0)
		FROM opportunity_decisions d
		JOIN positions p ON p.id = d.position_id
		WHERE d.chosen AND d.ts >= $1
		  AND p.status = 'closed' AND p.realized_pnl_usd IS NOT NULL
		ORDER BY d.ts`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list training samples: %w", err)
	}
	defer rows.Close()

	var out []domain.TrainingSample
	for rows.Next() {
		var raw []byte
		var realized float64
		var ts domain.TrainingSample
		if err := rows.Scan(&raw, &ts.DecidedAt, &realized, &ts.NotionalUSD); err != nil {
			return nil, fmt.Errorf("postgres: scan training sample: %w", err)
		}
		if ts.NotionalUSD <= 0 {
			continue
		}
		if err := json.Unmarshal(raw, &ts.Features); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal features: %w", err)
		}
		ts.OutcomeBps = realized / ts.NotionalUSD * 10_000
		out = append(out, ts)
	}
	return out, rows.Err()
}
