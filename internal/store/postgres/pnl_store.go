package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indijan/arbiter/internal/domain"
)

// PnlStore implements domain.PnlStore using PostgreSQL.
type PnlStore struct {
	pool *pgxpool.Pool
}

// NewPnlStore creates a new PnlStore.
func NewPnlStore(pool *pgxpool.Pool) *PnlStore {
	return &PnlStore{pool: pool}
}

// Upsert writes every row in one batch; re-running with the same keys
// overwrites pnl_usd.
func (s *PnlStore) Upsert(ctx context.Context, rows []domain.DailyStrategyPnl) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO daily_strategy_pnl (day, strategy_key, exchange_key, pnl_usd, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (day, strategy_key, exchange_key)
			DO UPDATE SET pnl_usd = EXCLUDED.pnl_usd, updated_at = NOW()`,
			domain.Day(r.Day), r.StrategyKey, r.ExchangeKey, r.PnlUSD)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert daily pnl: %w", err)
		}
	}
	return nil
}

// ListDay returns every bucket for day.
func (s *PnlStore) ListDay(ctx context.Context, day time.Time) ([]domain.DailyStrategyPnl, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day, strategy_key, exchange_key, pnl_usd, updated_at
		FROM daily_strategy_pnl WHERE day = $1
		ORDER BY strategy_key, exchange_key`, domain.Day(day))
	if err != nil {
		return nil, fmt.Errorf("postgres: list daily pnl: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyStrategyPnl
	for rows.Next() {
		var r domain.DailyStrategyPnl
		if err := rows.Scan(&r.Day, &r.StrategyKey, &r.ExchangeKey, &r.PnlUSD, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan daily pnl: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
