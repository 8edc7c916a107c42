package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indijan/arbiter/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Insert appends a market snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.MarketSnapshot) error {
	const query = `
		INSERT INTO market_snapshots (
			venue, symbol, ts, spot_bid, spot_ask, perp_bid, perp_ask, funding_rate
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		snap.Venue, snap.Symbol, snap.TS,
		snap.SpotBid, snap.SpotAsk, snap.PerpBid, snap.PerpAsk, snap.FundingRate,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s/%s: %w", snap.Venue, snap.Symbol, err)
	}
	return nil
}

// ListSince returns snapshots with ts >= since, freshest first.
func (s *SnapshotStore) ListSince(ctx context.Context, since time.Time) ([]domain.MarketSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, venue, symbol, ts, spot_bid, spot_ask, perp_bid, perp_ask, funding_rate
		FROM market_snapshots
		WHERE ts >= $1
		ORDER BY ts DESC, id DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketSnapshot
	for rows.Next() {
		var m domain.MarketSnapshot
		if err := rows.Scan(
			&m.ID, &m.Venue, &m.Symbol, &m.TS,
			&m.SpotBid, &m.SpotAsk, &m.PerpBid, &m.PerpAsk, &m.FundingRate,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
