package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indijan/arbiter/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, ts, venue_key, symbol, type, net_edge_bps,
	expected_daily_bps, confidence, status, details`

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var o domain.Opportunity
	var typ, status string
	var details []byte
	if err := row.Scan(
		&o.ID, &o.TS, &o.VenueKey, &o.Symbol, &typ, &o.NetEdgeBps,
		&o.ExpectedDailyBps, &o.Confidence, &status, &details,
	); err != nil {
		return domain.Opportunity{}, err
	}
	o.Type = domain.OpportunityType(typ)
	o.Status = domain.OpportunityStatus(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &o.Details); err != nil {
			return domain.Opportunity{}, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return o, nil
}

// Insert stores a new opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, o domain.Opportunity) error {
	details, err := json.Marshal(o.Details)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity details: %w", err)
	}
	status := o.Status
	if status == "" {
		status = domain.OpportunityStatusNew
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO opportunities (
			id, ts, venue_key, symbol, type, net_edge_bps,
			expected_daily_bps, confidence, status, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.TS, o.VenueKey, o.Symbol, string(o.Type), o.NetEdgeBps,
		o.ExpectedDailyBps, o.Confidence, string(status), details,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", o.ID, err)
	}
	return nil
}

// ExistsSince reports whether the (venue_key, symbol, type) key has a row at
// or after since.
func (s *OpportunityStore) ExistsSince(ctx context.Context, venueKey, symbol string, typ domain.OpportunityType, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM opportunities
			WHERE venue_key = $1 AND symbol = $2 AND type = $3 AND ts >= $4
		)`, venueKey, symbol, string(typ), since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check recent opportunity: %w", err)
	}
	return exists, nil
}

// GetByID retrieves a single opportunity.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.Opportunity, error) {
	o, err := scanOpportunity(s.pool.QueryRow(ctx,
		`SELECT `+opportunitySelectCols+` FROM opportunities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return o, nil
}

// ListNew returns unconsumed opportunities newer than since, newest first.
func (s *OpportunityStore) ListNew(ctx context.Context, since time.Time, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities
		WHERE status = 'new' AND ts >= $1
		ORDER BY ts DESC`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list new opportunities: %w", err)
	}
	defer rows.Close()

	var out []domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkConsumed flips an opportunity to consumed.
func (s *OpportunityStore) MarkConsumed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = 'consumed' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: consume opportunity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
