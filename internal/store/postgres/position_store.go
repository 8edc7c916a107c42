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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, account_id, opportunity_id, symbol, status,
	entry_legs, exit_legs, realized_pnl_usd, meta, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string
	var entry, exit, meta []byte

	if err := row.Scan(
		&p.ID, &p.AccountID, &p.OpportunityID, &p.Symbol, &status,
		&entry, &exit, &p.RealizedPnlUSD, &meta, &p.OpenedAt, &p.ClosedAt,
	); err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	if err := json.Unmarshal(entry, &p.EntryLegs); err != nil {
		return domain.Position{}, fmt.Errorf("unmarshal entry legs: %w", err)
	}
	if err := json.Unmarshal(exit, &p.ExitLegs); err != nil {
		return domain.Position{}, fmt.Errorf("unmarshal exit legs: %w", err)
	}
	if err := json.Unmarshal(meta, &p.Meta); err != nil {
		return domain.Position{}, fmt.Errorf("unmarshal meta: %w", err)
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func marshalLegs(legs []domain.PositionLeg) ([]byte, error) {
	if legs == nil {
		legs = []domain.PositionLeg{}
	}
	return json.Marshal(legs)
}

// Open inserts the position and its entry executions and, when reserveUSD is
// positive, reserves that amount on the account. Everything commits or
// nothing does.
func (s *PositionStore) Open(ctx context.Context, p domain.Position, execs []domain.Execution, reserveUSD float64) error {
	entry, err := marshalLegs(p.EntryLegs)
	if err != nil {
		return fmt.Errorf("postgres: marshal entry legs: %w", err)
	}
	exit, err := marshalLegs(p.ExitLegs)
	if err != nil {
		return fmt.Errorf("postgres: marshal exit legs: %w", err)
	}
	meta, err := json.Marshal(p.Meta)
	if err != nil {
		return fmt.Errorf("postgres: marshal meta: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (
			id, account_id, opportunity_id, symbol, status,
			entry_legs, exit_legs, realized_pnl_usd, meta, opened_at, closed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`,
		p.ID, p.AccountID, p.OpportunityID, p.Symbol, string(p.Status),
		entry, exit, p.RealizedPnlUSD, meta, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
	}

	if err := insertExecutions(ctx, tx, execs); err != nil {
		return err
	}

	if reserveUSD > 0 {
		if _, err := reserve(ctx, tx, p.AccountID, reserveUSD); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit open %s: %w", p.ID, err)
	}
	return nil
}

func insertExecutions(ctx context.Context, tx pgx.Tx, execs []domain.Execution) error {
	for _, e := range execs {
		_, err := tx.Exec(ctx, `
			INSERT INTO executions (position_id, leg, venue, symbol, side, qty, avg_price, fee, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.PositionID, e.Leg, e.Venue, e.Symbol, string(e.Side), e.Qty, e.AvgPrice, e.Fee, e.TS,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution %s/%s: %w", e.PositionID, e.Leg, err)
		}
	}
	return nil
}

// Close locks the position row, verifies it is still open, writes the exit
// legs and realized PnL, appends exit executions and releases capital.
func (s *PositionStore) Close(ctx context.Context, req domain.ClosePositionRequest, execs []domain.Execution) (domain.Position, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPosition(tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1 FOR UPDATE`, req.PositionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: lock position %s: %w", req.PositionID, err)
	}
	if p.Status != domain.PositionStatusOpen {
		return domain.Position{}, domain.ErrAlreadyClosed
	}

	closedAt := req.ClosedAt
	realized := req.RealizedPnlUSD
	p.Status = domain.PositionStatusClosed
	p.ExitLegs = req.ExitLegs
	p.RealizedPnlUSD = &realized
	p.ClosedAt = &closedAt
	p.Meta.ExitFeesUSD = req.ExitFeesUSD
	p.Meta.CloseReason = req.Reason

	exit, err := marshalLegs(p.ExitLegs)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: marshal exit legs: %w", err)
	}
	meta, err := json.Marshal(p.Meta)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: marshal meta: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE positions SET
			status           = 'closed',
			exit_legs        = $2,
			realized_pnl_usd = $3,
			meta             = $4,
			closed_at        = $5,
			updated_at       = NOW()
		WHERE id = $1`,
		p.ID, exit, realized, meta, closedAt,
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: close position %s: %w", p.ID, err)
	}

	if err := insertExecutions(ctx, tx, execs); err != nil {
		return domain.Position{}, err
	}

	if req.ReleaseUSD > 0 {
		if _, err := release(ctx, tx, p.AccountID, req.ReleaseUSD); err != nil {
			return domain.Position{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit close %s: %w", p.ID, err)
	}
	return p, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByStatus returns an account's positions in the given status with
// pagination and optional opened_at filtering.
func (s *PositionStore) ListByStatus(ctx context.Context, accountID string, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE account_id = $1 AND status = $2`
	args := []any{accountID, string(status)}
	argIdx := 3

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s positions: %w", status, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// CountOpenedSince counts positions opened at or after since, in any status.
func (s *PositionStore) CountOpenedSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE account_id = $1 AND opened_at >= $2`,
		accountID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count opened positions: %w", err)
	}
	return n, nil
}

// ListClosedSince returns positions closed at or after since.
func (s *PositionStore) ListClosedSince(ctx context.Context, accountID string, since time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account_id = $1 AND status = 'closed' AND closed_at >= $2
		 ORDER BY closed_at DESC`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// ListExecutions returns every execution of a position in insertion order.
func (s *PositionStore) ListExecutions(ctx context.Context, positionID string) ([]domain.Execution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, position_id, leg, venue, symbol, side, qty, avg_price, fee, ts
		FROM executions WHERE position_id = $1 ORDER BY id`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		var e domain.Execution
		var side string
		if err := rows.Scan(&e.ID, &e.PositionID, &e.Leg, &e.Venue, &e.Symbol, &side,
			&e.Qty, &e.AvgPrice, &e.Fee, &e.TS); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		e.Side = domain.Side(side)
		out = append(out, e)
	}
	return out, rows.Err()
}
