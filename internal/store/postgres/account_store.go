package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indijan/arbiter/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. Reserve and
// Release are single conditional UPDATE statements, so the row lock taken by
// the update is the only synchronisation needed.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountReturningCols = `account_id, balance_usd::float8, reserved_usd::float8,
	min_notional::float8, max_notional::float8, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanAccount(row pgx.Row) (domain.PaperAccount, error) {
	var a domain.PaperAccount
	err := row.Scan(&a.AccountID, &a.BalanceUSD, &a.ReservedUSD, &a.MinNotional, &a.MaxNotional, &a.UpdatedAt)
	return a, err
}

// Ensure creates the account if it does not exist. Existing balances are left
// untouched.
func (s *AccountStore) Ensure(ctx context.Context, a domain.PaperAccount) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO paper_accounts (account_id, balance_usd, reserved_usd, min_notional, max_notional)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (account_id) DO NOTHING`,
		a.AccountID, a.BalanceUSD, a.MinNotional, a.MaxNotional,
	)
	if err != nil {
		return fmt.Errorf("postgres: ensure account %s: %w", a.AccountID, err)
	}
	return nil
}

// Get returns the account row.
func (s *AccountStore) Get(ctx context.Context, accountID string) (domain.PaperAccount, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountReturningCols+` FROM paper_accounts WHERE account_id = $1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PaperAccount{}, domain.ErrNotFound
		}
		return domain.PaperAccount{}, fmt.Errorf("postgres: get account %s: %w", accountID, err)
	}
	return a, nil
}

// reserve adds amount to reserved when the result stays within balance.
func reserve(ctx context.Context, q querier, accountID string, amount float64) (domain.PaperAccount, error) {
	if amount < 0 {
		return domain.PaperAccount{}, fmt.Errorf("postgres: reserve %.8f: %w", amount, domain.ErrInvalidAmount)
	}
	a, err := scanAccount(q.QueryRow(ctx, `
		UPDATE paper_accounts
		SET reserved_usd = reserved_usd + round($2::numeric, 8), updated_at = NOW()
		WHERE account_id = $1 AND reserved_usd + round($2::numeric, 8) <= balance_usd
		RETURNING `+accountReturningCols, accountID, amount))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.PaperAccount{}, fmt.Errorf("postgres: reserve on %s: %w", accountID, err)
	}

	var exists bool
	if err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM paper_accounts WHERE account_id = $1)`, accountID,
	).Scan(&exists); err != nil {
		return domain.PaperAccount{}, fmt.Errorf("postgres: check account %s: %w", accountID, err)
	}
	if !exists {
		return domain.PaperAccount{}, domain.ErrNotFound
	}
	return domain.PaperAccount{}, fmt.Errorf("postgres: reserve %.2f on %s: %w", amount, accountID, domain.ErrInsufficientCapital)
}

// release subtracts amount from reserved, floored at zero.
func release(ctx context.Context, q querier, accountID string, amount float64) (domain.PaperAccount, error) {
	if amount < 0 {
		return domain.PaperAccount{}, fmt.Errorf("postgres: release %.8f: %w", amount, domain.ErrInvalidAmount)
	}
	a, err := scanAccount(q.QueryRow(ctx, `
		UPDATE paper_accounts
		SET reserved_usd = GREATEST(reserved_usd - round($2::numeric, 8), 0), updated_at = NOW()
		WHERE account_id = $1
		RETURNING `+accountReturningCols, accountID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PaperAccount{}, domain.ErrNotFound
		}
		return domain.PaperAccount{}, fmt.Errorf("postgres: release on %s: %w", accountID, err)
	}
	return a, nil
}
