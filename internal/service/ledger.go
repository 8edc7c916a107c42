package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/indijan/arbiter/internal/config"
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/metrics"
)

// Ledger is the read side of the paper account ledger. Capital is reserved
// and released by the position store in the same transaction that opens or
// closes a position; the ledger seeds accounts and keeps the
// reserved-capital gauge current.
type Ledger struct {
	accounts domain.AccountStore
	logger   *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(accounts domain.AccountStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		accounts: accounts,
		logger:   logger.With(slog.String("component", "ledger")),
	}
}

// Ensure creates the configured account if it does not exist yet and
// returns its current state. Existing balances are never overwritten.
func (l *Ledger) Ensure(ctx context.Context, cfg config.AccountConfig) (domain.PaperAccount, error) {
	err := l.accounts.Ensure(ctx, domain.PaperAccount{
		AccountID:   cfg.ID,
		BalanceUSD:  cfg.StartingBalanceUSD,
		MinNotional: cfg.MinNotional,
		MaxNotional: cfg.MaxNotional,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return domain.PaperAccount{}, fmt.Errorf("ledger: ensure %s: %w", cfg.ID, err)
	}
	a, err := l.Get(ctx, cfg.ID)
	if err != nil {
		return domain.PaperAccount{}, err
	}
	l.logger.InfoContext(ctx, "paper account ready",
		slog.String("account", a.AccountID),
		slog.Float64("balance_usd", a.BalanceUSD),
		slog.Float64("reserved_usd", a.ReservedUSD),
	)
	return a, nil
}

// Get returns the account.
func (l *Ledger) Get(ctx context.Context, accountID string) (domain.PaperAccount, error) {
	a, err := l.accounts.Get(ctx, accountID)
	if err != nil {
		return domain.PaperAccount{}, fmt.Errorf("ledger: get %s: %w", accountID, err)
	}
	metrics.ReservedCapital.WithLabelValues(accountID).Set(a.ReservedUSD)
	return a, nil
}
