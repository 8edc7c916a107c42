package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ledgerPlaces is the precision ledger amounts are rounded to.
const ledgerPlaces = 8

// PaperAccount is the shared virtual capital pool. Invariant:
// 0 <= ReservedUSD <= BalanceUSD.
type PaperAccount struct {
	AccountID   string
	BalanceUSD  float64
	ReservedUSD float64
	MinNotional float64
	MaxNotional float64
	UpdatedAt   time.Time
}

// Available returns balance minus reserved.
func (a PaperAccount) Available() float64 {
	b := decimal.NewFromFloat(a.BalanceUSD)
	r := decimal.NewFromFloat(a.ReservedUSD)
	return b.Sub(r).Round(ledgerPlaces).InexactFloat64()
}

// Reserve returns a copy of the account with amount added to reserved. It
// fails with ErrInsufficientCapital when the result would exceed balance.
func (a PaperAccount) Reserve(amount float64) (PaperAccount, error) {
	if amount < 0 {
		return a, fmt.Errorf("reserve %.8f: %w", amount, ErrInvalidAmount)
	}
	b := decimal.NewFromFloat(a.BalanceUSD)
	next := decimal.NewFromFloat(a.ReservedUSD).Add(decimal.NewFromFloat(amount)).Round(ledgerPlaces)
	if next.GreaterThan(b) {
		return a, fmt.Errorf("reserve %.2f with %.2f available: %w", amount, a.Available(), ErrInsufficientCapital)
	}
	a.ReservedUSD = next.InexactFloat64()
	return a, nil
}

// Release returns a copy of the account with amount subtracted from
// reserved, floored at zero.
func (a PaperAccount) Release(amount float64) (PaperAccount, error) {
	if amount < 0 {
		return a, fmt.Errorf("release %.8f: %w", amount, ErrInvalidAmount)
	}
	next := decimal.NewFromFloat(a.ReservedUSD).Sub(decimal.NewFromFloat(amount)).Round(ledgerPlaces)
	if next.IsNegative() {
		next = decimal.Zero
	}
	a.ReservedUSD = next.InexactFloat64()
	return a, nil
}
