// Package paper simulates fills for paper positions.
package paper

import (
	"fmt"

	"github.com/indijan/arbiter/internal/domain"
)

// Fill is the result of a simulated order.
type Fill struct {
	Side     domain.Side
	Price    float64
	Qty      float64
	Fee      float64
	Notional float64
}

// FillSimulator prices market orders deterministically: buys pay
// price*(1+slippage), sells receive price*(1-slippage), and the fee is a flat
// rate on notional.
type FillSimulator struct {
	slippageRate float64
	feeRate      float64
}

// NewFillSimulator creates a FillSimulator.
func NewFillSimulator(slippageRate, feeRate float64) *FillSimulator {
	return &FillSimulator{slippageRate: slippageRate, feeRate: feeRate}
}

// FeeRate returns the configured fee rate.
func (f *FillSimulator) FeeRate() float64 { return f.feeRate }

// Fill simulates a notional-sized order at price.
func (f *FillSimulator) Fill(side domain.Side, price, notional float64) (Fill, error) {
	if price <= 0 {
		return Fill{}, fmt.Errorf("paper: fill at price %v: %w", price, domain.ErrInvalidQuote)
	}
	if notional <= 0 {
		return Fill{}, fmt.Errorf("paper: fill notional %v: %w", notional, domain.ErrInvalidAmount)
	}
	fillPrice := f.price(side, price)
	return Fill{
		Side:     side,
		Price:    fillPrice,
		Qty:      notional / fillPrice,
		Fee:      notional * f.feeRate,
		Notional: notional,
	}, nil
}

// FillQty simulates an order for a fixed quantity, as used when unwinding a
// leg. The fee is charged on the notional actually traded.
func (f *FillSimulator) FillQty(side domain.Side, price, qty float64) (Fill, error) {
	if price <= 0 {
		return Fill{}, fmt.Errorf("paper: fill at price %v: %w", price, domain.ErrInvalidQuote)
	}
	if qty <= 0 {
		return Fill{}, fmt.Errorf("paper: fill qty %v: %w", qty, domain.ErrInvalidAmount)
	}
	fillPrice := f.price(side, price)
	notional := qty * fillPrice
	return Fill{
		Side:     side,
		Price:    fillPrice,
		Qty:      qty,
		Fee:      notional * f.feeRate,
		Notional: notional,
	}, nil
}

func (f *FillSimulator) price(side domain.Side, price float64) float64 {
	if side == domain.SideBuy {
		return price * (1 + f.slippageRate)
	}
	return price * (1 - f.slippageRate)
}

// Leg converts a fill into a named position leg.
func (fl Fill) Leg(name, venue, symbol string) domain.PositionLeg {
	return domain.PositionLeg{
		Name:     name,
		Venue:    venue,
		Symbol:   symbol,
		Side:     fl.Side,
		Qty:      fl.Qty,
		Price:    fl.Price,
		Fee:      fl.Fee,
		Notional: fl.Notional,
	}
}
