package executor

import (
	"fmt"

	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/paper"
)

// legGroup is the set of simulated entry fills for one opportunity.
type legGroup struct {
	legs        []domain.PositionLeg
	feesUSD     float64
	reserveUSD  float64
	venue       string
	holding     float64
	realizedUSD *float64 // set for strategies that settle on entry
}

func (g *legGroup) add(l domain.PositionLeg, feeUSD float64) {
	g.legs = append(g.legs, l)
	g.feesUSD += feeUSD
}

// buildLegs simulates the entry fills for o at the given notional. Carry and
// cross-exchange hold both legs open and reserve the notional. A triangular
// cycle is walked leg by leg and settles immediately without a reservation.
func buildLegs(fills *paper.FillSimulator, o domain.Opportunity, notional float64) (*legGroup, error) {
	g := &legGroup{}
	switch o.Type {
	case domain.OpportunityCarry:
		d := o.Details.Carry
		if d == nil {
			return nil, fmt.Errorf("executor: carry opportunity %s has no details", o.ID)
		}
		spot, err := fills.Fill(domain.SideBuy, d.SpotAsk, notional)
		if err != nil {
			return nil, fmt.Errorf("executor: spot leg: %w", err)
		}
		perp, err := fills.Fill(domain.SideSell, d.PerpBid, notional)
		if err != nil {
			return nil, fmt.Errorf("executor: perp leg: %w", err)
		}
		g.add(spot.Leg("spot", d.Venue, o.Symbol), spot.Fee)
		g.add(perp.Leg("perp", d.Venue, o.Symbol), perp.Fee)
		g.reserveUSD = notional
		g.venue = d.Venue
		g.holding = d.HoldingHours

	case domain.OpportunityCrossExchange:
		d := o.Details.CrossExchange
		if d == nil {
			return nil, fmt.Errorf("executor: cross opportunity %s has no details", o.ID)
		}
		buy, err := fills.Fill(domain.SideBuy, d.BuyAsk, notional)
		if err != nil {
			return nil, fmt.Errorf("executor: buy leg: %w", err)
		}
		sell, err := fills.Fill(domain.SideSell, d.SellBid, notional)
		if err != nil {
			return nil, fmt.Errorf("executor: sell leg: %w", err)
		}
		g.add(buy.Leg("buy", d.BuyVenue, orSymbol(d.BuySymbol, o.Symbol)), buy.Fee)
		g.add(sell.Leg("sell", d.SellVenue, orSymbol(d.SellSymbol, o.Symbol)), sell.Fee)
		g.reserveUSD = notional
		g.venue = d.BuyVenue

	case domain.OpportunityTriangular:
		d := o.Details.Triangular
		if d == nil || len(d.Legs) == 0 {
			return nil, fmt.Errorf("executor: triangular opportunity %s has no legs", o.ID)
		}
		// Fees are charged on the home-currency notional per leg.
		feePerLeg := notional * fills.FeeRate()
		amount := notional
		for i, l := range d.Legs {
			var (
				f   paper.Fill
				err error
				out float64
			)
			if l.Side == domain.SideBuy {
				f, err = fills.Fill(domain.SideBuy, l.Ask, amount)
				out = f.Qty
			} else {
				f, err = fills.FillQty(domain.SideSell, l.Bid, amount)
				out = f.Notional
			}
			if err != nil {
				return nil, fmt.Errorf("executor: triangular leg %d %s: %w", i+1, l.Symbol, err)
			}
			leg := f.Leg(fmt.Sprintf("leg%d", i+1), d.Venue, l.Symbol)
			leg.Fee = feePerLeg
			g.add(leg, feePerLeg)
			amount = out
		}
		realized := amount - notional - g.feesUSD
		g.realizedUSD = &realized
		g.venue = d.Venue

	default:
		return nil, fmt.Errorf("executor: unknown opportunity type %q", o.Type)
	}
	return g, nil
}

func orSymbol(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
