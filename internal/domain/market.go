package domain

import (
	"context"
	"time"
)

// Quote is the best bid/ask for a symbol on one venue.
type Quote struct {
	Venue  string
	Symbol string
	Bid    float64
	Ask    float64
	TS     time.Time
}

// Valid reports whether the quote is positive and not crossed.
func (q Quote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Ask > q.Bid
}

// Mid returns the midpoint of bid and ask.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// CarryQuote holds spot and perpetual top-of-book plus the current funding
// rate for one symbol on one venue.
type CarryQuote struct {
	Venue       string
	Symbol      string
	SpotBid     float64
	SpotAsk     float64
	PerpBid     float64
	PerpAsk     float64
	FundingRate float64
	TS          time.Time
}

// Valid reports whether both legs have a positive bid-ask spread.
func (c CarryQuote) Valid() bool {
	return c.SpotBid > 0 && c.SpotAsk > c.SpotBid && c.PerpBid > 0 && c.PerpAsk > c.PerpBid
}

// MarketSnapshot is an immutable, timestamped carry quote as persisted by the
// ingestion stage.
type MarketSnapshot struct {
	ID          int64
	Venue       string
	Symbol      string
	TS          time.Time
	SpotBid     float64
	SpotAsk     float64
	PerpBid     float64
	PerpAsk     float64
	FundingRate float64
}

// SnapshotFromCarry converts a live carry quote into a snapshot.
func SnapshotFromCarry(q CarryQuote) MarketSnapshot {
	ts := q.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return MarketSnapshot{
		Venue:       q.Venue,
		Symbol:      q.Symbol,
		TS:          ts,
		SpotBid:     q.SpotBid,
		SpotAsk:     q.SpotAsk,
		PerpBid:     q.PerpBid,
		PerpAsk:     q.PerpAsk,
		FundingRate: q.FundingRate,
	}
}

// Carry returns the snapshot as a carry quote.
func (s MarketSnapshot) Carry() CarryQuote {
	return CarryQuote{
		Venue:       s.Venue,
		Symbol:      s.Symbol,
		SpotBid:     s.SpotBid,
		SpotAsk:     s.SpotAsk,
		PerpBid:     s.PerpBid,
		PerpAsk:     s.PerpAsk,
		FundingRate: s.FundingRate,
		TS:          s.TS,
	}
}

// Valid reports whether both legs of the snapshot have a positive spread.
func (s MarketSnapshot) Valid() bool {
	return s.Carry().Valid()
}

// SpotMid returns the spot midpoint.
func (s MarketSnapshot) SpotMid() float64 { return (s.SpotBid + s.SpotAsk) / 2 }

// PerpMid returns the perpetual midpoint.
func (s MarketSnapshot) PerpMid() float64 { return (s.PerpBid + s.PerpAsk) / 2 }

// MarketDataProvider fetches live quotes from a venue. Transport failures
// wrap ErrQuoteUnavailable; crossed or non-positive books wrap ErrInvalidQuote.
type MarketDataProvider interface {
	GetQuote(ctx context.Context, venue, symbol string) (Quote, error)
	GetCarryQuote(ctx context.Context, venue, symbol string) (CarryQuote, error)
}
