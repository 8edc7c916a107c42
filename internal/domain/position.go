package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Side is the direction of a fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that unwinds s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionLeg is one simulated fill that makes up a position.
type PositionLeg struct {
	Name     string  `json:"name"` // spot, perp, buy, sell, leg1..leg3
	Venue    string  `json:"venue"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	Fee      float64 `json:"fee"`
	Notional float64 `json:"notional"`
}

// SignedQty returns the quantity as a signed exposure: long legs positive,
// short legs negative.
func (l PositionLeg) SignedQty() float64 {
	if l.Side == SideSell {
		return -l.Qty
	}
	return l.Qty
}

// PositionMeta carries sizing and attribution for a position.
type PositionMeta struct {
	NotionalUSD  float64         `json:"notional_usd"`
	Strategy     OpportunityType `json:"strategy"`
	ExchangeKey  string          `json:"exchange_key"`
	AutoExecuted bool            `json:"auto_executed"`
	DecisionID   string          `json:"decision_id,omitempty"`
	Variant      Variant         `json:"variant,omitempty"`
	EntryFeesUSD float64         `json:"entry_fees_usd"`
	ExitFeesUSD  float64         `json:"exit_fees_usd"`
	CloseReason  string          `json:"close_reason,omitempty"`
	HoldingHours float64         `json:"holding_hours,omitempty"`
}

// Position is a multi-leg simulated trade. It moves from open to closed
// exactly once.
type Position struct {
	ID             string
	AccountID      string
	OpportunityID  string
	Symbol         string
	Status         PositionStatus
	EntryLegs      []PositionLeg
	ExitLegs       []PositionLeg
	RealizedPnlUSD *float64
	Meta           PositionMeta
	OpenedAt       time.Time
	ClosedAt       *time.Time
}

// Reserves reports whether the position holds capital in the ledger while
// open.
func (p Position) Reserves() bool {
	return p.Status == PositionStatusOpen && p.Meta.AutoExecuted && p.Meta.Strategy != OpportunityTriangular
}

// Execution is an append-only record of a single simulated fill.
type Execution struct {
	ID         int64
	PositionID string
	Leg        string
	Venue      string
	Symbol     string
	Side       Side
	Qty        float64
	AvgPrice   float64
	Fee        float64
	TS         time.Time
}

// ExecutionsFromLegs converts legs into execution records for a position.
// The prefix distinguishes entry from exit fills.
func ExecutionsFromLegs(positionID, prefix string, legs []PositionLeg, ts time.Time) []Execution {
	out := make([]Execution, 0, len(legs))
	for _, l := range legs {
		out = append(out, Execution{
			PositionID: positionID,
			Leg:        prefix + ":" + l.Name,
			Venue:      l.Venue,
			Symbol:     l.Symbol,
			Side:       l.Side,
			Qty:        l.Qty,
			AvgPrice:   l.Price,
			Fee:        l.Fee,
			TS:         ts,
		})
	}
	return out
}

// ClosePositionRequest describes the transition of an open position to
// closed, including the capital to release.
type ClosePositionRequest struct {
	PositionID     string
	ExitLegs       []PositionLeg
	RealizedPnlUSD float64
	ExitFeesUSD    float64
	Reason         string
	ClosedAt       time.Time
	ReleaseUSD     float64
}
