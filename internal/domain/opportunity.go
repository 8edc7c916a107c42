package domain

import "time"

// OpportunityType classifies the arbitrage strategy that produced an
// opportunity.
type OpportunityType string

const (
	OpportunityCarry         OpportunityType = "carry"
	OpportunityCrossExchange OpportunityType = "cross_exchange"
	OpportunityTriangular    OpportunityType = "triangular"
)

// OpportunityStatus tracks whether an opportunity has been acted upon.
type OpportunityStatus string

const (
	OpportunityStatusNew      OpportunityStatus = "new"
	OpportunityStatusConsumed OpportunityStatus = "consumed"
)

// Opportunity is a detected arbitrage candidate. Exactly one of the Details
// variants is set, matching Type.
type Opportunity struct {
	ID               string
	TS               time.Time
	VenueKey         string
	Symbol           string
	Type             OpportunityType
	NetEdgeBps       float64
	ExpectedDailyBps float64
	Confidence       float64
	Status           OpportunityStatus
	Details          OpportunityDetails
}

// OpportunityDetails carries the per-strategy payload. It is stored as JSON
// with one non-null member.
type OpportunityDetails struct {
	Carry         *CarryDetails         `json:"carry,omitempty"`
	CrossExchange *CrossExchangeDetails `json:"cross_exchange,omitempty"`
	Triangular    *TriangularDetails    `json:"triangular,omitempty"`
}

// CarryDetails describes a spot-long / perp-short funding carry.
type CarryDetails struct {
	Venue              string    `json:"venue"`
	SpotBid            float64   `json:"spot_bid"`
	SpotAsk            float64   `json:"spot_ask"`
	PerpBid            float64   `json:"perp_bid"`
	PerpAsk            float64   `json:"perp_ask"`
	FundingRate        float64   `json:"funding_rate"`
	BasisBps           float64   `json:"basis_bps"`
	MidBasisBps        float64   `json:"mid_basis_bps"`
	FundingDailyBps    float64   `json:"funding_daily_bps"`
	HoldingHours       float64   `json:"holding_hours"`
	ExpectedHoldingBps float64   `json:"expected_holding_bps"`
	GrossEdgeBps       float64   `json:"gross_edge_bps"`
	TotalCostsBps      float64   `json:"total_costs_bps"`
	BreakEvenHours     float64   `json:"break_even_hours"`
	SnapshotTS         time.Time `json:"snapshot_ts"`
}

// CrossExchangeDetails describes buying on one venue and selling on another.
type CrossExchangeDetails struct {
	BuyVenue        string  `json:"buy_venue"`
	SellVenue       string  `json:"sell_venue"`
	BuySymbol       string  `json:"buy_symbol"`
	SellSymbol      string  `json:"sell_symbol"`
	BuyAsk          float64 `json:"buy_ask"`
	SellBid         float64 `json:"sell_bid"`
	GrossBps        float64 `json:"gross_bps"`
	CostsBps        float64 `json:"costs_bps"`
	CanonicalSymbol string  `json:"canonical_symbol"`
}

// TriangularDetails describes a three-leg cycle on a single venue.
type TriangularDetails struct {
	Venue       string          `json:"venue"`
	Path        string          `json:"path"`
	Home        string          `json:"home"`
	Legs        []TriangularLeg `json:"legs"`
	FinalAmount float64         `json:"final_amount"`
	GrossBps    float64         `json:"gross_bps"`
	CostsBps    float64         `json:"costs_bps"`
}

// TriangularLeg is one conversion step with the quote it was priced from.
type TriangularLeg struct {
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	AmountIn  float64 `json:"amount_in"`
	AmountOut float64 `json:"amount_out"`
}

// BreakEvenHours returns the carry break-even horizon, or 0 for other types.
func (o Opportunity) BreakEvenHours() float64 {
	if o.Details.Carry != nil {
		return o.Details.Carry.BreakEvenHours
	}
	return 0
}

// FundingDailyBps returns the daily funding yield for carry opportunities.
func (o Opportunity) FundingDailyBps() float64 {
	if o.Details.Carry != nil {
		return o.Details.Carry.FundingDailyBps
	}
	return 0
}

// BasisBps returns the entry basis for carry opportunities.
func (o Opportunity) BasisBps() float64 {
	if o.Details.Carry != nil {
		return o.Details.Carry.BasisBps
	}
	return 0
}

// ExchangeKey returns the venue (or venue pair) used for PnL attribution.
func (o Opportunity) ExchangeKey() string {
	return o.VenueKey
}
