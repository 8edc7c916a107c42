// Package detector finds carry, cross-exchange and triangular arbitrage
// opportunities and persists them idempotently.
package detector

import (
	"github.com/indijan/arbiter/internal/domain"
	"github.com/indijan/arbiter/internal/metrics"
)

// Outcome classifies what a detector did with one symbol or path.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeWatchlist Outcome = "watchlist"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Skip reasons reported by the detectors.
const (
	ReasonNoValidSnapshot    = "no valid snapshot"
	ReasonNonPositiveFunding = "non-positive funding"
	ReasonBelowMinEdge       = "net edge below minimum"
	ReasonBelowThreshold     = "below threshold"
	ReasonInsufficientQuotes = "insufficient valid quotes"
	ReasonNoCrossEdge        = "no cross-exchange edge"
	ReasonDuplicate          = "duplicate within idempotency window"
)

// Item is the per-symbol (or per-path) result of a detector run.
type Item struct {
	VenueKey       string   `json:"venue_key"`
	Symbol         string   `json:"symbol"`
	Outcome        Outcome  `json:"outcome"`
	Reason         string   `json:"reason,omitempty"`
	NetEdgeBps     float64  `json:"net_edge_bps,omitempty"`
	BreakEvenHours float64  `json:"break_even_hours,omitempty"`
	OpportunityID  string   `json:"opportunity_id,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// Report summarises one detector run.
type Report struct {
	Type      domain.OpportunityType `json:"type"`
	Inserted  int                    `json:"inserted"`
	Skipped   int                    `json:"skipped"`
	Watchlist int                    `json:"watchlist"`
	Failed    int                    `json:"failed"`
	Items     []Item                 `json:"items"`
}

func newReport(typ domain.OpportunityType) *Report {
	return &Report{Type: typ, Items: []Item{}}
}

func (r *Report) add(it Item) {
	switch it.Outcome {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeWatchlist:
		r.Watchlist++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	metrics.OpportunitiesTotal.WithLabelValues(string(r.Type), string(it.Outcome)).Inc()
	r.Items = append(r.Items, it)
}

// confidence maps a net edge onto [0, 1] with the given full-confidence scale.
func confidence(netEdgeBps, scaleBps float64) float64 {
	if scaleBps <= 0 {
		return 0
	}
	c := netEdgeBps / scaleBps
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
