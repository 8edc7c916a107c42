// Package scoring ranks opportunities with a deterministic rule score, an
// optional ridge-regression model and an optional external re-ranker.
package scoring

import "github.com/indijan/arbiter/internal/domain"

// FeatureNames lists the feature vector layout. The order is part of the
// stored model format and must not change without retraining.
var FeatureNames = []string{
	"bias",
	"net_edge_bps",
	"confidence",
	"break_even_hours",
	"funding_daily_bps",
	"basis_bps",
	"is_carry",
	"is_cross_exchange",
	"is_triangular",
}

// FeatureCount is len(FeatureNames).
const FeatureCount = 9

// BuildFeatures returns the fixed-order feature vector for an opportunity.
// Fields that do not apply to the opportunity type are zero.
func BuildFeatures(o domain.Opportunity) []float64 {
	x := make([]float64, FeatureCount)
	x[0] = 1
	x[1] = o.NetEdgeBps
	x[2] = o.Confidence
	x[3] = o.BreakEvenHours()
	x[4] = o.FundingDailyBps()
	x[5] = o.BasisBps()
	switch o.Type {
	case domain.OpportunityCarry:
		x[6] = 1
	case domain.OpportunityCrossExchange:
		x[7] = 1
	case domain.OpportunityTriangular:
		x[8] = 1
	}
	return x
}
