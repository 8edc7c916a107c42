package scoring

import "github.com/indijan/arbiter/internal/domain"

// RiskWeight orders strategy types by execution risk. Lower is safer.
func RiskWeight(t domain.OpportunityType) float64 {
	switch t {
	case domain.OpportunityCarry:
		return 0
	case domain.OpportunityCrossExchange:
		return 1
	case domain.OpportunityTriangular:
		return 2
	default:
		return 3
	}
}

// RuleScore is the deterministic score. Lower is better: it falls with net
// edge and confidence and rises with break-even time and strategy risk.
func RuleScore(o domain.Opportunity) float64 {
	return RiskWeight(o.Type) + o.BreakEvenHours()/24 - o.NetEdgeBps/10 - o.Confidence
}
