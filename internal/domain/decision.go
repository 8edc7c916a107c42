package domain

import "time"

// Variant is the A/B arm an opportunity was assigned to.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// OpportunityDecision is the audit record of how a candidate was scored and
// whether it was executed. It is written before execution is attempted and
// updated with the outcome.
type OpportunityDecision struct {
	ID             string
	TS             time.Time
	OpportunityID  string
	Variant        Variant
	ScoreRule      float64
	ScoreAI        *float64
	ScoreEffective float64
	Reranked       bool
	Features       []float64
	Chosen         bool
	PositionID     string
	Reason         string
}

// TrainingSample pairs a decision's features with its realized outcome.
type TrainingSample struct {
	Features    []float64
	OutcomeBps  float64
	DecidedAt   time.Time
	NotionalUSD float64
}

// ScoringModel holds fitted ridge regression weights.
type ScoringModel struct {
	ID        string
	TrainedAt time.Time
	Weights   []float64
	Lambda    float64
	Samples   int
}
