package domain

import "time"

// DailyStrategyPnl is the PnL for one (day, strategy, exchange) bucket.
type DailyStrategyPnl struct {
	Day         time.Time
	StrategyKey string
	ExchangeKey string
	PnlUSD      float64
	UpdatedAt   time.Time
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
