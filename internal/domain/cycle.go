package domain

import "time"

// CycleSummary is what one polling cycle produced, for reporting and metrics.
type CycleSummary struct {
	Pair           string
	StartedAt      time.Time
	Duration       time.Duration
	Price          float64
	Assessment     Assessment
	Spec           GridSpec
	NewFills       int
	Matches        []MatchResult
	Placed         int
	Cancelled      int
	FailedOrders   int
	Holdings       float64
	Balance        float64
	RealizedProfit float64
	Unrealized     float64
	Paused         bool
	PauseReason    string
	Warnings       []string
}
