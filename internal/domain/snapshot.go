package domain

import "time"

// LedgerSnapshot is the durable ledger state.
type LedgerSnapshot struct {
	Lots                []Lot    `json:"lots"`
	RealizedProfitTotal float64  `json:"realizedProfitTotal"`
	LastProcessedFillID string   `json:"lastProcessedFillId"`
	ProcessedFillIDs    []string `json:"processedFillIds"`
	// ProcessedFloor is the highest numeric fill ID dropped from
	// ProcessedFillIDs; numeric IDs at or below it are already applied.
	ProcessedFloor string `json:"processedFloor,omitempty"`
	MatchCount     int    `json:"matchCount"`
}

// Holdings totals the remaining quantity of all lots.
func (s LedgerSnapshot) Holdings() float64 {
	return SumRemaining(s.Lots)
}

// Clone returns a deep copy.
func (s LedgerSnapshot) Clone() LedgerSnapshot {
	out := s
	out.Lots = append([]Lot(nil), s.Lots...)
	out.ProcessedFillIDs = append([]string(nil), s.ProcessedFillIDs...)
	return out
}

// EngineState is everything persisted for one pair.
type EngineState struct {
	Version    int            `json:"version"`
	Pair       Pair           `json:"pair"`
	Ledger     LedgerSnapshot `json:"ledger"`
	OpenOrders []OpenOrder    `json:"openOrders"`
	GridSpec   GridSpec       `json:"gridSpec"`
	Pause      PauseState     `json:"pause"`
	SavedAt    time.Time      `json:"savedAt"`
}

// StateVersion is the current EngineState schema version.
const StateVersion = 1
