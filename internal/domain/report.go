package domain

import "time"

// LotAdjustment records quantity removed from a lot by reconciliation.
type LotAdjustment struct {
	LotID             string  `json:"lotId"`
	Price             float64 `json:"price"`
	QuantityRemoved   float64 `json:"quantityRemoved"`
	RemainingAfter    float64 `json:"remainingAfter"`
	ReferencedByMatch bool    `json:"referencedByMatch"`
}

// ReconciliationReport summarizes the correction applied to a ledger.
type ReconciliationReport struct {
	Pair           string          `json:"pair"`
	AddedLots      []Lot           `json:"addedLots"`
	RemovedLots    []LotAdjustment `json:"removedLots"`
	ProfitDelta    float64         `json:"profitDelta"`
	ReplayedFills  int             `json:"replayedFills"`
	Balance        float64         `json:"balance"`
	HoldingsBefore float64         `json:"holdingsBefore"`
	HoldingsAfter  float64         `json:"holdingsAfter"`
	RanAt          time.Time       `json:"ranAt"`
}

// Empty reports whether reconciliation changed nothing.
func (r ReconciliationReport) Empty() bool {
	return len(r.AddedLots) == 0 && len(r.RemovedLots) == 0 && r.ProfitDelta == 0
}

// AddedQuantity totals the remaining quantity of added lots.
func (r ReconciliationReport) AddedQuantity() float64 {
	return SumRemaining(r.AddedLots)
}

// RemovedQuantity totals truncated quantity.
func (r ReconciliationReport) RemovedQuantity() float64 {
	total := 0.0
	for _, a := range r.RemovedLots {
		total += a.QuantityRemoved
	}
	return total
}
