package domain

import "time"

// LotSource tells where a lot came from.
type LotSource string

const (
	LotFromFill  LotSource = "FILL"
	LotCatchUp   LotSource = "CATCH_UP"
	LotEstimated LotSource = "ESTIMATED"
)

// LotState is derived from the remaining quantity; transitions only move forward.
type LotState string

const (
	LotOpen              LotState = "OPEN"
	LotPartiallyConsumed LotState = "PARTIALLY_CONSUMED"
	LotExhausted         LotState = "EXHAUSTED"
)

// Lot is a quantity of base asset acquired at a given price.
// Invariant: 0 <= RemainingQuantity <= OriginalQuantity.
type Lot struct {
	ID                string    `json:"id"`
	Price             float64   `json:"price"`
	OriginalQuantity  float64   `json:"originalQuantity"`
	RemainingQuantity float64   `json:"remainingQuantity"`
	FeePaid           float64   `json:"feePaid"` // quote currency
	OpenedAt          time.Time `json:"openedAt"`
	Source            LotSource `json:"source,omitempty"`
	// Truncated is quantity removed by reconciliation, never by a sell.
	Truncated float64 `json:"truncated,omitempty"`
}

// State classifies the lot given the ledger epsilon.
func (l Lot) State(eps float64) LotState {
	switch {
	case l.RemainingQuantity <= eps:
		return LotExhausted
	case l.OriginalQuantity-l.RemainingQuantity <= eps:
		return LotOpen
	default:
		return LotPartiallyConsumed
	}
}

// Consumed is the quantity taken by sell matches so far.
func (l Lot) Consumed() float64 {
	return l.OriginalQuantity - l.RemainingQuantity - l.Truncated
}

// CostBasis is the quote value of the remaining quantity at the lot price.
func (l Lot) CostBasis() float64 {
	return l.RemainingQuantity * l.Price
}

// ProratedFee returns the share of FeePaid attributable to qty.
func (l Lot) ProratedFee(qty float64) float64 {
	if l.OriginalQuantity <= 0 {
		return 0
	}
	return qty / l.OriginalQuantity * l.FeePaid
}

// SumRemaining totals the remaining quantity of lots.
func SumRemaining(lots []Lot) float64 {
	total := 0.0
	for _, l := range lots {
		total += l.RemainingQuantity
	}
	return total
}
