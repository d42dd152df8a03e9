package domain

import "time"

// MatchQuality describes how confidently a sell's cost basis was determined.
type MatchQuality string

const (
	MatchExact     MatchQuality = "EXACT"
	MatchClose     MatchQuality = "CLOSE"
	MatchFallback  MatchQuality = "FALLBACK"
	MatchEstimated MatchQuality = "ESTIMATED"
)

// ConsumedLot is one lot's contribution to a sell.
type ConsumedLot struct {
	LotID           string  `json:"lotId"`
	QuantityTaken   float64 `json:"quantityTaken"`
	LotPriceAtMatch float64 `json:"lotPriceAtMatch"`
	FeeTaken        float64 `json:"feeTaken"`
}

// MatchResult is the audit record of one sell fill. It is produced exactly once
// and never recomputed.
type MatchResult struct {
	SellFillID       string        `json:"sellFillId"`
	SellPrice        float64       `json:"sellPrice"`
	SellQuantity     float64       `json:"sellQuantity"`
	ExpectedBuyPrice float64       `json:"expectedBuyPrice"`
	Spacing          float64       `json:"spacing"`
	ConsumedLots     []ConsumedLot `json:"consumedLots"`
	// Shortfall is the sold quantity no lot could cover; its cost basis is
	// estimated at ExpectedBuyPrice.
	Shortfall        float64      `json:"shortfall"`
	ShortfallQuality MatchQuality `json:"shortfallQuality,omitempty"`
	RealizedGross    float64      `json:"realizedGross"`
	RealizedFees     float64      `json:"realizedFees"`
	RealizedNet      float64      `json:"realizedNet"`
	Quality          MatchQuality `json:"quality"`
	MatchedAt        time.Time    `json:"matchedAt"`
}

// MatchedQuantity is the quantity covered by real lots.
func (m MatchResult) MatchedQuantity() float64 {
	total := 0.0
	for _, c := range m.ConsumedLots {
		total += c.QuantityTaken
	}
	return total
}

// AccountedQuantity is matched plus shortfall; it always equals SellQuantity.
func (m MatchResult) AccountedQuantity() float64 {
	return m.MatchedQuantity() + m.Shortfall
}
