package ledger

import (
	"math"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// MatchPolicy configures spread-match. The live ledger and the reconciliation
// replay share one policy so they never disagree on how a sell matched.
type MatchPolicy struct {
	PriceWeight    float64 `yaml:"price_weight"`
	QuantityWeight float64 `yaml:"quantity_weight"`
	ExactThreshold float64 `yaml:"exact_threshold"`
	CloseThreshold float64 `yaml:"close_threshold"`
	Epsilon        float64 `yaml:"epsilon"`
	// DefaultSpacing is used when a sell fill carries no order-time spacing.
	DefaultSpacing float64 `yaml:"default_spacing"`
}

// DefaultPolicy returns the standard weights and thresholds.
func DefaultPolicy() MatchPolicy {
	return MatchPolicy{
		PriceWeight:    0.7,
		QuantityWeight: 0.3,
		ExactThreshold: 0.005,
		CloseThreshold: 0.02,
		Epsilon:        1e-8,
		DefaultSpacing: 0.01,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p MatchPolicy) withDefaults() MatchPolicy {
	d := DefaultPolicy()
	if p.PriceWeight == 0 && p.QuantityWeight == 0 {
		p.PriceWeight = d.PriceWeight
		p.QuantityWeight = d.QuantityWeight
	}
	if p.ExactThreshold <= 0 {
		p.ExactThreshold = d.ExactThreshold
	}
	if p.CloseThreshold <= 0 {
		p.CloseThreshold = d.CloseThreshold
	}
	if p.Epsilon <= 0 {
		p.Epsilon = d.Epsilon
	}
	if p.DefaultSpacing <= 0 {
		p.DefaultSpacing = d.DefaultSpacing
	}
	return p
}

// ExpectedBuyPrice is the price a buy one grid step below sellPrice would
// have filled at.
func ExpectedBuyPrice(sellPrice, spacing float64) float64 {
	return sellPrice / (1 + spacing)
}

// Score ranks a lot for a sell; lower is better.
func (p MatchPolicy) Score(lotPrice, lotRemaining, expected, sellQty float64) float64 {
	priceDist := math.Abs(lotPrice-expected) / expected
	qtyDist := math.Abs(lotRemaining-sellQty) / sellQty
	return p.PriceWeight*priceDist + p.QuantityWeight*qtyDist
}

// Quality classifies the relative price distance of the best lot used.
func (p MatchPolicy) Quality(lotPrice, expected float64) domain.MatchQuality {
	dist := math.Abs(lotPrice-expected) / expected
	switch {
	case dist <= p.ExactThreshold:
		return domain.MatchExact
	case dist <= p.CloseThreshold:
		return domain.MatchClose
	default:
		return domain.MatchFallback
	}
}
