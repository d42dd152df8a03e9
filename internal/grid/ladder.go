package grid

import (
	"math"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// LadderInput sizes the ladder around Price.
type LadderInput struct {
	Spec      domain.GridSpec
	Price     float64
	Capital   float64 // quote capital assigned to the pair
	QuoteFree float64 // quote balance available for buys
	Inventory float64 // base held per the ledger
	// MinNotional skips levels the exchange would reject as too small.
	MinNotional float64
	// FeeRate is the taker fee; a grid that cannot cover two of them per round
	// trip is not worth placing.
	FeeRate float64
}

// WorthPlacing reports whether one grid step covers the round-trip fees.
func WorthPlacing(spacing, feeRate float64) bool {
	return spacing > 2*feeRate
}

// SizeMultiplier makes levels near the price bigger: 1.5 at the price, down
// to 0.7 from 2.67% away.
func SizeMultiplier(distance float64) float64 {
	return clamp(1.5-distance*30, 0.7, 1.5)
}

// Ladder lays out buy levels below and sell levels above the price, nearest
// first on each side. Buys are capped by QuoteFree and sells by Inventory,
// both scaled by the GridSpec safety margin.
func Ladder(in LadderInput) []domain.GridLevel {
	spec := in.Spec
	if spec.LevelCount <= 0 || in.Price <= 0 || spec.Spacing <= 0 {
		return nil
	}
	if !WorthPlacing(spec.Spacing, in.FeeRate) {
		return nil
	}

	perLevel := in.Capital * spec.CapitalAllocationFraction / float64(spec.LevelCount)
	buys := spec.LevelCount / 2
	sells := spec.LevelCount - buys

	var levels []domain.GridLevel

	budget := in.QuoteFree * spec.SafetyMargin
	for i := 1; i <= buys; i++ {
		dist := spec.Spacing * float64(i)
		price := in.Price * (1 - dist)
		if price <= 0 {
			break
		}
		quote := perLevel * SizeMultiplier(dist)
		if quote > budget {
			quote = budget
		}
		if quote <= 0 || quote < in.MinNotional {
			break
		}
		budget -= quote
		levels = append(levels, domain.GridLevel{Index: -i, Side: domain.SideBuy, Price: price, Quantity: quote / price})
	}

	inventory := in.Inventory * spec.SafetyMargin
	for i := 1; i <= sells; i++ {
		dist := spec.Spacing * float64(i)
		price := in.Price * (1 + dist)
		qty := math.Min(perLevel*SizeMultiplier(dist)/price, inventory)
		if qty <= 0 || qty*price < in.MinNotional {
			break
		}
		inventory -= qty
		levels = append(levels, domain.GridLevel{Index: i, Side: domain.SideSell, Price: price, Quantity: qty})
	}
	return levels
}
