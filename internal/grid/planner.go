// Package grid sizes the order ladder from market conditions: Classify reads
// candles, Plan derives a GridSpec and Ladder lays out the levels.
package grid

import (
	"math"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

const (
	MinSpacing = 0.001
	MaxSpacing = 0.10

	// DefaultATRFraction stands in when the volatility proxy is unknown.
	DefaultATRFraction = 0.005

	minSafetyMargin = 0.80
)

// PlanInput is everything the planner looks at.
type PlanInput struct {
	Capital    float64
	Assessment domain.Assessment
	Risk       domain.RiskLevel
}

// Plan derives a GridSpec. It is a pure function of its input.
func Plan(in PlanInput) domain.GridSpec {
	a := in.Assessment
	mult := VolatilityMultiplier(a.Volatility) * RiskMultiplier(in.Risk.DefenseLevel)

	proxy := a.ATRFraction
	if proxy <= 0 || math.IsNaN(proxy) {
		proxy = DefaultATRFraction
	}

	return domain.GridSpec{
		Spacing:                   clamp(proxy*mult, MinSpacing, MaxSpacing),
		LevelCount:                LevelCount(in.Capital, a.Volatility),
		CapitalAllocationFraction: Allocation(a, in.Risk),
		SafetyMargin:              SafetyMargin(a),
		SpacingMultiplier:         mult,
		Volatility:                a.Volatility,
		Regime:                    a.Regime,
		DefenseLevel:              in.Risk.DefenseLevel,
	}
}

// LevelCount picks the number of levels from capital bands, then scales it
// for volatility.
func LevelCount(capital float64, vol domain.VolatilityClass) int {
	var n int
	switch {
	case capital < 50:
		n = 5
	case capital < 150:
		n = 8
	case capital < 500:
		n = 12
	case capital < 1000:
		n = 20
	case capital < 2500:
		n = 30
	case capital < 5000:
		n = 40
	default:
		n = 50
	}

	switch vol {
	case domain.VolatilityExtreme:
		n = max(4, int(math.Floor(float64(n)*0.5)))
	case domain.VolatilityHigh:
		n = max(5, int(math.Floor(float64(n)*0.7)))
	case domain.VolatilityLow:
		n = min(60, int(math.Floor(float64(n)*1.2)))
	}
	return n
}

// VolatilityMultiplier widens spacing in volatile markets.
func VolatilityMultiplier(vol domain.VolatilityClass) float64 {
	switch vol {
	case domain.VolatilityExtreme:
		return 3.0
	case domain.VolatilityHigh:
		return 1.5
	case domain.VolatilityLow:
		return 0.8
	default:
		return 1.0
	}
}

// RiskMultiplier maps the defense level to a spacing factor.
func RiskMultiplier(defense int) float64 {
	switch {
	case defense <= domain.DefenseAggressive:
		return 0.90
	case defense == domain.DefenseAnxiety:
		return 1.10
	case defense == domain.DefenseCrisis:
		return 1.25
	case defense >= domain.DefenseMaxCrisis:
		return 1.50
	default:
		return 1.0
	}
}

// Allocation is the fraction of capital the grid may deploy. Crisis caps are
// applied last so they override every bullish adjustment.
func Allocation(a domain.Assessment, risk domain.RiskLevel) float64 {
	alloc := 0.95
	switch a.Volatility {
	case domain.VolatilityExtreme:
		alloc = 0.70
	case domain.VolatilityHigh:
		alloc = 0.85
	}

	switch a.Regime {
	case domain.RegimeStrongBear:
		alloc = math.Min(alloc, 0.80)
	case domain.RegimeBear:
		alloc = math.Min(alloc, 0.90)
	}

	highConfidenceBull := a.Regime == domain.RegimeStrongBull &&
		a.Confidence == domain.ConfidenceHigh &&
		a.Volatility == domain.VolatilityLow
	if risk.DefenseLevel <= domain.DefenseAggressive || highConfidenceBull {
		alloc = 0.98
	}

	switch {
	case risk.DefenseLevel >= domain.DefenseCrisis:
		alloc = math.Min(alloc, 0.50)
	case risk.DefenseLevel == domain.DefenseAnxiety:
		alloc = math.Min(alloc, 0.85)
	}
	return alloc
}

// SafetyMargin is the share of free balance the ladder may commit.
func SafetyMargin(a domain.Assessment) float64 {
	if a.Regime == domain.RegimeStrongBull && a.Volatility == domain.VolatilityLow {
		return 0.98
	}
	m := 0.95
	switch a.Volatility {
	case domain.VolatilityExtreme:
		m -= 0.10
	case domain.VolatilityHigh:
		m -= 0.05
	}
	switch a.Regime {
	case domain.RegimeStrongBear:
		m -= 0.05
	case domain.RegimeBear:
		m -= 0.03
	}
	return math.Max(m, minSafetyMargin)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
