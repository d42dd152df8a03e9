package grid_test

import (
	"testing"

	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/alejandrodnm/gridbot/internal/grid"
	"github.com/stretchr/testify/assert"
)

func assess(vol domain.VolatilityClass, regime domain.Regime, conf domain.Confidence) domain.Assessment {
	return domain.Assessment{Volatility: vol, Regime: regime, Confidence: conf, ATRFraction: 0.01}
}

func TestPlan_CrisisOverridesEverything(t *testing.T) {
	spec := grid.Plan(grid.PlanInput{
		Capital:    1000,
		Assessment: assess(domain.VolatilityExtreme, domain.RegimeStrongBear, domain.ConfidenceHigh),
		Risk:       domain.RiskLevel{DefenseLevel: 3},
	})
	assert.Equal(t, 0.50, spec.CapitalAllocationFraction)
	assert.GreaterOrEqual(t, spec.SpacingMultiplier, 3.0*1.5)
	// 0.01 × 4.5
	assert.InDelta(t, 0.045, spec.Spacing, 1e-12)
	assert.InDelta(t, 0.80, spec.SafetyMargin, 1e-12)
	assert.Equal(t, 3, spec.DefenseLevel)
}

func TestPlan_CrisisBeatsBullishSignals(t *testing.T) {
	a := assess(domain.VolatilityLow, domain.RegimeStrongBull, domain.ConfidenceHigh)
	assert.Equal(t, 0.98, grid.Allocation(a, domain.RiskLevel{}))
	assert.Equal(t, 0.50, grid.Allocation(a, domain.RiskLevel{DefenseLevel: 2}))
	assert.Equal(t, 0.85, grid.Allocation(a, domain.RiskLevel{DefenseLevel: 1}))
}

func TestPlan_IsPure(t *testing.T) {
	in := grid.PlanInput{Capital: 800, Assessment: assess(domain.VolatilityHigh, domain.RegimeBear, domain.ConfidenceMedium)}
	assert.Equal(t, grid.Plan(in), grid.Plan(in))
}

func TestAllocation_Adjustments(t *testing.T) {
	cases := []struct {
		name string
		a    domain.Assessment
		risk int
		want float64
	}{
		{"default", assess(domain.VolatilityNormal, domain.RegimeSideways, domain.ConfidenceLow), 0, 0.95},
		{"extreme", assess(domain.VolatilityExtreme, domain.RegimeSideways, domain.ConfidenceLow), 0, 0.70},
		{"high", assess(domain.VolatilityHigh, domain.RegimeSideways, domain.ConfidenceLow), 0, 0.85},
		{"strong bear", assess(domain.VolatilityNormal, domain.RegimeStrongBear, domain.ConfidenceLow), 0, 0.80},
		{"bear", assess(domain.VolatilityNormal, domain.RegimeBear, domain.ConfidenceLow), 0, 0.90},
		{"aggressive", assess(domain.VolatilityHigh, domain.RegimeBear, domain.ConfidenceLow), -1, 0.98},
		{"bull without confidence", assess(domain.VolatilityLow, domain.RegimeStrongBull, domain.ConfidenceMedium), 0, 0.95},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, grid.Allocation(tc.a, domain.RiskLevel{DefenseLevel: tc.risk}))
		})
	}
}

func TestLevelCount_Bands(t *testing.T) {
	assert.Equal(t, 5, grid.LevelCount(10, domain.VolatilityNormal))
	assert.Equal(t, 8, grid.LevelCount(100, domain.VolatilityNormal))
	assert.Equal(t, 12, grid.LevelCount(300, domain.VolatilityNormal))
	assert.Equal(t, 20, grid.LevelCount(999, domain.VolatilityNormal))
	assert.Equal(t, 30, grid.LevelCount(2000, domain.VolatilityNormal))
	assert.Equal(t, 40, grid.LevelCount(4000, domain.VolatilityNormal))
	assert.Equal(t, 50, grid.LevelCount(1e6, domain.VolatilityNormal))

	assert.Equal(t, 4, grid.LevelCount(10, domain.VolatilityExtreme))
	assert.Equal(t, 25, grid.LevelCount(1e6, domain.VolatilityExtreme))
	assert.Equal(t, 5, grid.LevelCount(10, domain.VolatilityHigh))
	assert.Equal(t, 14, grid.LevelCount(300, domain.VolatilityLow))
	assert.Equal(t, 60, grid.LevelCount(1e6, domain.VolatilityLow))
}

func TestPlan_SpacingMultipliersAndClamp(t *testing.T) {
	base := assess(domain.VolatilityNormal, domain.RegimeSideways, domain.ConfidenceLow)

	spec := grid.Plan(grid.PlanInput{Capital: 100, Assessment: base, Risk: domain.RiskLevel{DefenseLevel: -1}})
	assert.InDelta(t, 0.009, spec.Spacing, 1e-12)

	spec = grid.Plan(grid.PlanInput{Capital: 100, Assessment: base, Risk: domain.RiskLevel{DefenseLevel: 1}})
	assert.InDelta(t, 0.011, spec.Spacing, 1e-12)

	spec = grid.Plan(grid.PlanInput{Capital: 100, Assessment: base, Risk: domain.RiskLevel{DefenseLevel: 2}})
	assert.InDelta(t, 0.0125, spec.Spacing, 1e-12)

	wide := base
	wide.ATRFraction = 0.2
	wide.Volatility = domain.VolatilityExtreme
	assert.Equal(t, grid.MaxSpacing, grid.Plan(grid.PlanInput{Capital: 100, Assessment: wide}).Spacing)

	narrow := base
	narrow.ATRFraction = 0.0001
	assert.Equal(t, grid.MinSpacing, grid.Plan(grid.PlanInput{Capital: 100, Assessment: narrow}).Spacing)

	unknown := base
	unknown.ATRFraction = 0
	assert.InDelta(t, grid.DefaultATRFraction, grid.Plan(grid.PlanInput{Capital: 100, Assessment: unknown}).Spacing, 1e-12)
}

func TestSafetyMargin(t *testing.T) {
	assert.Equal(t, 0.98, grid.SafetyMargin(assess(domain.VolatilityLow, domain.RegimeStrongBull, domain.ConfidenceLow)))
	assert.InDelta(t, 0.95, grid.SafetyMargin(assess(domain.VolatilityNormal, domain.RegimeSideways, domain.ConfidenceLow)), 1e-12)
	assert.InDelta(t, 0.87, grid.SafetyMargin(assess(domain.VolatilityHigh, domain.RegimeBear, domain.ConfidenceLow)), 1e-12)
}
