package grid_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/alejandrodnm/gridbot/internal/grid"
	"github.com/stretchr/testify/assert"
)

func series(n int, closeAt func(i int) float64, wick float64) []domain.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, n)
	for i := range out {
		c := closeAt(i)
		out[i] = domain.Candle{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: c, High: c + wick, Low: c - wick, Close: c}
	}
	return out
}

func TestClassify_Uptrend(t *testing.T) {
	a := grid.Classify(series(250, func(i int) float64 { return 100 + float64(i)*0.5 }, 0.2))
	assert.Equal(t, domain.RegimeStrongBull, a.Regime)
	assert.Equal(t, domain.ConfidenceHigh, a.Confidence)
	assert.Greater(t, a.ATRFraction, 0.0)
}

func TestClassify_Downtrend(t *testing.T) {
	a := grid.Classify(series(250, func(i int) float64 { return 300 - float64(i)*0.5 }, 0.2))
	assert.Equal(t, domain.RegimeStrongBear, a.Regime)
	assert.Equal(t, domain.ConfidenceHigh, a.Confidence)
}

func TestClassify_ShortHistoryIsSideways(t *testing.T) {
	a := grid.Classify(series(50, func(i int) float64 { return 100 + float64(i%2)*0.01 }, 0.05))
	assert.Equal(t, domain.RegimeSideways, a.Regime)
	assert.Equal(t, domain.ConfidenceLow, a.Confidence)
	assert.Equal(t, domain.VolatilityLow, a.Volatility)
	assert.InDelta(t, 0.001, a.ATRFraction, 0.0002)
}

func TestClassify_ExtremeVolatility(t *testing.T) {
	// alterna ±5% → bandwidth ≈ 0.2
	a := grid.Classify(series(40, func(i int) float64 {
		if i%2 == 0 {
			return 95
		}
		return 105
	}, 1))
	assert.Equal(t, domain.VolatilityExtreme, a.Volatility)
	assert.Greater(t, a.Bandwidth, 0.08)
}

func TestClassify_Empty(t *testing.T) {
	a := grid.Classify(nil)
	assert.Equal(t, domain.VolatilityNormal, a.Volatility)
	assert.Equal(t, domain.RegimeSideways, a.Regime)
}
