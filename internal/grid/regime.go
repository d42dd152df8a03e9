package grid

import (
	"math"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Classifier thresholds.
const (
	MinCandles = 200

	atrPeriod       = 14
	bollingerPeriod = 20
	bollingerStdDev = 2.0
	positionWindow  = 100

	bandwidthExtreme = 0.08
	bandwidthHigh    = 0.04
	bandwidthLow     = 0.015

	strongTrend = 0.02
)

// Classify turns candles (oldest first) into a volatility class, trend regime
// and confidence. With fewer than MinCandles the trend is SIDEWAYS with LOW
// confidence; volatility is still measured when enough candles exist.
func Classify(candles []domain.Candle) domain.Assessment {
	a := domain.Assessment{
		Volatility: domain.VolatilityNormal,
		Regime:     domain.RegimeSideways,
		Confidence: domain.ConfidenceLow,
	}
	if len(candles) == 0 {
		return a
	}

	last := candles[len(candles)-1].Close
	if last > 0 {
		a.ATRFraction = atr(candles, atrPeriod) / last
	}
	if len(candles) >= bollingerPeriod {
		a.Bandwidth = bollingerBandwidth(candles, bollingerPeriod, bollingerStdDev)
		a.Volatility = volatilityClass(a.Bandwidth)
	}

	if len(candles) < MinCandles {
		return a
	}

	ema20 := ema(candles, 20)
	ema50 := ema(candles, 50)
	ema200 := ema(candles, 200)
	pos := rangePosition(candles, positionWindow)
	strength := math.Abs(ema50-ema200) / ema200

	switch {
	case ema50 > ema200:
		switch {
		case pos > 0.7 && strength > strongTrend:
			a.Regime = domain.RegimeStrongBull
		case pos > 0.5:
			a.Regime = domain.RegimeBull
		default:
			a.Regime = domain.RegimeWeakBull
		}
	case ema50 < ema200:
		switch {
		case pos < 0.3 && strength > strongTrend:
			a.Regime = domain.RegimeStrongBear
		case pos < 0.5:
			a.Regime = domain.RegimeBear
		default:
			a.Regime = domain.RegimeWeakBear
		}
	}

	switch {
	case a.Regime.Bullish() && ema20 > ema50:
		a.Confidence = domain.ConfidenceHigh
	case a.Regime.Bearish() && ema20 < ema50:
		a.Confidence = domain.ConfidenceHigh
	case a.Regime != domain.RegimeSideways:
		a.Confidence = domain.ConfidenceMedium
	}
	return a
}

func volatilityClass(bandwidth float64) domain.VolatilityClass {
	switch {
	case bandwidth > bandwidthExtreme:
		return domain.VolatilityExtreme
	case bandwidth > bandwidthHigh:
		return domain.VolatilityHigh
	case bandwidth < bandwidthLow:
		return domain.VolatilityLow
	default:
		return domain.VolatilityNormal
	}
}
