package grid

import (
	"math"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// ema seeds with the SMA of the first period closes and smooths the rest.
// Returns 0 when there are not enough candles.
func ema(candles []domain.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += candles[i].Close
	}
	value := sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(candles); i++ {
		value = (candles[i].Close-value)*k + value
	}
	return value
}

// atr is the Wilder-smoothed average true range.
func atr(candles []domain.Candle, period int) float64 {
	if period <= 0 || len(candles) <= period {
		return 0
	}
	trs := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		high, low, prevClose := candles[i].High, candles[i].Low, candles[i-1].Close
		trs[i] = math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trs[i]
	}
	value := sum / float64(period)

	// Wilder
	for i := period + 1; i < len(candles); i++ {
		value = (value*float64(period-1) + trs[i]) / float64(period)
	}
	return value
}

// bollingerBandwidth returns (upper-lower)/middle over the last period closes.
func bollingerBandwidth(candles []domain.Candle, period int, stdDevs float64) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}
	window := candles[len(candles)-period:]

	sum := 0.0
	for _, c := range window {
		sum += c.Close
	}
	middle := sum / float64(period)
	if middle == 0 {
		return 0
	}

	variance := 0.0
	for _, c := range window {
		d := c.Close - middle
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	return (2 * stdDevs * sd) / middle
}

// rangePosition is where the last close sits in the high/low range of the
// last lookback closes: 0 at the low, 1 at the high.
func rangePosition(candles []domain.Candle, lookback int) float64 {
	if len(candles) == 0 {
		return 0.5
	}
	if lookback > len(candles) {
		lookback = len(candles)
	}
	window := candles[len(candles)-lookback:]
	lo, hi := window[0].Close, window[0].Close
	for _, c := range window {
		lo = math.Min(lo, c.Close)
		hi = math.Max(hi, c.Close)
	}
	if hi == lo {
		return 0.5
	}
	return (candles[len(candles)-1].Close - lo) / (hi - lo)
}
