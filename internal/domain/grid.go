package domain

import "time"

// VolatilityClass buckets recent price dispersion.
type VolatilityClass string

const (
	VolatilityLow     VolatilityClass = "LOW"
	VolatilityNormal  VolatilityClass = "NORMAL"
	VolatilityHigh    VolatilityClass = "HIGH"
	VolatilityExtreme VolatilityClass = "EXTREME"
)

// Regime is the trend classification, from STRONG_BULL to STRONG_BEAR.
type Regime string

const (
	RegimeStrongBull Regime = "STRONG_BULL"
	RegimeBull       Regime = "BULL"
	RegimeWeakBull   Regime = "WEAK_BULL"
	RegimeSideways   Regime = "SIDEWAYS"
	RegimeWeakBear   Regime = "WEAK_BEAR"
	RegimeBear       Regime = "BEAR"
	RegimeStrongBear Regime = "STRONG_BEAR"
)

// Bullish reports whether the regime leans up.
func (r Regime) Bullish() bool {
	return r == RegimeStrongBull || r == RegimeBull || r == RegimeWeakBull
}

// Bearish reports whether the regime leans down.
func (r Regime) Bearish() bool {
	return r == RegimeStrongBear || r == RegimeBear || r == RegimeWeakBear
}

// Confidence grades how well the trend indicators agree.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Defense levels of the risk signal.
const (
	DefenseAggressive = -1 // aggressive accumulation
	DefenseNormal     = 0
	DefenseAnxiety    = 1
	DefenseCrisis     = 2
	DefenseMaxCrisis  = 3
)

// RiskLevel is the opaque macro/news signal consumed by the planner.
type RiskLevel struct {
	DefenseLevel int     `json:"defenseLevel"`
	ScoreBias    float64 `json:"scoreBias"`
}

// Crisis reports whether the signal is at crisis level or above.
func (r RiskLevel) Crisis() bool { return r.DefenseLevel >= DefenseCrisis }

// Candle is one OHLC bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Assessment is the regime classifier output.
type Assessment struct {
	Volatility  VolatilityClass `json:"volatility"`
	Regime      Regime          `json:"regime"`
	Confidence  Confidence      `json:"confidence"`
	ATRFraction float64         `json:"atrFraction"` // ATR / last close
	Bandwidth   float64         `json:"bandwidth"`   // Bollinger (upper-lower)/middle
}

// GridSpec is derived wholesale from regime, volatility and risk. It is
// replaced, never patched.
type GridSpec struct {
	Spacing                   float64 `json:"spacing"`
	LevelCount                int     `json:"levelCount"`
	CapitalAllocationFraction float64 `json:"capitalAllocationFraction"`
	SafetyMargin              float64 `json:"safetyMargin"`

	// SpacingMultiplier is the combined volatility × risk factor before clamping.
	SpacingMultiplier float64         `json:"spacingMultiplier"`
	Volatility        VolatilityClass `json:"volatility"`
	Regime            Regime          `json:"regime"`
	DefenseLevel      int             `json:"defenseLevel"`
}

// IsZero reports whether no spec has been planned yet.
func (g GridSpec) IsZero() bool { return g.LevelCount == 0 }

// GridLevel is one desired rung of the ladder.
type GridLevel struct {
	Index    int     // negative for buys, positive for sells
	Side     Side
	Price    float64
	Quantity float64
}
