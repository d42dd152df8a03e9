package domain

import (
	"sort"
	"time"
)

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Pair identifies the traded market, e.g. BTCUSDT = BTC (base) / USDT (quote).
type Pair struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Base   string `json:"base" yaml:"base"`
	Quote  string `json:"quote" yaml:"quote"`
}

func (p Pair) String() string { return p.Symbol }

// Fill is an execution reported by the exchange. Immutable once recorded; it is
// the only input that mutates the ledger.
type Fill struct {
	ID            string    `json:"id"`
	Side          Side      `json:"side"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Fee           float64   `json:"fee"`
	FeeCurrency   string    `json:"feeCurrency"`
	Timestamp     time.Time `json:"timestamp"`
	LinkedOrderID string    `json:"linkedOrderId"`
	// Spacing is the grid spacing in force when the linked order was placed.
	// Zero means unknown; the matching policy default applies.
	Spacing float64 `json:"spacing,omitempty"`
}

// Notional returns price × quantity in quote currency.
func (f Fill) Notional() float64 {
	return f.Price * f.Quantity
}

// SortFills orders fills chronologically, breaking timestamp ties by ID so that
// replays are deterministic.
func SortFills(fills []Fill) {
	sort.SliceStable(fills, func(i, j int) bool {
		if !fills[i].Timestamp.Equal(fills[j].Timestamp) {
			return fills[i].Timestamp.Before(fills[j].Timestamp)
		}
		return LessID(fills[i].ID, fills[j].ID)
	})
}

// LessID compares exchange trade IDs numerically when both are numeric
// ("999" < "1000") and lexicographically otherwise.
func LessID(a, b string) bool {
	if len(a) != len(b) && Numeric(a) && Numeric(b) {
		return len(a) < len(b)
	}
	return a < b
}

// Numeric reports whether id is a non-empty string of decimal digits.
func Numeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
