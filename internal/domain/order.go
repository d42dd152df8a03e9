package domain

import "time"

// OpenOrder is a limit order resting on the exchange.
type OpenOrder struct {
	ID       string    `json:"id"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Filled   float64   `json:"filled"`
	Spacing  float64   `json:"spacing"` // grid spacing when placed; 0 for adopted orders
	Level    int       `json:"level"`
	PlacedAt time.Time `json:"placedAt"`
}

// Remaining is the quantity still resting.
func (o OpenOrder) Remaining() float64 {
	return o.Quantity - o.Filled
}
