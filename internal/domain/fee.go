package domain

// FeeConverter normalizes exchange fees to the quote currency.
//
// Fees charged in the quote asset are taken as-is, fees in the base asset are
// valued at the fill price, and any other asset (e.g. BNB) uses a static rate
// expressed in quote units.
type FeeConverter struct {
	Base  string
	Quote string
	Rates map[string]float64
}

// Convert returns the fill fee valued in quote currency. priced is false when
// the fee asset has no configured rate; the fee is then taken 1:1 as quote and
// the caller decides how loudly to report it.
func (c FeeConverter) Convert(f Fill) (fee float64, priced bool) {
	if f.Fee <= 0 {
		return 0, true
	}
	switch f.FeeCurrency {
	case "", c.Quote:
		return f.Fee, true
	case c.Base:
		return f.Fee * f.Price, true
	}
	if rate, ok := c.Rates[f.FeeCurrency]; ok && rate > 0 {
		return f.Fee * rate, true
	}
	return f.Fee, false
}

// ToQuote is Convert without the priced flag.
func (c FeeConverter) ToQuote(f Fill) float64 {
	fee, _ := c.Convert(f)
	return fee
}

// BaseDeducted returns the quantity of base asset withheld by the exchange for
// this fill's fee, or zero when the fee was paid in another asset.
func (c FeeConverter) BaseDeducted(f Fill) float64 {
	if c.Base == "" || f.FeeCurrency != c.Base || f.Fee <= 0 {
		return 0
	}
	return f.Fee
}
