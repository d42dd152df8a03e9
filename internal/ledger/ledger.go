// Package ledger tracks inventory as cost lots and matches sell fills against
// them with spread-match. Ledger.Mutate is the only write entry point.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

var (
	// ErrMalformedFill is returned for fills that cannot be applied.
	ErrMalformedFill = errors.New("malformed fill")
	// ErrDuplicateFill is returned when the fill ID was already applied. The
	// ledger is left untouched.
	ErrDuplicateFill = errors.New("duplicate fill")
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithFees sets the converter used to value fees in quote currency.
func WithFees(fc domain.FeeConverter) Option {
	return func(l *Ledger) { l.fees = fc }
}

// Ledger is the lot ledger of one pair. It has a single writer and is not
// safe for concurrent use.
type Ledger struct {
	policy MatchPolicy
	fees   domain.FeeConverter

	lots      []domain.Lot
	realized  float64
	lastID    string
	processed map[string]struct{}
	order     []string // processed IDs in application order, at most maxProcessedIDs
	// floor is the highest numeric ID pruned from processed; numeric IDs at or
	// below it count as processed.
	floor   string
	matches []domain.MatchResult
	// matchCount survives restores; matches only holds this session's results.
	matchCount int
}

// New returns an empty ledger.
func New(policy MatchPolicy, opts ...Option) *Ledger {
	l := &Ledger{
		policy:    policy.withDefaults(),
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore rebuilds a ledger from a snapshot. A snapshot that violates the lot
// invariants is rejected as corrupt.
func Restore(snap domain.LedgerSnapshot, policy MatchPolicy, opts ...Option) (*Ledger, error) {
	l := New(policy, opts...)
	eps := l.policy.Epsilon
	seen := make(map[string]struct{}, len(snap.Lots))
	for _, lot := range snap.Lots {
		if lot.ID == "" || lot.Price <= 0 {
			return nil, domain.NewError(domain.KindCorrupt, "ledger.Restore",
				fmt.Errorf("lot %q: invalid id or price %v", lot.ID, lot.Price))
		}
		if lot.RemainingQuantity < -eps || lot.RemainingQuantity > lot.OriginalQuantity+eps {
			return nil, domain.NewError(domain.KindCorrupt, "ledger.Restore",
				fmt.Errorf("lot %s: remaining %.8f outside [0, %.8f]", lot.ID, lot.RemainingQuantity, lot.OriginalQuantity))
		}
		if _, dup := seen[lot.ID]; dup {
			return nil, domain.NewError(domain.KindCorrupt, "ledger.Restore",
				fmt.Errorf("lot %s appears twice", lot.ID))
		}
		seen[lot.ID] = struct{}{}
		if lot.RemainingQuantity > eps {
			l.lots = append(l.lots, lot)
		}
	}
	l.realized = snap.RealizedProfitTotal
	l.lastID = snap.LastProcessedFillID
	l.matchCount = snap.MatchCount
	l.floor = snap.ProcessedFloor
	for _, id := range snap.ProcessedFillIDs {
		l.markProcessed(id)
	}
	if l.lastID != "" {
		l.markProcessed(l.lastID)
	}
	return l, nil
}

// Policy returns the matching policy in effect.
func (l *Ledger) Policy() MatchPolicy { return l.policy }

// maxProcessedIDs bounds the idempotency set kept in snapshots. It is one
// Binance myTrades page; older numeric IDs are covered by the floor.
const maxProcessedIDs = 1000

// Processed reports whether a fill ID has already been applied.
func (l *Ledger) Processed(id string) bool {
	if _, ok := l.processed[id]; ok {
		return true
	}
	return l.floor != "" && domain.Numeric(id) && !domain.LessID(l.floor, id)
}

func (l *Ledger) markProcessed(id string) {
	if _, ok := l.processed[id]; ok {
		return
	}
	l.processed[id] = struct{}{}
	l.order = append(l.order, id)

	for len(l.order) > maxProcessedIDs {
		old := l.order[0]
		l.order = l.order[1:]
		delete(l.processed, old)
		if domain.Numeric(old) && (l.floor == "" || domain.LessID(l.floor, old)) {
			l.floor = old
		}
	}
}

// Mutate applies one fill. Buys open a lot and return a nil result; sells
// return the MatchResult recorded for them.
func (l *Ledger) Mutate(f domain.Fill) (*domain.MatchResult, error) {
	if err := validate(f); err != nil {
		return nil, fmt.Errorf("ledger.Mutate: fill %q: %w", f.ID, err)
	}
	if l.Processed(f.ID) {
		return nil, fmt.Errorf("ledger.Mutate: fill %s: %w", f.ID, ErrDuplicateFill)
	}

	var result *domain.MatchResult
	switch f.Side {
	case domain.SideBuy:
		if err := l.openLot(f); err != nil {
			return nil, fmt.Errorf("ledger.Mutate: fill %s: %w", f.ID, err)
		}
	case domain.SideSell:
		m := l.match(f)
		l.realized += m.RealizedNet
		l.matches = append(l.matches, m)
		l.matchCount++
		result = &m
	}

	l.markProcessed(f.ID)
	l.lastID = f.ID
	l.dropExhausted()
	return result, nil
}

// Apply sorts fills chronologically and mutates each one, skipping fills
// already applied. It stops at the first malformed fill.
func (l *Ledger) Apply(fills []domain.Fill) ([]domain.MatchResult, error) {
	sorted := append([]domain.Fill(nil), fills...)
	domain.SortFills(sorted)

	var out []domain.MatchResult
	for _, f := range sorted {
		m, err := l.Mutate(f)
		if errors.Is(err, ErrDuplicateFill) {
			continue
		}
		if err != nil {
			return out, err
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

func validate(f domain.Fill) error {
	switch {
	case f.ID == "":
		return fmt.Errorf("%w: empty id", ErrMalformedFill)
	case !f.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrMalformedFill, f.Side)
	case !(f.Price > 0) || math.IsInf(f.Price, 0):
		return fmt.Errorf("%w: price %v", ErrMalformedFill, f.Price)
	case !(f.Quantity > 0) || math.IsInf(f.Quantity, 0):
		return fmt.Errorf("%w: quantity %v", ErrMalformedFill, f.Quantity)
	case f.Fee < 0 || math.IsNaN(f.Fee) || math.IsInf(f.Fee, 0):
		return fmt.Errorf("%w: fee %v", ErrMalformedFill, f.Fee)
	}
	return nil
}

// openLot books a buy. A fee charged in the base asset is withheld by the
// exchange, so the lot is net of it.
func (l *Ledger) openLot(f domain.Fill) error {
	qty := f.Quantity - l.fees.BaseDeducted(f)
	if qty <= l.policy.Epsilon {
		return fmt.Errorf("%w: net quantity %.8f after base fee", ErrMalformedFill, qty)
	}
	l.lots = append(l.lots, domain.Lot{
		ID:                f.ID,
		Price:             f.Price,
		OriginalQuantity:  qty,
		RemainingQuantity: qty,
		FeePaid:           l.feeInQuote(f),
		OpenedAt:          f.Timestamp,
		Source:            domain.LotFromFill,
	})
	return nil
}

// match runs spread-match for a sell fill and consumes lots in place.
func (l *Ledger) match(f domain.Fill) domain.MatchResult {
	eps := l.policy.Epsilon
	spacing := f.Spacing
	if spacing <= 0 {
		spacing = l.policy.DefaultSpacing
	}
	expected := ExpectedBuyPrice(f.Price, spacing)

	type candidate struct {
		idx   int
		score float64
	}
	cands := make([]candidate, 0, len(l.lots))
	for i, lot := range l.lots {
		if lot.RemainingQuantity > eps {
			cands = append(cands, candidate{i, l.policy.Score(lot.Price, lot.RemainingQuantity, expected, f.Quantity)})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := l.lots[cands[i].idx], l.lots[cands[j].idx]
		if cands[i].score != cands[j].score {
			return cands[i].score < cands[j].score
		}
		if !a.OpenedAt.Equal(b.OpenedAt) {
			return a.OpenedAt.Before(b.OpenedAt)
		}
		return domain.LessID(a.ID, b.ID)
	})

	m := domain.MatchResult{
		SellFillID:       f.ID,
		SellPrice:        f.Price,
		SellQuantity:     f.Quantity,
		ExpectedBuyPrice: expected,
		Spacing:          spacing,
		Quality:          domain.MatchEstimated,
		MatchedAt:        f.Timestamp,
	}

	need := f.Quantity
	cost, entryFees := 0.0, 0.0
	for n, c := range cands {
		if need <= eps {
			break
		}
		lot := &l.lots[c.idx]
		take := math.Min(lot.RemainingQuantity, need)
		fee := lot.ProratedFee(take)
		lot.RemainingQuantity -= take
		if lot.RemainingQuantity < eps {
			lot.RemainingQuantity = 0
		}
		need -= take
		cost += take * lot.Price
		entryFees += fee
		m.ConsumedLots = append(m.ConsumedLots, domain.ConsumedLot{
			LotID:           lot.ID,
			QuantityTaken:   take,
			LotPriceAtMatch: lot.Price,
			FeeTaken:        fee,
		})
		if n == 0 {
			m.Quality = l.policy.Quality(lot.Price, expected)
		}
	}

	if need > eps {
		m.Shortfall = need
		m.ShortfallQuality = domain.MatchEstimated
		cost += need * expected
	}

	exitFee := l.feeInQuote(f)
	revenue := f.Notional()
	m.RealizedGross = revenue - cost
	m.RealizedFees = entryFees + exitFee
	m.RealizedNet = m.RealizedGross - m.RealizedFees
	return m
}

// feeInQuote values the fill fee, warning when the fee asset has no rate.
func (l *Ledger) feeInQuote(f domain.Fill) float64 {
	fee, priced := l.fees.Convert(f)
	if !priced {
		slog.Warn("ledger: fee asset has no quote rate, booked 1:1 as quote",
			"fill", f.ID,
			"asset", f.FeeCurrency,
			"fee", f.Fee,
		)
	}
	return fee
}

func (l *Ledger) dropExhausted() {
	kept := l.lots[:0]
	for _, lot := range l.lots {
		if lot.RemainingQuantity > l.policy.Epsilon {
			kept = append(kept, lot)
		}
	}
	l.lots = kept
}

// Lots returns a copy of the active lots in creation order.
func (l *Ledger) Lots() []domain.Lot {
	return append([]domain.Lot(nil), l.lots...)
}

// Holdings is the sum of remaining lot quantity.
func (l *Ledger) Holdings() float64 {
	return domain.SumRemaining(l.lots)
}

// RealizedProfit is the running net realized profit.
func (l *Ledger) RealizedProfit() float64 { return l.realized }

// Matches returns the match results recorded since the ledger was created
// or restored.
func (l *Ledger) Matches() []domain.MatchResult {
	return append([]domain.MatchResult(nil), l.matches...)
}

// LastProcessedFillID is the ID of the last applied fill.
func (l *Ledger) LastProcessedFillID() string { return l.lastID }

// UnrealizedPnL values the open lots at price, net of their remaining entry fees.
func (l *Ledger) UnrealizedPnL(price float64) float64 {
	total := 0.0
	for _, lot := range l.lots {
		total += lot.RemainingQuantity*(price-lot.Price) - lot.ProratedFee(lot.RemainingQuantity)
	}
	return total
}

// AverageCost is the quantity-weighted price of the open lots.
func (l *Ledger) AverageCost() float64 {
	qty := l.Holdings()
	if qty <= l.policy.Epsilon {
		return 0
	}
	cost := 0.0
	for _, lot := range l.lots {
		cost += lot.CostBasis()
	}
	return cost / qty
}

// Snapshot returns a detached copy of the durable state.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	return domain.LedgerSnapshot{
		Lots:                l.Lots(),
		RealizedProfitTotal: l.realized,
		LastProcessedFillID: l.lastID,
		ProcessedFillIDs:    append([]string(nil), l.order...),
		ProcessedFloor:      l.floor,
		MatchCount:          l.matchCount,
	}
}
