// Package reconcile rebuilds a ledger from the full trade history and
// corrects it against the exchange's authoritative balance.
//
// Reconcile is pure: the same input always yields the same ledger and report,
// and reconciling its own output again changes nothing.
package reconcile

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/alejandrodnm/gridbot/internal/ledger"
)

// Order is the sequence in which corrections consume candidates.
type Order string

const (
	NewestFirst Order = "newest_first"
	OldestFirst Order = "oldest_first"
)

// OrderPolicy fixes the correction order for both directions.
type OrderPolicy struct {
	// Shortfall orders the buy fills that back catch-up lots.
	Shortfall Order `yaml:"shortfall_order"`
	// Excess orders the lots truncated when the ledger holds too much.
	Excess Order `yaml:"excess_order"`
}

// DefaultOrderPolicy covers shortfalls from the most recent buys and trims
// excess from the oldest lots.
func DefaultOrderPolicy() OrderPolicy {
	return OrderPolicy{Shortfall: NewestFirst, Excess: OldestFirst}
}

// DefaultTolerance is the relative drift tolerated before correcting.
const DefaultTolerance = 1e-8

// Input is everything Reconcile reads.
type Input struct {
	Pair                 string
	Prior                domain.LedgerSnapshot
	History              []domain.Fill
	AuthoritativeBalance float64
	// MarketPrice prices the residual estimated lot when no buy fill is left.
	MarketPrice float64
	AsOf        time.Time

	Policy ledger.MatchPolicy
	Order  OrderPolicy
	Fees   domain.FeeConverter
	// Tolerance is relative to the balance; Policy.Epsilon is the absolute floor.
	Tolerance float64
}

// Result is the canonical ledger plus what it took to get there.
type Result struct {
	Ledger  domain.LedgerSnapshot
	Matches []domain.MatchResult
	Report  domain.ReconciliationReport
}

var (
	// ErrNegativeBalance is returned for an impossible authoritative balance.
	ErrNegativeBalance = errors.New("negative authoritative balance")
	// ErrNoMarketPrice is returned when a residual must be estimated without a price.
	ErrNoMarketPrice = errors.New("market price required to estimate residual")
)

// Reconcile replays the history with the live matching rules and corrects the
// resulting inventory to the authoritative balance.
func Reconcile(in Input) (Result, error) {
	if in.AuthoritativeBalance < 0 || math.IsNaN(in.AuthoritativeBalance) {
		return Result{}, fmt.Errorf("reconcile.Reconcile: %w: %v", ErrNegativeBalance, in.AuthoritativeBalance)
	}
	if in.Order.Shortfall == "" || in.Order.Excess == "" {
		def := DefaultOrderPolicy()
		if in.Order.Shortfall == "" {
			in.Order.Shortfall = def.Shortfall
		}
		if in.Order.Excess == "" {
			in.Order.Excess = def.Excess
		}
	}

	history := append([]domain.Fill(nil), in.History...)
	domain.SortFills(history)

	l := ledger.New(in.Policy, ledger.WithFees(in.Fees))
	matches, err := l.Apply(history)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile.Reconcile: replay: %w", err)
	}
	policy := l.Policy()
	canon := l.Snapshot()

	holdings := canon.Holdings()
	diff := in.AuthoritativeBalance - holdings
	if !WithinTolerance(holdings, in.AuthoritativeBalance, in.Tolerance, policy.Epsilon) {
		if diff > 0 {
			canon.Lots, err = coverShortfall(canon.Lots, history, diff, in, policy)
			if err != nil {
				return Result{}, fmt.Errorf("reconcile.Reconcile: %w", err)
			}
		} else {
			canon.Lots = truncateExcess(canon.Lots, -diff, in.Order.Excess, matches, policy.Epsilon)
		}
	}

	report := diffReport(in.Prior, canon, matches, policy.Epsilon)
	report.Pair = in.Pair
	report.ReplayedFills = distinctIDs(history)
	report.Balance = in.AuthoritativeBalance
	report.HoldingsBefore = in.Prior.Holdings()
	report.HoldingsAfter = canon.Holdings()
	report.RanAt = in.AsOf

	return Result{Ledger: canon, Matches: matches, Report: report}, nil
}

// WithinTolerance reports whether holdings match balance within rel×balance,
// never tighter than abs.
func WithinTolerance(holdings, balance, rel, abs float64) bool {
	if rel <= 0 {
		rel = DefaultTolerance
	}
	tol := math.Max(abs, rel*math.Abs(balance))
	return math.Abs(balance-holdings) <= tol
}

// coverShortfall adds catch-up lots backed by buy fill capacity the replay no
// longer holds, then one estimated lot for whatever is left.
func coverShortfall(lots []domain.Lot, history []domain.Fill, need float64, in Input, policy ledger.MatchPolicy) ([]domain.Lot, error) {
	eps := policy.Epsilon
	live := make(map[string]float64, len(lots))
	for _, lot := range lots {
		live[lot.ID] = lot.RemainingQuantity
	}

	var buys []domain.Fill
	for _, f := range history {
		if f.Side == domain.SideBuy {
			buys = append(buys, f)
		}
	}
	if in.Order.Shortfall == NewestFirst {
		for i, j := 0, len(buys)-1; i < j; i, j = i+1, j-1 {
			buys[i], buys[j] = buys[j], buys[i]
		}
	}

	for _, f := range buys {
		if need <= eps {
			break
		}
		qty := f.Quantity - in.Fees.BaseDeducted(f)
		capacity := qty - live[f.ID]
		if capacity <= eps {
			continue
		}
		take := math.Min(capacity, need)
		lots = append(lots, domain.Lot{
			ID:                f.ID + ":catchup",
			Price:             f.Price,
			OriginalQuantity:  take,
			RemainingQuantity: take,
			FeePaid:           take / qty * in.Fees.ToQuote(f),
			OpenedAt:          f.Timestamp,
			Source:            domain.LotCatchUp,
		})
		need -= take
	}

	if need <= eps {
		return lots, nil
	}

	id := EstimatedLotID(in.Pair)
	price, openedAt := in.MarketPrice, in.AsOf
	for _, lot := range in.Prior.Lots {
		if lot.ID == id {
			price, openedAt = lot.Price, lot.OpenedAt
			break
		}
	}
	if price <= 0 {
		return nil, fmt.Errorf("residual %.8f: %w", need, ErrNoMarketPrice)
	}
	return append(lots, domain.Lot{
		ID:                id,
		Price:             price,
		OriginalQuantity:  need,
		RemainingQuantity: need,
		OpenedAt:          openedAt,
		Source:            domain.LotEstimated,
	}), nil
}

func distinctIDs(fills []domain.Fill) int {
	seen := make(map[string]struct{}, len(fills))
	for _, f := range fills {
		seen[f.ID] = struct{}{}
	}
	return len(seen)
}

// EstimatedLotID is the stable ID of a pair's estimated residual lot.
func EstimatedLotID(pair string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("gridbot:"+pair+":estimated")).String()
}

// truncateExcess shrinks lots in the given order until excess is gone. Only
// RemainingQuantity changes; match results and realized profit are left alone.
func truncateExcess(lots []domain.Lot, excess float64, order Order, matches []domain.MatchResult, eps float64) []domain.Lot {
	idx := make([]int, len(lots))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		la, lb := lots[idx[a]], lots[idx[b]]
		if !la.OpenedAt.Equal(lb.OpenedAt) {
			if order == NewestFirst {
				return la.OpenedAt.After(lb.OpenedAt)
			}
			return la.OpenedAt.Before(lb.OpenedAt)
		}
		if order == NewestFirst {
			return domain.LessID(lb.ID, la.ID)
		}
		return domain.LessID(la.ID, lb.ID)
	})

	for _, i := range idx {
		if excess <= eps {
			break
		}
		take := math.Min(lots[i].RemainingQuantity, excess)
		lots[i].RemainingQuantity -= take
		lots[i].Truncated += take
		excess -= take
	}

	kept := lots[:0]
	for _, lot := range lots {
		if lot.RemainingQuantity > eps {
			kept = append(kept, lot)
		}
	}
	return kept
}

// diffReport describes canon relative to prior.
func diffReport(prior, canon domain.LedgerSnapshot, matches []domain.MatchResult, eps float64) domain.ReconciliationReport {
	referenced := make(map[string]bool)
	for _, m := range matches {
		for _, c := range m.ConsumedLots {
			referenced[c.LotID] = true
		}
	}

	before := make(map[string]domain.Lot, len(prior.Lots))
	for _, lot := range prior.Lots {
		before[lot.ID] = lot
	}
	after := make(map[string]domain.Lot, len(canon.Lots))
	for _, lot := range canon.Lots {
		after[lot.ID] = lot
	}

	var r domain.ReconciliationReport
	for _, lot := range canon.Lots {
		old, ok := before[lot.ID]
		if !ok || old.Price != lot.Price || lot.RemainingQuantity-old.RemainingQuantity > eps {
			r.AddedLots = append(r.AddedLots, lot)
		}
	}
	for _, old := range prior.Lots {
		lot, ok := after[old.ID]
		switch {
		case !ok || lot.Price != old.Price:
			r.RemovedLots = append(r.RemovedLots, domain.LotAdjustment{
				LotID:             old.ID,
				Price:             old.Price,
				QuantityRemoved:   old.RemainingQuantity,
				ReferencedByMatch: referenced[old.ID],
			})
		case old.RemainingQuantity-lot.RemainingQuantity > eps:
			r.RemovedLots = append(r.RemovedLots, domain.LotAdjustment{
				LotID:             old.ID,
				Price:             old.Price,
				QuantityRemoved:   old.RemainingQuantity - lot.RemainingQuantity,
				RemainingAfter:    lot.RemainingQuantity,
				ReferencedByMatch: referenced[old.ID],
			})
		}
	}

	r.ProfitDelta = canon.RealizedProfitTotal - prior.RealizedProfitTotal
	if math.Abs(r.ProfitDelta) <= eps {
		r.ProfitDelta = 0
	}
	return r
}
