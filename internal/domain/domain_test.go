package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// --- fill ordering ---

func TestLessID_NumericAware(t *testing.T) {
	assert.True(t, domain.LessID("999", "1000"))
	assert.False(t, domain.LessID("1000", "999"))
	assert.True(t, domain.LessID("41", "42"))
	// no numéricos: orden lexicográfico
	assert.True(t, domain.LessID("a10", "a9"))
	assert.False(t, domain.LessID("7", "7"))
}

func TestNumeric(t *testing.T) {
	assert.True(t, domain.Numeric("1005"))
	assert.False(t, domain.Numeric(""))
	assert.False(t, domain.Numeric("b5"))
}

func TestSortFills_TimestampThenID(t *testing.T) {
	fills := []domain.Fill{
		{ID: "1000", Timestamp: t0},
		{ID: "5", Timestamp: t0.Add(time.Minute)},
		{ID: "999", Timestamp: t0},
	}
	domain.SortFills(fills)
	assert.Equal(t, "999", fills[0].ID)
	assert.Equal(t, "1000", fills[1].ID)
	assert.Equal(t, "5", fills[2].ID)
}

func TestSide_Opposite(t *testing.T) {
	assert.Equal(t, domain.SideSell, domain.SideBuy.Opposite())
	assert.Equal(t, domain.SideBuy, domain.SideSell.Opposite())
	assert.False(t, domain.Side("HOLD").Valid())
}

// --- errors ---

func TestKindOf_Wrapped(t *testing.T) {
	base := domain.NewError(domain.KindTransient, "FetchTrades", errors.New("timeout"))
	err := fmt.Errorf("engine.RunOnce: %w", base)

	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	assert.True(t, domain.IsTransient(err))
	assert.False(t, domain.IsFatal(err))
	assert.Equal(t, domain.KindUnknown, domain.KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "FetchTrades: transient: timeout")
}

func TestError_CodeAndUnwrap(t *testing.T) {
	cause := errors.New("insufficient balance")
	err := &domain.Error{Kind: domain.KindFatal, Op: "PlaceOrder", Code: -2010, Err: cause}

	assert.True(t, domain.IsFatal(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "fatal", domain.KindFatal.String())
	assert.Equal(t, "drift", domain.KindDrift.String())
}

// --- fees ---

func TestFeeConverter_ToQuote(t *testing.T) {
	fc := domain.FeeConverter{Base: "BTC", Quote: "USDT", Rates: map[string]float64{"BNB": 600}}

	assert.Equal(t, 0.1, fc.ToQuote(domain.Fill{Fee: 0.1, FeeCurrency: "USDT", Price: 100}))
	// 0.001 BTC * 100 = 0.1 USDT
	assert.InDelta(t, 0.1, fc.ToQuote(domain.Fill{Fee: 0.001, FeeCurrency: "BTC", Price: 100}), 1e-12)
	// 0.0002 BNB * 600 = 0.12 USDT
	assert.InDelta(t, 0.12, fc.ToQuote(domain.Fill{Fee: 0.0002, FeeCurrency: "BNB", Price: 100}), 1e-12)
	// activo sin tasa: se asume quote
	assert.Equal(t, 0.3, fc.ToQuote(domain.Fill{Fee: 0.3, FeeCurrency: "XYZ", Price: 100}))
	assert.Zero(t, fc.ToQuote(domain.Fill{Fee: 0}))
}

func TestFeeConverter_ConvertFlagsUnpricedAsset(t *testing.T) {
	fc := domain.FeeConverter{Base: "BTC", Quote: "USDT"}

	fee, priced := fc.Convert(domain.Fill{Fee: 0.01, FeeCurrency: "BNB", Price: 100})
	assert.False(t, priced)
	assert.Equal(t, 0.01, fee)

	_, priced = fc.Convert(domain.Fill{Fee: 0.01, FeeCurrency: "BTC", Price: 100})
	assert.True(t, priced)
}

func TestFeeConverter_BaseDeducted(t *testing.T) {
	fc := domain.FeeConverter{Base: "BTC", Quote: "USDT"}
	assert.Equal(t, 0.001, fc.BaseDeducted(domain.Fill{Fee: 0.001, FeeCurrency: "BTC"}))
	assert.Zero(t, fc.BaseDeducted(domain.Fill{Fee: 0.1, FeeCurrency: "USDT"}))
}

// --- lots ---

func TestLot_State(t *testing.T) {
	l := domain.Lot{OriginalQuantity: 1, RemainingQuantity: 1}
	assert.Equal(t, domain.LotOpen, l.State(1e-8))

	l.RemainingQuantity = 0.4
	assert.Equal(t, domain.LotPartiallyConsumed, l.State(1e-8))
	assert.InDelta(t, 0.6, l.Consumed(), 1e-12)

	l.RemainingQuantity = 1e-9
	assert.Equal(t, domain.LotExhausted, l.State(1e-8))
}

func TestLot_ProratedFee(t *testing.T) {
	l := domain.Lot{OriginalQuantity: 2, RemainingQuantity: 2, FeePaid: 0.4}
	assert.InDelta(t, 0.1, l.ProratedFee(0.5), 1e-12)
	assert.Zero(t, domain.Lot{}.ProratedFee(1))
}

func TestLedgerSnapshot_CloneIsDeep(t *testing.T) {
	snap := domain.LedgerSnapshot{
		Lots:             []domain.Lot{{ID: "b1", RemainingQuantity: 1}},
		ProcessedFillIDs: []string{"b1"},
	}
	c := snap.Clone()
	c.Lots[0].RemainingQuantity = 0
	c.ProcessedFillIDs[0] = "x"

	assert.Equal(t, 1.0, snap.Holdings())
	assert.Equal(t, "b1", snap.ProcessedFillIDs[0])
}

func TestMatchResult_AccountedQuantity(t *testing.T) {
	m := domain.MatchResult{
		SellQuantity: 1.5,
		ConsumedLots: []domain.ConsumedLot{{QuantityTaken: 1}},
		Shortfall:    0.5,
	}
	assert.Equal(t, 1.0, m.MatchedQuantity())
	assert.Equal(t, m.SellQuantity, m.AccountedQuantity())
}

// --- pause ---

func TestPauseState_DriftOverridesOperator(t *testing.T) {
	var p domain.PauseState
	require.True(t, p.IsOpen(t0))

	p.Trip(domain.PauseOperator, "manual", t0)
	p.Trip(domain.PauseReconciling, "", t0.Add(time.Second))
	assert.Equal(t, domain.PauseOperator, p.Reason)

	p.Trip(domain.PauseLedgerDrift, "ledger 1 vs 2", t0.Add(2*time.Second))
	assert.Equal(t, domain.PauseLedgerDrift, p.Reason)
	assert.False(t, p.IsOpen(t0.Add(time.Hour)))

	p.Clear()
	assert.True(t, p.IsOpen(t0))
	assert.Empty(t, p.Reason)
}

func TestPauseState_FatalCooldown(t *testing.T) {
	p := domain.PauseState{MaxFatal: 2, Cooldown: 5 * time.Minute}

	assert.False(t, p.RecordFatal(t0))
	p.RecordSuccess()
	assert.False(t, p.RecordFatal(t0))
	assert.True(t, p.RecordFatal(t0))

	assert.False(t, p.IsOpen(t0.Add(4*time.Minute)))
	assert.True(t, p.IsOpen(t0.Add(5*time.Minute)))
	assert.Zero(t, p.FatalStreak)
}

// --- report ---

func TestReconciliationReport_Quantities(t *testing.T) {
	r := domain.ReconciliationReport{
		AddedLots:   []domain.Lot{{RemainingQuantity: 0.2}, {RemainingQuantity: 0.3}},
		RemovedLots: []domain.LotAdjustment{{QuantityRemoved: 0.1}},
	}
	assert.False(t, r.Empty())
	assert.InDelta(t, 0.5, r.AddedQuantity(), 1e-12)
	assert.InDelta(t, 0.1, r.RemovedQuantity(), 1e-12)
	assert.True(t, domain.ReconciliationReport{}.Empty())
}
