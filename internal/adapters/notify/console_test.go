package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/gridbot/internal/adapters/notify"
	"github.com/alejandrodnm/gridbot/internal/domain"
)

func makeSummary() domain.CycleSummary {
	return domain.CycleSummary{
		Pair:  "BTCUSDT",
		Price: 64000,
		Spec: domain.GridSpec{
			Spacing:    0.008,
			LevelCount: 36,
			Volatility: domain.VolatilityLow,
			Regime:     domain.RegimeSideways,
		},
		Placed:         3,
		Cancelled:      1,
		NewFills:       2,
		Holdings:       0.0125,
		RealizedProfit: 1.5,
	}
}

func TestConsole_NotifyCycle_Compact(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, n.NotifyCycle(context.Background(), makeSummary()))

	out := buf.String()
	assert.Contains(t, out, "BTCUSDT 64000.00")
	assert.Contains(t, out, "LOW/SIDEWAYS")
	assert.Contains(t, out, "sp:0.80%") // 0.008 × 100
	assert.Contains(t, out, "+3 -1")
	assert.Contains(t, out, "hold:0.01250000")
	assert.NotContains(t, out, "PAUSED")
}

func TestConsole_NotifyCycle_PausedWithWarnings(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	s := makeSummary()
	s.Paused = true
	s.PauseReason = domain.PauseLedgerDrift
	s.Warnings = []string{"a", "b", "c", "d", "e"}

	require.NoError(t, n.NotifyCycle(context.Background(), s))
	out := buf.String()
	assert.Contains(t, out, "PAUSED LEDGER_DRIFT")
	assert.Contains(t, out, ">> c")
	assert.NotContains(t, out, ">> d")
	assert.Contains(t, out, "(+2 more)")
}

func TestConsole_NotifyCycle_MatchTable(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	s := makeSummary()
	s.Matches = []domain.MatchResult{{
		SellFillID:       "42",
		SellPrice:        64512,
		SellQuantity:     0.001,
		ExpectedBuyPrice: 64000,
		ConsumedLots:     []domain.ConsumedLot{{LotID: "7", QuantityTaken: 0.001, LotPriceAtMatch: 64000}},
		RealizedNet:      0.38,
	}}

	require.NoError(t, n.NotifyCycle(context.Background(), s))
	out := buf.String()
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "0.00100000@64000.00")
	assert.Contains(t, out, "$0.3800")
}

func TestConsole_NotifyReconciliation(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	r := domain.ReconciliationReport{
		Pair: "BTCUSDT",
		AddedLots: []domain.Lot{{
			ID: "3f1c2a9e-0000-5000-8000-000000000000", Price: 63000,
			OriginalQuantity: 0.5, RemainingQuantity: 0.5, Source: domain.LotEstimated,
		}},
		RemovedLots: []domain.LotAdjustment{{
			LotID: "11", Price: 65000, QuantityRemoved: 0.1, RemainingAfter: 0.2, ReferencedByMatch: true,
		}},
		ReplayedFills:  12,
		HoldingsBefore: 0.3,
		HoldingsAfter:  0.7,
		Balance:        0.7,
		RanAt:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, n.NotifyReconciliation(context.Background(), r))
	out := buf.String()
	assert.Contains(t, out, "RECONCILIATION BTCUSDT")
	assert.Contains(t, out, "replayed fills: 12")
	assert.Contains(t, out, "ADD")
	assert.Contains(t, out, "3f1c2a9e…")
	assert.Contains(t, out, "ESTIMATED")
	assert.Contains(t, out, "REMOVE")
	assert.Contains(t, out, "referenced by a match")
}

func TestConsole_NotifyReconciliation_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, n.NotifyReconciliation(context.Background(), domain.ReconciliationReport{Pair: "ETHUSDT"}))
	assert.Contains(t, buf.String(), "nothing changed")
}

func TestConsole_PrintLedger(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	snap := domain.LedgerSnapshot{
		Lots: []domain.Lot{
			{ID: "1", Price: 100, OriginalQuantity: 2, RemainingQuantity: 1, OpenedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)},
			{ID: "2", Price: 90, OriginalQuantity: 1, RemainingQuantity: 0},
			{ID: "3", Price: 80, OriginalQuantity: 1, RemainingQuantity: 1},
		},
		RealizedProfitTotal: 4.2,
		LastProcessedFillID: "9",
		MatchCount:          3,
	}
	n.PrintLedger("BTCUSDT", snap, 110)

	out := buf.String()
	assert.Contains(t, out, "2026-01-02 03:04")
	// (110-100)×1 = 10 ; (110-80)×1 = 30
	assert.Contains(t, out, "$10.0000")
	assert.Contains(t, out, "$30.0000")
	// avg = (100 + 80) / 2
	assert.Contains(t, out, "avg cost: 90.00")
	assert.Contains(t, out, "last fill: 9")
}

func TestConsole_PrintLedger_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)
	n.PrintLedger("BTCUSDT", domain.LedgerSnapshot{}, 100)
	assert.Contains(t, buf.String(), "no open lots")
	assert.Contains(t, buf.String(), "last fill: -")
}
