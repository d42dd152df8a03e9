package reconcile_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/alejandrodnm/gridbot/internal/ledger"
	"github.com/alejandrodnm/gridbot/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

func fill(id string, side domain.Side, price, qty float64, minute int) domain.Fill {
	return domain.Fill{ID: id, Side: side, Price: price, Quantity: qty, Spacing: 0.01, Timestamp: t0.Add(time.Duration(minute) * time.Minute)}
}

// history: b1 1.0@100, b2 0.5@105, s1 0.5@106.05 (expected 105 → consume b2).
func baseHistory() []domain.Fill {
	return []domain.Fill{
		fill("b1", domain.SideBuy, 100, 1.0, 0),
		fill("b2", domain.SideBuy, 105, 0.5, 1),
		fill("s1", domain.SideSell, 106.05, 0.5, 2),
	}
}

func liveLedger(t *testing.T, fills []domain.Fill) domain.LedgerSnapshot {
	t.Helper()
	l := ledger.New(ledger.DefaultPolicy())
	_, err := l.Apply(fills)
	require.NoError(t, err)
	return l.Snapshot()
}

func input(prior domain.LedgerSnapshot, history []domain.Fill, balance float64) reconcile.Input {
	return reconcile.Input{
		Pair:                 "BTCUSDT",
		Prior:                prior,
		History:              history,
		AuthoritativeBalance: balance,
		MarketPrice:          110,
		AsOf:                 t0.Add(time.Hour),
		Policy:               ledger.DefaultPolicy(),
		Order:                reconcile.DefaultOrderPolicy(),
	}
}

func TestReconcile_ConsistentLedgerIsFixedPoint(t *testing.T) {
	prior := liveLedger(t, baseHistory())

	res, err := reconcile.Reconcile(input(prior, baseHistory(), 1.0))
	require.NoError(t, err)
	assert.True(t, res.Report.Empty())
	assert.Zero(t, res.Report.ProfitDelta)
	assert.Equal(t, prior, res.Ledger)
	assert.Len(t, res.Matches, 1)
	assert.Equal(t, 3, res.Report.ReplayedFills)
}

func TestReconcile_ShortfallAddsCatchUpLots(t *testing.T) {
	prior := liveLedger(t, baseHistory())
	require.InDelta(t, 1.0, prior.Holdings(), 1e-12)

	res, err := reconcile.Reconcile(input(prior, baseHistory(), 1.3))
	require.NoError(t, err)

	require.Len(t, res.Report.AddedLots, 1)
	added := res.Report.AddedLots[0]
	assert.Equal(t, "b2:catchup", added.ID)
	assert.Equal(t, domain.LotCatchUp, added.Source)
	assert.Equal(t, 105.0, added.Price)
	assert.InDelta(t, 0.3, added.RemainingQuantity, 1e-12)
	assert.InDelta(t, 0.3, res.Report.AddedQuantity(), 1e-12)

	assert.Empty(t, res.Report.RemovedLots)
	assert.Zero(t, res.Report.ProfitDelta)
	assert.Equal(t, prior.RealizedProfitTotal, res.Ledger.RealizedProfitTotal)
	assert.InDelta(t, 1.3, res.Ledger.Holdings(), 1e-12)
}

func TestReconcile_ShortfallOldestFirstPolicy(t *testing.T) {
	history := append(baseHistory(),
		fill("b3", domain.SideBuy, 98, 0.4, 3),
		fill("s2", domain.SideSell, 98.98, 0.4, 4), // expected 98 → b3
	)
	prior := liveLedger(t, history)

	in := input(prior, history, prior.Holdings()+0.2)
	in.Order.Shortfall = reconcile.OldestFirst
	res, err := reconcile.Reconcile(in)
	require.NoError(t, err)
	require.Len(t, res.Report.AddedLots, 1)
	assert.Equal(t, "b2:catchup", res.Report.AddedLots[0].ID)

	in.Order.Shortfall = reconcile.NewestFirst
	res, err = reconcile.Reconcile(in)
	require.NoError(t, err)
	require.Len(t, res.Report.AddedLots, 1)
	assert.Equal(t, "b3:catchup", res.Report.AddedLots[0].ID)
}

func TestReconcile_ResidualBecomesEstimatedLot(t *testing.T) {
	prior := liveLedger(t, baseHistory())

	// 0.5 de b2 + 0.2 estimados al precio de mercado
	res, err := reconcile.Reconcile(input(prior, baseHistory(), 1.7))
	require.NoError(t, err)
	require.Len(t, res.Report.AddedLots, 2)

	est := res.Report.AddedLots[1]
	assert.Equal(t, reconcile.EstimatedLotID("BTCUSDT"), est.ID)
	assert.Equal(t, domain.LotEstimated, est.Source)
	assert.Equal(t, 110.0, est.Price)
	assert.InDelta(t, 0.2, est.RemainingQuantity, 1e-12)
	assert.InDelta(t, 1.7, res.Ledger.Holdings(), 1e-12)

	// segunda pasada con otro precio de mercado: mismo ledger, reporte vacío
	again := input(res.Ledger, baseHistory(), 1.7)
	again.MarketPrice = 200
	res2, err := reconcile.Reconcile(again)
	require.NoError(t, err)
	assert.True(t, res2.Report.Empty())
	assert.Equal(t, res.Ledger, res2.Ledger)
}

func TestReconcile_ResidualWithoutPriceFails(t *testing.T) {
	in := input(domain.LedgerSnapshot{}, nil, 0.5)
	in.MarketPrice = 0
	_, err := reconcile.Reconcile(in)
	assert.ErrorIs(t, err, reconcile.ErrNoMarketPrice)
}

func TestReconcile_ExcessTruncatesOldestFirst(t *testing.T) {
	history := []domain.Fill{
		fill("b1", domain.SideBuy, 100, 1.0, 0),
		fill("b2", domain.SideBuy, 101, 1.0, 1),
		fill("s1", domain.SideSell, 101, 0.2, 2), // expected 100 → b1
	}
	prior := liveLedger(t, history)
	require.InDelta(t, 1.8, prior.Holdings(), 1e-12)

	res, err := reconcile.Reconcile(input(prior, history, 1.3))
	require.NoError(t, err)

	require.Len(t, res.Report.RemovedLots, 1)
	adj := res.Report.RemovedLots[0]
	assert.Equal(t, "b1", adj.LotID)
	assert.InDelta(t, 0.5, adj.QuantityRemoved, 1e-12)
	assert.InDelta(t, 0.3, adj.RemainingAfter, 1e-12)
	assert.True(t, adj.ReferencedByMatch)

	assert.Zero(t, res.Report.ProfitDelta)
	assert.Equal(t, prior.RealizedProfitTotal, res.Ledger.RealizedProfitTotal)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "b1", res.Matches[0].ConsumedLots[0].LotID)
}

func TestReconcile_ExcessNewestFirstPolicy(t *testing.T) {
	history := []domain.Fill{
		fill("b1", domain.SideBuy, 100, 1.0, 0),
		fill("b2", domain.SideBuy, 101, 1.0, 1),
	}
	prior := liveLedger(t, history)

	in := input(prior, history, 0.6)
	in.Order.Excess = reconcile.NewestFirst
	res, err := reconcile.Reconcile(in)
	require.NoError(t, err)

	// b2 se elimina entero, b1 pierde 0.4
	require.Len(t, res.Report.RemovedLots, 2)
	assert.InDelta(t, 1.4, res.Report.RemovedQuantity(), 1e-12)
	require.Len(t, res.Ledger.Lots, 1)
	assert.Equal(t, "b1", res.Ledger.Lots[0].ID)
	assert.InDelta(t, 0.4, res.Ledger.Lots[0].Truncated, 1e-12)
}

func TestReconcile_RunTwiceIsNoOp(t *testing.T) {
	prior := liveLedger(t, baseHistory()[:2])
	for _, balance := range []float64{0.4, 1.5, 2.0, 2.6} {
		first, err := reconcile.Reconcile(input(prior, baseHistory(), balance))
		require.NoError(t, err)

		second, err := reconcile.Reconcile(input(first.Ledger, baseHistory(), balance))
		require.NoError(t, err)
		assert.True(t, second.Report.Empty(), "balance %v", balance)
		assert.Equal(t, first.Ledger, second.Ledger)
	}
}

func TestReconcile_ProfitDeltaAgainstStalePrior(t *testing.T) {
	// el ledger vivo se perdió el último sell
	prior := liveLedger(t, baseHistory()[:2])
	res, err := reconcile.Reconcile(input(prior, baseHistory(), 1.0))
	require.NoError(t, err)

	// 0.5 × (106.05 - 105)
	assert.InDelta(t, 0.525, res.Report.ProfitDelta, 1e-9)
	require.Len(t, res.Report.RemovedLots, 1)
	assert.Equal(t, "b2", res.Report.RemovedLots[0].LotID)
}

func TestReconcile_RejectsNegativeBalance(t *testing.T) {
	_, err := reconcile.Reconcile(input(domain.LedgerSnapshot{}, nil, -1))
	assert.ErrorIs(t, err, reconcile.ErrNegativeBalance)
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, reconcile.WithinTolerance(1.0, 1.0+1e-9, 1e-8, 1e-8))
	assert.False(t, reconcile.WithinTolerance(1.0, 1.001, 1e-8, 1e-8))
	assert.True(t, reconcile.WithinTolerance(0, 5e-9, 0, 1e-8))
}
