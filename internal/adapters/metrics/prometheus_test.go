package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/gridbot/internal/adapters/metrics"
	"github.com/alejandrodnm/gridbot/internal/domain"
)

func TestPrometheus_ObserveCycle(t *testing.T) {
	m := metrics.New()
	m.ObserveCycle(domain.CycleSummary{
		Pair: "BTCUSDT", Duration: 200 * time.Millisecond, NewFills: 3, Placed: 4, Cancelled: 1,
		Holdings: 0.5, RealizedProfit: 12.5, Spec: domain.GridSpec{Spacing: 0.012}, Paused: true,
	})
	m.ObserveCycle(domain.CycleSummary{Pair: "BTCUSDT", NewFills: 2, Holdings: 0.7})

	reg := m.Registry()
	n, err := testutil.GatherAndCount(reg, "gridbot_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["gridbot_cycles_total"])
	assert.Equal(t, 5.0, values["gridbot_fills_total"])
	assert.Equal(t, 0.7, values["gridbot_holdings"])
	// la segunda observación no está pausada
	assert.Equal(t, 0.0, values["gridbot_paused"])
}

func TestPrometheus_OrderErrorsAndReconcile(t *testing.T) {
	m := metrics.New()
	m.ObserveOrderError("ETHUSDT", domain.KindFatal)
	m.ObserveOrderError("ETHUSDT", domain.KindFatal)
	m.ObserveOrderError("ETHUSDT", domain.KindTransient)
	m.ObserveReconciliation(domain.ReconciliationReport{
		Pair:          "ETHUSDT",
		AddedLots:     []domain.Lot{{ID: "x", RemainingQuantity: 0.3}},
		HoldingsAfter: 1.3,
	})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `gridbot_order_errors_total{kind="fatal",pair="ETHUSDT"} 2`)
	assert.Contains(t, text, `gridbot_order_errors_total{kind="transient",pair="ETHUSDT"} 1`)
	assert.Contains(t, text, `gridbot_reconciliations_total{pair="ETHUSDT"} 1`)
	assert.Contains(t, text, `gridbot_reconcile_added_qty{pair="ETHUSDT"} 0.3`)
}
