// Package metrics exposes engine observations as Prometheus series.
//
//   - gridbot_cycles_total{pair}
//   - gridbot_cycle_duration_seconds{pair}
//   - gridbot_fills_total{pair}
//   - gridbot_orders_placed_total{pair} / gridbot_orders_cancelled_total{pair}
//   - gridbot_order_errors_total{pair,kind}
//   - gridbot_holdings{pair}, gridbot_realized_profit{pair}, gridbot_unrealized_pnl{pair}
//   - gridbot_grid_spacing{pair}, gridbot_paused{pair}
//   - gridbot_reconciliations_total{pair}, gridbot_reconcile_added_qty{pair}, gridbot_reconcile_removed_qty{pair}
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Prometheus implements ports.Metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	fills         *prometheus.CounterVec
	placed        *prometheus.CounterVec
	cancelled     *prometheus.CounterVec
	orderErrors   *prometheus.CounterVec
	holdings      *prometheus.GaugeVec
	realized      *prometheus.GaugeVec
	unrealized    *prometheus.GaugeVec
	spacing       *prometheus.GaugeVec
	paused        *prometheus.GaugeVec
	reconciles    *prometheus.CounterVec
	addedQty      *prometheus.CounterVec
	removedQty    *prometheus.CounterVec
}

// New creates and registers every series.
func New() *Prometheus {
	pair := []string{"pair"}
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_cycles_total", Help: "Engine cycles run",
		}, pair),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridbot_cycle_duration_seconds",
			Help:    "Wall time of one engine cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, pair),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_fills_total", Help: "Fills applied to the ledger",
		}, pair),
		placed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_orders_placed_total", Help: "Grid orders placed",
		}, pair),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_orders_cancelled_total", Help: "Grid orders cancelled",
		}, pair),
		orderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_order_errors_total", Help: "Order errors by kind",
		}, []string{"pair", "kind"}),
		holdings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridbot_holdings", Help: "Base quantity held according to the ledger",
		}, pair),
		realized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridbot_realized_profit", Help: "Cumulative realized profit in quote",
		}, pair),
		unrealized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridbot_unrealized_pnl", Help: "Mark-to-market PnL of open lots in quote",
		}, pair),
		spacing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridbot_grid_spacing", Help: "Current grid spacing fraction",
		}, pair),
		paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridbot_paused", Help: "1 while order placement is paused",
		}, pair),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_reconciliations_total", Help: "Reconciliation passes",
		}, pair),
		addedQty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_reconcile_added_qty", Help: "Base quantity added by reconciliation",
		}, pair),
		removedQty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbot_reconcile_removed_qty", Help: "Base quantity removed by reconciliation",
		}, pair),
	}
	p.registry.MustRegister(
		p.cycles, p.cycleDuration, p.fills, p.placed, p.cancelled, p.orderErrors,
		p.holdings, p.realized, p.unrealized, p.spacing, p.paused,
		p.reconciles, p.addedQty, p.removedQty,
	)
	return p
}

// Handler serves the registry in the text exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) ObserveCycle(s domain.CycleSummary) {
	p.cycles.WithLabelValues(s.Pair).Inc()
	p.cycleDuration.WithLabelValues(s.Pair).Observe(s.Duration.Seconds())
	p.fills.WithLabelValues(s.Pair).Add(float64(s.NewFills))
	p.placed.WithLabelValues(s.Pair).Add(float64(s.Placed))
	p.cancelled.WithLabelValues(s.Pair).Add(float64(s.Cancelled))
	p.holdings.WithLabelValues(s.Pair).Set(s.Holdings)
	p.realized.WithLabelValues(s.Pair).Set(s.RealizedProfit)
	p.unrealized.WithLabelValues(s.Pair).Set(s.Unrealized)
	p.spacing.WithLabelValues(s.Pair).Set(s.Spec.Spacing)
	paused := 0.0
	if s.Paused {
		paused = 1
	}
	p.paused.WithLabelValues(s.Pair).Set(paused)
}

func (p *Prometheus) ObserveOrderError(pair string, kind domain.ErrorKind) {
	p.orderErrors.WithLabelValues(pair, kind.String()).Inc()
}

func (p *Prometheus) ObserveReconciliation(r domain.ReconciliationReport) {
	p.reconciles.WithLabelValues(r.Pair).Inc()
	p.addedQty.WithLabelValues(r.Pair).Add(r.AddedQuantity())
	p.removedQty.WithLabelValues(r.Pair).Add(r.RemovedQuantity())
	p.holdings.WithLabelValues(r.Pair).Set(r.HoldingsAfter)
}
