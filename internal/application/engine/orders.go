package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/alejandrodnm/gridbot/internal/grid"
)

// OrderDiff is the minimal set of changes that converges resting orders to
// the desired ladder.
type OrderDiff struct {
	Keep   []domain.OpenOrder
	Cancel []domain.OpenOrder
	Place  []domain.GridLevel
}

// Diff matches each desired level with the nearest unused resting order of
// the same side whose price is within spacing/4 (relative). Resting orders
// left unmatched are cancelled and levels left unmatched are placed.
func Diff(resting []domain.OpenOrder, levels []domain.GridLevel, spacing float64) OrderDiff {
	tolerance := spacing / 4
	used := make([]bool, len(resting))

	var d OrderDiff
	for _, lvl := range levels {
		best := -1
		bestDist := math.Inf(1)
		for i, o := range resting {
			if used[i] || o.Side != lvl.Side || lvl.Price <= 0 {
				continue
			}
			dist := math.Abs(o.Price-lvl.Price) / lvl.Price
			if dist <= tolerance && dist < bestDist {
				best, bestDist = i, dist
			}
		}
		if best < 0 {
			d.Place = append(d.Place, lvl)
			continue
		}
		used[best] = true
		kept := resting[best]
		kept.Level = lvl.Index
		d.Keep = append(d.Keep, kept)
	}
	for i, o := range resting {
		if !used[i] {
			d.Cancel = append(d.Cancel, o)
		}
	}
	return d
}

// syncOrders converges the exchange to the ladder. While paused it only
// refreshes the view of resting orders.
func (e *Engine) syncOrders(ctx context.Context, spec domain.GridSpec, price float64, summary *domain.CycleSummary) error {
	pair := e.cfg.Pair

	resting, err := retryValue(ctx, e, "FetchOpenOrders", func() ([]domain.OpenOrder, error) {
		return e.deps.Exchange.FetchOpenOrders(ctx, pair)
	})
	if err != nil {
		return fmt.Errorf("open orders: %w", err)
	}

	e.mu.Lock()
	resting = e.annotate(resting)
	open := e.pause.IsOpen(e.now())
	inventory := e.ledger.Holdings()
	if !open {
		e.orders = resting
		summary.Paused = true
		summary.PauseReason = e.pause.Reason
		e.mu.Unlock()
		slog.Info("engine: placement paused, observing only",
			"pair", pair.Symbol, "reason", summary.PauseReason, "resting", len(resting))
		return nil
	}
	e.mu.Unlock()

	quote, err := retryValue(ctx, e, "FetchBalance", func() (float64, error) {
		return e.deps.Exchange.FetchBalance(ctx, pair.Quote)
	})
	if err != nil {
		return fmt.Errorf("quote balance: %w", err)
	}

	levels := grid.Ladder(grid.LadderInput{
		Spec:        spec,
		Price:       price,
		Capital:     e.cfg.Capital,
		QuoteFree:   quote,
		Inventory:   inventory,
		MinNotional: e.cfg.MinNotional,
		FeeRate:     e.cfg.FeeRate,
	})
	if len(levels) == 0 && !grid.WorthPlacing(spec.Spacing, e.cfg.FeeRate) {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("spacing %.4f does not cover 2x fee %.4f", spec.Spacing, e.cfg.FeeRate))
	}

	diff := Diff(resting, levels, spec.Spacing)
	current := append([]domain.OpenOrder(nil), diff.Keep...)

	for _, o := range diff.Cancel {
		if err := e.cancel(ctx, o); err != nil {
			summary.FailedOrders++
			// sigue en el libro hasta que se confirme lo contrario
			current = append(current, o)
			continue
		}
		summary.Cancelled++
	}

	for _, lvl := range diff.Place {
		if !e.placementOpen() {
			summary.Warnings = append(summary.Warnings, "placement cooling down after fatal errors")
			break
		}
		o, err := e.place(ctx, lvl, spec.Spacing)
		if err != nil {
			summary.FailedOrders++
			continue
		}
		summary.Placed++
		current = append(current, o)
	}

	sort.Slice(current, func(i, j int) bool { return current[i].Level < current[j].Level })
	e.mu.Lock()
	e.orders = current
	e.mu.Unlock()
	return nil
}

// annotate copies spacing and level from the orders this engine placed;
// orders it never saw are adopted with spacing 0. Caller holds mu.
func (e *Engine) annotate(resting []domain.OpenOrder) []domain.OpenOrder {
	known := make(map[string]domain.OpenOrder, len(e.orders))
	for _, o := range e.orders {
		known[o.ID] = o
	}
	out := make([]domain.OpenOrder, 0, len(resting))
	for _, o := range resting {
		if k, ok := known[o.ID]; ok {
			o.Spacing = k.Spacing
			o.Level = k.Level
			if o.PlacedAt.IsZero() {
				o.PlacedAt = k.PlacedAt
			}
		}
		out = append(out, o)
	}
	return out
}

func (e *Engine) placementOpen() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pause.IsOpen(e.now())
}

func (e *Engine) place(ctx context.Context, lvl domain.GridLevel, spacing float64) (domain.OpenOrder, error) {
	pair := e.cfg.Pair
	if err := e.pacer.Wait(ctx); err != nil {
		return domain.OpenOrder{}, err
	}

	id, err := retryValue(ctx, e, "PlaceOrder", func() (string, error) {
		return e.deps.Exchange.PlaceOrder(ctx, pair, lvl.Side, lvl.Price, lvl.Quantity)
	})
	if err != nil {
		e.orderFailed("place", err,
			"side", lvl.Side,
			"level", lvl.Index,
			"price", lvl.Price,
			"qty", lvl.Quantity,
		)
		return domain.OpenOrder{}, err
	}
	e.mu.Lock()
	e.pause.RecordSuccess()
	e.mu.Unlock()

	o := domain.OpenOrder{
		ID:       id,
		Side:     lvl.Side,
		Price:    lvl.Price,
		Quantity: lvl.Quantity,
		Spacing:  spacing,
		Level:    lvl.Index,
		PlacedAt: e.now().UTC(),
	}
	if e.deps.Audit != nil {
		if err := e.deps.Audit.SaveOrder(ctx, pair.Symbol, o); err != nil {
			slog.Warn("engine: error saving order", "pair", pair.Symbol, "order", id, "err", err)
		}
	}
	slog.Debug("engine: order placed",
		"pair", pair.Symbol,
		"id", id,
		"side", lvl.Side,
		"level", lvl.Index,
		"price", fmt.Sprintf("%.8f", lvl.Price),
		"qty", fmt.Sprintf("%.8f", lvl.Quantity),
	)
	return o, nil
}

func (e *Engine) cancel(ctx context.Context, o domain.OpenOrder) error {
	pair := e.cfg.Pair
	if err := e.pacer.Wait(ctx); err != nil {
		return err
	}
	err := e.retry(ctx, "CancelOrder", func() error {
		return e.deps.Exchange.CancelOrder(ctx, pair, o.ID)
	})
	if err != nil {
		e.orderFailed("cancel", err, "order", o.ID, "side", o.Side, "price", o.Price)
		return err
	}
	if e.deps.Audit != nil {
		if err := e.deps.Audit.UpdateOrderStatus(ctx, o.ID, orderCancelled); err != nil {
			slog.Warn("engine: error updating order", "pair", pair.Symbol, "order", o.ID, "err", err)
		}
	}
	return nil
}

const orderCancelled = "CANCELLED"

// orderFailed logs a failed order call with full context and counts fatal
// errors toward the placement cooldown.
func (e *Engine) orderFailed(action string, err error, attrs ...any) {
	kind := domain.KindOf(err)
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveOrderError(e.cfg.Pair.Symbol, kind)
	}

	args := append([]any{"pair", e.cfg.Pair.Symbol, "action", action, "kind", kind, "err", err}, attrs...)
	if kind != domain.KindFatal {
		slog.Warn("engine: order call failed after retries", args...)
		return
	}
	slog.Error("engine: fatal order error", args...)

	e.mu.Lock()
	cooling := e.pause.RecordFatal(e.now())
	until := e.pause.CooldownUntil
	e.mu.Unlock()
	if cooling {
		slog.Warn("engine: too many fatal order errors, cooling down",
			"pair", e.cfg.Pair.Symbol, "until", until.Format("15:04:05"))
	}
}
