package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/alejandrodnm/gridbot/internal/ledger"
	"github.com/alejandrodnm/gridbot/internal/reconcile"
)

// TriggerReconciliation rebuilds the ledger from the full fill history and
// corrects it to the exchange balance. Placement is paused while it runs;
// it waits for the in-flight cycle and then holds the ledger exclusively.
// On success a drift or reconciling pause is lifted; an operator pause stays.
func (e *Engine) TriggerReconciliation(ctx context.Context) (domain.ReconciliationReport, error) {
	pair := e.cfg.Pair

	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return domain.ReconciliationReport{}, fmt.Errorf("engine.TriggerReconciliation: %w", ErrNotStarted)
	}
	prev := e.pause
	e.pause.Trip(domain.PauseReconciling, "reconciliation requested", e.now())
	e.mu.Unlock()

	slog.Info("engine: reconciliation requested, waiting for cycle", "pair", pair.Symbol)
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	report, err := e.reconcile(ctx)
	if err != nil {
		e.mu.Lock()
		// a drift tripped by the cycle we waited for outranks the old state
		if e.pause.Reason == domain.PauseReconciling {
			e.pause.Paused = prev.Paused
			e.pause.Reason = prev.Reason
			e.pause.Detail = prev.Detail
			e.pause.Since = prev.Since
		}
		e.mu.Unlock()
		return domain.ReconciliationReport{}, fmt.Errorf("engine.TriggerReconciliation: %s: %w", pair, err)
	}

	e.mu.Lock()
	if prev.Paused && prev.Reason == domain.PauseOperator {
		e.pause.Paused = true
		e.pause.Reason = prev.Reason
		e.pause.Detail = prev.Detail
		e.pause.Since = prev.Since
	} else {
		e.pause.Clear()
	}
	e.mu.Unlock()

	if err := e.persist(ctx); err != nil {
		return report, fmt.Errorf("engine.TriggerReconciliation: %s: %w", pair, err)
	}

	if e.deps.Audit != nil {
		if err := e.deps.Audit.SaveReconciliation(ctx, report); err != nil {
			slog.Warn("engine: error saving reconciliation", "pair", pair.Symbol, "err", err)
		}
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveReconciliation(report)
	}
	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.NotifyReconciliation(ctx, report); err != nil {
			slog.Warn("engine: notifier error", "pair", pair.Symbol, "err", err)
		}
	}

	slog.Info("engine: reconciliation complete",
		"pair", pair.Symbol,
		"replayed", report.ReplayedFills,
		"added_lots", len(report.AddedLots),
		"added_qty", fmt.Sprintf("%.8f", report.AddedQuantity()),
		"removed_qty", fmt.Sprintf("%.8f", report.RemovedQuantity()),
		"profit_delta", fmt.Sprintf("%.6f", report.ProfitDelta),
		"holdings", fmt.Sprintf("%.8f", report.HoldingsAfter),
	)
	return report, nil
}

// reconcile does the work. Caller holds cycleMu.
func (e *Engine) reconcile(ctx context.Context) (domain.ReconciliationReport, error) {
	pair := e.cfg.Pair

	history, err := e.history(ctx)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	balance, err := retryValue(ctx, e, "FetchBalance", func() (float64, error) {
		return e.deps.Exchange.FetchBalance(ctx, pair.Base)
	})
	if err != nil {
		return domain.ReconciliationReport{}, fmt.Errorf("balance: %w", err)
	}
	price, err := retryValue(ctx, e, "FetchCurrentPrice", func() (float64, error) {
		return e.deps.Exchange.FetchCurrentPrice(ctx, pair)
	})
	if err != nil {
		return domain.ReconciliationReport{}, fmt.Errorf("price: %w", err)
	}

	e.mu.RLock()
	prior := e.ledger.Snapshot()
	e.mu.RUnlock()

	res, err := reconcile.Reconcile(reconcile.Input{
		Pair:                 pair.Symbol,
		Prior:                prior,
		History:              history,
		AuthoritativeBalance: balance,
		MarketPrice:          price,
		AsOf:                 e.now().UTC(),
		Policy:               e.cfg.Policy,
		Order:                e.cfg.Order,
		Fees:                 e.cfg.Fees,
		Tolerance:            e.cfg.DriftTolerance,
	})
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	l, err := ledger.Restore(res.Ledger, e.cfg.Policy, e.ledgerOptions()...)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	e.mu.Lock()
	e.ledger = l
	e.lastPrice = price
	e.lastBalance = balance
	e.mu.Unlock()

	// los matches ya registrados no se reescriben (INSERT OR IGNORE)
	if e.deps.Audit != nil {
		for _, m := range res.Matches {
			if err := e.deps.Audit.SaveMatch(ctx, pair.Symbol, m); err != nil {
				slog.Warn("engine: error saving match", "pair", pair.Symbol, "fill", m.SellFillID, "err", err)
			}
		}
	}
	return res.Report, nil
}

// history returns every fill known for the pair. With an audit journal the
// journal is topped up from the exchange first and then read back whole.
func (e *Engine) history(ctx context.Context) ([]domain.Fill, error) {
	pair := e.cfg.Pair

	if e.deps.Audit == nil {
		fills, err := retryValue(ctx, e, "FetchTrades", func() ([]domain.Fill, error) {
			return e.deps.Exchange.FetchTrades(ctx, pair, "")
		})
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		return e.withSpacing(ctx, fills), nil
	}

	e.mu.RLock()
	since := e.ledger.LastProcessedFillID()
	e.mu.RUnlock()
	fresh, err := retryValue(ctx, e, "FetchTrades", func() ([]domain.Fill, error) {
		return e.deps.Exchange.FetchTrades(ctx, pair, since)
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if len(fresh) > 0 {
		if err := e.deps.Audit.SaveFills(ctx, pair.Symbol, e.withSpacing(ctx, fresh)); err != nil {
			return nil, fmt.Errorf("history: save fills: %w", err)
		}
	}

	fills, err := e.deps.Audit.Fills(ctx, pair.Symbol)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return e.withSpacing(ctx, fills), nil
}

// ErrDriftPause is returned by Resume while the ledger is known to drift.
var ErrDriftPause = errors.New("paused on ledger drift; run reconciliation")

// Pause stops order placement until Resume. The loop keeps observing.
func (e *Engine) Pause(detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pause.Trip(domain.PauseOperator, detail, e.now())
	slog.Info("engine: paused by operator", "pair", e.cfg.Pair.Symbol, "reason", e.pause.Reason)
}

// Resume lifts an operator pause. A drift pause is only lifted by a
// successful reconciliation.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pause.Paused && e.pause.Reason == domain.PauseLedgerDrift {
		return domain.NewError(domain.KindDrift, "engine.Resume",
			fmt.Errorf("%s: %w: %s", e.cfg.Pair, ErrDriftPause, e.pause.Detail))
	}
	e.pause.Clear()
	slog.Info("engine: resumed by operator", "pair", e.cfg.Pair.Symbol)
	return nil
}
