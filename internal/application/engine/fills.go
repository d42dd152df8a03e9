package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/alejandrodnm/gridbot/internal/ledger"
)

// ingestFills pulls fills newer than the last processed one and applies them
// to the ledger in chronological order. Sells are matched with the spacing
// captured when their order was placed.
func (e *Engine) ingestFills(ctx context.Context, summary *domain.CycleSummary) error {
	pair := e.cfg.Pair

	e.mu.RLock()
	since := e.ledger.LastProcessedFillID()
	e.mu.RUnlock()

	fills, err := retryValue(ctx, e, "FetchTrades", func() ([]domain.Fill, error) {
		return e.deps.Exchange.FetchTrades(ctx, pair, since)
	})
	if err != nil {
		return fmt.Errorf("fills: %w", err)
	}
	if len(fills) == 0 {
		return nil
	}

	fills = e.withSpacing(ctx, fills)
	domain.SortFills(fills)

	if e.deps.Audit != nil {
		if err := e.deps.Audit.SaveFills(ctx, pair.Symbol, fills); err != nil {
			slog.Warn("engine: error saving fills", "pair", pair.Symbol, "err", err)
		}
	}

	var matches []domain.MatchResult
	e.mu.Lock()
	for _, f := range fills {
		m, err := e.ledger.Mutate(f)
		switch {
		case errors.Is(err, ledger.ErrDuplicateFill):
			continue
		case errors.Is(err, ledger.ErrMalformedFill):
			slog.Error("engine: malformed fill skipped", "pair", pair.Symbol, "fill", f.ID, "err", err)
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("malformed fill %s skipped", f.ID))
			continue
		case err != nil:
			e.mu.Unlock()
			return fmt.Errorf("fills: %w", err)
		}
		summary.NewFills++
		e.dropFilled(f)
		if m != nil {
			matches = append(matches, *m)
		}
	}
	e.mu.Unlock()
	summary.Matches = append(summary.Matches, matches...)

	for _, m := range matches {
		if m.Shortfall > 0 {
			slog.Warn("engine: sell exceeded ledger inventory",
				"pair", pair.Symbol,
				"fill", m.SellFillID,
				"shortfall", fmt.Sprintf("%.8f", m.Shortfall),
				"estimated_at", fmt.Sprintf("%.8f", m.ExpectedBuyPrice),
			)
		}
		if e.deps.Audit != nil {
			if err := e.deps.Audit.SaveMatch(ctx, pair.Symbol, m); err != nil {
				slog.Warn("engine: error saving match", "pair", pair.Symbol, "fill", m.SellFillID, "err", err)
			}
		}
	}

	slog.Info("engine: fills applied",
		"pair", pair.Symbol,
		"fills", len(fills),
		"matches", len(matches),
	)
	return nil
}

// withSpacing fills in Fill.Spacing from the orders this engine placed, then
// from the audit journal for orders placed before a restart.
func (e *Engine) withSpacing(ctx context.Context, fills []domain.Fill) []domain.Fill {
	e.mu.RLock()
	spacings := make(map[string]float64, len(e.orders))
	for _, o := range e.orders {
		if o.Spacing > 0 {
			spacings[o.ID] = o.Spacing
		}
	}
	e.mu.RUnlock()

	missing := false
	for _, f := range fills {
		if f.Spacing <= 0 && f.LinkedOrderID != "" {
			if _, ok := spacings[f.LinkedOrderID]; !ok {
				missing = true
				break
			}
		}
	}
	if missing && e.deps.Audit != nil {
		journal, err := e.deps.Audit.OrderSpacings(ctx, e.cfg.Pair.Symbol)
		if err != nil {
			slog.Warn("engine: order spacings unavailable", "pair", e.cfg.Pair.Symbol, "err", err)
		}
		for id, s := range journal {
			if _, ok := spacings[id]; !ok {
				spacings[id] = s
			}
		}
	}

	out := make([]domain.Fill, len(fills))
	for i, f := range fills {
		if f.Spacing <= 0 {
			f.Spacing = spacings[f.LinkedOrderID]
		}
		out[i] = f
	}
	return out
}

// dropFilled removes the filled part from the local order view. Caller holds mu.
func (e *Engine) dropFilled(f domain.Fill) {
	if f.LinkedOrderID == "" {
		return
	}
	eps := e.ledger.Policy().Epsilon
	kept := e.orders[:0]
	for _, o := range e.orders {
		if o.ID == f.LinkedOrderID {
			o.Filled += f.Quantity
			if o.Remaining() <= eps {
				continue
			}
		}
		kept = append(kept, o)
	}
	e.orders = kept
}
