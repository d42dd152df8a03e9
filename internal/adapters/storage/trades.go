package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Order statuses written to the journal.
const (
	OrderOpen      = "OPEN"
	OrderCancelled = "CANCELLED"
	OrderFilled    = "FILLED"
)

// SaveFills inserta fills nuevos; los ya registrados se ignoran.
func (s *SQLiteStorage) SaveFills(ctx context.Context, pair string, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveFills: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO fills (id, pair, side, price, quantity, fee, fee_currency, order_id, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveFills: prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range fills {
		if _, err := stmt.ExecContext(ctx, f.ID, pair, string(f.Side), f.Price, f.Quantity,
			f.Fee, f.FeeCurrency, f.LinkedOrderID, formatTime(f.Timestamp)); err != nil {
			return fmt.Errorf("storage.SaveFills: insert %s: %w", f.ID, err)
		}
		if f.LinkedOrderID != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				OrderFilled, formatTime(f.Timestamp), f.LinkedOrderID, OrderOpen); err != nil {
				return fmt.Errorf("storage.SaveFills: mark order %s: %w", f.LinkedOrderID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveFills: commit: %w", err)
	}
	return nil
}

// Fills devuelve los fills del par en orden cronológico, con el spacing de
// la orden que los originó cuando se conoce.
func (s *SQLiteStorage) Fills(ctx context.Context, pair string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.side, f.price, f.quantity, f.fee, f.fee_currency, f.order_id, f.ts,
		       COALESCE(o.spacing, 0)
		FROM fills f
		LEFT JOIN orders o ON o.id = f.order_id AND o.pair = f.pair
		WHERE f.pair = ?
		ORDER BY f.ts, f.id`, pair)
	if err != nil {
		return nil, fmt.Errorf("storage.Fills: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side, ts string
		if err := rows.Scan(&f.ID, &side, &f.Price, &f.Quantity, &f.Fee, &f.FeeCurrency,
			&f.LinkedOrderID, &ts, &f.Spacing); err != nil {
			return nil, fmt.Errorf("storage.Fills: scan: %w", err)
		}
		f.Side = domain.Side(side)
		f.Timestamp = parseTime(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveOrder registra (o actualiza) una orden colocada.
func (s *SQLiteStorage) SaveOrder(ctx context.Context, pair string, o domain.OpenOrder) error {
	now := formatTime(s.now())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, pair, side, price, quantity, spacing, level, status, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			price = excluded.price, quantity = excluded.quantity,
			spacing = CASE WHEN excluded.spacing > 0 THEN excluded.spacing ELSE orders.spacing END,
			updated_at = excluded.updated_at`,
		o.ID, pair, string(o.Side), o.Price, o.Quantity, o.Spacing, o.Level, OrderOpen,
		formatTime(o.PlacedAt), now,
	); err != nil {
		return fmt.Errorf("storage.SaveOrder: %w", err)
	}
	return nil
}

// UpdateOrderStatus cambia el estado de una orden.
func (s *SQLiteStorage) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(s.now()), orderID); err != nil {
		return fmt.Errorf("storage.UpdateOrderStatus: %w", err)
	}
	return nil
}

// OrderSpacings devuelve el spacing registrado para cada orden del par.
func (s *SQLiteStorage) OrderSpacings(ctx context.Context, pair string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, spacing FROM orders WHERE pair = ? AND spacing > 0`, pair)
	if err != nil {
		return nil, fmt.Errorf("storage.OrderSpacings: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var id string
		var spacing float64
		if err := rows.Scan(&id, &spacing); err != nil {
			return nil, fmt.Errorf("storage.OrderSpacings: scan: %w", err)
		}
		out[id] = spacing
	}
	return out, rows.Err()
}

// SaveMatch guarda el resultado de un sell. Un match ya registrado no se
// reescribe nunca.
func (s *SQLiteStorage) SaveMatch(ctx context.Context, pair string, m domain.MatchResult) error {
	consumed, err := json.Marshal(m.ConsumedLots)
	if err != nil {
		return fmt.Errorf("storage.SaveMatch: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO match_results (sell_fill_id, pair, sell_price, sell_quantity, expected_buy,
			spacing, shortfall, realized_gross, realized_fees, realized_net, quality, consumed_lots, matched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SellFillID, pair, m.SellPrice, m.SellQuantity, m.ExpectedBuyPrice, m.Spacing, m.Shortfall,
		m.RealizedGross, m.RealizedFees, m.RealizedNet, string(m.Quality), string(consumed),
		formatTime(m.MatchedAt),
	); err != nil {
		return fmt.Errorf("storage.SaveMatch: %w", err)
	}
	return nil
}

// MatchResults devuelve los últimos limit matches del par, el más reciente primero.
func (s *SQLiteStorage) MatchResults(ctx context.Context, pair string, limit int) ([]domain.MatchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sell_fill_id, sell_price, sell_quantity, expected_buy, spacing, shortfall,
		       realized_gross, realized_fees, realized_net, quality, consumed_lots, matched_at
		FROM match_results WHERE pair = ?
		ORDER BY matched_at DESC, sell_fill_id DESC LIMIT ?`, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.MatchResults: query: %w", err)
	}
	defer rows.Close()

	var out []domain.MatchResult
	for rows.Next() {
		var m domain.MatchResult
		var quality, consumed, at string
		if err := rows.Scan(&m.SellFillID, &m.SellPrice, &m.SellQuantity, &m.ExpectedBuyPrice,
			&m.Spacing, &m.Shortfall, &m.RealizedGross, &m.RealizedFees, &m.RealizedNet,
			&quality, &consumed, &at); err != nil {
			return nil, fmt.Errorf("storage.MatchResults: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(consumed), &m.ConsumedLots); err != nil {
			return nil, fmt.Errorf("storage.MatchResults: decode consumed lots: %w", err)
		}
		m.Quality = domain.MatchQuality(quality)
		if m.Shortfall > 0 {
			m.ShortfallQuality = domain.MatchEstimated
		}
		m.MatchedAt = parseTime(at)
		out = append(out, m)
	}
	return out, rows.Err()
}
