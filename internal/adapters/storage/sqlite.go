package storage

// sqlite.go — journal de auditoría del engine.
//
// Tablas:
//   - `fills`: cada fill ingerido, una fila por ID (INSERT OR IGNORE).
//   - `orders`: órdenes colocadas con el spacing vigente al colocarlas. El replay
//     de reconciliación lo usa para calcular el expectedBuyPrice de cada sell.
//   - `match_results`: un registro por sell, nunca se reescribe.
//   - `reconciliations`: cada reporte de reconciliación.
//   - `cycles`: resumen ligero por ciclo. Prune automático al arrancar (30d).
//
// El snapshot JSON es la fuente de verdad del estado; esta DB es solo historial.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/gridbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
    id              TEXT NOT NULL,
    pair            TEXT NOT NULL,
    side            TEXT NOT NULL,
    price           REAL NOT NULL,
    quantity        REAL NOT NULL,
    fee             REAL NOT NULL DEFAULT 0,
    fee_currency    TEXT NOT NULL DEFAULT '',
    order_id        TEXT NOT NULL DEFAULT '',
    ts              TEXT NOT NULL,
    PRIMARY KEY (pair, id)
);

CREATE TABLE IF NOT EXISTS orders (
    id         TEXT PRIMARY KEY,
    pair       TEXT NOT NULL,
    side       TEXT NOT NULL,
    price      REAL NOT NULL,
    quantity   REAL NOT NULL,
    spacing    REAL NOT NULL DEFAULT 0,
    level      INTEGER NOT NULL DEFAULT 0,
    status     TEXT NOT NULL DEFAULT 'OPEN',
    placed_at  TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS match_results (
    sell_fill_id   TEXT NOT NULL,
    pair           TEXT NOT NULL,
    sell_price     REAL NOT NULL,
    sell_quantity  REAL NOT NULL,
    expected_buy   REAL NOT NULL,
    spacing        REAL NOT NULL,
    shortfall      REAL NOT NULL DEFAULT 0,
    realized_gross REAL NOT NULL,
    realized_fees  REAL NOT NULL,
    realized_net   REAL NOT NULL,
    quality        TEXT NOT NULL,
    consumed_lots  TEXT NOT NULL,   -- JSON
    matched_at     TEXT NOT NULL,
    PRIMARY KEY (pair, sell_fill_id)
);

CREATE TABLE IF NOT EXISTS reconciliations (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    pair            TEXT NOT NULL,
    ran_at          TEXT NOT NULL,
    balance         REAL NOT NULL,
    holdings_before REAL NOT NULL,
    holdings_after  REAL NOT NULL,
    added_qty       REAL NOT NULL,
    removed_qty     REAL NOT NULL,
    profit_delta    REAL NOT NULL,
    report          TEXT NOT NULL   -- JSON completo
);

CREATE TABLE IF NOT EXISTS cycles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    pair        TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    price       REAL NOT NULL,
    regime      TEXT NOT NULL,
    volatility  TEXT NOT NULL,
    spacing     REAL NOT NULL,
    new_fills   INTEGER NOT NULL,
    placed      INTEGER NOT NULL,
    cancelled   INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    holdings    REAL NOT NULL,
    realized    REAL NOT NULL,
    paused      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_ts      ON fills(pair, ts);
CREATE INDEX IF NOT EXISTS idx_orders_pair   ON orders(pair, status);
CREATE INDEX IF NOT EXISTS idx_matches_at    ON match_results(pair, matched_at DESC);
CREATE INDEX IF NOT EXISTS idx_cycles_at     ON cycles(started_at DESC);
`

const retentionCycles = 30 * 24 * time.Hour // ciclos: 30 días

// tsLayout ordena lexicográficamente, así ORDER BY ts es cronológico.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStorage implementa ports.AuditStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia ciclos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveCycle guarda el resumen de un ciclo.
func (s *SQLiteStorage) SaveCycle(ctx context.Context, c domain.CycleSummary) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (pair, started_at, duration_ms, price, regime, volatility, spacing,
			new_fills, placed, cancelled, failed, holdings, realized, paused)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Pair, formatTime(c.StartedAt), c.Duration.Milliseconds(), c.Price,
		string(c.Assessment.Regime), string(c.Assessment.Volatility), c.Spec.Spacing,
		c.NewFills, c.Placed, c.Cancelled, c.FailedOrders, c.Holdings, c.RealizedProfit, boolInt(c.Paused),
	); err != nil {
		return fmt.Errorf("storage.SaveCycle: %w", err)
	}
	return nil
}

// SaveReconciliation guarda un reporte de reconciliación completo.
func (s *SQLiteStorage) SaveReconciliation(ctx context.Context, r domain.ReconciliationReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("storage.SaveReconciliation: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliations (pair, ran_at, balance, holdings_before, holdings_after,
			added_qty, removed_qty, profit_delta, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Pair, formatTime(r.RanAt), r.Balance, r.HoldingsBefore, r.HoldingsAfter,
		r.AddedQuantity(), r.RemovedQuantity(), r.ProfitDelta, string(body),
	); err != nil {
		return fmt.Errorf("storage.SaveReconciliation: %w", err)
	}
	return nil
}

// Reconciliations devuelve los últimos limit reportes del par, el más reciente primero.
func (s *SQLiteStorage) Reconciliations(ctx context.Context, pair string, limit int) ([]domain.ReconciliationReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM reconciliations WHERE pair = ? ORDER BY id DESC LIMIT ?`, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Reconciliations: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ReconciliationReport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("storage.Reconciliations: scan: %w", err)
		}
		var r domain.ReconciliationReport
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("storage.Reconciliations: decode: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// pruneOld elimina ciclos antiguos para mantener la DB ligera. El resto del
// journal no se borra nunca.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(s.now().Add(-retentionCycles))
	_, _ = s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
