package ports

import (
	"context"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// SnapshotStore persiste el estado completo de un par de forma atómica.
type SnapshotStore interface {
	// Load devuelve el estado guardado. found es false si nunca se guardó.
	// Un snapshot ilegible devuelve un error de kind Corrupt.
	Load(ctx context.Context, pair domain.Pair) (state domain.EngineState, found bool, err error)

	// Save reemplaza el snapshot (write-then-rename) guardando un backup del anterior.
	Save(ctx context.Context, state domain.EngineState) error
}

// AuditStore es el journal append-only de lo que hizo el engine.
type AuditStore interface {
	SaveFills(ctx context.Context, pair string, fills []domain.Fill) error
	SaveOrder(ctx context.Context, pair string, order domain.OpenOrder) error
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
	SaveMatch(ctx context.Context, pair string, match domain.MatchResult) error
	SaveReconciliation(ctx context.Context, report domain.ReconciliationReport) error
	SaveCycle(ctx context.Context, summary domain.CycleSummary) error

	// OrderSpacings devuelve el spacing vigente al colocar cada orden, por ID.
	OrderSpacings(ctx context.Context, pair string) (map[string]float64, error)

	// Fills devuelve el historial de fills registrado para el par.
	Fills(ctx context.Context, pair string) ([]domain.Fill, error)

	// MatchResults devuelve los últimos limit matches, el más reciente primero.
	MatchResults(ctx context.Context, pair string, limit int) ([]domain.MatchResult, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
