package ports

import (
	"context"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Notifier presenta el resultado de cada ciclo al usuario.
type Notifier interface {
	NotifyCycle(ctx context.Context, summary domain.CycleSummary) error
	NotifyReconciliation(ctx context.Context, report domain.ReconciliationReport) error
}

// Metrics recibe observaciones del engine. Implementado sobre Prometheus.
type Metrics interface {
	ObserveCycle(summary domain.CycleSummary)
	ObserveOrderError(pair string, kind domain.ErrorKind)
	ObserveReconciliation(report domain.ReconciliationReport)
}
