package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// MarketData obtiene velas OHLC para el clasificador de régimen.
type MarketData interface {
	// FetchCandles devuelve hasta limit velas del intervalo dado, la más
	// antigua primero.
	FetchCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error)
}

// RiskProvider entrega la señal macro/news como un nivel opaco.
type RiskProvider interface {
	RiskLevel(ctx context.Context, date time.Time) (domain.RiskLevel, error)
}
