package ports

import (
	"context"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Exchange es el colaborador que ejecuta órdenes y reporta fills y balances.
// Las implementaciones deben devolver errores clasificados (*domain.Error) para
// que el retry wrapper distinga transient de fatal.
type Exchange interface {
	// FetchCurrentPrice devuelve el último precio del par.
	FetchCurrentPrice(ctx context.Context, pair domain.Pair) (float64, error)

	// FetchTrades devuelve los fills del par con ID posterior a sinceID,
	// ordenados por timestamp. sinceID vacío devuelve el historial completo.
	FetchTrades(ctx context.Context, pair domain.Pair, sinceID string) ([]domain.Fill, error)

	// PlaceOrder coloca una orden limit y devuelve su ID.
	PlaceOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, quantity float64) (string, error)

	// CancelOrder cancela una orden abierta.
	CancelOrder(ctx context.Context, pair domain.Pair, orderID string) error

	// FetchBalance devuelve la cantidad total (free + locked) del asset.
	FetchBalance(ctx context.Context, asset string) (float64, error)

	// FetchOpenOrders devuelve las órdenes que siguen en el libro.
	FetchOpenOrders(ctx context.Context, pair domain.Pair) ([]domain.OpenOrder, error)
}
