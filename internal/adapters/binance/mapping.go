package binance

import (
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// parseFloat convierte un string decimal del exchange; "" o basura → 0.
func parseFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// truncate redondea v hacia abajo al múltiplo de step más cercano y lo
// formatea sin notación científica. step <= 0 deja el valor intacto.
func truncate(v, step float64) string {
	d := decimal.NewFromFloat(v)
	if step <= 0 {
		return d.String()
	}
	s := decimal.NewFromFloat(step)
	return d.Div(s).Floor().Mul(s).String()
}

// roundPrice lleva el precio al tick del símbolo.
func roundPrice(price float64, f Filters) string {
	return truncate(price, f.TickSize)
}

// roundQuantity lleva la cantidad al step del símbolo.
func roundQuantity(qty float64, f Filters) string {
	return truncate(qty, f.StepSize)
}

// mapTrade convierte un trade propio a domain.Fill.
func mapTrade(t *gobinance.TradeV3) domain.Fill {
	side := domain.SideSell
	if t.IsBuyer {
		side = domain.SideBuy
	}
	return domain.Fill{
		ID:            strconv.FormatInt(t.ID, 10),
		Side:          side,
		Price:         parseFloat(t.Price),
		Quantity:      parseFloat(t.Quantity),
		Fee:           parseFloat(t.Commission),
		FeeCurrency:   t.CommissionAsset,
		Timestamp:     time.UnixMilli(t.Time).UTC(),
		LinkedOrderID: strconv.FormatInt(t.OrderID, 10),
	}
}

func mapTrades(raw []*gobinance.TradeV3) []domain.Fill {
	fills := make([]domain.Fill, 0, len(raw))
	for _, t := range raw {
		if t == nil {
			continue
		}
		fills = append(fills, mapTrade(t))
	}
	return fills
}

// mapOrder convierte una orden abierta del exchange. Spacing y Level no los
// conoce el exchange; el engine los completa desde su estado.
func mapOrder(o *gobinance.Order) domain.OpenOrder {
	side := domain.SideSell
	if o.Side == gobinance.SideTypeBuy {
		side = domain.SideBuy
	}
	return domain.OpenOrder{
		ID:       strconv.FormatInt(o.OrderID, 10),
		Side:     side,
		Price:    parseFloat(o.Price),
		Quantity: parseFloat(o.OrigQuantity),
		Filled:   parseFloat(o.ExecutedQuantity),
		PlacedAt: time.UnixMilli(o.Time).UTC(),
	}
}

func mapKline(k *gobinance.Kline) domain.Candle {
	return domain.Candle{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     parseFloat(k.Open),
		High:     parseFloat(k.High),
		Low:      parseFloat(k.Low),
		Close:    parseFloat(k.Close),
		Volume:   parseFloat(k.Volume),
	}
}

// lastTradeID devuelve el ID numérico más alto de fills, o since si no hay.
func lastTradeID(fills []domain.Fill, since int64) int64 {
	last := since
	for _, f := range fills {
		if id, err := strconv.ParseInt(f.ID, 10, 64); err == nil && id > last {
			last = id
		}
	}
	return last
}
