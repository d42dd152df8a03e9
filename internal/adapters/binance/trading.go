package binance

// trading.go — ports.Exchange y ports.MarketData sobre la API spot.
//
// Todas las órdenes son LIMIT GTC. Precio y cantidad se truncan a tick/step
// antes de enviarse; una cantidad que queda en cero no sale del proceso.

import (
	"context"
	"fmt"
	"strconv"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

const tradesPageSize = 1000

// maxTradePages limita el paginado de FetchTrades en un solo ciclo.
const maxTradePages = 20

// FetchCurrentPrice devuelve el último precio del símbolo.
func (c *Client) FetchCurrentPrice(ctx context.Context, pair domain.Pair) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	prices, err := c.api.NewListPricesService().Symbol(pair.Symbol).Do(ctx)
	if err != nil {
		return 0, classify("binance.FetchCurrentPrice", err)
	}
	for _, p := range prices {
		if p.Symbol == pair.Symbol {
			return parseFloat(p.Price), nil
		}
	}
	return 0, domain.NewError(domain.KindTransient, "binance.FetchCurrentPrice",
		fmt.Errorf("no price for %s", pair.Symbol))
}

// FetchTrades devuelve los fills propios posteriores a sinceID. Sin sinceID
// devuelve la última página.
func (c *Client) FetchTrades(ctx context.Context, pair domain.Pair, sinceID string) ([]domain.Fill, error) {
	var from int64 = -1
	if sinceID != "" {
		id, err := strconv.ParseInt(sinceID, 10, 64)
		if err != nil {
			return nil, domain.NewError(domain.KindFatal, "binance.FetchTrades",
				fmt.Errorf("trade id %q: %w", sinceID, err))
		}
		from = id + 1
	}

	var out []domain.Fill
	for page := 0; page < maxTradePages; page++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		svc := c.api.NewListTradesService().Symbol(pair.Symbol).Limit(tradesPageSize)
		if from >= 0 {
			svc = svc.FromID(from)
		}
		raw, err := svc.Do(ctx)
		if err != nil {
			return nil, classify("binance.FetchTrades", err)
		}
		fills := mapTrades(raw)
		out = append(out, fills...)
		if len(raw) < tradesPageSize {
			break
		}
		from = lastTradeID(fills, from) + 1
	}
	domain.SortFills(out)
	return out, nil
}

// PlaceOrder coloca una orden LIMIT GTC y devuelve su ID.
func (c *Client) PlaceOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, quantity float64) (string, error) {
	const op = "binance.PlaceOrder"
	f := c.filtersFor(pair.Symbol)

	priceStr := roundPrice(price, f)
	qtyStr := roundQuantity(quantity, f)
	p, q := parseFloat(priceStr), parseFloat(qtyStr)
	if q <= 0 || p <= 0 {
		return "", domain.NewError(domain.KindFatal, op,
			fmt.Errorf("%s %s rounds to zero (price %v qty %v)", side, pair.Symbol, price, quantity))
	}
	if f.MinNotional > 0 && p*q < f.MinNotional {
		return "", domain.NewError(domain.KindFatal, op,
			fmt.Errorf("%s %s notional %.4f below minimum %.4f", side, pair.Symbol, p*q, f.MinNotional))
	}

	bside := gobinance.SideTypeSell
	if side == domain.SideBuy {
		bside = gobinance.SideTypeBuy
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	res, err := c.api.NewCreateOrderService().
		Symbol(pair.Symbol).
		Side(bside).
		Type(gobinance.OrderTypeLimit).
		TimeInForce(gobinance.TimeInForceTypeGTC).
		Price(priceStr).
		Quantity(qtyStr).
		Do(ctx)
	if err != nil {
		return "", classify(op, err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// CancelOrder cancela una orden abierta.
func (c *Client) CancelOrder(ctx context.Context, pair domain.Pair, orderID string) error {
	const op = "binance.CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.NewError(domain.KindFatal, op, fmt.Errorf("order id %q: %w", orderID, err))
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.api.NewCancelOrderService().Symbol(pair.Symbol).OrderID(id).Do(ctx); err != nil {
		return classify(op, err)
	}
	return nil
}

// FetchBalance devuelve free + locked del asset.
func (c *Client) FetchBalance(ctx context.Context, asset string) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, classify("binance.FetchBalance", err)
	}
	for _, b := range acct.Balances {
		if b.Asset == asset {
			return parseFloat(b.Free) + parseFloat(b.Locked), nil
		}
	}
	return 0, nil
}

// FetchOpenOrders devuelve las órdenes abiertas del símbolo.
func (c *Client) FetchOpenOrders(ctx context.Context, pair domain.Pair) ([]domain.OpenOrder, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.api.NewListOpenOrdersService().Symbol(pair.Symbol).Do(ctx)
	if err != nil {
		return nil, classify("binance.FetchOpenOrders", err)
	}
	out := make([]domain.OpenOrder, 0, len(raw))
	for _, o := range raw {
		if o == nil {
			continue
		}
		out = append(out, mapOrder(o))
	}
	return out, nil
}

// FetchCandles devuelve las últimas limit velas del intervalo.
func (c *Client) FetchCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.api.NewKlinesService().Symbol(pair.Symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("binance.FetchCandles", err)
	}
	out := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if k == nil {
			continue
		}
		out = append(out, mapKline(k))
	}
	return out, nil
}
