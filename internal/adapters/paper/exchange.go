// Package paper implements ports.Exchange in memory for paper trading.
//
// Orders rest until the observed price crosses them and then fill completely
// at their limit price. Fees are charged in the quote asset. Prices come from
// an upstream quoter (usually the real exchange's public ticker) or from
// SetPrice in tests.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Quoter provides reference prices.
type Quoter interface {
	FetchCurrentPrice(ctx context.Context, pair domain.Pair) (float64, error)
}

// Config holds paper balances and fees.
type Config struct {
	Balances map[string]float64 // asset → initial free balance
	FeeRate  float64
}

type balance struct {
	free   float64
	locked float64
}

type restingOrder struct {
	pair  domain.Pair
	order domain.OpenOrder
}

// Exchange is an in-memory exchange.
type Exchange struct {
	quoter Quoter
	cfg    Config
	now    func() time.Time

	mu       sync.Mutex
	balances map[string]*balance
	orders   map[string]*restingOrder
	fills    map[string][]domain.Fill // by symbol
	prices   map[string]float64
	seq      int64
}

// New creates a paper exchange. quoter may be nil.
func New(quoter Quoter, cfg Config) *Exchange {
	e := &Exchange{
		quoter:   quoter,
		cfg:      cfg,
		now:      time.Now,
		balances: make(map[string]*balance),
		orders:   make(map[string]*restingOrder),
		fills:    make(map[string][]domain.Fill),
		prices:   make(map[string]float64),
	}
	for asset, qty := range cfg.Balances {
		e.balances[asset] = &balance{free: qty}
	}
	return e
}

// SetClock overrides the clock used to timestamp fills.
func (e *Exchange) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// SetPrice moves the market and fills every crossed order.
func (e *Exchange) SetPrice(pair domain.Pair, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[pair.Symbol] = price
	e.matchLocked(pair, price)
}

// Deposit changes a free balance outside of trading, the way a transfer or
// a missed fill would.
func (e *Exchange) Deposit(asset string, qty float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balanceLocked(asset).free += qty
}

// FetchCurrentPrice asks the quoter (if any), matches resting orders
// against the price and returns it.
func (e *Exchange) FetchCurrentPrice(ctx context.Context, pair domain.Pair) (float64, error) {
	if e.quoter != nil {
		price, err := e.quoter.FetchCurrentPrice(ctx, pair)
		if err != nil {
			return 0, err
		}
		e.SetPrice(pair, price)
		return price, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[pair.Symbol]
	if !ok || price <= 0 {
		return 0, domain.NewError(domain.KindTransient, "paper.FetchCurrentPrice",
			fmt.Errorf("no price for %s", pair.Symbol))
	}
	return price, nil
}

// FetchTrades returns fills with a numeric ID greater than sinceID.
func (e *Exchange) FetchTrades(_ context.Context, pair domain.Pair, sinceID string) ([]domain.Fill, error) {
	var since int64
	if sinceID != "" {
		id, err := strconv.ParseInt(sinceID, 10, 64)
		if err != nil {
			return nil, domain.NewError(domain.KindFatal, "paper.FetchTrades",
				fmt.Errorf("trade id %q: %w", sinceID, err))
		}
		since = id
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Fill
	for _, f := range e.fills[pair.Symbol] {
		id, _ := strconv.ParseInt(f.ID, 10, 64)
		if id > since {
			out = append(out, f)
		}
	}
	return out, nil
}

// PlaceOrder locks funds and rests a limit order. An order that would cross
// the current price fills at once, like a taker order would.
func (e *Exchange) PlaceOrder(_ context.Context, pair domain.Pair, side domain.Side, price, quantity float64) (string, error) {
	const op = "paper.PlaceOrder"
	if price <= 0 || quantity <= 0 {
		return "", domain.NewError(domain.KindFatal, op,
			fmt.Errorf("invalid order %s %v @ %v", side, quantity, price))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch side {
	case domain.SideBuy:
		cost := price * quantity * (1 + e.cfg.FeeRate)
		b := e.balanceLocked(pair.Quote)
		if b.free < cost {
			return "", domain.NewError(domain.KindFatal, op,
				fmt.Errorf("insufficient %s: need %.8f, free %.8f", pair.Quote, cost, b.free))
		}
		b.free -= cost
		b.locked += cost
	case domain.SideSell:
		b := e.balanceLocked(pair.Base)
		if b.free < quantity {
			return "", domain.NewError(domain.KindFatal, op,
				fmt.Errorf("insufficient %s: need %.8f, free %.8f", pair.Base, quantity, b.free))
		}
		b.free -= quantity
		b.locked += quantity
	default:
		return "", domain.NewError(domain.KindFatal, op, fmt.Errorf("unknown side %q", side))
	}

	id := uuid.New().String()
	e.orders[id] = &restingOrder{
		pair: pair,
		order: domain.OpenOrder{
			ID:       id,
			Side:     side,
			Price:    price,
			Quantity: quantity,
			PlacedAt: e.now().UTC(),
		},
	}
	if last, ok := e.prices[pair.Symbol]; ok {
		e.matchLocked(pair, last)
	}
	return id, nil
}

// CancelOrder releases the order's locked funds.
func (e *Exchange) CancelOrder(_ context.Context, pair domain.Pair, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ro, ok := e.orders[orderID]
	if !ok || ro.pair.Symbol != pair.Symbol {
		return domain.NewError(domain.KindFatal, "paper.CancelOrder",
			fmt.Errorf("unknown order %s", orderID))
	}
	e.releaseLocked(ro)
	delete(e.orders, orderID)
	return nil
}

// FetchBalance returns free + locked.
func (e *Exchange) FetchBalance(_ context.Context, asset string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.balances[asset]
	if !ok {
		return 0, nil
	}
	return b.free + b.locked, nil
}

// FetchOpenOrders returns resting orders by placement time.
func (e *Exchange) FetchOpenOrders(_ context.Context, pair domain.Pair) ([]domain.OpenOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.OpenOrder
	for _, ro := range e.orders {
		if ro.pair.Symbol == pair.Symbol {
			out = append(out, ro.order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.Before(out[j].PlacedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (e *Exchange) balanceLocked(asset string) *balance {
	b, ok := e.balances[asset]
	if !ok {
		b = &balance{}
		e.balances[asset] = b
	}
	return b
}

func (e *Exchange) releaseLocked(ro *restingOrder) {
	o := ro.order
	if o.Side == domain.SideBuy {
		cost := o.Price * o.Quantity * (1 + e.cfg.FeeRate)
		b := e.balanceLocked(ro.pair.Quote)
		b.locked -= cost
		b.free += cost
		return
	}
	b := e.balanceLocked(ro.pair.Base)
	b.locked -= o.Quantity
	b.free += o.Quantity
}

// matchLocked fills every order of pair crossed by price, oldest first.
func (e *Exchange) matchLocked(pair domain.Pair, price float64) {
	var crossed []*restingOrder
	for _, ro := range e.orders {
		if ro.pair.Symbol != pair.Symbol {
			continue
		}
		o := ro.order
		if (o.Side == domain.SideBuy && price <= o.Price) || (o.Side == domain.SideSell && price >= o.Price) {
			crossed = append(crossed, ro)
		}
	}
	sort.Slice(crossed, func(i, j int) bool {
		a, b := crossed[i].order, crossed[j].order
		if !a.PlacedAt.Equal(b.PlacedAt) {
			return a.PlacedAt.Before(b.PlacedAt)
		}
		return a.ID < b.ID
	})

	for _, ro := range crossed {
		e.fillLocked(ro)
	}
}

func (e *Exchange) fillLocked(ro *restingOrder) {
	o := ro.order
	notional := o.Price * o.Quantity
	fee := notional * e.cfg.FeeRate

	quote := e.balanceLocked(ro.pair.Quote)
	base := e.balanceLocked(ro.pair.Base)
	if o.Side == domain.SideBuy {
		locked := notional * (1 + e.cfg.FeeRate)
		quote.locked -= locked
		base.free += o.Quantity
	} else {
		base.locked -= o.Quantity
		quote.free += notional - fee
	}

	e.seq++
	f := domain.Fill{
		ID:            strconv.FormatInt(e.seq, 10),
		Side:          o.Side,
		Price:         o.Price,
		Quantity:      o.Quantity,
		Fee:           fee,
		FeeCurrency:   ro.pair.Quote,
		Timestamp:     e.now().UTC(),
		LinkedOrderID: o.ID,
	}
	e.fills[ro.pair.Symbol] = append(e.fills[ro.pair.Symbol], f)
	delete(e.orders, o.ID)

	slog.Debug("paper: order filled",
		"pair", ro.pair.Symbol,
		"side", o.Side,
		"price", o.Price,
		"qty", o.Quantity,
		"fill", f.ID,
	)
}
