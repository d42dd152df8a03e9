// Package binance implements the exchange ports on Binance spot.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Filters are the symbol's price/quantity increments.
type Filters struct {
	TickSize    float64
	StepSize    float64
	MinNotional float64
}

// Config configures the client.
type Config struct {
	APIKey    string
	Secret    string
	Testnet   bool
	RateLimit int // requests per second
	BaseURL   string
	Filters   map[string]Filters // by symbol
}

// Client wraps the go-binance spot client with rate limiting, decimal
// rounding and structural error classification. Retries are left to the
// caller; every error returned is a *domain.Error.
type Client struct {
	api     *gobinance.Client
	limiter *rate.Limiter

	mu      sync.RWMutex
	filters map[string]Filters
}

// NewClient creates a Binance spot client.
func NewClient(cfg Config) *Client {
	if cfg.Testnet {
		gobinance.UseTestnet = true
	}
	api := gobinance.NewClient(cfg.APIKey, cfg.Secret)
	api.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}

	filters := make(map[string]Filters, len(cfg.Filters))
	for k, v := range cfg.Filters {
		filters[k] = v
	}
	return &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		filters: filters,
	}
}

// LoadFilters fetches tick and step size from exchangeInfo for symbols whose
// filters were not configured.
func (c *Client) LoadFilters(ctx context.Context, pair domain.Pair) error {
	c.mu.RLock()
	f := c.filters[pair.Symbol]
	c.mu.RUnlock()
	if f.TickSize > 0 && f.StepSize > 0 {
		return nil
	}

	if err := c.wait(ctx); err != nil {
		return err
	}
	info, err := c.api.NewExchangeInfoService().Symbol(pair.Symbol).Do(ctx)
	if err != nil {
		return classify("binance.LoadFilters", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != pair.Symbol {
			continue
		}
		if pf := s.PriceFilter(); pf != nil && f.TickSize <= 0 {
			f.TickSize = parseFloat(pf.TickSize)
		}
		if lf := s.LotSizeFilter(); lf != nil && f.StepSize <= 0 {
			f.StepSize = parseFloat(lf.StepSize)
		}
	}
	c.mu.Lock()
	c.filters[pair.Symbol] = f
	c.mu.Unlock()
	return nil
}

func (c *Client) filtersFor(symbol string) Filters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filters[symbol]
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.NewError(domain.KindTransient, "binance.wait", fmt.Errorf("rate limiter: %w", err))
	}
	return nil
}

// Binance error codes, see the spot API error documentation.
const (
	codeUnknown         = -1000
	codeDisconnected    = -1001
	codeTooManyRequests = -1003
	codeUnexpectedResp  = -1006
	codeTimeout         = -1007
	codeServerBusy      = -1008
	codeFilterFailure   = -1013
	codeTooManyOrders   = -1015
	codeTimestampWindow = -1021
	codeOrderRejected   = -2010 // insufficient balance, would match immediately
	codeCancelRejected  = -2011 // unknown order
)

// kindForCode maps an exchange error code to the retry taxonomy. Codes not
// listed as transient, including the whole -11xx request range, are fatal.
func kindForCode(code int64) domain.ErrorKind {
	switch code {
	case 0, codeUnknown, codeDisconnected, codeTooManyRequests, codeUnexpectedResp,
		codeTimeout, codeServerBusy, codeTooManyOrders, codeTimestampWindow:
		return domain.KindTransient
	default:
		return domain.KindFatal
	}
}

// classify wraps err with its kind. API errors are classified by code,
// network failures are transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &domain.Error{Kind: kindForCode(apiErr.Code), Op: op, Code: apiErr.Code, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.KindTransient, op, err)
	}
	// Anything else (EOF, connection reset, malformed body) is worth another try.
	return domain.NewError(domain.KindTransient, op, err)
}
