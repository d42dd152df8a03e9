package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/gridbot/config"
	"github.com/alejandrodnm/gridbot/internal/adapters/binance"
	"github.com/alejandrodnm/gridbot/internal/adapters/metrics"
	"github.com/alejandrodnm/gridbot/internal/adapters/notify"
	"github.com/alejandrodnm/gridbot/internal/adapters/paper"
	"github.com/alejandrodnm/gridbot/internal/adapters/risk"
	"github.com/alejandrodnm/gridbot/internal/adapters/snapshot"
	"github.com/alejandrodnm/gridbot/internal/adapters/storage"
	"github.com/alejandrodnm/gridbot/internal/application/engine"
	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/alejandrodnm/gridbot/internal/ledger"
	"github.com/alejandrodnm/gridbot/internal/ports"
	"github.com/alejandrodnm/gridbot/internal/reconcile"
)

// application agrupa todo lo que main necesita cerrar o exponer.
type application struct {
	registry *engine.Registry
	exchange ports.Exchange
	audit    *storage.SQLiteStorage
	metrics  *metrics.Prometheus
}

func (a *application) Close() {
	if err := a.audit.Close(); err != nil {
		slog.Warn("error closing storage", "err", err)
	}
}

func build(ctx context.Context, cfg *config.Config, notifier ports.Notifier) (*application, error) {
	exchange, market, err := buildExchange(ctx, cfg)
	if err != nil {
		return nil, err
	}

	audit, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	snapshots, err := snapshot.NewFileStore(cfg.Snapshot.Dir, cfg.Snapshot.MaxBackups)
	if err != nil {
		audit.Close()
		return nil, err
	}

	windows := make([]risk.Window, 0, len(cfg.Risk.Windows))
	for _, w := range cfg.Risk.Windows {
		windows = append(windows, risk.Window{
			Name:         w.Name,
			Start:        w.Start,
			End:          w.End,
			DefenseLevel: w.DefenseLevel,
			ScoreBias:    w.ScoreBias,
		})
	}
	calendar := risk.NewCalendar(windows)
	prom := metrics.New()

	registry := engine.NewRegistry()
	for _, p := range cfg.Pairs {
		e := engine.New(engineConfig(cfg, p), engine.Deps{
			Exchange:  exchange,
			Market:    market,
			Risk:      calendar,
			Snapshots: snapshots,
			Audit:     audit,
			Notifier:  notifier,
			Metrics:   prom,
		})
		if err := registry.Register(e); err != nil {
			audit.Close()
			return nil, err
		}
	}

	return &application{registry: registry, exchange: exchange, audit: audit, metrics: prom}, nil
}

// buildExchange devuelve el exchange que opera y la fuente de velas. En modo
// paper las velas y el precio vienen del API público de Binance salvo que
// paper.start_price fije un precio offline.
func buildExchange(ctx context.Context, cfg *config.Config) (ports.Exchange, ports.MarketData, error) {
	filters := make(map[string]binance.Filters, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		filters[p.Symbol] = binance.Filters{TickSize: p.TickSize, StepSize: p.StepSize, MinNotional: p.MinNotional}
	}

	switch cfg.Exchange.Mode {
	case "binance":
		client := binance.NewClient(binance.Config{
			APIKey:    cfg.Exchange.APIKey,
			Secret:    cfg.Exchange.Secret,
			Testnet:   cfg.Exchange.Testnet,
			RateLimit: cfg.Exchange.RateLimit,
			Filters:   filters,
		})
		for _, p := range cfg.Pairs {
			if err := client.LoadFilters(ctx, pairOf(p)); err != nil {
				return nil, nil, fmt.Errorf("build: filters %s: %w", p.Symbol, err)
			}
		}
		return client, client, nil

	case "paper":
		public := binance.NewClient(binance.Config{
			Testnet:   cfg.Exchange.Testnet,
			RateLimit: cfg.Exchange.RateLimit,
			Filters:   filters,
		})

		balances := make(map[string]float64)
		for _, p := range cfg.Pairs {
			balances[p.Quote] = cfg.Paper.QuoteBalance
			if cfg.Paper.BaseBalance > 0 {
				balances[p.Base] = cfg.Paper.BaseBalance
			}
		}

		var quoter paper.Quoter = public
		if cfg.Paper.StartPrice > 0 {
			quoter = nil
		}
		ex := paper.New(quoter, paper.Config{Balances: balances, FeeRate: cfg.Paper.FeeRate})
		if cfg.Paper.StartPrice > 0 {
			for _, p := range cfg.Pairs {
				ex.SetPrice(pairOf(p), cfg.Paper.StartPrice)
			}
			slog.Info("paper: offline prices", "start_price", cfg.Paper.StartPrice)
		}
		return ex, public, nil
	}
	return nil, nil, fmt.Errorf("build: exchange mode %q", cfg.Exchange.Mode)
}

func pairOf(p config.PairConfig) domain.Pair {
	return domain.Pair{Symbol: p.Symbol, Base: p.Base, Quote: p.Quote}
}

func engineConfig(cfg *config.Config, p config.PairConfig) engine.Config {
	e := cfg.Engine
	m := cfg.Matching
	return engine.Config{
		Pair:           pairOf(p),
		Capital:        p.Capital,
		MinNotional:    p.MinNotional,
		FeeRate:        e.FeeRate,
		CandleInterval: e.CandleInterval,
		CandleLimit:    e.CandleLimit,
		Policy: ledger.MatchPolicy{
			PriceWeight:    m.PriceWeight,
			QuantityWeight: m.QuantityWeight,
			ExactThreshold: m.ExactThreshold,
			CloseThreshold: m.CloseThreshold,
			Epsilon:        m.Epsilon,
			DefaultSpacing: m.DefaultSpacing,
		},
		Order: reconcile.OrderPolicy{
			Shortfall: reconcile.Order(cfg.Reconcile.ShortfallOrder),
			Excess:    reconcile.Order(cfg.Reconcile.ExcessOrder),
		},
		Fees:              domain.FeeConverter{Base: p.Base, Quote: p.Quote, Rates: e.FeeRates},
		DriftTolerance:    e.DriftTolerance,
		DriftAbsTolerance: e.DriftAbsTolerance,
		OrderDelay:        cfg.OrderDelay(),
		MaxRetries:        e.MaxRetries,
		RetryBase:         cfg.RetryBase(),
		MaxFatalStreak:    e.MaxFatalStreak,
		FatalCooldown:     cfg.FatalCooldown(),
	}
}

var _ ports.Notifier = (*notify.Console)(nil)
