package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/gridbot/config"
	"github.com/alejandrodnm/gridbot/internal/adapters/httpapi"
	"github.com/alejandrodnm/gridbot/internal/adapters/notify"
	"github.com/alejandrodnm/gridbot/internal/application/engine"
)

const stopFile = "STOP"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle per pair and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print the match table after each cycle")
	reconcileOnly := flag.Bool("reconcile", false, "reconcile every pair against the exchange and exit")
	showLedger := flag.Bool("ledger", false, "print the persisted ledger of every pair and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("gridbot starting",
		"config", *configPath,
		"mode", cfg.Exchange.Mode,
		"pairs", len(cfg.Pairs),
		"interval", cfg.Interval(),
		"once", *once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	notifier := notify.NewConsole(*table)
	app, err := build(ctx, cfg, notifier)
	if err != nil {
		slog.Error("failed to wire gridbot", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	for _, e := range app.registry.All() {
		if err := e.Start(ctx); err != nil {
			// un snapshot corrupto exige intervención: no se opera sobre él
			slog.Error("failed to restore state", "pair", e.Pair().Symbol, "err", err)
			os.Exit(1)
		}
	}

	switch {
	case *showLedger:
		printLedgers(ctx, app, notifier)
	case *reconcileOnly:
		if err := reconcileAll(ctx, app.registry); err != nil {
			os.Exit(1)
		}
	case *once:
		runOnce(ctx, app.registry)
	default:
		if err := runLoop(ctx, cfg, app); err != nil {
			slog.Error("gridbot exited with error", "err", err)
			os.Exit(1)
		}
	}

	slog.Info("gridbot stopped cleanly")
}

func runOnce(ctx context.Context, registry *engine.Registry) {
	for _, e := range registry.All() {
		if _, err := e.RunOnce(ctx); err != nil {
			slog.Error("cycle failed", "pair", e.Pair().Symbol, "err", err)
		}
	}
}

func reconcileAll(ctx context.Context, registry *engine.Registry) error {
	var errs []error
	for _, e := range registry.All() {
		if _, err := e.TriggerReconciliation(ctx); err != nil {
			slog.Error("reconciliation failed", "pair", e.Pair().Symbol, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func printLedgers(ctx context.Context, app *application, notifier *notify.Console) {
	for _, e := range app.registry.All() {
		price, err := app.exchange.FetchCurrentPrice(ctx, e.Pair())
		if err != nil {
			slog.Warn("price unavailable, lots valued at 0", "pair", e.Pair().Symbol, "err", err)
		}
		notifier.PrintLedger(e.Pair().Symbol, e.LedgerSnapshot(), price)
	}
}

// runLoop corre un loop por par y la API hasta SIGINT/SIGTERM o hasta que
// aparezca el archivo STOP.
func runLoop(ctx context.Context, cfg *config.Config, app *application) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range app.registry.All() {
		e := e
		g.Go(func() error {
			return e.Run(gctx, cfg.Interval())
		})
	}

	if cfg.HTTP.Addr != "" {
		srv := httpapi.New(httpapi.Config{
			Addr:         cfg.HTTP.Addr,
			AllowOrigins: cfg.HTTP.AllowOrigins,
			Debug:        cfg.Log.Level == "debug",
		}, app.registry, app.audit, app.metrics.Handler())
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	g.Go(func() error {
		watchStopFile(gctx, cancel)
		return nil
	})

	slog.Info(fmt.Sprintf("gridbot running: press Ctrl+C or create %s file to exit", stopFile))
	return g.Wait()
}

func watchStopFile(ctx context.Context, stop context.CancelFunc) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info("STOP file detected, shutting down")
				os.Remove(stopFile)
				stop()
				return
			}
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
