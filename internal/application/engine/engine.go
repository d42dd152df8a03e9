// Package engine runs one grid per trading pair: it plans the ladder, keeps
// the exchange's resting orders converged to it, feeds fills into the lot
// ledger and persists the result after every cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/gridbot/internal/domain"
	"github.com/alejandrodnm/gridbot/internal/grid"
	"github.com/alejandrodnm/gridbot/internal/ledger"
	"github.com/alejandrodnm/gridbot/internal/ports"
	"github.com/alejandrodnm/gridbot/internal/reconcile"
)

const (
	defaultCandleInterval = "1h"
	defaultCandleLimit    = 250
	defaultMaxRetries     = 4
	defaultRetryBase      = 500 * time.Millisecond
)

// Config holds the per-pair engine settings.
type Config struct {
	Pair        domain.Pair
	Capital     float64
	MinNotional float64
	FeeRate     float64

	CandleInterval string
	CandleLimit    int

	Policy ledger.MatchPolicy
	Order  reconcile.OrderPolicy
	Fees   domain.FeeConverter

	DriftTolerance    float64 // relative to the balance
	DriftAbsTolerance float64

	OrderDelay     time.Duration
	MaxRetries     int
	RetryBase      time.Duration
	MaxFatalStreak int
	FatalCooldown  time.Duration
}

// Deps are the engine's collaborators. Exchange, Market and Snapshots are
// required; the rest may be nil.
type Deps struct {
	Exchange  ports.Exchange
	Market    ports.MarketData
	Risk      ports.RiskProvider
	Snapshots ports.SnapshotStore
	Audit     ports.AuditStore
	Notifier  ports.Notifier
	Metrics   ports.Metrics
}

// Engine is the polling loop of one pair. The ledger has a single writer:
// the cycle (or a reconciliation) holding cycleMu. Readers take copies under mu.
type Engine struct {
	cfg  Config
	deps Deps

	pacer *rate.Limiter
	now   func() time.Time

	cycleMu sync.Mutex

	mu          sync.RWMutex
	ledger      *ledger.Ledger
	orders      []domain.OpenOrder
	spec        domain.GridSpec
	assessment  domain.Assessment
	pause       domain.PauseState
	lastPrice   float64
	lastBalance float64
	lastCycle   time.Time
	started     bool
}

// New creates an engine. Call Start before RunOnce.
func New(cfg Config, deps Deps) *Engine {
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = defaultCandleInterval
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = defaultCandleLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.DriftTolerance <= 0 {
		cfg.DriftTolerance = reconcile.DefaultTolerance
	}
	if cfg.Order.Shortfall == "" || cfg.Order.Excess == "" {
		cfg.Order = reconcile.DefaultOrderPolicy()
	}
	if cfg.Fees.Base == "" {
		cfg.Fees.Base = cfg.Pair.Base
	}
	if cfg.Fees.Quote == "" {
		cfg.Fees.Quote = cfg.Pair.Quote
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.OrderDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.OrderDelay), 1)
	}

	e := &Engine{
		cfg:   cfg,
		deps:  deps,
		pacer: pacer,
		now:   time.Now,
	}
	e.ledger = e.newLedger()
	e.pause.MaxFatal = cfg.MaxFatalStreak
	e.pause.Cooldown = cfg.FatalCooldown
	return e
}

// Pair returns the pair this engine trades.
func (e *Engine) Pair() domain.Pair { return e.cfg.Pair }

func (e *Engine) ledgerOptions() []ledger.Option {
	return []ledger.Option{
		ledger.WithFees(e.cfg.Fees),
	}
}

func (e *Engine) newLedger() *ledger.Ledger {
	return ledger.New(e.cfg.Policy, e.ledgerOptions()...)
}

// Start restores the persisted state. A corrupt snapshot is returned as is:
// the engine must not trade on state it cannot trust.
func (e *Engine) Start(ctx context.Context) error {
	st, found, err := e.deps.Snapshots.Load(ctx, e.cfg.Pair)
	if err != nil {
		return fmt.Errorf("engine.Start: %s: %w", e.cfg.Pair, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !found {
		slog.Info("engine: no snapshot, starting with an empty ledger", "pair", e.cfg.Pair.Symbol)
		e.started = true
		return nil
	}

	l, err := ledger.Restore(st.Ledger, e.cfg.Policy, e.ledgerOptions()...)
	if err != nil {
		return fmt.Errorf("engine.Start: %s: %w", e.cfg.Pair, err)
	}
	e.ledger = l
	e.orders = append([]domain.OpenOrder(nil), st.OpenOrders...)
	e.spec = st.GridSpec

	pause := st.Pause
	pause.MaxFatal = e.cfg.MaxFatalStreak
	pause.Cooldown = e.cfg.FatalCooldown
	if pause.Paused && pause.Reason == domain.PauseReconciling {
		// a reconciliation interrupted by a crash never finished
		pause.Reason = domain.PauseLedgerDrift
		pause.Detail = "reconciliation interrupted"
	}
	e.pause = pause
	e.started = true

	slog.Info("engine: state restored",
		"pair", e.cfg.Pair.Symbol,
		"lots", len(st.Ledger.Lots),
		"holdings", fmt.Sprintf("%.8f", st.Ledger.Holdings()),
		"realized", fmt.Sprintf("%.4f", st.Ledger.RealizedProfitTotal),
		"open_orders", len(st.OpenOrders),
		"paused", pause.Paused,
		"saved_at", st.SavedAt.Format(time.RFC3339),
	)
	return nil
}

// ErrNotStarted is returned by RunOnce before Start.
var ErrNotStarted = errors.New("engine not started")

// RunOnce executes one cycle: price → classify → plan → ingest fills →
// drift check → sync orders → persist.
func (e *Engine) RunOnce(ctx context.Context) (*domain.CycleSummary, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.mu.RLock()
	started := e.started
	e.mu.RUnlock()
	if !started {
		return nil, fmt.Errorf("engine.RunOnce: %w", ErrNotStarted)
	}

	pair := e.cfg.Pair
	start := e.now()
	summary := &domain.CycleSummary{Pair: pair.Symbol, StartedAt: start}

	// 1. Precio
	price, err := retryValue(ctx, e, "FetchCurrentPrice", func() (float64, error) {
		return e.deps.Exchange.FetchCurrentPrice(ctx, pair)
	})
	if err != nil {
		return nil, fmt.Errorf("engine.RunOnce: price: %w", err)
	}
	summary.Price = price

	// 2. Régimen + plan
	assessment := e.classify(ctx, summary)
	risk := e.riskLevel(ctx, start, summary)
	spec := grid.Plan(grid.PlanInput{Capital: e.cfg.Capital, Assessment: assessment, Risk: risk})
	summary.Assessment = assessment
	summary.Spec = spec

	e.mu.Lock()
	if spec != e.spec {
		slog.Info("engine: grid spec replaced",
			"pair", pair.Symbol,
			"spacing", fmt.Sprintf("%.4f", spec.Spacing),
			"levels", spec.LevelCount,
			"allocation", spec.CapitalAllocationFraction,
			"volatility", spec.Volatility,
			"regime", spec.Regime,
			"defense", spec.DefenseLevel,
		)
	}
	e.spec = spec
	e.assessment = assessment
	e.lastPrice = price
	e.mu.Unlock()

	// 3. Fills → ledger
	if err := e.ingestFills(ctx, summary); err != nil {
		return nil, fmt.Errorf("engine.RunOnce: %w", err)
	}

	// 4. Drift
	if err := e.checkDrift(ctx, summary); err != nil {
		return nil, fmt.Errorf("engine.RunOnce: %w", err)
	}

	// 5. Órdenes
	if err := e.syncOrders(ctx, spec, price, summary); err != nil {
		slog.Warn("engine: order sync incomplete", "pair", pair.Symbol, "err", err)
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("order sync: %v", err))
	}

	// 6. Persistencia
	if err := e.persist(ctx); err != nil {
		return nil, fmt.Errorf("engine.RunOnce: %w", err)
	}

	e.mu.Lock()
	summary.Holdings = e.ledger.Holdings()
	summary.RealizedProfit = e.ledger.RealizedProfit()
	summary.Unrealized = e.ledger.UnrealizedPnL(price)
	summary.Paused = !e.pause.IsOpen(e.now())
	summary.PauseReason = e.pause.Reason
	e.lastCycle = start
	e.mu.Unlock()
	summary.Duration = e.now().Sub(start)

	e.report(ctx, *summary)
	return summary, nil
}

// Run executes RunOnce every interval until ctx is cancelled. A cycle in
// flight always completes; shutdown is honored between cycles only.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	slog.Info("engine: loop started", "pair", e.cfg.Pair.Symbol, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cycle := 0
	for {
		cycle++
		e.runCycle(context.WithoutCancel(ctx), cycle)

		select {
		case <-ctx.Done():
			slog.Info("engine: loop stopped", "pair", e.cfg.Pair.Symbol, "cycles", cycle)
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) runCycle(ctx context.Context, cycle int) {
	summary, err := e.RunOnce(ctx)
	if err != nil {
		slog.Error("engine: cycle failed", "pair", e.cfg.Pair.Symbol, "cycle", cycle, "kind", domain.KindOf(err), "err", err)
		return
	}
	slog.Info("engine: cycle complete",
		"pair", summary.Pair,
		"cycle", cycle,
		"price", summary.Price,
		"fills", summary.NewFills,
		"placed", summary.Placed,
		"cancelled", summary.Cancelled,
		"holdings", fmt.Sprintf("%.8f", summary.Holdings),
		"realized", fmt.Sprintf("%.4f", summary.RealizedProfit),
		"paused", summary.Paused,
		"took", summary.Duration.Round(time.Millisecond),
	)
}

func (e *Engine) classify(ctx context.Context, summary *domain.CycleSummary) domain.Assessment {
	candles, err := retryValue(ctx, e, "FetchCandles", func() ([]domain.Candle, error) {
		return e.deps.Market.FetchCandles(ctx, e.cfg.Pair, e.cfg.CandleInterval, e.cfg.CandleLimit)
	})
	if err != nil {
		e.mu.RLock()
		prev := e.assessment
		e.mu.RUnlock()
		slog.Warn("engine: candles unavailable, keeping previous assessment", "pair", e.cfg.Pair.Symbol, "err", err)
		summary.Warnings = append(summary.Warnings, "candles unavailable")
		if prev.Volatility == "" {
			return grid.Classify(nil)
		}
		return prev
	}
	return grid.Classify(candles)
}

func (e *Engine) riskLevel(ctx context.Context, now time.Time, summary *domain.CycleSummary) domain.RiskLevel {
	if e.deps.Risk == nil {
		return domain.RiskLevel{}
	}
	lvl, err := e.deps.Risk.RiskLevel(ctx, now)
	if err != nil {
		slog.Warn("engine: risk level unavailable, assuming normal", "pair", e.cfg.Pair.Symbol, "err", err)
		summary.Warnings = append(summary.Warnings, "risk level unavailable")
		return domain.RiskLevel{}
	}
	return lvl
}

// checkDrift compares ledger holdings with the exchange balance and pauses
// placement on mismatch. It never corrects the ledger. A fill landing between
// FetchTrades and FetchBalance looks like drift, so a mismatch is re-checked
// once after catching up on fills before pausing.
func (e *Engine) checkDrift(ctx context.Context, summary *domain.CycleSummary) error {
	balance, ok, err := e.compareBalance(ctx, summary)
	if err != nil || ok {
		return err
	}

	slog.Debug("engine: holdings differ from balance, catching up on fills",
		"pair", e.cfg.Pair.Symbol,
		"balance", fmt.Sprintf("%.8f", balance),
	)
	if err := e.ingestFills(ctx, summary); err != nil {
		return err
	}
	balance, ok, err = e.compareBalance(ctx, summary)
	if err != nil || ok {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	holdings := e.ledger.Holdings()
	drift := &domain.DriftError{
		Ledger:    holdings,
		Balance:   balance,
		Tolerance: e.cfg.DriftTolerance,
	}
	if !e.pause.Paused || e.pause.Reason != domain.PauseLedgerDrift {
		slog.Warn("engine: ledger drift detected, pausing order placement",
			"pair", e.cfg.Pair.Symbol,
			"ledger", fmt.Sprintf("%.8f", holdings),
			"balance", fmt.Sprintf("%.8f", balance),
		)
	}
	e.pause.Trip(domain.PauseLedgerDrift, drift.Error(), e.now())
	summary.Warnings = append(summary.Warnings, "LEDGER_DRIFT: "+drift.Error())
	return nil
}

// compareBalance fetches the base balance and reports whether the ledger
// holdings are within tolerance of it.
func (e *Engine) compareBalance(ctx context.Context, summary *domain.CycleSummary) (float64, bool, error) {
	balance, err := retryValue(ctx, e, "FetchBalance", func() (float64, error) {
		return e.deps.Exchange.FetchBalance(ctx, e.cfg.Pair.Base)
	})
	if err != nil {
		return 0, false, fmt.Errorf("balance: %w", err)
	}
	summary.Balance = balance

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastBalance = balance
	ok := reconcile.WithinTolerance(e.ledger.Holdings(), balance, e.cfg.DriftTolerance, e.cfg.DriftAbsTolerance)
	return balance, ok, nil
}

// persist writes the full state. Caller holds cycleMu.
func (e *Engine) persist(ctx context.Context) error {
	e.mu.RLock()
	st := domain.EngineState{
		Version:    domain.StateVersion,
		Pair:       e.cfg.Pair,
		Ledger:     e.ledger.Snapshot(),
		OpenOrders: append([]domain.OpenOrder(nil), e.orders...),
		GridSpec:   e.spec,
		Pause:      e.pause,
		SavedAt:    e.now().UTC(),
	}
	e.mu.RUnlock()

	if err := e.deps.Snapshots.Save(ctx, st); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func (e *Engine) report(ctx context.Context, summary domain.CycleSummary) {
	if e.deps.Audit != nil {
		if err := e.deps.Audit.SaveCycle(ctx, summary); err != nil {
			slog.Warn("engine: error saving cycle", "pair", summary.Pair, "err", err)
		}
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveCycle(summary)
	}
	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.NotifyCycle(ctx, summary); err != nil {
			slog.Warn("engine: notifier error", "pair", summary.Pair, "err", err)
		}
	}
}
