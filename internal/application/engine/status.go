package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Status is the operator view of one engine.
type Status struct {
	Pair           string            `json:"pair"`
	Paused         bool              `json:"paused"`
	PauseReason    string            `json:"pauseReason,omitempty"`
	PauseDetail    string            `json:"pauseDetail,omitempty"`
	PausedSince    time.Time         `json:"pausedSince,omitempty"`
	CooldownUntil  time.Time         `json:"cooldownUntil,omitempty"`
	LastCycle      time.Time         `json:"lastCycle"`
	Price          float64           `json:"price"`
	Balance        float64           `json:"balance"`
	Holdings       float64           `json:"holdings"`
	AverageCost    float64           `json:"averageCost"`
	RealizedProfit float64           `json:"realizedProfit"`
	Unrealized     float64           `json:"unrealized"`
	OpenOrders     int               `json:"openOrders"`
	Assessment     domain.Assessment `json:"assessment"`
}

// LedgerSnapshot returns a read-only copy of the ledger state.
func (e *Engine) LedgerSnapshot() domain.LedgerSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Snapshot()
}

// GridSpec returns the grid spec currently in force.
func (e *Engine) GridSpec() domain.GridSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.spec
}

// OpenOrders returns the engine's view of its resting orders.
func (e *Engine) OpenOrders() []domain.OpenOrder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.OpenOrder(nil), e.orders...)
}

// Status summarizes the engine for operators. Paused is true while
// placement is blocked, including a fatal-error cooldown.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		Pair:           e.cfg.Pair.Symbol,
		Paused:         !e.pause.IsOpen(e.now()),
		PauseReason:    e.pause.Reason,
		PauseDetail:    e.pause.Detail,
		PausedSince:    e.pause.Since,
		CooldownUntil:  e.pause.CooldownUntil,
		LastCycle:      e.lastCycle,
		Price:          e.lastPrice,
		Balance:        e.lastBalance,
		Holdings:       e.ledger.Holdings(),
		AverageCost:    e.ledger.AverageCost(),
		RealizedProfit: e.ledger.RealizedProfit(),
		Unrealized:     e.ledger.UnrealizedPnL(e.lastPrice),
		OpenOrders:     len(e.orders),
		Assessment:     e.assessment,
	}
}

// Registry resolves engines by pair symbol.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Register adds an engine; a pair can only be registered once.
func (r *Registry) Register(e *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sym := e.Pair().Symbol
	if _, ok := r.engines[sym]; ok {
		return fmt.Errorf("engine.Registry: pair %s already registered", sym)
	}
	r.engines[sym] = e
	return nil
}

// Get returns the engine for symbol.
func (r *Registry) Get(symbol string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[symbol]
	return e, ok
}

// Pairs returns the registered symbols, sorted.
func (r *Registry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for sym := range r.engines {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// All returns the registered engines sorted by pair.
func (r *Registry) All() []*Engine {
	pairs := r.Pairs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Engine, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, r.engines[p])
	}
	return out
}
