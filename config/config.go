package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Pairs     []PairConfig    `yaml:"pairs"`
	Engine    EngineConfig    `yaml:"engine"`
	Matching  MatchingConfig  `yaml:"matching"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Paper     PaperConfig     `yaml:"paper"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Storage   StorageConfig   `yaml:"storage"`
	HTTP      HTTPConfig      `yaml:"http"`
	Risk      RiskConfig      `yaml:"risk"`
	Log       LogConfig       `yaml:"log"`
}

// PairConfig describe un par y los filtros del exchange que aplican.
type PairConfig struct {
	Symbol      string  `yaml:"symbol"`
	Base        string  `yaml:"base"`
	Quote       string  `yaml:"quote"`
	Capital     float64 `yaml:"capital"`      // quote asignado al grid
	TickSize    float64 `yaml:"tick_size"`    // precio mínimo de incremento
	StepSize    float64 `yaml:"step_size"`    // cantidad mínima de incremento
	MinNotional float64 `yaml:"min_notional"` // notional mínimo por orden
}

// EngineConfig controla el loop de cada par.
type EngineConfig struct {
	IntervalSeconds   int                `yaml:"interval_seconds"`
	CandleInterval    string             `yaml:"candle_interval"`
	CandleLimit       int                `yaml:"candle_limit"`
	FeeRate           float64            `yaml:"fee_rate"`       // taker fee, para decidir si el grid cubre comisiones
	OrderDelayMs      int                `yaml:"order_delay_ms"` // pausa entre órdenes consecutivas
	MaxRetries        int                `yaml:"max_retries"`
	RetryBaseMs       int                `yaml:"retry_base_ms"`
	DriftTolerance    float64            `yaml:"drift_tolerance"`     // relativa al balance
	DriftAbsTolerance float64            `yaml:"drift_abs_tolerance"` // piso absoluto
	FeeRates          map[string]float64 `yaml:"fee_rates"` // asset → precio en quote, p.ej. BNB: 600
	MaxFatalStreak    int                `yaml:"max_fatal_streak"`
	FatalCooldownSecs int                `yaml:"fatal_cooldown_seconds"`
}

// MatchingConfig son los pesos y umbrales de spread-match.
type MatchingConfig struct {
	PriceWeight    float64 `yaml:"price_weight"`
	QuantityWeight float64 `yaml:"quantity_weight"`
	ExactThreshold float64 `yaml:"exact_threshold"`
	CloseThreshold float64 `yaml:"close_threshold"`
	Epsilon        float64 `yaml:"epsilon"`
	DefaultSpacing float64 `yaml:"default_spacing"`
}

// ReconcileConfig fija el orden de corrección en ambas direcciones.
type ReconcileConfig struct {
	ShortfallOrder string `yaml:"shortfall_order"` // newest_first | oldest_first
	ExcessOrder    string `yaml:"excess_order"`    // newest_first | oldest_first
}

// ExchangeConfig selecciona y configura el exchange.
type ExchangeConfig struct {
	Mode      string `yaml:"mode"` // paper | binance
	APIKey    string `yaml:"api_key"`
	Secret    string `yaml:"secret"`
	Testnet   bool   `yaml:"testnet"`
	RateLimit int    `yaml:"rate_limit"` // requests por segundo
}

// PaperConfig son los balances iniciales del exchange simulado.
type PaperConfig struct {
	QuoteBalance float64 `yaml:"quote_balance"`
	BaseBalance  float64 `yaml:"base_balance"`
	FeeRate      float64 `yaml:"fee_rate"`
	StartPrice   float64 `yaml:"start_price"`
}

// SnapshotConfig controla dónde se guarda el estado de cada par.
type SnapshotConfig struct {
	Dir        string `yaml:"dir"`
	MaxBackups int    `yaml:"max_backups"`
}

// StorageConfig controla dónde se persiste el journal.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// HTTPConfig controla la API de consulta. Addr vacío la desactiva.
type HTTPConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins"` // CORS para dashboards; vacío = sin CORS
}

// RiskConfig es el calendario de eventos macro.
type RiskConfig struct {
	Windows []RiskWindow `yaml:"windows"`
}

// RiskWindow aplica un nivel de defensa entre Start y End.
type RiskWindow struct {
	Name         string    `yaml:"name"`
	Start        time.Time `yaml:"start"`
	End          time.Time `yaml:"end"`
	DefenseLevel int       `yaml:"defense_level"`
	ScoreBias    float64   `yaml:"score_bias"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse decodifica YAML, aplica overrides de entorno y defaults y valida.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rechaza configuraciones con las que el engine no puede arrancar.
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config: no pairs configured")
	}
	seen := make(map[string]bool)
	for _, p := range c.Pairs {
		if p.Symbol == "" || p.Base == "" || p.Quote == "" {
			return fmt.Errorf("config: pair %q needs symbol, base and quote", p.Symbol)
		}
		if seen[p.Symbol] {
			return fmt.Errorf("config: pair %s configured twice", p.Symbol)
		}
		seen[p.Symbol] = true
		if p.Capital <= 0 {
			return fmt.Errorf("config: pair %s: capital must be positive", p.Symbol)
		}
	}
	for _, o := range []string{c.Reconcile.ShortfallOrder, c.Reconcile.ExcessOrder} {
		if o != "newest_first" && o != "oldest_first" {
			return fmt.Errorf("config: reconcile order %q (want newest_first or oldest_first)", o)
		}
	}
	switch c.Exchange.Mode {
	case "paper":
	case "binance":
		if c.Exchange.APIKey == "" || c.Exchange.Secret == "" {
			return fmt.Errorf("config: binance mode needs BINANCE_API_KEY and BINANCE_SECRET")
		}
	default:
		return fmt.Errorf("config: exchange mode %q (want paper or binance)", c.Exchange.Mode)
	}
	return nil
}

// Interval devuelve el intervalo del loop como time.Duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Engine.IntervalSeconds) * time.Second
}

// OrderDelay devuelve la pausa entre órdenes consecutivas.
func (c *Config) OrderDelay() time.Duration {
	return time.Duration(c.Engine.OrderDelayMs) * time.Millisecond
}

// RetryBase devuelve el delay del primer reintento.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Engine.RetryBaseMs) * time.Millisecond
}

// FatalCooldown devuelve la pausa tras una racha de errores fatales.
func (c *Config) FatalCooldown() time.Duration {
	return time.Duration(c.Engine.FatalCooldownSecs) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET"); v != "" {
		cfg.Exchange.Secret = v
	}
	if v := os.Getenv("GRIDBOT_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	for i := range cfg.Pairs {
		p := &cfg.Pairs[i]
		p.Symbol = strings.ToUpper(p.Symbol)
		if p.MinNotional <= 0 {
			p.MinNotional = 5
		}
	}

	e := &cfg.Engine
	if e.IntervalSeconds <= 0 {
		e.IntervalSeconds = 30
	}
	if e.CandleInterval == "" {
		e.CandleInterval = "1h"
	}
	if e.CandleLimit <= 0 {
		e.CandleLimit = 250
	}
	if e.FeeRate <= 0 {
		e.FeeRate = 0.001
	}
	if e.OrderDelayMs <= 0 {
		e.OrderDelayMs = 150
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = 4
	}
	if e.RetryBaseMs <= 0 {
		e.RetryBaseMs = 500
	}
	if e.DriftTolerance <= 0 {
		e.DriftTolerance = 1e-8
	}
	if e.DriftAbsTolerance <= 0 {
		e.DriftAbsTolerance = 1e-8
	}
	if e.MaxFatalStreak <= 0 {
		e.MaxFatalStreak = 5
	}
	if e.FatalCooldownSecs <= 0 {
		e.FatalCooldownSecs = 300
	}

	if cfg.Reconcile.ShortfallOrder == "" {
		cfg.Reconcile.ShortfallOrder = "newest_first"
	}
	if cfg.Reconcile.ExcessOrder == "" {
		cfg.Reconcile.ExcessOrder = "oldest_first"
	}

	if cfg.Exchange.Mode == "" {
		cfg.Exchange.Mode = "paper"
	}
	if cfg.Exchange.RateLimit <= 0 {
		cfg.Exchange.RateLimit = 10
	}
	if cfg.Paper.QuoteBalance <= 0 {
		cfg.Paper.QuoteBalance = 1000
	}
	if cfg.Paper.FeeRate <= 0 {
		cfg.Paper.FeeRate = 0.001
	}

	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = "data"
	}
	if cfg.Snapshot.MaxBackups <= 0 {
		cfg.Snapshot.MaxBackups = 20
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "gridbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
