package infra

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"qrl_trader/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent with every REST request
	DefaultUserAgent = "qrl-trader/1.0"

	// fastTTLCeiling bounds the TTL of live data (ticker, order book).
	fastTTLCeiling = 10 * time.Second

	// historicalTTLFactor is how much longer closed-candle data must live than live data.
	historicalTTLFactor = 10
)

var cacheTokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config holds every setting of the trader. It is loaded once by LoadConfig
// and never modified afterwards; components receive it through their constructors.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading TradingConfig `yaml:"trading"`

	API struct {
		RestURL           string        `yaml:"rest_url"`
		WSURL             string        `yaml:"ws_url"`
		AccessKey         string        `yaml:"access_key"`
		SecretKey         string        `yaml:"secret_key"`
		Subaccount        string        `yaml:"subaccount"`
		RecvWindow        time.Duration `yaml:"recv_window"`
		RequestTimeout    time.Duration `yaml:"request_timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
		Retry             RetryPolicy   `yaml:"retry"`
	} `yaml:"api"`

	Cache CacheConfig `yaml:"cache"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Stream struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"stream"`

	Metrics struct {
		PushgatewayURL string `yaml:"pushgateway_url"`
		Job            string `yaml:"job"`
	} `yaml:"metrics"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// TradingConfig holds order sizing and risk limits.
type TradingConfig struct {
	Symbols              []string                   `yaml:"symbols"`
	Timeframe            string                     `yaml:"timeframe"`
	CandleLimit          int                        `yaml:"candle_limit"`
	BaseOrderQuote       decimal.Decimal            `yaml:"base_order_quote"`
	MinOrderQuote        decimal.Decimal            `yaml:"min_order_quote"`
	MaxOrderQuote        decimal.Decimal            `yaml:"max_order_quote"`
	MaxPositionQuote     decimal.Decimal            `yaml:"max_position_quote"`
	MaxPositionOverrides map[string]decimal.Decimal `yaml:"max_position_overrides"`
	PriceOffset          decimal.Decimal            `yaml:"price_offset"`
	PricePrecision       int32                      `yaml:"price_precision"`
	QuantityPrecision    int32                      `yaml:"quantity_precision"`
	MaxDailyOrders       int                        `yaml:"max_daily_orders"`
	Cooldown             time.Duration              `yaml:"cooldown"`
	Strategy             StrategyConfig             `yaml:"strategy"`
}

// StrategyConfig selects and tunes the signal function.
type StrategyConfig struct {
	Name             string          `yaml:"name"`
	ShortPeriod      int             `yaml:"short_period"`
	LongPeriod       int             `yaml:"long_period"`
	SupportThreshold decimal.Decimal `yaml:"support_threshold"`
}

// MaxPositionFor returns the position limit of a symbol, honouring overrides.
func (t TradingConfig) MaxPositionFor(symbol string) decimal.Decimal {
	if v, ok := t.MaxPositionOverrides[symbol]; ok {
		return v
	}
	return t.MaxPositionQuote
}

// RetryPolicy bounds the retry loop for read operations.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CacheConfig configures the cache-aside store.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Backend     string        `yaml:"backend"` // "redis" or "memory"
	RedisURL    string        `yaml:"redis_url"`
	Namespace   string        `yaml:"namespace"`
	Version     string        `yaml:"version"`
	OpTimeout   time.Duration `yaml:"op_timeout"`
	MaxEntries  int           `yaml:"max_entries"`
	MaxMemoryMB int           `yaml:"max_memory_mb"`
	TTL         CacheTTLs     `yaml:"ttl"`
}

// CacheTTLs is the per-data-type freshness budget. Live data gets seconds,
// closed candles get roughly their own interval.
type CacheTTLs struct {
	Ticker       time.Duration `yaml:"ticker"`
	OrderBook    time.Duration `yaml:"order_book"`
	RecentTrades time.Duration `yaml:"recent_trades"`
	Balance      time.Duration `yaml:"balance"`
	Candles      time.Duration `yaml:"candles"`
}

// Validate enforces the volatility ordering of TTLs.
func (t CacheTTLs) Validate() error {
	if t.Ticker <= 0 || t.Ticker >= fastTTLCeiling {
		return &domain.ConfigError{Field: "cache.ttl.ticker", Err: fmt.Errorf("must be in (0, %s), got %s", fastTTLCeiling, t.Ticker)}
	}
	if t.OrderBook <= 0 || t.OrderBook >= fastTTLCeiling {
		return &domain.ConfigError{Field: "cache.ttl.order_book", Err: fmt.Errorf("must be in (0, %s), got %s", fastTTLCeiling, t.OrderBook)}
	}
	live := max(t.Ticker, t.OrderBook)
	if t.Candles < historicalTTLFactor*live {
		return &domain.ConfigError{Field: "cache.ttl.candles", Err: fmt.Errorf("must be at least %dx the live data TTL (%s), got %s", historicalTTLFactor, live, t.Candles)}
	}
	if t.RecentTrades < t.Ticker || t.RecentTrades > t.Candles {
		return &domain.ConfigError{Field: "cache.ttl.recent_trades", Err: fmt.Errorf("must be between %s and %s, got %s", t.Ticker, t.Candles, t.RecentTrades)}
	}
	if t.Balance < t.Ticker || t.Balance > t.Candles {
		return &domain.ConfigError{Field: "cache.ttl.balance", Err: fmt.Errorf("must be between %s and %s, got %s", t.Ticker, t.Candles, t.Balance)}
	}
	return nil
}

// DefaultConfig returns the settings used when a key is absent from the file.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "qrl-trader"
	cfg.App.Version = "dev"

	cfg.Trading.Symbols = []string{"QRL/USDT"}
	cfg.Trading.Timeframe = "1d"
	cfg.Trading.CandleLimit = 120
	cfg.Trading.BaseOrderQuote = decimal.NewFromInt(50)
	cfg.Trading.MinOrderQuote = decimal.NewFromInt(5)
	cfg.Trading.MaxOrderQuote = decimal.NewFromInt(100)
	cfg.Trading.MaxPositionQuote = decimal.NewFromInt(500)
	cfg.Trading.PriceOffset = decimal.RequireFromString("0.98")
	cfg.Trading.PricePrecision = 6
	cfg.Trading.QuantityPrecision = 2
	cfg.Trading.MaxDailyOrders = 10
	cfg.Trading.Strategy = StrategyConfig{
		Name:             "ema_accumulation",
		ShortPeriod:      20,
		LongPeriod:       60,
		SupportThreshold: decimal.RequireFromString("1.02"),
	}

	cfg.API.RestURL = "https://api.mexc.com"
	cfg.API.WSURL = "wss://wbs.mexc.com/ws"
	cfg.API.RecvWindow = 5 * time.Second
	cfg.API.RequestTimeout = 10 * time.Second
	cfg.API.RequestsPerSecond = 10
	cfg.API.Burst = 5
	cfg.API.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}

	cfg.Cache = CacheConfig{
		Enabled:    true,
		Backend:    "redis",
		RedisURL:   "redis://localhost:6379/0",
		Namespace:  "qrl",
		Version:    "v1",
		OpTimeout:  500 * time.Millisecond,
		MaxEntries: 10000,
		TTL: CacheTTLs{
			Ticker:       5 * time.Second,
			OrderBook:    5 * time.Second,
			RecentTrades: 10 * time.Second,
			Balance:      30 * time.Second,
			Candles:      24 * time.Hour,
		},
	}

	cfg.Storage.Path = "data/state.db"
	cfg.Metrics.Job = "qrl_trader"

	cfg.Logging.Level = "info"
	cfg.Logging.File = "logs/trading.log"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	cfg.Logging.Compress = true
	return &cfg
}

// LoadConfig reads the YAML file on top of DefaultConfig, applies .env and
// environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes raw YAML; LoadConfig without the file read.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	_ = godotenv.Load() // best-effort: secrets usually live in .env
	overrideWithEnv(cfg)

	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) normalize() error {
	for i, s := range c.Trading.Symbols {
		sym, err := domain.NormalizeSymbol(s)
		if err != nil {
			return &domain.ConfigError{Field: "trading.symbols", Err: err}
		}
		c.Trading.Symbols[i] = sym
	}
	if len(c.Trading.MaxPositionOverrides) > 0 {
		normalized := make(map[string]decimal.Decimal, len(c.Trading.MaxPositionOverrides))
		for s, v := range c.Trading.MaxPositionOverrides {
			sym, err := domain.NormalizeSymbol(s)
			if err != nil {
				return &domain.ConfigError{Field: "trading.max_position_overrides", Err: err}
			}
			normalized[sym] = v
		}
		c.Trading.MaxPositionOverrides = normalized
	}
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	return nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	t := c.Trading
	if len(t.Symbols) == 0 {
		return &domain.ConfigError{Field: "trading.symbols", Err: errors.New("at least one symbol is required")}
	}
	if _, err := domain.TimeframeDuration(t.Timeframe); err != nil {
		return &domain.ConfigError{Field: "trading.timeframe", Err: err}
	}
	if t.CandleLimit <= 0 || t.CandleLimit > 1000 {
		return &domain.ConfigError{Field: "trading.candle_limit", Err: fmt.Errorf("must be in [1, 1000], got %d", t.CandleLimit)}
	}
	if !t.BaseOrderQuote.IsPositive() {
		return &domain.ConfigError{Field: "trading.base_order_quote", Err: errors.New("must be positive")}
	}
	if t.MinOrderQuote.IsNegative() || t.MaxOrderQuote.LessThan(t.MinOrderQuote) {
		return &domain.ConfigError{Field: "trading.max_order_quote", Err: fmt.Errorf("order bounds [%s, %s] are inverted", t.MinOrderQuote, t.MaxOrderQuote)}
	}
	if t.MaxPositionQuote.LessThan(t.BaseOrderQuote) {
		return &domain.ConfigError{Field: "trading.max_position_quote", Err: errors.New("must be >= base_order_quote")}
	}
	for sym, v := range t.MaxPositionOverrides {
		if v.IsNegative() {
			return &domain.ConfigError{Field: "trading.max_position_overrides", Err: fmt.Errorf("%s: must not be negative", sym)}
		}
	}
	if !t.PriceOffset.IsPositive() || t.PriceOffset.GreaterThan(decimal.NewFromInt(1)) {
		return &domain.ConfigError{Field: "trading.price_offset", Err: fmt.Errorf("must be in (0, 1], got %s", t.PriceOffset)}
	}
	if t.PricePrecision < 0 || t.QuantityPrecision < 0 {
		return &domain.ConfigError{Field: "trading.precision", Err: errors.New("must not be negative")}
	}
	if t.MaxDailyOrders < 0 || t.Cooldown < 0 {
		return &domain.ConfigError{Field: "trading.max_daily_orders", Err: errors.New("limits must not be negative")}
	}

	if !hasPrefix(c.API.RestURL, "http://") && !hasPrefix(c.API.RestURL, "https://") {
		return &domain.ConfigError{Field: "api.rest_url", Err: fmt.Errorf("invalid REST URL: %s", c.API.RestURL)}
	}
	if c.Stream.Enabled && !hasPrefix(c.API.WSURL, "ws://") && !hasPrefix(c.API.WSURL, "wss://") {
		return &domain.ConfigError{Field: "api.ws_url", Err: fmt.Errorf("invalid WS URL: %s", c.API.WSURL)}
	}
	if c.API.RequestTimeout <= 0 {
		return &domain.ConfigError{Field: "api.request_timeout", Err: errors.New("must be positive")}
	}
	if c.API.RequestsPerSecond <= 0 || c.API.Burst <= 0 {
		return &domain.ConfigError{Field: "api.requests_per_second", Err: errors.New("request budget must be positive")}
	}
	if r := c.API.Retry; r.MaxAttempts < 1 || r.BaseDelay <= 0 || r.MaxDelay < r.BaseDelay {
		return &domain.ConfigError{Field: "api.retry", Err: fmt.Errorf("invalid retry policy %+v", r)}
	}

	if !cacheTokenRe.MatchString(c.Cache.Namespace) {
		return &domain.ConfigError{Field: "cache.namespace", Err: fmt.Errorf("must match %s, got %q", cacheTokenRe, c.Cache.Namespace)}
	}
	if !cacheTokenRe.MatchString(c.Cache.Version) {
		return &domain.ConfigError{Field: "cache.version", Err: fmt.Errorf("must match %s, got %q", cacheTokenRe, c.Cache.Version)}
	}
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "redis":
			if !hasPrefix(c.Cache.RedisURL, "redis://") && !hasPrefix(c.Cache.RedisURL, "rediss://") {
				return &domain.ConfigError{Field: "cache.redis_url", Err: errors.New("must start with redis:// or rediss://")}
			}
		case "memory":
			if c.Cache.MaxEntries <= 0 {
				return &domain.ConfigError{Field: "cache.max_entries", Err: errors.New("must be positive for the memory backend")}
			}
		default:
			return &domain.ConfigError{Field: "cache.backend", Err: fmt.Errorf("unknown backend %q", c.Cache.Backend)}
		}
		if c.Cache.OpTimeout <= 0 {
			return &domain.ConfigError{Field: "cache.op_timeout", Err: errors.New("must be positive")}
		}
	}
	if err := c.Cache.TTL.Validate(); err != nil {
		return err
	}

	if c.Storage.Path == "" {
		return &domain.ConfigError{Field: "storage.path", Err: errors.New("must not be empty")}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces file values with environment variables when present.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("MEXC_API_KEY"); key != "" {
		cfg.API.AccessKey = key
	}
	if secret := os.Getenv("MEXC_API_SECRET"); secret != "" {
		cfg.API.SecretKey = secret
	}
	if sub := os.Getenv("MEXC_SUBACCOUNT"); sub != "" {
		cfg.API.Subaccount = sub
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Cache.RedisURL = url
	}
	if ns := os.Getenv("REDIS_NAMESPACE"); ns != "" {
		cfg.Cache.Namespace = ns
	}
	if symbols := os.Getenv("TRADER_SYMBOLS"); symbols != "" {
		cfg.Trading.Symbols = strings.Split(symbols, ",")
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
}
