package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Secrets come from the
// environment; everything else from the YAML file with sane defaults.
type Config struct {
	Quote         string   `yaml:"quote"`
	Instruments   []string `yaml:"instruments"` // static universe; empty enables the scanner
	UniverseSize  int      `yaml:"universe_size"`
	FeeRate       float64  `yaml:"fee_rate"`
	CycleSeconds  int      `yaml:"cycle_seconds"`
	CandleMinutes int      `yaml:"candle_minutes"`

	Risk       RiskConfig     `yaml:"risk"`
	Strategies StrategyConfig `yaml:"strategies"`
	HTTP       HTTPConfig     `yaml:"http"`
	Log        LogConfig      `yaml:"log"`
	Redis      RedisConfig    `yaml:"redis"`
	Stream     StreamConfig   `yaml:"stream"`

	// Secrets, environment only.
	AccessKey      string `yaml:"-"`
	SecretKey      string `yaml:"-"`
	TelegramToken  string `yaml:"-"`
	TelegramChatID string `yaml:"-"`
	PostgresDSN    string `yaml:"-"`
}

// RiskConfig mirrors the risk manager limits.
type RiskConfig struct {
	MaxPositionPct         float64 `yaml:"max_position_pct"`
	MaxTradeRiskPct        float64 `yaml:"max_trade_risk_pct"`
	DailyLossLimitPct      float64 `yaml:"daily_loss_limit_pct"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	MinOrderAmount         float64 `yaml:"min_order_amount"`
	MaxCorrelation         float64 `yaml:"max_correlation"`
	MaxTradesPerDay        int     `yaml:"max_trades_per_day"`
}

// StrategyConfig controls catalog construction.
type StrategyConfig struct {
	EnableAll bool `yaml:"enable_all"`
}

// HTTPConfig is the operational HTTP listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls output level and optional rotating file.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// StreamConfig is the optional websocket tick feed. Empty URL disables it.
type StreamConfig struct {
	URL              string `yaml:"url"`
	ReconnectSeconds int    `yaml:"reconnect_seconds"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_seconds"`
}

// RedisConfig is the optional scan cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Quote:         "KRW",
		UniverseSize:  5,
		FeeRate:       0.0005,
		CycleSeconds:  60,
		CandleMinutes: 60,
		Risk: RiskConfig{
			MaxPositionPct:         0.20,
			MaxTradeRiskPct:        0.02,
			DailyLossLimitPct:      0.05,
			MaxConcurrentPositions: 3,
			MinOrderAmount:         5000,
			MaxCorrelation:         0.7,
			MaxTradesPerDay:        20,
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8080"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file when path is
// non-empty, then environment overrides. A .env file is honored if present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.AccessKey = os.Getenv("UPBIT_ACCESS_KEY")
	cfg.SecretKey = os.Getenv("UPBIT_SECRET_KEY")
	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Log.File = file
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Redis.DB = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on out-of-range values rather than trading with them.
func (c Config) Validate() error {
	if c.Quote == "" {
		return fmt.Errorf("quote currency must be set")
	}
	if c.FeeRate < 0 || c.FeeRate >= 0.01 {
		return fmt.Errorf("fee_rate %.4f outside [0, 0.01)", c.FeeRate)
	}
	if c.CycleSeconds < 10 {
		return fmt.Errorf("cycle_seconds %d below 10", c.CycleSeconds)
	}
	if c.UniverseSize <= 0 || c.UniverseSize > 50 {
		return fmt.Errorf("universe_size %d outside (0, 50]", c.UniverseSize)
	}
	if c.CandleMinutes <= 0 {
		return fmt.Errorf("candle_minutes must be positive")
	}

	r := c.Risk
	if r.MaxPositionPct <= 0 || r.MaxPositionPct > 1 {
		return fmt.Errorf("max_position_pct %.3f outside (0, 1]", r.MaxPositionPct)
	}
	if r.MaxTradeRiskPct <= 0 || r.MaxTradeRiskPct > 0.1 {
		return fmt.Errorf("max_trade_risk_pct %.3f outside (0, 0.1]", r.MaxTradeRiskPct)
	}
	if r.DailyLossLimitPct <= 0 || r.DailyLossLimitPct > 0.5 {
		return fmt.Errorf("daily_loss_limit_pct %.3f outside (0, 0.5]", r.DailyLossLimitPct)
	}
	if r.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("max_concurrent_positions must be positive")
	}
	if r.MinOrderAmount < 0 {
		return fmt.Errorf("min_order_amount must not be negative")
	}
	if r.MaxCorrelation < 0 || r.MaxCorrelation > 1 {
		return fmt.Errorf("max_correlation %.2f outside [0, 1]", r.MaxCorrelation)
	}
	if r.MaxTradesPerDay < 0 {
		return fmt.Errorf("max_trades_per_day must not be negative")
	}
	if c.Stream.ReconnectSeconds < 0 || c.Stream.ReadTimeoutSecs < 0 {
		return fmt.Errorf("stream timings must not be negative")
	}
	return nil
}

// CycleInterval is the configured cycle period as a duration.
func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleSeconds) * time.Second
}

// Masked returns a copy safe for printing: secrets reduced to presence
// markers.
func (c Config) Masked() map[string]string {
	mask := func(s string) string {
		if s == "" {
			return "(unset)"
		}
		return "(set)"
	}
	return map[string]string{
		"upbit_access_key":   mask(c.AccessKey),
		"upbit_secret_key":   mask(c.SecretKey),
		"telegram_bot_token": mask(c.TelegramToken),
		"telegram_chat_id":   mask(c.TelegramChatID),
		"postgres_dsn":       mask(c.PostgresDSN),
		"redis_addr":         c.Redis.Addr,
	}
}
