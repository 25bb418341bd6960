package config

import (
	"time"

	"golang-leverage-trader/pkg/config"
)

// Trading holds cycle and position-sizing configuration.
type Trading struct {
	DefaultSymbol   string  `mapstructure:"default_symbol"`
	BalanceFraction float64 `mapstructure:"balance_fraction"`
	MinNotional     float64 `mapstructure:"min_notional"`
	Recurring       bool    `mapstructure:"recurring"`
	CycleCron       string  `mapstructure:"cycle_cron"`
}

// Risk holds admission-control limits.
type Risk struct {
	MaxLeverage            float64  `mapstructure:"max_leverage"`
	MaxPositionNotional    float64  `mapstructure:"max_position_notional"`
	MaxConcurrentPositions int      `mapstructure:"max_concurrent_positions"`
	DailyLossLimitPct      float64  `mapstructure:"daily_loss_limit_pct"`
	AllowedSymbols         []string `mapstructure:"allowed_symbols"`
}

// Monitor holds position-monitor configuration.
type Monitor struct {
	ReconcileInterval      time.Duration `mapstructure:"reconcile_interval"`
	TrailingActivationPct  float64       `mapstructure:"trailing_activation_pct"`
	TrailingDistancePct    float64       `mapstructure:"trailing_distance_pct"`
	TickBufferSize         int           `mapstructure:"tick_buffer_size"`
}

// Gemini holds the configuration for the Gemini API.
type Gemini struct {
	APIKey              string `mapstructure:"api_key"`
	Model               string `mapstructure:"model"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute"`
	MaxTokenPerMinute   int    `mapstructure:"max_token_per_minute"`
}

// Exchange holds the configuration for the futures exchange gateway.
type Exchange struct {
	BaseURL      string        `mapstructure:"base_url"`
	WSBaseURL    string        `mapstructure:"ws_base_url"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SnapshotTTL  time.Duration `mapstructure:"snapshot_ttl"`
	MaxReqPerMin int           `mapstructure:"max_request_per_minute"`
}

// Telegram holds configuration for the Telegram notifier.
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Config holds the full configuration for the trader service.
type Config struct {
	App      config.App      `mapstructure:"app"`
	Logger   config.Logger   `mapstructure:"logger"`
	Database config.Database `mapstructure:"database"`
	Redis    config.Redis    `mapstructure:"redis"`
	API      config.API      `mapstructure:"api"`
	Trading  Trading         `mapstructure:"trading"`
	Risk     Risk            `mapstructure:"risk"`
	Monitor  Monitor         `mapstructure:"monitor"`
	Gemini   Gemini          `mapstructure:"gemini"`
	Exchange Exchange        `mapstructure:"exchange"`
	Telegram Telegram        `mapstructure:"telegram"`
}

// Load loads the trader configuration from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Monitor.ReconcileInterval == 0 {
		cfg.Monitor.ReconcileInterval = 5 * time.Second
	}
	if cfg.Monitor.TrailingActivationPct == 0 {
		cfg.Monitor.TrailingActivationPct = 5.0
	}
	if cfg.Monitor.TickBufferSize == 0 {
		cfg.Monitor.TickBufferSize = 100
	}
	if cfg.Trading.BalanceFraction == 0 {
		cfg.Trading.BalanceFraction = 0.1
	}
}
