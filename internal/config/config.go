package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"stock-alerts/internal/logging"
	"stock-alerts/internal/market"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Email     EmailConfig     `mapstructure:"email"`
	Watchlist []WatchConfig   `mapstructure:"watchlist"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the durable
// notification records. Optional: without a DSN the deduper is memory-only.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	StartupDelay         time.Duration `mapstructure:"startup_delay"`
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches"`
}

// ProvidersConfig groups the upstream price APIs.
type ProvidersConfig struct {
	AlphaVantage ProviderConfig `mapstructure:"alphavantage"`
	CoinGecko    ProviderConfig `mapstructure:"coingecko"`
}

// ProviderConfig covers one upstream price API including its free-tier
// quota.
type ProviderConfig struct {
	APIKey               string        `mapstructure:"api_key"`
	BaseURL              string        `mapstructure:"base_url"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute"`
	Burst                int           `mapstructure:"burst"`
}

// FetchConfig bounds retry behaviour for transient upstream failures.
type FetchConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// EmailConfig defines the outbound SMTP relay.
type EmailConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Sender        string        `mapstructure:"sender"`
	Password      string        `mapstructure:"password"`
	Recipient     string        `mapstructure:"recipient"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// WatchConfig declares one watched instrument and its alert rules.
type WatchConfig struct {
	Symbol   string       `mapstructure:"symbol"`
	Kind     string       `mapstructure:"kind"`
	Currency string       `mapstructure:"currency"`
	Rules    []RuleConfig `mapstructure:"rules"`
}

// RuleConfig declares one threshold rule.
type RuleConfig struct {
	Condition string        `mapstructure:"condition"`
	Threshold float64       `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindLegacyEnv(v)
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the environment variable names the original
// deployment scripts export.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("providers.alphavantage.api_key", "STOCKALERTS_PROVIDERS_ALPHAVANTAGE_API_KEY", "ALPHA_VANTAGE_API_KEY")
	_ = v.BindEnv("providers.coingecko.api_key", "STOCKALERTS_PROVIDERS_COINGECKO_API_KEY", "COIN_GECKO_API_KEY")
	_ = v.BindEnv("email.sender", "STOCKALERTS_EMAIL_SENDER", "SENDER_EMAIL")
	_ = v.BindEnv("email.password", "STOCKALERTS_EMAIL_PASSWORD", "SENDER_PASSWORD")
	_ = v.BindEnv("email.recipient", "STOCKALERTS_EMAIL_RECIPIENT", "RECIPIENT_EMAIL")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stockalerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.max_concurrent_fetches", 4)

	v.SetDefault("providers.alphavantage.base_url", "https://www.alphavantage.co")
	v.SetDefault("providers.alphavantage.request_timeout", "10s")
	v.SetDefault("providers.alphavantage.max_requests_per_minute", 5)
	v.SetDefault("providers.alphavantage.burst", 1)

	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.coingecko.request_timeout", "10s")
	v.SetDefault("providers.coingecko.max_requests_per_minute", 10)
	v.SetDefault("providers.coingecko.burst", 2)

	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.initial_backoff", "1s")
	v.SetDefault("fetch.max_backoff", "30s")

	v.SetDefault("email.host", "smtp.gmail.com")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.max_attempts", 3)
	v.SetDefault("email.retry_interval", "2s")

	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate is the fatal-startup-error gate: anything it rejects must stop
// the process before the polling loop starts.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.Watchlist) == 0 {
		return fmt.Errorf("watchlist must contain at least one instrument")
	}

	if c.Email.Host == "" {
		return fmt.Errorf("email.host is required")
	}
	if c.Email.Sender == "" {
		return fmt.Errorf("email.sender is required")
	}
	if c.Email.Password == "" {
		return fmt.Errorf("email.password is required")
	}
	if c.Email.Recipient == "" {
		return fmt.Errorf("email.recipient is required")
	}

	needsEquity := false
	needsCrypto := false
	for _, w := range c.Watchlist {
		if w.Symbol == "" {
			return fmt.Errorf("watchlist entry missing symbol")
		}
		kind, err := market.ParseKind(w.Kind)
		if err != nil {
			return fmt.Errorf("watchlist %s: %w", w.Symbol, err)
		}
		if len(w.Rules) == 0 {
			return fmt.Errorf("watchlist %s: at least one rule required", w.Symbol)
		}
		for _, r := range w.Rules {
			if _, err := market.ParseCondition(r.Condition); err != nil {
				return fmt.Errorf("watchlist %s: %w", w.Symbol, err)
			}
			if r.Threshold <= 0 {
				return fmt.Errorf("watchlist %s: rule threshold must be greater than zero", w.Symbol)
			}
			if r.Cooldown <= 0 {
				return fmt.Errorf("watchlist %s: rule cooldown must be greater than zero", w.Symbol)
			}
		}
		switch kind {
		case market.KindEquity:
			needsEquity = true
		case market.KindCrypto:
			needsCrypto = true
		}
	}

	if needsEquity && c.Providers.AlphaVantage.APIKey == "" {
		return fmt.Errorf("providers.alphavantage.api_key is required for equity instruments")
	}
	if needsCrypto && c.Providers.CoinGecko.APIKey == "" {
		return fmt.Errorf("providers.coingecko.api_key is required for crypto instruments")
	}

	return nil
}

// Watches converts the raw watchlist into domain values. Validate must
// have passed first.
func (c *Config) Watches() ([]market.Watch, error) {
	watches := make([]market.Watch, 0, len(c.Watchlist))
	for _, w := range c.Watchlist {
		kind, err := market.ParseKind(w.Kind)
		if err != nil {
			return nil, fmt.Errorf("watchlist %s: %w", w.Symbol, err)
		}
		currency := strings.ToUpper(w.Currency)
		if currency == "" {
			currency = "USD"
		}
		inst := market.Instrument{
			Symbol:   strings.ToUpper(w.Symbol),
			Kind:     kind,
			Currency: currency,
		}

		rules := make([]market.Rule, 0, len(w.Rules))
		for _, r := range w.Rules {
			cond, err := market.ParseCondition(r.Condition)
			if err != nil {
				return nil, fmt.Errorf("watchlist %s: %w", w.Symbol, err)
			}
			rules = append(rules, market.Rule{
				Instrument: inst,
				Condition:  cond,
				Threshold:  decimal.NewFromFloat(r.Threshold),
				Cooldown:   r.Cooldown,
			})
		}
		watches = append(watches, market.Watch{Instrument: inst, Rules: rules})
	}
	return watches, nil
}
