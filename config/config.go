// Package config loads the simulator configuration.
//
// Settings come from a YAML file (configs/simulator.yaml, or the path in
// SIM_CONFIG) and may be overridden per key by SIM_* environment
// variables, e.g. SIM_TRADING_STARTING_BALANCE. An optional .env file is
// loaded into the environment first.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"trading-simulator/internal/model"
	"trading-simulator/internal/store"
	"trading-simulator/internal/store/redis"
	"trading-simulator/internal/trading"
)

const (
	configPathENV = "SIM_CONFIG"
	envPrefix     = "SIM"
)

// Config holds all application configuration.
type Config struct {
	Service     string `mapstructure:"service"`
	LogLevel    string `mapstructure:"log_level"`
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	SymbolsFile string `mapstructure:"symbols_file"`

	Market  MarketConfig      `mapstructure:"market"`
	Gateway GatewayConfig     `mapstructure:"gateway"`
	Trading trading.Config    `mapstructure:"trading"`
	Store   store.Config      `mapstructure:"store"`
	Retry   store.RetryConfig `mapstructure:"retry"`
	Breaker BreakerConfig     `mapstructure:"breaker"`
	Redis   RedisConfig       `mapstructure:"redis"`
	Alerts  AlertsConfig      `mapstructure:"alerts"`

	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// MarketConfig configures the price generator and candle aggregator.
type MarketConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	Seed          int64         `mapstructure:"seed"` // 0 seeds from the clock
	Granularities []string      `mapstructure:"granularities"`
	History       int           `mapstructure:"history"` // frozen candles kept per series
}

// GatewayConfig configures the WebSocket broadcaster.
type GatewayConfig struct {
	OutboxCapacity int `mapstructure:"outbox_capacity"`
}

// BreakerConfig configures the circuit breakers guarding the store and
// Redis.
type BreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// RedisConfig enables the Redis stats cache and price publisher.
type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	StatsTTL      time.Duration `mapstructure:"stats_ttl"`
	PublishBuffer int           `mapstructure:"publish_buffer"`
	redis.Config  `mapstructure:",squash"`
}

// AlertsConfig configures ops alerting.
type AlertsConfig struct {
	WebhookURL string `mapstructure:"webhook_url"` // empty logs alerts only
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "trading-simulator")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("symbols_file", "configs/symbols.yaml")
	v.SetDefault("health_interval", "15s")

	v.SetDefault("market.tick_interval", "250ms")
	v.SetDefault("market.seed", 0)
	v.SetDefault("market.granularities", []string{"1m", "5m", "15m", "1h"})
	v.SetDefault("market.history", 500)

	v.SetDefault("gateway.outbox_capacity", 256)

	// Rule limits default to zero, which disables them.
	v.SetDefault("trading.starting_balance", 10000.0)
	v.SetDefault("trading.currency", "USD")
	v.SetDefault("trading.rules.max_open_trades", 0)
	v.SetDefault("trading.rules.max_trades_per_day", 0)
	v.SetDefault("trading.rules.max_daily_loss_pct", 0.0)
	v.SetDefault("trading.force_close_on_daily_loss", false)
	v.SetDefault("trading.store_timeout", "5s")

	v.SetDefault("store.driver", store.DriverMemory)
	v.SetDefault("store.sqlite.path", "data/simulator.db")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.database", "simulator")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.dsn", "")

	v.SetDefault("retry.interval", "1s")
	v.SetDefault("retry.max_backoff", "1m")
	v.SetDefault("retry.alert_after", 5)

	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.reset_timeout", "10s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stats_ttl", "30s")
	v.SetDefault("redis.publish_buffer", 4096)

	v.SetDefault("alerts.webhook_url", "")
}

// Path returns the config file named by SIM_CONFIG, or "".
func Path() string {
	return os.Getenv(configPathENV)
}

// Load reads the configuration. An empty path searches configs/ and the
// working directory for simulator.yaml and falls back to defaults when
// none exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("simulator")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the components do not check themselves.
func (c *Config) Validate() error {
	if c.Market.TickInterval <= 0 {
		return errors.Wrap(model.ErrValidation, "market.tick_interval must be positive")
	}
	if _, err := c.Granularities(); err != nil {
		return err
	}
	if c.Trading.StartingBalance <= 0 {
		return errors.Wrap(model.ErrValidation, "trading.starting_balance must be positive")
	}
	r := c.Trading.Rules
	if r.MaxOpenTrades < 0 || r.MaxTradesPerDay < 0 || r.MaxDailyLossPct < 0 || r.MaxDailyLossPct > 100 {
		return errors.Wrapf(model.ErrValidation, "invalid rule limits %+v", r)
	}
	return nil
}

// Granularities parses Market.Granularities.
func (c *Config) Granularities() ([]model.Granularity, error) {
	out := make([]model.Granularity, 0, len(c.Market.Granularities))
	for _, s := range c.Market.Granularities {
		g, err := model.ParseGranularity(strings.TrimSpace(s))
		if err != nil {
			return nil, errors.Wrap(err, "market.granularities")
		}
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil, errors.Wrap(model.ErrValidation, "market.granularities is empty")
	}
	return out, nil
}
