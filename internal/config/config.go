package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Store    StoreConfig    `mapstructure:"store"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Exposure ExposureConfig `mapstructure:"exposure"`
	Export   ExportConfig   `mapstructure:"export"`
	Server   ServerConfig   `mapstructure:"server"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelay    int    `mapstructure:"retry_delay_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type StoreConfig struct {
	Path       string `mapstructure:"path"`
	MaxHistory int    `mapstructure:"max_history"`
}

type RefreshConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	Symbols          []string `mapstructure:"symbols"`
	SymbolDelaySec   int      `mapstructure:"symbol_delay_sec"`
	FallbackInterval int      `mapstructure:"fallback_interval_min"`
	ClosedInterval   int      `mapstructure:"closed_interval_min"`
	MinIntervalSec   int      `mapstructure:"min_interval_sec"`
	Timezone         string   `mapstructure:"timezone"`
}

type ExposureConfig struct {
	Workers       int `mapstructure:"workers"`
	MaxGridPoints int `mapstructure:"max_grid_points"`
}

type ExportConfig struct {
	Directory string `mapstructure:"directory"`
	Workers   int    `mapstructure:"workers"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.base_url", "https://api.tradier.com/v1")
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay_sec", 2)
	v.SetDefault("api.rate_per_second", 2)
	v.SetDefault("store.path", "data/gexbot.db.zst")
	v.SetDefault("store.max_history", 0)
	v.SetDefault("refresh.enabled", true)
	v.SetDefault("refresh.symbols", DefaultSymbols)
	v.SetDefault("refresh.symbol_delay_sec", 30)
	v.SetDefault("refresh.fallback_interval_min", 60)
	v.SetDefault("refresh.closed_interval_min", 360)
	v.SetDefault("refresh.min_interval_sec", 60)
	v.SetDefault("refresh.timezone", "America/New_York")
	v.SetDefault("exposure.workers", 0)
	v.SetDefault("exposure.max_grid_points", 20000)
	v.SetDefault("export.directory", "exports")
	v.SetDefault("export.workers", 4)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.ws_enabled", true)
	v.SetDefault("server.request_timeout_sec", 60)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "chart_with_upwards_trend")
	v.SetDefault("notify.notify_recovery", true)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("GEXBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("api.api_key", "GEXBOT_API_KEY", "TRADIER_ACCESS_TOKEN")
	_ = v.BindEnv("server.port", "GEXBOT_SERVER_PORT", "PORT")
	for _, key := range []string{"enabled", "server", "topic", "priority", "tags", "token", "notify_recovery"} {
		_ = v.BindEnv("notify."+key, "GEXBOT_NOTIFY_"+strings.ToUpper(key), "NTFY_"+strings.ToUpper(key))
	}

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Refresh.Symbols = NormalizeSymbols(cfg.Refresh.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.API.APIKey == "" {
		errs.add("api.api_key", "is required (set GEXBOT_API_KEY or TRADIER_ACCESS_TOKEN env var)")
	}
	if c.API.RatePerSecond < 1 {
		errs.add("api.rate_per_second", "must be >= 1")
	}
	if c.API.RetryCount < 0 {
		errs.add("api.retry_count", "must be >= 0")
	}
	if c.Exposure.MaxGridPoints < 1 {
		errs.add("exposure.max_grid_points", "must be >= 1")
	}
	if c.Exposure.Workers < 0 {
		errs.add("exposure.workers", "must be >= 0 (0 uses every CPU)")
	}
	if c.Export.Workers < 1 {
		errs.add("export.workers", "must be >= 1")
	}
	if c.Store.MaxHistory < 0 {
		errs.add("store.max_history", "must be >= 0 (0 keeps everything)")
	}
	if _, err := time.LoadLocation(c.Refresh.Timezone); err != nil {
		errs.add("refresh.timezone", fmt.Sprintf("unknown time zone %q", c.Refresh.Timezone))
	}
	c.Notify.validate(errs)
	errs.InvalidSymbols = InvalidSymbols(c.Refresh.Symbols)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Location returns the market time zone, defaulting to UTC if it cannot be loaded.
func (c *RefreshConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (a *APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

func (a *APIConfig) RetryDelayDuration() time.Duration {
	return time.Duration(a.RetryDelay) * time.Second
}

// SymbolDelay is the pause between symbol fetches; a non-positive setting disables it.
func (c *RefreshConfig) SymbolDelay() time.Duration {
	if c.SymbolDelaySec <= 0 {
		return -1
	}
	return time.Duration(c.SymbolDelaySec) * time.Second
}

func (c *RefreshConfig) Fallback() time.Duration {
	return time.Duration(c.FallbackInterval) * time.Minute
}

func (c *RefreshConfig) Closed() time.Duration {
	return time.Duration(c.ClosedInterval) * time.Minute
}

func (c *RefreshConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSec) * time.Second
}
