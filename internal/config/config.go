package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Finnhub  FinnhubConfig  `mapstructure:"finnhub"`
	Session  SessionConfig  `mapstructure:"session"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// FinnhubConfig holds the market-data stream configuration.
// An empty Token is allowed here; the session reports it as a configuration failure.
type FinnhubConfig struct {
	Token string `mapstructure:"token"`
	WSURL string `mapstructure:"ws_url"`
}

// SessionConfig holds streaming session behavior
type SessionConfig struct {
	Symbol         string        `mapstructure:"symbol"`
	BufferSize     int           `mapstructure:"buffer_size"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	HistoryCap int    `mapstructure:"history_cap"`
}

// AlertsConfig holds alert rule limits
type AlertsConfig struct {
	MaxPerSymbol int `mapstructure:"max_per_symbol"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig controls the Prometheus listener
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, a .env file and environment variables.
// An empty path skips the config file.
func Load(path string) (*Config, error) {
	v := viper.New()

	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	setDefaults(v)

	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Session.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Session.Symbol))

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Finnhub defaults
	v.SetDefault("finnhub.token", "")
	v.SetDefault("finnhub.ws_url", "wss://ws.finnhub.io")

	// Session defaults
	v.SetDefault("session.symbol", "AAPL")
	v.SetDefault("session.buffer_size", 20)
	v.SetDefault("session.reconnect_delay", "3s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/pricewatch.db")
	v.SetDefault("storage.history_cap", 60)

	// Alerts defaults
	v.SetDefault("alerts.max_per_symbol", 20)

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9102")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Finnhub config
	if c.Finnhub.WSURL == "" {
		return fmt.Errorf("finnhub.ws_url is required")
	}

	// Validate Session config
	if c.Session.Symbol == "" {
		return fmt.Errorf("session.symbol is required")
	}
	if c.Session.BufferSize < 2 || c.Session.BufferSize > 1000 {
		return fmt.Errorf("session.buffer_size must be between 2 and 1000")
	}
	if c.Session.ReconnectDelay < 100*time.Millisecond {
		return fmt.Errorf("session.reconnect_delay must be at least 100ms")
	}

	// Validate Storage config
	if c.Storage.HistoryCap < 1 {
		return fmt.Errorf("storage.history_cap must be at least 1")
	}

	// Validate Alerts config
	if c.Alerts.MaxPerSymbol < 1 {
		return fmt.Errorf("alerts.max_per_symbol must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
