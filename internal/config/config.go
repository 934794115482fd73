// Package config defines the collector configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/bookbias/internal/domain"
	"github.com/alanyoungcy/bookbias/internal/record"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BOOKBIAS_* environment variables.
type Config struct {
	Collector CollectorConfig `toml:"collector" envPrefix:"COLLECTOR_"`
	Binance   BinanceConfig   `toml:"binance" envPrefix:"BINANCE_"`
	Postgres  PostgresConfig  `toml:"postgres" envPrefix:"POSTGRES_"`
	Redis     RedisConfig     `toml:"redis" envPrefix:"REDIS_"`
	S3        S3Config        `toml:"s3" envPrefix:"S3_"`
	Export    ExportConfig    `toml:"export" envPrefix:"EXPORT_"`
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
	Notify    NotifyConfig    `toml:"notify" envPrefix:"NOTIFY_"`
	Mode      string          `toml:"mode" env:"MODE"`
	LogLevel  string          `toml:"log_level" env:"LOG_LEVEL"`
}

// CollectorConfig selects the asset and tunes the sampling loop. FixedTime
// pins the clock (RFC 3339) for reproducible runs.
type CollectorConfig struct {
	Symbol     string   `toml:"symbol" env:"SYMBOL"`
	Quote      string   `toml:"quote" env:"QUOTE"`
	Windows    []string `toml:"windows" env:"WINDOWS"`
	MaxRetries int      `toml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay duration `toml:"retry_delay" env:"RETRY_DELAY"`
	Interval   duration `toml:"interval" env:"INTERVAL"`
	LeaseTTL   duration `toml:"lease_ttl" env:"LEASE_TTL"`
	FixedTime  string   `toml:"fixed_time" env:"FIXED_TIME"`
}

// AssetSymbol is the lower-case base asset, e.g. "btc".
func (c CollectorConfig) AssetSymbol() string {
	return strings.ToLower(strings.TrimSpace(c.Symbol))
}

// Instrument is the exchange pair, e.g. "BTCUSDT".
func (c CollectorConfig) Instrument() string {
	return strings.ToUpper(strings.TrimSpace(c.Symbol) + strings.TrimSpace(c.Quote))
}

// BiasWindows parses Windows in order.
func (c CollectorConfig) BiasWindows() ([]domain.BiasWindow, error) {
	out := make([]domain.BiasWindow, 0, len(c.Windows))
	for _, w := range c.Windows {
		bw, err := domain.ParseBiasWindow(strings.TrimSpace(w))
		if err != nil {
			return nil, err
		}
		out = append(out, bw)
	}
	return out, nil
}

// Clock returns a FixedClock when FixedTime is set, else the system clock.
func (c CollectorConfig) Clock() (domain.Clock, error) {
	if c.FixedTime == "" {
		return domain.SystemClock{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.FixedTime)
	if err != nil {
		return nil, fmt.Errorf("fixed_time: %w", err)
	}
	return domain.FixedClock{T: t.UTC()}, nil
}

// BinanceConfig holds the exchange endpoints.
type BinanceConfig struct {
	RESTURL     string   `toml:"rest_url" env:"REST_URL"`
	WSURL       string   `toml:"ws_url" env:"WS_URL"`
	DepthLimit  int      `toml:"depth_limit" env:"DEPTH_LIMIT"`
	UpdateSpeed string   `toml:"update_speed" env:"UPDATE_SPEED"`
	ReadTimeout duration `toml:"read_timeout" env:"READ_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" env:"DSN"`
	Host          string `toml:"host" env:"HOST"`
	Port          int    `toml:"port" env:"PORT"`
	Database      string `toml:"database" env:"DATABASE"`
	User          string `toml:"user" env:"USER"`
	Password      string `toml:"password" env:"PASSWORD"`
	SSLMode       string `toml:"ssl_mode" env:"SSL_MODE"`
	PoolMaxConns  int    `toml:"pool_max_conns" env:"POOL_MAX_CONNS"`
	PoolMinConns  int    `toml:"pool_min_conns" env:"POOL_MIN_CONNS"`
	RunMigrations bool   `toml:"run_migrations" env:"RUN_MIGRATIONS"`
}

// RedisConfig holds Redis connection parameters. Redis backs the latest-sample
// cache, sample pub/sub, the collector lease and API rate limiting.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled" env:"ENABLED"`
	Addr       string   `toml:"addr" env:"ADDR"`
	Password   string   `toml:"password" env:"PASSWORD"`
	DB         int      `toml:"db" env:"DB"`
	PoolSize   int      `toml:"pool_size" env:"POOL_SIZE"`
	MaxRetries int      `toml:"max_retries" env:"MAX_RETRIES"`
	TLSEnabled bool     `toml:"tls_enabled" env:"TLS_ENABLED"`
	KeyPrefix  string   `toml:"key_prefix" env:"KEY_PREFIX"`
	SampleTTL  duration `toml:"sample_ttl" env:"SAMPLE_TTL"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled" env:"ENABLED"`
	Endpoint       string `toml:"endpoint" env:"ENDPOINT"`
	Region         string `toml:"region" env:"REGION"`
	Bucket         string `toml:"bucket" env:"BUCKET"`
	AccessKey      string `toml:"access_key" env:"ACCESS_KEY"`
	SecretKey      string `toml:"secret_key" env:"SECRET_KEY"`
	UseSSL         bool   `toml:"use_ssl" env:"USE_SSL"`
	ForcePathStyle bool   `toml:"force_path_style" env:"FORCE_PATH_STYLE"`
}

// ExportConfig controls the full-ladder JSON export.
type ExportConfig struct {
	Enabled  bool   `toml:"enabled" env:"ENABLED"`
	Dir      string `toml:"dir" env:"DIR"`
	Cron     string `toml:"cron" env:"CRON"`
	S3Prefix string `toml:"s3_prefix" env:"S3_PREFIX"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. The server only runs in "full" mode.
type ServerConfig struct {
	Port        int      `toml:"port" env:"PORT"`
	CORSOrigins []string `toml:"cors_origins" env:"CORS_ORIGINS"`
	APIKey      string   `toml:"api_key" env:"API_KEY"`
	RateLimit   int      `toml:"rate_limit" env:"RATE_LIMIT"`
	RateWindow  duration `toml:"rate_window" env:"RATE_WINDOW"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" env:"TELEGRAM_TOKEN"`
	TelegramChatID    string   `toml:"telegram_chat_id" env:"TELEGRAM_CHAT_ID"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" env:"DISCORD_WEBHOOK_URL"`
	Events            []string `toml:"events" env:"EVENTS"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Collector: CollectorConfig{
			Symbol:     "btc",
			Quote:      "USDT",
			Windows:    []string{"0.5", "1", "2", "4"},
			MaxRetries: 5,
			RetryDelay: duration{time.Second},
			Interval:   duration{time.Minute},
			LeaseTTL:   duration{30 * time.Second},
		},
		Binance: BinanceConfig{
			RESTURL:     "https://api.binance.com",
			WSURL:       "wss://stream.binance.com:9443",
			DepthLimit:  5000,
			UpdateSpeed: "100ms",
			ReadTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "bookbias",
			SampleTTL:  duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bookbias-data",
			ForcePathStyle: true,
		},
		Export: ExportConfig{
			Enabled:  true,
			Dir:      "exports",
			Cron:     record.DefaultExportCron,
			S3Prefix: "exports",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"retries_exhausted", "reconnecting"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"collect": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: collect, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Collector
	if c.Collector.AssetSymbol() == "" {
		errs = append(errs, "collector: symbol must not be empty")
	}
	if strings.TrimSpace(c.Collector.Quote) == "" {
		errs = append(errs, "collector: quote must not be empty")
	}
	if len(c.Collector.Windows) == 0 {
		errs = append(errs, "collector: at least one window is required")
	} else if _, err := c.Collector.BiasWindows(); err != nil {
		errs = append(errs, "collector: "+err.Error())
	}
	if c.Collector.MaxRetries < 0 {
		errs = append(errs, "collector: max_retries must be >= 0")
	}
	if c.Collector.RetryDelay.Duration <= 0 {
		errs = append(errs, "collector: retry_delay must be > 0")
	}
	if c.Collector.Interval.Duration < time.Second {
		errs = append(errs, "collector: interval must be >= 1s")
	}
	if _, err := c.Collector.Clock(); err != nil {
		errs = append(errs, "collector: "+err.Error())
	}

	// Binance
	if c.Binance.RESTURL == "" || c.Binance.WSURL == "" {
		errs = append(errs, "binance: rest_url and ws_url must not be empty")
	}
	if c.Binance.DepthLimit < 1 || c.Binance.DepthLimit > 5000 {
		errs = append(errs, fmt.Sprintf("binance: depth_limit must be 1-5000, got %d", c.Binance.DepthLimit))
	}
	if c.Binance.UpdateSpeed != "100ms" && c.Binance.UpdateSpeed != "1000ms" {
		errs = append(errs, fmt.Sprintf("binance: update_speed must be 100ms or 1000ms, got %q", c.Binance.UpdateSpeed))
	}
	if c.Binance.ReadTimeout.Duration <= 0 {
		errs = append(errs, "binance: read_timeout must be > 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.SampleTTL.Duration <= 0 {
			errs = append(errs, "redis: sample_ttl must be > 0")
		}
		if c.Collector.LeaseTTL.Duration < time.Second {
			errs = append(errs, "collector: lease_ttl must be >= 1s")
		}
	}

	// Export
	if c.Export.Enabled {
		if _, err := record.ParseSchedule(c.Export.Cron); err != nil {
			errs = append(errs, "export: "+err.Error())
		}
		if c.Export.Dir == "" && !c.S3.Enabled {
			errs = append(errs, "export: dir must be set unless s3 is enabled")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" && c.S3.Region == "" {
			errs = append(errs, "s3: endpoint or region must be set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs = append(errs, "s3: access_key and secret_key must be set together")
		}
	}

	// Server
	if strings.ToLower(c.Mode) == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
