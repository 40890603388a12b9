// Package config defines the top-level configuration for the spread bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SPREADBOT_* environment
// variables.
type Config struct {
	CoinEx   CoinExConfig   `toml:"coinex"`
	GateIO   GateIOConfig   `toml:"gateio"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Spread   SpreadConfig   `toml:"spread"`
	Engine   EngineConfig   `toml:"engine"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// CoinExConfig holds CoinEx (spot leg) API parameters.
type CoinExConfig struct {
	BaseURL   string  `toml:"base_url"`
	AccessID  string  `toml:"access_id"`
	SecretKey string  `toml:"secret_key"`
	RateLimit float64 `toml:"rate_limit"` // requests per second
}

// GateIOConfig holds Gate.io (futures leg) API parameters.
type GateIOConfig struct {
	BaseURL   string  `toml:"base_url"`
	APIKey    string  `toml:"api_key"`
	APISecret string  `toml:"api_secret"`
	RateLimit float64 `toml:"rate_limit"` // requests per second
}

// PostgresConfig holds PostgreSQL / TimescaleDB connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: with
// enabled = false the bot falls back to in-process caching and pub/sub.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// SpreadConfig holds the spread thresholds and sizing limits.
type SpreadConfig struct {
	// EntryThreshold is the minimum entry spread ratio, e.g. 0.02 for 2%.
	EntryThreshold float64 `toml:"entry_threshold"`
	// ExitThreshold is the minimum exit spread ratio; usually negative.
	ExitThreshold float64 `toml:"exit_threshold"`
	// LotSize caps the coin volume per execution.
	LotSize float64 `toml:"lot_size"`
	// MaxQuoteSkew bounds the timestamp drift between the two venue quotes.
	MaxQuoteSkew duration `toml:"max_quote_skew"`
}

// SymbolConfig maps one logical symbol to its venue-specific names.
type SymbolConfig struct {
	Symbol        string `toml:"symbol"`         // e.g. "BTC/USDT"
	SpotSymbol    string `toml:"spot_symbol"`    // e.g. "BTCUSDT"
	FuturesSymbol string `toml:"futures_symbol"` // e.g. "BTC_USDT"
}

// EngineConfig holds the evaluation loop parameters.
type EngineConfig struct {
	Symbols        []SymbolConfig `toml:"symbols"`
	Interval       duration       `toml:"interval"`
	ExecTimeout    duration       `toml:"exec_timeout"`
	MinTradeVolume float64        `toml:"min_trade_volume"`
	BookDepth      int            `toml:"book_depth"`
	LockTTL        duration       `toml:"lock_ttl"`
}

// ArchiveConfig holds the S3 archival schedule.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		CoinEx: CoinExConfig{
			BaseURL:   "https://api.coinex.com/v1",
			RateLimit: 10,
		},
		GateIO: GateIOConfig{
			BaseURL:   "https://api.gateio.ws",
			RateLimit: 10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "spreadbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spreadbot-data",
			ForcePathStyle: true,
			Prefix:         "spreadbot",
		},
		Spread: SpreadConfig{
			EntryThreshold: 0.02,
			ExitThreshold:  -0.002,
			LotSize:        1.0,
			MaxQuoteSkew:   duration{10 * time.Second},
		},
		Engine: EngineConfig{
			Symbols: []SymbolConfig{
				{Symbol: "BTC/USDT", SpotSymbol: "BTCUSDT", FuturesSymbol: "BTC_USDT"},
			},
			Interval:       duration{5 * time.Second},
			ExecTimeout:    duration{10 * time.Second},
			MinTradeVolume: 0.001,
			BookDepth:      20,
			LockTTL:        duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  duration{6 * time.Hour},
			Retention: duration{30 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed", "position_opened", "position_closed"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "monitor"
// observes and records but never trades; "trade" enables automatic execution;
// "server" serves the read API without running the engine; "full" runs
// everything with trading enabled.
var validModes = map[string]bool{
	"monitor": true,
	"trade":   true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// TradingEnabled reports whether the configured mode places orders
// automatically.
func (c *Config) TradingEnabled() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "trade" || mode == "full"
}

// EngineEnabled reports whether the configured mode runs the evaluation loop.
func (c *Config) EngineEnabled() bool {
	return strings.ToLower(c.Mode) != "server"
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, trade, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange credentials are only needed when orders can be placed.
	if c.TradingEnabled() {
		if c.CoinEx.AccessID == "" || c.CoinEx.SecretKey == "" {
			errs = append(errs, "coinex: access_id and secret_key are required for mode "+c.Mode)
		}
		if c.GateIO.APIKey == "" || c.GateIO.APISecret == "" {
			errs = append(errs, "gateio: api_key and api_secret are required for mode "+c.Mode)
		}
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 only matters when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be positive")
		}
	}

	// Spread thresholds
	if c.Spread.EntryThreshold <= 0 {
		errs = append(errs, "spread: entry_threshold must be > 0")
	}
	if c.Spread.ExitThreshold >= c.Spread.EntryThreshold {
		errs = append(errs, "spread: exit_threshold must be below entry_threshold")
	}
	if c.Spread.LotSize <= 0 {
		errs = append(errs, "spread: lot_size must be > 0")
	}

	// Engine
	if c.EngineEnabled() {
		if len(c.Engine.Symbols) == 0 {
			errs = append(errs, "engine: at least one symbol is required")
		}
		seen := map[string]bool{}
		for i, sc := range c.Engine.Symbols {
			if sc.Symbol == "" || sc.SpotSymbol == "" || sc.FuturesSymbol == "" {
				errs = append(errs, fmt.Sprintf("engine: symbols[%d] needs symbol, spot_symbol and futures_symbol", i))
			}
			if seen[sc.Symbol] {
				errs = append(errs, fmt.Sprintf("engine: duplicate symbol %q", sc.Symbol))
			}
			seen[sc.Symbol] = true
		}
		if c.Engine.Interval.Duration <= 0 {
			errs = append(errs, "engine: interval must be positive")
		}
		if c.Engine.ExecTimeout.Duration <= 0 {
			errs = append(errs, "engine: exec_timeout must be positive")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify — token and chat ID go together.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
