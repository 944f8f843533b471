// Package config defines the top-level configuration for walletlink and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WALLETLINK_* environment variables.
type Config struct {
	Platform  PlatformConfig  `toml:"platform"`
	Stream    StreamConfig    `toml:"stream"`
	Ingest    IngestConfig    `toml:"ingest"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Loop      LoopConfig      `toml:"loop"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Tokens    []TokenConfig   `toml:"tokens"`
	LogLevel  string          `toml:"log_level"`
}

// PlatformConfig holds the Enjin Cloud GraphQL endpoint and app credentials.
// The app secret is given either raw or as a file produced by
// crypto.EncryptSecret together with its password.
type PlatformConfig struct {
	GraphQLURL          string   `toml:"graphql_url"`
	AppID               int      `toml:"app_id"`
	AppSecret           string   `toml:"app_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RequestsPerSecond   float64  `toml:"requests_per_second"`
	Burst               int      `toml:"burst"`
	Timeout             duration `toml:"timeout"`
}

// StreamConfig configures the push notification websocket.
type StreamConfig struct {
	URL      string   `toml:"url"`
	Channels []string `toml:"channels"`
	// Key and Secret sign private channel subscriptions.
	Key                  string   `toml:"key"`
	Secret               string   `toml:"secret"`
	MaxReconnectInterval duration `toml:"max_reconnect_interval"`
	// Relay republishes every received event on RelayChannel.
	Relay        bool   `toml:"relay"`
	RelayChannel string `toml:"relay_channel"`
}

// IngestConfig selects where notification events come from.
type IngestConfig struct {
	// Source is "stream" (own websocket), "redis" (relay channel published
	// by another instance) or "webhook" (POST /api/events only).
	Source string `toml:"source"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SchedulerConfig sizes the background refresh worker pool.
type SchedulerConfig struct {
	Workers    int      `toml:"workers"`
	QueueSize  int      `toml:"queue_size"`
	JobTimeout duration `toml:"job_timeout"`
}

// LoopConfig sizes the primary loop that delivers player messages.
type LoopConfig struct {
	TickRateHz int `toml:"tick_rate_hz"`
	QueueSize  int `toml:"queue_size"`
}

// LedgerConfig controls the optional sweep of trades that never complete.
// ExpireAfter of zero keeps trades forever.
type LedgerConfig struct {
	ExpireAfter   duration `toml:"expire_after"`
	SweepInterval duration `toml:"sweep_interval"`
}

// ArchiveConfig controls the cold archive of completed trades to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   float64  `toml:"rate_limit"`
	RateBurst   int      `toml:"rate_burst"`
}

// NotifyConfig holds operator alert channels and player message routing.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// RelayPlayers publishes player messages on the signal bus instead of
	// delivering them to this process's websocket clients only.
	RelayPlayers bool `toml:"relay_players"`
}

// TokenConfig lists a token shown to players and the name to show.
type TokenConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// duration wraps time.Duration so it can be decoded from a TOML string such
// as "5m" or "1h30m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values. These are
// used as the base layer before the TOML file and env overrides are applied.
func Defaults() Config {
	return Config{
		Platform: PlatformConfig{
			GraphQLURL:        "https://cloud.enjin.io/graphql",
			RequestsPerSecond: 5,
			Burst:             5,
			Timeout:           duration{15 * time.Second},
		},
		Stream: StreamConfig{
			MaxReconnectInterval: duration{time.Minute},
			RelayChannel:         "notifications",
		},
		Ingest: IngestConfig{Source: "stream"},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "walletlink",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "walletlink-archive",
			ForcePathStyle: true,
		},
		Scheduler: SchedulerConfig{
			Workers:    4,
			QueueSize:  1024,
			JobTimeout: duration{30 * time.Second},
		},
		Loop: LoopConfig{
			TickRateHz: 20,
			QueueSize:  1024,
		},
		Ledger: LedgerConfig{
			SweepInterval: duration{time.Minute},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			BatchSize:     5000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateBurst:   20,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_completed", "stream_down", "archive"},
		},
		LogLevel: "info",
	}
}

var validSources = map[string]bool{
	"stream":  true,
	"redis":   true,
	"webhook": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for obvious mistakes and returns an error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Platform
	if strings.TrimSpace(c.Platform.GraphQLURL) == "" {
		errs = append(errs, "platform: graphql_url must not be empty")
	}
	if c.Platform.AppID <= 0 {
		errs = append(errs, "platform: app_id must be > 0")
	}
	if c.Platform.AppSecret == "" && c.Platform.EncryptedSecretPath == "" {
		errs = append(errs, "platform: app_secret or encrypted_secret_path is required")
	}
	if c.Platform.EncryptedSecretPath != "" && c.Platform.SecretPassword == "" {
		errs = append(errs, "platform: secret_password is required with encrypted_secret_path")
	}
	if c.Platform.RequestsPerSecond < 0 {
		errs = append(errs, "platform: requests_per_second must be >= 0")
	}

	// Ingest
	source := strings.ToLower(c.Ingest.Source)
	if !validSources[source] {
		errs = append(errs, fmt.Sprintf("ingest: unknown source %q (valid: stream, redis, webhook)", c.Ingest.Source))
	}
	if source == "stream" {
		if strings.TrimSpace(c.Stream.URL) == "" {
			errs = append(errs, "stream: url must not be empty when ingest.source is stream")
		}
		if len(c.Stream.Channels) == 0 {
			errs = append(errs, "stream: at least one channel is required when ingest.source is stream")
		}
	}
	if source == "webhook" && !c.Server.Enabled {
		errs = append(errs, "ingest: source webhook requires server.enabled")
	}

	// Redis users
	if !c.Redis.Enabled {
		if source == "redis" {
			errs = append(errs, "ingest: source redis requires redis.enabled")
		}
		if c.Stream.Relay {
			errs = append(errs, "stream: relay requires redis.enabled")
		}
		if c.Notify.RelayPlayers {
			errs = append(errs, "notify: relay_players requires redis.enabled")
		}
	} else if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if (source == "redis" || c.Stream.Relay) && c.Stream.RelayChannel == "" {
		errs = append(errs, "stream: relay_channel must not be empty")
	}

	// Workers
	if c.Scheduler.Workers < 1 {
		errs = append(errs, "scheduler: workers must be >= 1")
	}
	if c.Scheduler.QueueSize < 1 {
		errs = append(errs, "scheduler: queue_size must be >= 1")
	}
	if c.Loop.TickRateHz < 1 {
		errs = append(errs, "loop: tick_rate_hz must be >= 1")
	}
	if c.Loop.QueueSize < 1 {
		errs = append(errs, "loop: queue_size must be >= 1")
	}
	if c.Ledger.ExpireAfter.Duration < 0 {
		errs = append(errs, "ledger: expire_after must be >= 0")
	}
	if c.Ledger.ExpireAfter.Duration > 0 && c.Ledger.SweepInterval.Duration <= 0 {
		errs = append(errs, "ledger: sweep_interval must be > 0 when expire_after is set")
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: dsn or host is required")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Tokens
	seen := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		id := strings.ToLower(strings.TrimSpace(t.ID))
		switch {
		case id == "":
			errs = append(errs, fmt.Sprintf("tokens[%d]: id must not be empty", i))
		case seen[id]:
			errs = append(errs, fmt.Sprintf("tokens[%d]: duplicate id %q", i, t.ID))
		}
		seen[id] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
