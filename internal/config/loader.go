package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WALLETLINK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	return &cfg, nil
}

// normalize canonicalises enum-like values so later comparisons can be exact.
func normalize(cfg *Config) {
	cfg.Ingest.Source = strings.ToLower(strings.TrimSpace(cfg.Ingest.Source))
}

// applyEnvOverrides reads well-known WALLETLINK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Platform ──
	setStr(&cfg.Platform.GraphQLURL, "WALLETLINK_PLATFORM_GRAPHQL_URL")
	setInt(&cfg.Platform.AppID, "WALLETLINK_PLATFORM_APP_ID")
	setStr(&cfg.Platform.AppSecret, "WALLETLINK_PLATFORM_APP_SECRET")
	setStr(&cfg.Platform.EncryptedSecretPath, "WALLETLINK_PLATFORM_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Platform.SecretPassword, "WALLETLINK_PLATFORM_SECRET_PASSWORD")
	setFloat64(&cfg.Platform.RequestsPerSecond, "WALLETLINK_PLATFORM_REQUESTS_PER_SECOND")
	setInt(&cfg.Platform.Burst, "WALLETLINK_PLATFORM_BURST")
	setDuration(&cfg.Platform.Timeout, "WALLETLINK_PLATFORM_TIMEOUT")

	// ── Stream ──
	setStr(&cfg.Stream.URL, "WALLETLINK_STREAM_URL")
	setStringSlice(&cfg.Stream.Channels, "WALLETLINK_STREAM_CHANNELS")
	setStr(&cfg.Stream.Key, "WALLETLINK_STREAM_KEY")
	setStr(&cfg.Stream.Secret, "WALLETLINK_STREAM_SECRET")
	setBool(&cfg.Stream.Relay, "WALLETLINK_STREAM_RELAY")
	setStr(&cfg.Stream.RelayChannel, "WALLETLINK_STREAM_RELAY_CHANNEL")
	setStr(&cfg.Ingest.Source, "WALLETLINK_INGEST_SOURCE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WALLETLINK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WALLETLINK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WALLETLINK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WALLETLINK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WALLETLINK_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "WALLETLINK_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "WALLETLINK_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "WALLETLINK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WALLETLINK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WALLETLINK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WALLETLINK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WALLETLINK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WALLETLINK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WALLETLINK_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "WALLETLINK_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WALLETLINK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WALLETLINK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WALLETLINK_S3_REGION")
	setStr(&cfg.S3.Bucket, "WALLETLINK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WALLETLINK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WALLETLINK_S3_SECRET_KEY")

	// ── Engine ──
	setInt(&cfg.Scheduler.Workers, "WALLETLINK_SCHEDULER_WORKERS")
	setInt(&cfg.Scheduler.QueueSize, "WALLETLINK_SCHEDULER_QUEUE_SIZE")
	setDuration(&cfg.Scheduler.JobTimeout, "WALLETLINK_SCHEDULER_JOB_TIMEOUT")
	setInt(&cfg.Loop.TickRateHz, "WALLETLINK_LOOP_TICK_RATE_HZ")
	setDuration(&cfg.Ledger.ExpireAfter, "WALLETLINK_LEDGER_EXPIRE_AFTER")
	setBool(&cfg.Archive.Enabled, "WALLETLINK_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "WALLETLINK_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WALLETLINK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WALLETLINK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WALLETLINK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WALLETLINK_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WALLETLINK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WALLETLINK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WALLETLINK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WALLETLINK_NOTIFY_EVENTS")
	setBool(&cfg.Notify.RelayPlayers, "WALLETLINK_NOTIFY_RELAY_PLAYERS")

	setStr(&cfg.LogLevel, "WALLETLINK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
