package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
log_level = "debug"

[platform]
app_id = 7
app_secret = "shh"
requests_per_second = 2.5
timeout = "5s"

[stream]
url = "wss://ws.example/app/key"
channels = ["enjincloud.kovan.app.7", "private-enjincloud.kovan.app.7"]
key = "key"
secret = "stream-secret"

[ledger]
expire_after = "2h"

[[tokens]]
id = "0x1"
name = "Gold"

[[tokens]]
id = "0x2"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walletlink.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Platform.AppID)
	assert.Equal(t, 2.5, cfg.Platform.RequestsPerSecond)
	assert.Equal(t, 5*time.Second, cfg.Platform.Timeout.Duration)
	assert.Equal(t, 2*time.Hour, cfg.Ledger.ExpireAfter.Duration)
	assert.Len(t, cfg.Stream.Channels, 2)
	assert.Equal(t, []TokenConfig{{ID: "0x1", Name: "Gold"}, {ID: "0x2"}}, cfg.Tokens)

	// untouched defaults survive
	assert.Equal(t, "https://cloud.enjin.io/graphql", cfg.Platform.GraphQLURL)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, "stream", cfg.Ingest.Source)
	assert.Equal(t, "notifications", cfg.Stream.RelayChannel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WALLETLINK_PLATFORM_APP_ID", "99")
	t.Setenv("WALLETLINK_STREAM_CHANNELS", " a , ,b ")
	t.Setenv("WALLETLINK_SCHEDULER_JOB_TIMEOUT", "90s")
	t.Setenv("WALLETLINK_REDIS_ENABLED", "true")
	t.Setenv("WALLETLINK_SERVER_PORT", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, 99, cfg.Platform.AppID)
	assert.Equal(t, []string{"a", "b"}, cfg.Stream.Channels)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.JobTimeout.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable values are ignored")
}

func TestLoad_NormalizesIngestSource(t *testing.T) {
	path := writeConfig(t, "[ingest]\nsource = \" Redis \"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Ingest.Source)

	t.Setenv("WALLETLINK_INGEST_SOURCE", "WEBHOOK")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "webhook", cfg.Ingest.Source)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Ingest.Source = "redis"
	cfg.Notify.RelayPlayers = true
	cfg.Archive.Enabled = true
	cfg.Scheduler.Workers = 0
	cfg.Tokens = []TokenConfig{{ID: "0xA"}, {ID: "0xa"}, {ID: " "}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown log_level "loud"`,
		"platform: app_id must be > 0",
		"platform: app_secret or encrypted_secret_path is required",
		"ingest: source redis requires redis.enabled",
		"notify: relay_players requires redis.enabled",
		"archive: requires postgres.enabled",
		"archive: requires s3.enabled",
		"scheduler: workers must be >= 1",
		`tokens[1]: duplicate id "0xa"`,
		"tokens[2]: id must not be empty",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_StreamSourceNeedsURL(t *testing.T) {
	cfg := Defaults()
	cfg.Platform.AppID = 1
	cfg.Platform.AppSecret = "x"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream: url must not be empty")

	cfg.Ingest.Source = "webhook"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_EncryptedSecretNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Platform.AppID = 1
	cfg.Platform.EncryptedSecretPath = "/etc/walletlink/secret.json"
	cfg.Ingest.Source = "webhook"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_password is required")
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Server.APIKey = "api"
	cfg.Notify.DiscordWebhookURL = ""

	red := RedactedConfig(cfg)
	assert.Equal(t, "***", red.Platform.AppSecret)
	assert.Equal(t, "***", red.Stream.Secret)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "", red.Notify.DiscordWebhookURL, "empty values stay empty")
	assert.Equal(t, "shh", cfg.Platform.AppSecret, "original untouched")

	red.Stream.Channels[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Stream.Channels[0])
}
