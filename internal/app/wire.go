package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/walletlink/internal/blob/s3"
	"github.com/alanyoungcy/walletlink/internal/cache/redis"
	"github.com/alanyoungcy/walletlink/internal/config"
	"github.com/alanyoungcy/walletlink/internal/crypto"
	"github.com/alanyoungcy/walletlink/internal/directory"
	"github.com/alanyoungcy/walletlink/internal/dispatcher"
	"github.com/alanyoungcy/walletlink/internal/domain"
	"github.com/alanyoungcy/walletlink/internal/ledger"
	"github.com/alanyoungcy/walletlink/internal/notify"
	"github.com/alanyoungcy/walletlink/internal/platform/enjin"
	"github.com/alanyoungcy/walletlink/internal/scheduler"
	"github.com/alanyoungcy/walletlink/internal/server"
	"github.com/alanyoungcy/walletlink/internal/server/handler"
	"github.com/alanyoungcy/walletlink/internal/server/ws"
	"github.com/alanyoungcy/walletlink/internal/store/postgres"
)

// Dependencies bundles everything the run loop needs. It is constructed by
// Wire and torn down by the returned cleanup function. Optional adapters are
// nil when their backing service is disabled.
type Dependencies struct {
	Platform   *enjin.Client
	Directory  *directory.Directory
	Catalog    *directory.TokenCatalog
	Ledger     *ledger.Ledger
	Scheduler  *scheduler.Scheduler
	Loop       *scheduler.Loop
	Dispatcher *dispatcher.Dispatcher
	Hub        *ws.Hub
	Relay      *notify.PlayerRelay // set when notify.relay_players is on
	Stream     *enjin.Stream       // set when ingest.source is "stream"
	Server     *server.Server

	// Optional adapters
	SignalBus  domain.SignalBus
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	backends []handler.BackendCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{}

	// --- PostgreSQL (completed-trade archive and audit log) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)
		deps.backends = append(deps.backends, handler.BackendCheck{Name: "postgres", Check: pgClient.Health})

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis (snapshot mirror, event relay, player message bus) ---
	var identityCache domain.IdentityCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.backends = append(deps.backends, handler.BackendCheck{Name: "redis", Check: redisClient.Health})

		identityCache = redis.NewIdentityCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 cold archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.backends = append(deps.backends, handler.BackendCheck{Name: "s3", Check: s3Client.Health})

		if cfg.Archive.Enabled && deps.TradeStore != nil {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.TradeStore, deps.AuditStore, cfg.Archive.BatchSize)
		}
	}

	// --- Operator alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Platform client ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.Platform.AppSecret,
		EncryptedPath: cfg.Platform.EncryptedSecretPath,
		Password:      cfg.Platform.SecretPassword,
	})
	if err != nil {
		return fail("platform secret", err)
	}
	deps.Platform = enjin.NewClient(enjin.ClientConfig{
		GraphQLURL:        cfg.Platform.GraphQLURL,
		AppID:             cfg.Platform.AppID,
		AppSecret:         secret,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
		Timeout:           cfg.Platform.Timeout.Duration,
	})

	// --- Engine ---
	var dirOpts []directory.Option
	if identityCache != nil {
		dirOpts = append(dirOpts, directory.WithCache(identityCache))
	}
	deps.Directory = directory.New(deps.Platform, logger, dirOpts...)
	deps.Catalog = directory.NewTokenCatalog(configuredTokens(cfg.Tokens), logger)

	deps.Scheduler = scheduler.New(scheduler.Config{
		Workers:    cfg.Scheduler.Workers,
		QueueSize:  cfg.Scheduler.QueueSize,
		JobTimeout: cfg.Scheduler.JobTimeout.Duration,
	}, logger)
	deps.Loop = scheduler.NewLoop(cfg.Loop.TickRateHz, cfg.Loop.QueueSize, logger)

	recorder := newTradeRecorder(deps.Scheduler, deps.TradeStore, deps.AuditStore, deps.Notifier, logger)
	deps.Ledger = ledger.New(logger, ledger.WithCompletion(recorder.OnComplete))

	deps.Hub = ws.NewHub(deps.SignalBus, logger)
	var messenger domain.PlayerMessenger = deps.Hub
	if cfg.Notify.RelayPlayers && deps.SignalBus != nil {
		deps.Relay = notify.NewPlayerRelay(deps.SignalBus, logger)
		messenger = deps.Relay
	}

	deps.Dispatcher = dispatcher.New(dispatcher.Deps{
		Directory: deps.Directory,
		Ledger:    deps.Ledger,
		Runner:    deps.Scheduler,
		Primary:   deps.Loop,
		Messenger: messenger,
		Catalog:   deps.Catalog,
	}, logger)

	// --- Ingest ---
	if strings.EqualFold(cfg.Ingest.Source, "stream") {
		streamCfg := enjin.StreamConfig{
			URL:                  cfg.Stream.URL,
			Channels:             cfg.Stream.Channels,
			MaxReconnectInterval: cfg.Stream.MaxReconnectInterval.Duration,
		}
		if cfg.Stream.Key != "" && cfg.Stream.Secret != "" {
			streamCfg.Auth = &crypto.ChannelAuth{Key: cfg.Stream.Key, Secret: cfg.Stream.Secret}
		}
		if err := enjin.ValidateStreamConfig(streamCfg); err != nil {
			return fail("stream", err)
		}
		var relayBus domain.SignalBus
		if cfg.Stream.Relay {
			relayBus = deps.SignalBus
		}
		handle := relayingHandler(deps.Dispatcher, relayBus, cfg.Stream.RelayChannel, logger)
		deps.Stream = enjin.NewStream(streamCfg, handle, logger)
	}

	// --- HTTP ---
	if cfg.Server.Enabled {
		deps.Server = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   cfg.Server.RateLimit,
			RateBurst:   cfg.Server.RateBurst,
		}, buildHandlers(deps, logger), deps.Hub, logger)
	}

	return deps, cleanup, nil
}

func buildHandlers(deps *Dependencies, logger *slog.Logger) server.Handlers {
	var connected func() bool
	if deps.Stream != nil {
		connected = deps.Stream.Connected
	}
	return server.Handlers{
		Health: handler.NewHealthHandler(connected, deps.backends, logger),
		Status: handler.NewStatusHandler(handler.StatusSources{
			Dispatcher: deps.Dispatcher.Stats,
			Scheduler:  deps.Scheduler.Stats,
			Pending:    deps.Ledger.Len,
			Players:    deps.Directory.Len,
			Messages:   deps.messageStats,
		}),
		Players: handler.NewPlayerHandler(deps.Dispatcher, deps.Directory, deps.Catalog, logger),
		Trades:  handler.NewTradeHandler(deps.Ledger, deps.TradeStore, logger),
		Events:  handler.NewEventHandler(deps.Dispatcher, logger),
	}
}

func (d *Dependencies) messageStats() handler.MessageStats {
	st := handler.MessageStats{WSDropped: d.Hub.Dropped()}
	if d.Relay != nil {
		st.RelayDropped = d.Relay.Dropped()
		st.RelayFailed = d.Relay.Failed()
	}
	return st
}

func configuredTokens(in []config.TokenConfig) []domain.Token {
	out := make([]domain.Token, 0, len(in))
	for _, t := range in {
		out = append(out, domain.Token{TokenID: strings.TrimSpace(t.ID), DisplayName: t.Name})
	}
	return out
}

// archiveCutoff is the completion time before which trades are archived.
func archiveCutoff(now time.Time, retentionDays int) time.Time {
	return now.UTC().AddDate(0, 0, -retentionDays)
}
