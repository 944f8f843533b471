package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/walletlink/internal/notify"
)

const (
	shutdownTimeout   = 5 * time.Second
	streamCheckPeriod = 30 * time.Second
)

// serve starts every long-running goroutine and blocks until ctx is
// cancelled or one of them fails.
func (a *App) serve(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCancel(deps.Loop.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(deps.Scheduler.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(deps.Hub.Run(ctx)) })
	if deps.Relay != nil {
		g.Go(func() error { return ignoreCancel(deps.Relay.Run(ctx)) })
	}

	// Tokens are loaded before events flow so transfer messages carry labels.
	if err := deps.Catalog.Load(ctx, deps.Platform, a.cfg.Platform.AppID); err != nil {
		a.logger.WarnContext(ctx, "token catalog unavailable, using token ids",
			slog.String("error", err.Error()),
		)
	}

	switch {
	case deps.Stream != nil:
		g.Go(func() error { return ignoreCancel(deps.Stream.Run(ctx)) })
		g.Go(func() error {
			a.watchStream(ctx, deps)
			return nil
		})
	case strings.EqualFold(a.cfg.Ingest.Source, "redis"):
		g.Go(func() error {
			err := consumeRelay(ctx, deps.SignalBus, a.cfg.Stream.RelayChannel, deps.Dispatcher, a.logger)
			if err != nil {
				return fmt.Errorf("relay consumer: %w", err)
			}
			return nil
		})
	default:
		a.logger.InfoContext(ctx, "events accepted via POST /api/events only")
	}

	if deps.Server != nil {
		g.Go(func() error { return deps.Server.Start() })
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return deps.Server.Shutdown(shutCtx)
		})
	}

	if exp := a.cfg.Ledger.ExpireAfter.Duration; exp > 0 {
		g.Go(func() error {
			every(ctx, a.cfg.Ledger.SweepInterval.Duration, func() { a.expireTrades(ctx, deps, exp) })
			return nil
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			every(ctx, a.cfg.Archive.Interval.Duration, func() { a.archiveTrades(ctx, deps) })
			return nil
		})
	}

	_ = deps.Notifier.Notify(ctx, notify.EventStartup, "walletlink started",
		fmt.Sprintf("app %d, ingest %s", a.cfg.Platform.AppID, a.cfg.Ingest.Source))

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) expireTrades(ctx context.Context, deps *Dependencies, maxAge time.Duration) {
	n := deps.Ledger.Expire(maxAge)
	if n == 0 {
		return
	}
	a.logger.WarnContext(ctx, "expired pending trades", slog.Int("count", n))
	_ = deps.Notifier.Notify(ctx, notify.EventTradeExpired, "Trades expired",
		fmt.Sprintf("%d pending trade(s) older than %s were dropped", n, maxAge))
}

func (a *App) archiveTrades(ctx context.Context, deps *Dependencies) {
	before := archiveCutoff(time.Now(), a.cfg.Archive.RetentionDays)
	n, err := deps.Archiver.ArchiveTrades(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "trade archive failed", slog.String("error", err.Error()))
		_ = deps.Notifier.Notify(ctx, notify.EventArchive, "Trade archive failed", err.Error())
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "archived completed trades",
			slog.Int64("count", n),
			slog.Time("before", before),
		)
		_ = deps.Notifier.Notify(ctx, notify.EventArchive, "Trades archived",
			fmt.Sprintf("%d trade(s) completed before %s", n, before.Format(time.DateOnly)))
	}
}

// watchStream raises stream_down when the push connection has been down for
// a full check period after having been up.
func (a *App) watchStream(ctx context.Context, deps *Dependencies) {
	wasUp := false
	alerted := false
	every(ctx, streamCheckPeriod, func() {
		up := deps.Stream.Connected()
		switch {
		case up:
			wasUp, alerted = true, false
		case wasUp && !alerted:
			alerted = true
			a.logger.WarnContext(ctx, "notification stream down")
			_ = deps.Notifier.Notify(ctx, notify.EventStreamDown, "Notification stream down",
				"reconnecting; balances may lag until it recovers")
		}
	})
}

// every calls fn on each tick of interval until ctx is cancelled.
func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
