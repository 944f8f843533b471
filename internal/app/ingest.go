package app

import (
	"context"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/walletlink/internal/domain"
	"github.com/alanyoungcy/walletlink/internal/platform/enjin"
)

const relayPublishTimeout = 2 * time.Second

// eventSink accepts notification events. dispatcher.Dispatcher satisfies it.
type eventSink interface {
	Handle(ctx context.Context, ev domain.NotificationEvent)
}

// relayingHandler hands each stream event to sink and, when bus is set,
// republishes it on channel for replicas consuming from redis.
func relayingHandler(sink eventSink, bus domain.SignalBus, channel string, logger *slog.Logger) enjin.EventHandler {
	return func(ctx context.Context, ev domain.NotificationEvent) {
		sink.Handle(ctx, ev)
		if bus == nil {
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			logger.Warn("relay encode failed", slog.String("error", err.Error()))
			return
		}
		pctx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
		defer cancel()
		if err := bus.Publish(pctx, channel, payload); err != nil {
			logger.Warn("relay publish failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	}
}

// consumeRelay feeds events published on channel into sink until ctx is
// cancelled. Undecodable payloads are dropped.
func consumeRelay(ctx context.Context, bus domain.SignalBus, channel string, sink eventSink, logger *slog.Logger) error {
	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	logger.Info("consuming relayed events", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return domain.ErrWSDisconnect
			}
			var ev domain.NotificationEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				logger.Debug("dropping undecodable relay message", slog.String("error", err.Error()))
				continue
			}
			sink.Handle(ctx, ev)
		}
	}
}
