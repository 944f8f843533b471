package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// PlayerChannelPrefix prefixes the signal bus channel of each player.
const PlayerChannelPrefix = "player:"

const (
	defaultRelayQueue   = 256
	defaultRelayTimeout = 2 * time.Second
)

// PlayerChannel returns the signal bus channel for playerID.
func PlayerChannel(playerID string) string {
	return PlayerChannelPrefix + playerID
}

// PlayerIDFromChannel reverses PlayerChannel.
func PlayerIDFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, PlayerChannelPrefix)
	return id, ok && id != ""
}

// PlayerEnvelope is the bus payload for a player message.
type PlayerEnvelope struct {
	PlayerID string               `json:"player_id"`
	Message  domain.PlayerMessage `json:"message"`
}

type relayItem struct {
	channel  string
	playerID string
	kind     domain.PlayerMessageKind
	payload  []byte
}

// PlayerRelay implements domain.PlayerMessenger by publishing each message
// to the player's channel on the signal bus. NotifyPlayer only queues; Run
// does the publishing so callers on the primary loop never wait on the bus.
type PlayerRelay struct {
	bus     domain.SignalBus
	queue   chan relayItem
	timeout time.Duration
	dropped atomic.Int64
	failed  atomic.Int64
	logger  *slog.Logger
}

// RelayOption configures a PlayerRelay.
type RelayOption func(*PlayerRelay)

// WithRelayQueue sets the number of messages buffered ahead of Run.
func WithRelayQueue(n int) RelayOption {
	return func(r *PlayerRelay) {
		if n > 0 {
			r.queue = make(chan relayItem, n)
		}
	}
}

// WithPublishTimeout bounds each bus publish.
func WithPublishTimeout(d time.Duration) RelayOption {
	return func(r *PlayerRelay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewPlayerRelay creates a PlayerRelay. Messages are published only while
// Run is active.
func NewPlayerRelay(bus domain.SignalBus, logger *slog.Logger, opts ...RelayOption) *PlayerRelay {
	r := &PlayerRelay{
		bus:     bus,
		queue:   make(chan relayItem, defaultRelayQueue),
		timeout: defaultRelayTimeout,
		logger:  logger.With(slog.String("component", "player_relay")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NotifyPlayer queues msg for PlayerChannel(playerID). It never blocks and
// returns domain.ErrQueueFull when the buffer is full.
func (r *PlayerRelay) NotifyPlayer(_ context.Context, playerID string, msg domain.PlayerMessage) error {
	payload, err := json.Marshal(PlayerEnvelope{PlayerID: playerID, Message: msg})
	if err != nil {
		return fmt.Errorf("notify: marshal player message: %w", err)
	}
	item := relayItem{channel: PlayerChannel(playerID), playerID: playerID, kind: msg.Kind, payload: payload}
	select {
	case r.queue <- item:
		return nil
	default:
		r.dropped.Add(1)
		return fmt.Errorf("notify: relay to %s: %w", playerID, domain.ErrQueueFull)
	}
}

// Run publishes queued messages until ctx is cancelled. Messages still
// queued at that point are discarded.
func (r *PlayerRelay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(r.queue); n > 0 {
				r.logger.Warn("player relay stopped with queued messages", slog.Int("dropped", n))
			}
			return ctx.Err()
		case item := <-r.queue:
			r.publish(ctx, item)
		}
	}
}

func (r *PlayerRelay) publish(ctx context.Context, item relayItem) {
	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.bus.Publish(pubCtx, item.channel, item.payload); err != nil {
		r.failed.Add(1)
		r.logger.Warn("player message relay failed",
			slog.String("player_id", item.playerID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Debug("player message relayed",
		slog.String("player_id", item.playerID),
		slog.String("kind", string(item.kind)),
	)
}

// Dropped returns how many messages were rejected for a full buffer.
func (r *PlayerRelay) Dropped() int64 { return r.dropped.Load() }

// Failed returns how many publishes returned an error.
func (r *PlayerRelay) Failed() int64 { return r.failed.Load() }

// Compile-time interface check.
var _ domain.PlayerMessenger = (*PlayerRelay)(nil)
