package enjin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/walletlink/internal/crypto"
	"github.com/alanyoungcy/walletlink/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// defaultActivityTimeout applies until the server announces its own.
	defaultActivityTimeout = 120 * time.Second

	// maxReconnectInterval caps the exponential backoff for reconnection.
	maxReconnectInterval = 60 * time.Second
)

// Protocol event names.
const (
	evConnectionEstablished = "pusher:connection_established"
	evError                 = "pusher:error"
	evPing                  = "pusher:ping"
	evPong                  = "pusher:pong"
	evSubscribe             = "pusher:subscribe"
	evSubscribed            = "pusher_internal:subscription_succeeded"
)

// platformEvents maps the platform's event class names to notification
// types. Names are matched after stripping any namespace prefix.
var platformEvents = map[string]domain.EventType{
	"TransactionExecuted": domain.EventTxExecuted,
	"TxExecuted":          domain.EventTxExecuted,
	"IdentityLinked":      domain.EventIdentityLinked,
}

// EventHandler consumes decoded notifications. It is called on the stream's
// read goroutine and must not block.
type EventHandler func(ctx context.Context, ev domain.NotificationEvent)

// StreamConfig configures a Stream.
type StreamConfig struct {
	// URL is the full websocket endpoint including the app key, e.g.
	// "wss://ws-us2.pusher.com/app/<key>?protocol=7&client=walletlink".
	URL      string
	Channels []string
	// Auth signs private channel subscriptions; nil when all channels are
	// public.
	Auth                 *crypto.ChannelAuth
	MaxReconnectInterval time.Duration
}

// Stream holds the push notification connection open, resubscribing after
// every reconnect, and hands each event to the handler.
type Stream struct {
	cfg     StreamConfig
	handler EventHandler
	dialer  websocket.Dialer
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
	socketID  string
}

// NewStream creates a Stream. Nothing is dialled until Run.
func NewStream(cfg StreamConfig, handler EventHandler, logger *slog.Logger) *Stream {
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = maxReconnectInterval
	}
	return &Stream{
		cfg:     cfg,
		handler: handler,
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:  logger.With(slog.String("component", "enjin_stream")),
	}
}

// Connected reports whether a session is currently open.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Run connects and keeps reconnecting with exponential backoff until ctx is
// cancelled.
func (s *Stream) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = s.cfg.MaxReconnectInterval

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			s.logger.Warn("stream dial failed", slog.String("error", err.Error()))
		} else {
			s.logger.Info("stream connected")
			err = s.session(ctx, conn, bo)
			s.setConnected(false, "")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("stream disconnected", slog.String("error", err.Error()))
		}

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = s.cfg.MaxReconnectInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (ss *session) write(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ss.conn.WriteMessage(websocket.TextMessage, data)
}

// outFrame is a client-to-server frame; unlike server frames its data is a
// JSON object rather than an encoded string.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (s *Stream) session(ctx context.Context, conn *websocket.Conn, bo *backoff.ExponentialBackOff) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	ss := &session{conn: conn}
	timeout := defaultActivityTimeout
	for {
		conn.SetReadDeadline(time.Now().Add(timeout + writeWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("enjin/stream: read: %w: %v", domain.ErrWSDisconnect, err)
		}

		var frame pusherFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.logger.Debug("undecodable frame dropped", slog.String("error", err.Error()))
			continue
		}

		switch frame.Event {
		case evConnectionEstablished:
			var est connectionEstablished
			if err := json.Unmarshal([]byte(frame.Data), &est); err != nil {
				return fmt.Errorf("enjin/stream: connection established: %w", err)
			}
			if est.ActivityTimeout > 0 {
				timeout = time.Duration(est.ActivityTimeout) * time.Second
			}
			s.setConnected(true, est.SocketID)
			bo.Reset()
			if err := s.subscribeAll(ss, est.SocketID); err != nil {
				return err
			}

		case evPing:
			if err := ss.write(outFrame{Event: evPong, Data: struct{}{}}); err != nil {
				return fmt.Errorf("enjin/stream: pong: %w", err)
			}

		case evPong:

		case evSubscribed:
			s.logger.Info("subscribed", slog.String("channel", frame.Channel))

		case evError:
			s.logger.Warn("stream error frame", slog.String("data", frame.Data))

		default:
			if frame.Channel == "" || strings.HasPrefix(frame.Event, "pusher") {
				continue
			}
			ev, err := DecodeEvent(frame.Event, frame.Channel, []byte(frame.Data))
			if err != nil {
				s.logger.Debug("event dropped",
					slog.String("event", frame.Event),
					slog.String("channel", frame.Channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.handler(ctx, ev)
		}
	}
}

func (s *Stream) subscribeAll(ss *session, socketID string) error {
	for _, ch := range s.cfg.Channels {
		sub := subscribeData{Channel: ch}
		if crypto.IsPrivate(ch) {
			if s.cfg.Auth == nil {
				return fmt.Errorf("enjin/stream: subscribe %s: %w", ch, domain.ErrUnauthorized)
			}
			sub.Auth = s.cfg.Auth.Sign(socketID, ch)
		}
		if err := ss.write(outFrame{Event: evSubscribe, Data: sub}); err != nil {
			return fmt.Errorf("enjin/stream: subscribe %s: %w", ch, err)
		}
	}
	return nil
}

func (s *Stream) setConnected(ok bool, socketID string) {
	s.mu.Lock()
	s.connected = ok
	s.socketID = socketID
	s.mu.Unlock()
}

// DecodeEvent converts a platform notification frame into a
// NotificationEvent. name is the frame's event name; data is the decoded
// JSON payload. Unknown event names are passed through for the dispatcher
// to ignore.
func DecodeEvent(name, channel string, data []byte) (domain.NotificationEvent, error) {
	var p eventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.NotificationEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	typ := eventTypeFor(name)
	params := []string{string(p.Data.Param1), string(p.Data.Param2), string(p.Data.Param3), string(p.Data.Param4)}
	for len(params) > 0 && params[len(params)-1] == "" {
		params = params[:len(params)-1]
	}

	return domain.NotificationEvent{
		Type:    typ,
		Channel: channel,
		Subtype: p.EventType,
		Data: domain.EventData{
			ID:            string(p.Data.ID),
			TransactionID: string(p.Data.TransactionID),
			Params:        params,
		},
	}, nil
}

func eventTypeFor(name string) domain.EventType {
	short := name
	if i := strings.LastIndexAny(name, `\.`); i >= 0 {
		short = name[i+1:]
	}
	if t, ok := platformEvents[short]; ok {
		return t
	}
	return domain.ParseEventType(short)
}

// ErrNoChannels is returned by ValidateStreamConfig when nothing would be
// subscribed.
var ErrNoChannels = errors.New("enjin/stream: no channels configured")

// ValidateStreamConfig checks cfg before Run.
func ValidateStreamConfig(cfg StreamConfig) error {
	if cfg.URL == "" {
		return errors.New("enjin/stream: url is required")
	}
	if len(cfg.Channels) == 0 {
		return ErrNoChannels
	}
	return nil
}
