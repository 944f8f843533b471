// Package ws streams player messages to connected game clients. A client
// connects with ?player=<id> and receives only that player's messages; a
// client without a player id receives every message.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/walletlink/internal/cache/redis"
	"github.com/alanyoungcy/walletlink/internal/domain"
	"github.com/alanyoungcy/walletlink/internal/notify"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64

	// playerPattern is the signal bus pattern carrying player messages.
	playerPattern = notify.PlayerChannelPrefix + "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	playerID string // empty receives all players
}

// delivery is one envelope addressed to a player.
type delivery struct {
	playerID string
	data     []byte
}

// Hub manages connected clients. It implements domain.PlayerMessenger for
// single-process deployments and, when a signal bus is set, forwards the
// player channels published by other processes.
type Hub struct {
	clients    map[*client]bool
	deliver    chan delivery
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus // optional
	done       chan struct{}
	mu         sync.RWMutex
	dropped    atomic.Int64
	logger     *slog.Logger
}

// NewHub creates a Hub. bus may be nil.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		deliver:    make(chan delivery, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// NotifyPlayer queues msg for the player's connections. It never blocks;
// when the hub is saturated the message is dropped.
func (h *Hub) NotifyPlayer(_ context.Context, playerID string, msg domain.PlayerMessage) error {
	data, err := json.Marshal(notify.PlayerEnvelope{PlayerID: playerID, Message: msg})
	if err != nil {
		return fmt.Errorf("ws: marshal: %w", err)
	}
	return h.enqueue(playerID, data)
}

func (h *Hub) enqueue(playerID string, data []byte) error {
	select {
	case h.deliver <- delivery{playerID: playerID, data: data}:
		return nil
	default:
		h.dropped.Add(1)
		return fmt.Errorf("ws: deliver to %s: %w", playerID, domain.ErrQueueFull)
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration and delivery, and exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil {
		go h.forwardBus(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.String("player_id", c.playerID),
				slog.Int("total_clients", h.ClientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected",
				slog.String("player_id", c.playerID),
				slog.Int("total_clients", h.ClientCount()),
			)

		case d := <-h.deliver:
			h.mu.RLock()
			for c := range h.clients {
				if c.playerID != "" && c.playerID != d.playerID {
					continue
				}
				select {
				case c.send <- d.data:
				default:
					h.dropped.Add(1)
					h.logger.Warn("dropping message for slow client",
						slog.String("player_id", d.playerID),
					)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forwardBus relays player envelopes published on the signal bus.
func (h *Hub) forwardBus(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, playerPattern)
	if err != nil {
		h.logger.Error("failed to subscribe to player channels",
			slog.String("pattern", playerPattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("subscribed to player channels", slog.String("pattern", playerPattern))

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgCh:
			if !ok {
				h.logger.Warn("player subscription closed")
				return
			}
			channel, data := redis.SplitPatternMessage(raw)
			playerID, ok := notify.PlayerIDFromChannel(channel)
			if !ok || !json.Valid(data) {
				h.logger.Debug("ignoring bus message",
					slog.String("channel", channel),
					slog.Int("bytes", len(data)),
				)
				continue
			}
			if err := h.enqueue(playerID, data); err != nil {
				h.logger.Warn("bus message dropped", slog.String("error", err.Error()))
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws?player=<id>
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		playerID: strings.TrimSpace(r.URL.Query().Get("player")),
	}

	c.sendHello()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded for full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// readPump drains the connection so control frames are processed. Clients
// do not send application messages.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// sendHello confirms the subscription so clients can mark the connection
// healthy before any message arrives.
func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type":      "hello",
		"player_id": c.playerID,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames and sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Compile-time interface check.
var _ domain.PlayerMessenger = (*Hub)(nil)
