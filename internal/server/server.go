// Package server exposes the engine over HTTP: operator status, the player
// session hooks, the trade ledger, a webhook transport for platform events
// and the player message websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/walletlink/internal/server/handler"
	"github.com/alanyoungcy/walletlink/internal/server/middleware"
	"github.com/alanyoungcy/walletlink/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string  // if empty, authentication is disabled
	RateLimit   float64 // requests per second per client, 0 disables
	RateBurst   int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Events may be nil to disable the webhook transport.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Players *handler.PlayerHandler
	Trades  *handler.TradeHandler
	Events  *handler.EventHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limit, auth, logging, CORS) and attaches the
// WebSocket hub when one is given.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "server"))}
}

// Routes builds the routed and wrapped handler.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("POST /api/players", handlers.Players.Register)
	mux.HandleFunc("DELETE /api/players/{id}", handlers.Players.Unregister)
	mux.HandleFunc("GET /api/players/{id}/balance", handlers.Players.Balance)

	mux.HandleFunc("GET /api/trades", handlers.Trades.ListPending)
	mux.HandleFunc("GET /api/trades/history", handlers.Trades.History)
	mux.HandleFunc("POST /api/trades", handlers.Trades.Begin)
	mux.HandleFunc("POST /api/trades/{request_id}/complete", handlers.Trades.Complete)

	if handlers.Events != nil {
		mux.HandleFunc("POST /api/events", handlers.Events.Ingest)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(cfg.RateLimit, cfg.RateBurst, 10*time.Minute)(h)
	h = middleware.Logging(logger, "/api/health")(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
