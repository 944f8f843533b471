package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const backendCheckTimeout = 2 * time.Second

// BackendCheck reports whether one storage backend is reachable.
type BackendCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	startedAt time.Time
	connected func() bool
	backends  []BackendCheck
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. connected reports the state of
// the notification source and may be nil when there is none.
func NewHealthHandler(connected func() bool, backends []BackendCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{startedAt: time.Now(), connected: connected, backends: backends, logger: logger}
}

// HealthCheck reports liveness plus the state of the event stream and every
// configured backend. Any failure marks the service degraded.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	body := map[string]any{
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.connected != nil {
		up := h.connected()
		body["stream_connected"] = up
		if !up {
			status = "degraded"
		}
	}

	if len(h.backends) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), backendCheckTimeout)
		defer cancel()
		backends := make(map[string]string, len(h.backends))
		for _, b := range h.backends {
			if err := b.Check(ctx); err != nil {
				h.logger.WarnContext(ctx, "backend unhealthy",
					slog.String("backend", b.Name),
					slog.String("error", err.Error()),
				)
				backends[b.Name] = err.Error()
				status = "degraded"
				continue
			}
			backends[b.Name] = "ok"
		}
		body["backends"] = backends
	}

	body["status"] = status
	writeJSON(w, http.StatusOK, body)
}
