package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// EventSink accepts a notification event. dispatcher.Dispatcher satisfies it.
type EventSink interface {
	Handle(ctx context.Context, ev domain.NotificationEvent)
}

// EventHandler is the webhook transport for platform notifications.
type EventHandler struct {
	sink   EventSink
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(sink EventSink, logger *slog.Logger) *EventHandler {
	return &EventHandler{sink: sink, logger: logHandler(logger, "events")}
}

// Ingest decodes one event and hands it to the dispatcher. Classification
// happens there; a body that is not JSON is rejected here.
// POST /api/events
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var ev domain.NotificationEvent
	if err := decodeJSON(r, &ev); err != nil {
		h.logger.DebugContext(r.Context(), "rejected event body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.sink.Handle(context.WithoutCancel(r.Context()), ev)
	w.WriteHeader(http.StatusAccepted)
}
