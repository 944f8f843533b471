package handler

import (
	"net/http"

	"github.com/alanyoungcy/walletlink/internal/dispatcher"
	"github.com/alanyoungcy/walletlink/internal/scheduler"
)

// MessageStats counts player messages lost before reaching a client.
type MessageStats struct {
	WSDropped    int64 `json:"ws_dropped"`
	RelayDropped int64 `json:"relay_dropped"`
	RelayFailed  int64 `json:"relay_failed"`
}

// StatusSources supplies the counters reported by GET /api/status.
type StatusSources struct {
	Dispatcher func() dispatcher.Stats
	Scheduler  func() scheduler.Stats
	Pending    func() int
	Players    func() int
	Messages   func() MessageStats
}

// StatusHandler serves engine counters for operators.
type StatusHandler struct {
	src StatusSources
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(src StatusSources) *StatusHandler {
	return &StatusHandler{src: src}
}

// GetStatus responds with dispatcher, scheduler and ledger counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if h.src.Dispatcher != nil {
		body["events"] = h.src.Dispatcher()
	}
	if h.src.Scheduler != nil {
		body["jobs"] = h.src.Scheduler()
	}
	if h.src.Pending != nil {
		body["pending_trades"] = h.src.Pending()
	}
	if h.src.Players != nil {
		body["players"] = h.src.Players()
	}
	if h.src.Messages != nil {
		body["messages"] = h.src.Messages()
	}
	writeJSON(w, http.StatusOK, body)
}
