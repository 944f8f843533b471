package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/walletlink/internal/domain"
	"github.com/alanyoungcy/walletlink/internal/ledger"
)

// TradeHandler exposes the trade ledger and the completed-trade archive.
type TradeHandler struct {
	ledger *ledger.Ledger
	store  domain.TradeStore // optional
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. store may be nil when no
// database is configured.
func NewTradeHandler(l *ledger.Ledger, store domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{ledger: l, store: store, logger: logHandler(logger, "trades")}
}

// tradeJSON is the wire shape of a PendingTrade.
type tradeJSON struct {
	RequestID   string `json:"request_id"`
	TradeID     string `json:"trade_id,omitempty"`
	State       string `json:"state"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toTradeJSON(t domain.PendingTrade) tradeJSON {
	out := tradeJSON{
		RequestID: t.RequestID,
		TradeID:   t.TradeID,
		State:     string(t.State),
		CreatedAt: t.CreatedAt.UTC().Format(timeLayout),
	}
	if !t.CompletedAt.IsZero() {
		out.CompletedAt = t.CompletedAt.UTC().Format(timeLayout)
	}
	return out
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func toTradesJSON(in []domain.PendingTrade) []tradeJSON {
	out := make([]tradeJSON, 0, len(in))
	for _, t := range in {
		out = append(out, toTradeJSON(t))
	}
	return out
}

// ListPending returns the trades currently awaiting completion.
// GET /api/trades
func (h *TradeHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toTradesJSON(h.ledger.Pending()))
}

type beginRequest struct {
	RequestID string `json:"request_id"`
	TradeID   string `json:"trade_id"`
}

// Begin records a trade the game has initiated.
// POST /api/trades
func (h *TradeHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RequestID) == "" {
		writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}
	t := h.ledger.BeginTrade(req.RequestID, req.TradeID)
	writeJSON(w, http.StatusCreated, toTradeJSON(t))
}

// Complete marks a trade completed. Completing an unknown request id is
// not an error: the trade may already have been completed.
// POST /api/trades/{request_id}/complete
func (h *TradeHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "request_id")
	t, ok := h.ledger.CompleteTrade(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "completed": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "completed": true, "trade": toTradeJSON(t)})
}

// History lists archived completed trades, newest first.
// GET /api/trades/history
func (h *TradeHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "trade archive is not configured")
		return
	}
	trades, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trade history failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradesJSON(trades))
}
