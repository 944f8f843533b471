package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/walletlink/internal/directory"
	"github.com/alanyoungcy/walletlink/internal/domain"
)

// PlayerTracker registers players and schedules their first refresh.
type PlayerTracker interface {
	Track(playerID, accountID string) (*directory.Entry, error)
}

// PlayerHandler serves the player session and balance endpoints.
type PlayerHandler struct {
	tracker   PlayerTracker
	directory *directory.Directory
	catalog   *directory.TokenCatalog
	logger    *slog.Logger
}

// NewPlayerHandler creates a PlayerHandler.
func NewPlayerHandler(tracker PlayerTracker, dir *directory.Directory, catalog *directory.TokenCatalog, logger *slog.Logger) *PlayerHandler {
	return &PlayerHandler{
		tracker:   tracker,
		directory: dir,
		catalog:   catalog,
		logger:    logHandler(logger, "players"),
	}
}

type registerRequest struct {
	PlayerID  string `json:"player_id"`
	AccountID string `json:"account_id"`
}

// Register attaches a player to a platform account.
// POST /api/players
func (h *PlayerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PlayerID) == "" || strings.TrimSpace(req.AccountID) == "" {
		writeError(w, http.StatusBadRequest, "player_id and account_id are required")
		return
	}

	e, err := h.tracker.Track(req.PlayerID, req.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"player_id":  e.PlayerID,
		"account_id": e.AccountID,
		"loaded":     e.Loaded(),
	})
}

// Unregister detaches a player when their session ends.
// DELETE /api/players/{id}
func (h *PlayerHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	if !h.directory.Unregister(pathParam(r, "id")) {
		writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Balance refreshes the player's wallet and returns the balance view. A
// failed refresh still returns the last known snapshot, marked stale.
// GET /api/players/{id}/balance
func (h *PlayerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	view, err := h.directory.Balance(r.Context(), id, h.catalog)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if view.Stale {
		h.logger.WarnContext(r.Context(), "serving stale balance", slog.String("player_id", id))
	}
	writeJSON(w, http.StatusOK, view)
}
