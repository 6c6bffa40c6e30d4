package api

import (
	"net/http"

	"github.com/mindwell-app/mindwell/internal/store"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store *store.Store
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(st *store.Store) *HealthHandler {
	return &HealthHandler{store: st}
}

// RegisterRoutes registers probe routes on the mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /ready", h.ready)
}

func (h *HealthHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready checks that the store answers queries.
func (h *HealthHandler) ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ListConversations(r.Context(), 1, 0); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
