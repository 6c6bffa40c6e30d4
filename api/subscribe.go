package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/store"
)

// SubscribeHandler bridges the store's change hub to websocket clients,
// giving remote devices the push-subscription feed the reconciler
// consumes.
type SubscribeHandler struct {
	hub    *store.Hub
	logger log.Logger
}

// NewSubscribeHandler creates a SubscribeHandler.
func NewSubscribeHandler(hub *store.Hub, logger log.Logger) *SubscribeHandler {
	return &SubscribeHandler{hub: hub, logger: logger}
}

// RegisterRoutes registers the subscription route on the mux.
func (h *SubscribeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations/{id}/subscribe", h.subscribe)
}

// subscribe upgrades to a websocket and forwards every committed change
// for the conversation as one JSON text frame until the client leaves.
func (h *SubscribeHandler) subscribe(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "conversation_id", conversationID, "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "closing") }()

	// Write-only connection: CloseRead surfaces client disconnect
	// through context cancellation.
	ctx := conn.CloseRead(r.Context())

	changes, cancel := h.hub.Subscribe(conversationID)
	defer cancel()

	h.logger.Debug("subscriber connected", "conversation_id", conversationID)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "client closed")
			return
		case change, ok := <-changes:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "hub closed")
				return
			}
			if err := h.writeChange(ctx, conn, change); err != nil {
				h.logger.Debug("subscriber write failed",
					"conversation_id", conversationID, "error", err)
				return
			}
		}
	}
}

func (h *SubscribeHandler) writeChange(ctx context.Context, conn *websocket.Conn, change store.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
