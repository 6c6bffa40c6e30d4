package api

import (
	"encoding/json"
	"net/http"

	"github.com/mindwell-app/mindwell/internal/event"
	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/orchestrator"
)

// maxChatBodyBytes bounds the inbound history payload.
const maxChatBodyBytes = 1 << 20

// ChatRequest opens one stream session.
type ChatRequest struct {
	ConversationID string        `json:"conversationId"`
	ContextID      string        `json:"contextId,omitempty"`
	History        []HistoryTurn `json:"history"`
}

// HistoryTurn is one role-tagged history entry.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	orch   *orchestrator.Orchestrator
	logger log.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(orch *orchestrator.Orchestrator, logger log.Logger) *ChatHandler {
	return &ChatHandler{orch: orch, logger: logger}
}

// RegisterRoutes registers chat routes on the mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/stream", h.stream)
	mux.HandleFunc("POST /api/chat/{conversationID}/cancel", h.cancel)
}

// stream runs one turn and relays its events as SSE frames. The response
// stays open until the session emits a terminal event or the client goes
// away; client disconnect cancels the session via the request context.
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "conversationId is required")
		return
	}
	if len(req.History) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "history must not be empty")
		return
	}

	history := make([]orchestrator.Turn, 0, len(req.History))
	for _, t := range req.History {
		switch t.Role {
		case orchestrator.RoleUser, orchestrator.RoleAssistant:
			history = append(history, orchestrator.Turn{Role: t.Role, Content: t.Content})
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "history roles must be user or assistant")
			return
		}
	}

	sw, err := event.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	ctx := r.Context()
	events := h.orch.Stream(ctx, orchestrator.Request{
		ConversationID: req.ConversationID,
		ContextID:      req.ContextID,
		History:        history,
	})

	for ev := range events {
		if err := sw.Write(ctx, ev); err != nil {
			h.logger.Debug("stream write failed, client gone",
				"conversation_id", req.ConversationID, "error", err)
			h.orch.CancelConversation(req.ConversationID)
			// Drain so the session goroutine can exit.
			for range events {
			}
			return
		}
	}
}

// cancel aborts the in-flight session for a conversation.
func (h *ChatHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("conversationID")
	h.orch.CancelConversation(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}
