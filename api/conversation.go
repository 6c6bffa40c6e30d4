package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mindwell-app/mindwell/internal/conversation"
	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/store"
	"github.com/mindwell-app/mindwell/internal/tools"
)

// ConversationHandler serves conversation, message, and document routes.
type ConversationHandler struct {
	store  *store.Store
	logger log.Logger
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(st *store.Store, logger log.Logger) *ConversationHandler {
	return &ConversationHandler{store: st, logger: logger}
}

// RegisterRoutes registers persistence routes on the mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations", h.create)
	mux.HandleFunc("GET /api/conversations", h.list)
	mux.HandleFunc("GET /api/conversations/{id}", h.get)
	mux.HandleFunc("PATCH /api/conversations/{id}", h.rename)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.delete)

	mux.HandleFunc("GET /api/conversations/{id}/messages", h.listMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.putMessage)
	mux.HandleFunc("DELETE /api/conversations/{id}/messages/{messageID}", h.deleteMessage)

	mux.HandleFunc("POST /api/documents", h.putDocument)
	mux.HandleFunc("GET /api/documents/{id}", h.getDocument)
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *ConversationHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	c, err := h.store.CreateConversation(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("creating conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ConversationHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.store.ListConversations(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to list conversations")
		return
	}
	if list == nil {
		list = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (h *ConversationHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Conversation(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("fetching conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to fetch conversation")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConversationHandler) rename(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	err := h.store.RenameConversation(r.Context(), r.PathValue("id"), req.Title)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("renaming conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to rename conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteConversation(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("deleting conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.store.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("listing messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// putMessage commits one message record. Existing ids are updated, so a
// client retrying a commit is idempotent.
func (h *ConversationHandler) putMessage(w http.ResponseWriter, r *http.Request) {
	var msg store.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if msg.Role != conversation.RoleUser && msg.Role != conversation.RoleAssistant {
		writeError(w, http.StatusBadRequest, "invalid_request", "role must be user or assistant")
		return
	}
	msg.ConversationID = r.PathValue("id")

	if _, err := h.store.Conversation(r.Context(), msg.ConversationID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}

	if err := h.store.PutMessage(r.Context(), &msg); err != nil {
		h.logger.Error("committing message failed", "message_id", msg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to commit message")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ConversationHandler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteMessage(r.Context(), r.PathValue("id"), r.PathValue("messageID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "message not found")
		return
	}
	if err != nil {
		h.logger.Error("deleting message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) putDocument(w http.ResponseWriter, r *http.Request) {
	var doc tools.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if err := h.store.SaveDocument(r.Context(), &doc); err != nil {
		h.logger.Error("saving document failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to save document")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *ConversationHandler) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Document(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	if err != nil {
		h.logger.Error("fetching document failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to fetch document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
