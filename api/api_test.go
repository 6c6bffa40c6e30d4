package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-app/mindwell/internal/conversation"
	"github.com/mindwell-app/mindwell/internal/event"
	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/orchestrator"
	"github.com/mindwell-app/mindwell/internal/store"
	"github.com/mindwell-app/mindwell/internal/testutil"
	"github.com/mindwell-app/mindwell/internal/tools"
)

// stubCompleter returns a fixed streamed response for every call.
type stubCompleter struct {
	chunks []string
	text   string
}

func (s stubCompleter) Complete(ctx context.Context, _ []orchestrator.Turn, _ []tools.Definition, stream orchestrator.StreamFunc) (*orchestrator.Response, error) {
	for _, chunk := range s.chunks {
		if err := stream(ctx, chunk); err != nil {
			return nil, err
		}
	}
	return &orchestrator.Response{Text: s.text}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "mindwell.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))

	st := store.New(db, log.NewNop())

	orch, err := orchestrator.New(orchestrator.Config{
		Completer: stubCompleter{chunks: []string{"Hello", " there"}, text: "Hello there"},
		Executor:  tools.NewExecutor(log.NewNop()),
		Logger:    log.NewNop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(st, orch, log.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestChatStream(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/chat/stream", ChatRequest{
		ConversationID: "conv-1",
		History:        []HistoryTurn{{Role: "user", Content: "hi"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	events := testutil.DecodeEvents(t, string(body))
	assert.Equal(t, []event.Type{
		event.TypeConnected,
		event.TypeText, event.TypeText,
		event.TypeFinal,
		event.TypeEndOfStream,
	}, testutil.EventTypes(events))
	assert.Equal(t, "Hello there", events[3].Content)
}

func TestChatStream_Validation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		req  ChatRequest
	}{
		{"missing conversation id", ChatRequest{History: []HistoryTurn{{Role: "user", Content: "x"}}}},
		{"empty history", ChatRequest{ConversationID: "c"}},
		{"bad role", ChatRequest{ConversationID: "c", History: []HistoryTurn{{Role: "system", Content: "x"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp := postJSON(t, srv.URL+"/api/chat/stream", tc.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestConversationLifecycle(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/conversations", map[string]string{"title": "First"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created store.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	get, err := http.Get(srv.URL + "/api/conversations/" + created.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)

	patch, err := http.NewRequest(http.MethodPatch, srv.URL+"/api/conversations/"+created.ID,
		strings.NewReader(`{"title":"Renamed"}`))
	require.NoError(t, err)
	patchResp, err := http.DefaultClient.Do(patch)
	require.NoError(t, err)
	defer patchResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, patchResp.StatusCode)

	list, err := http.Get(srv.URL + "/api/conversations")
	require.NoError(t, err)
	defer list.Body.Close()
	var listBody struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&listBody))
	require.Len(t, listBody.Conversations, 1)
	assert.Equal(t, "Renamed", listBody.Conversations[0].Title)

	del, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/conversations/"+created.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	missing, err := http.Get(srv.URL + "/api/conversations/" + created.ID)
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMessageCommitIsIdempotent(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/conversations", map[string]string{})
	var conv store.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))

	msg := store.Message{
		ID:      "client-1",
		Role:    conversation.RoleAssistant,
		Content: "Hi done",
		ToolCalls: []conversation.ToolCall{
			{ID: "t1", Name: "search", Status: conversation.StatusComplete},
		},
	}
	commit := postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", msg)
	require.Equal(t, http.StatusOK, commit.StatusCode)

	// Retry of the same commit updates rather than duplicates.
	retry := postJSON(t, srv.URL+"/api/conversations/"+conv.ID+"/messages", msg)
	require.Equal(t, http.StatusOK, retry.StatusCode)

	list, err := http.Get(srv.URL + "/api/conversations/" + conv.ID + "/messages")
	require.NoError(t, err)
	defer list.Body.Close()
	var listBody struct {
		Messages []store.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&listBody))
	require.Len(t, listBody.Messages, 1)
	assert.Equal(t, "Hi done", listBody.Messages[0].Content)
	require.Len(t, listBody.Messages[0].ToolCalls, 1)
	assert.Equal(t, conversation.StatusComplete, listBody.Messages[0].ToolCalls[0].Status)
}

func TestMessageCommit_UnknownConversation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/conversations/missing/messages", store.Message{
		Role: conversation.RoleUser, Content: "hi",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocuments(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/documents", tools.Document{
		Title: "Journal", Content: "entries", PageCount: 3,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var doc tools.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.NotEmpty(t, doc.ID)

	get, err := http.Get(srv.URL + "/api/documents/" + doc.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	var fetched tools.Document
	require.NoError(t, json.NewDecoder(get.Body).Decode(&fetched))
	assert.Equal(t, "Journal", fetched.Title)
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestSubscribeWebsocket(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/api/conversations/%s/subscribe", conv.ID)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	// Give the server loop a moment to register the subscription.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, st.PutMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           conversation.RoleUser,
		Content:        "from another device",
	}))

	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)

	var change store.Change
	require.NoError(t, json.Unmarshal(payload, &change))
	assert.Equal(t, store.ActionAdd, change.Action)
	assert.Equal(t, "from another device", change.Message.Content)
}
