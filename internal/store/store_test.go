package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-app/mindwell/internal/conversation"
	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/tools"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "mindwell.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(db))
	return New(db, log.NewNop())
}

func TestConversationCRUD(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "Morning pages")
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)

	got, err := s.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Morning pages", got.Title)

	require.NoError(t, s.RenameConversation(ctx, c.ID, "Evening pages"))
	got, err = s.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Evening pages", got.Title)

	list, err := s.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteConversation(ctx, c.ID))
	_, err = s.Conversation(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Conversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.RenameConversation(ctx, "missing", "x"), ErrNotFound)
	assert.ErrorIs(t, s.DeleteConversation(ctx, "missing"), ErrNotFound)
}

func TestPutMessage_InsertThenUpdate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	changes, cancel := s.Hub().Subscribe(c.ID)
	defer cancel()

	m := &Message{
		ConversationID: c.ID,
		Role:           conversation.RoleAssistant,
		Content:        "draft",
		ToolCalls: []conversation.ToolCall{
			{ID: "tc-1", Name: "read_document", Status: conversation.StatusComplete},
		},
	}
	require.NoError(t, s.PutMessage(ctx, m))
	require.NotEmpty(t, m.ID)

	ch := recvChange(t, changes)
	assert.Equal(t, ActionAdd, ch.Action)
	assert.Equal(t, "draft", ch.Message.Content)

	m.Content = "final"
	require.NoError(t, s.PutMessage(ctx, m))

	ch = recvChange(t, changes)
	assert.Equal(t, ActionUpdate, ch.Action)
	assert.Equal(t, "final", ch.Message.Content)

	msgs, err := s.Messages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "final", msgs[0].Content)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, conversation.StatusComplete, msgs[0].ToolCalls[0].Status)
}

func TestPutMessage_PreservesClientID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	m := &Message{ID: "client-assigned", ConversationID: c.ID, Role: conversation.RoleUser, Content: "hi"}
	require.NoError(t, s.PutMessage(ctx, m))

	msgs, err := s.Messages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "client-assigned", msgs[0].ID)
}

func TestDeleteMessage(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	m := &Message{ConversationID: c.ID, Role: conversation.RoleUser, Content: "hi"}
	require.NoError(t, s.PutMessage(ctx, m))

	changes, cancel := s.Hub().Subscribe(c.ID)
	defer cancel()

	require.NoError(t, s.DeleteMessage(ctx, c.ID, m.ID))
	ch := recvChange(t, changes)
	assert.Equal(t, ActionRemove, ch.Action)
	assert.Equal(t, m.ID, ch.Message.ID)

	msgs, err := s.Messages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSearchMessages(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	for _, content := range []string{
		"we talked about the garden project",
		"unrelated grocery list",
		"the garden needs watering on weekends",
	} {
		require.NoError(t, s.PutMessage(ctx, &Message{
			ConversationID: c.ID,
			Role:           conversation.RoleUser,
			Content:        content,
		}))
	}

	matches, err := s.SearchMessages(ctx, "garden", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Contains(t, m.Snippet, "garden")
		assert.Equal(t, c.ID, m.ConversationID)
	}

	matches, err = s.SearchMessages(ctx, "garden", 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSearchMessages_EscapesWildcards(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.PutMessage(ctx, &Message{
		ConversationID: c.ID, Role: conversation.RoleUser, Content: "plain text",
	}))

	matches, err := s.SearchMessages(ctx, "%", 10)
	require.NoError(t, err)
	assert.Empty(t, matches, "literal %% must not match everything")
}

func TestDocuments(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	d := &tools.Document{Title: "Journal", Content: "entries", PageCount: 12}
	require.NoError(t, s.SaveDocument(ctx, d))
	require.NotEmpty(t, d.ID)

	got, err := s.Document(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Journal", got.Title)
	assert.Equal(t, 12, got.PageCount)

	d.Content = "revised entries"
	require.NoError(t, s.SaveDocument(ctx, d))
	got, err = s.Document(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "revised entries", got.Content)

	_, err = s.Document(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFromMessage(t *testing.T) {
	t.Parallel()

	m := conversation.NewPlaceholder()
	m.Blocks = []conversation.ContentBlock{
		conversation.TextBlock("Checking "),
		conversation.ToolCallBlock("tc-1", "read_document"),
		conversation.TextBlock("done."),
	}

	rec := FromMessage("conv-1", m)
	assert.Equal(t, m.ID, rec.ID)
	assert.Equal(t, "Checking done.", rec.Content)
	require.Len(t, rec.ToolCalls, 1)
	assert.Equal(t, "tc-1", rec.ToolCalls[0].ID)
}

func TestHub_MultipleSubscribersAndIsolation(t *testing.T) {
	t.Parallel()

	h := NewHub(log.NewNop())

	a1, cancelA1 := h.Subscribe("a")
	defer cancelA1()
	a2, cancelA2 := h.Subscribe("a")
	defer cancelA2()
	b, cancelB := h.Subscribe("b")
	defer cancelB()

	h.Publish("a", Change{Action: ActionAdd, Message: Message{ID: "m1"}})

	assert.Equal(t, "m1", recvChange(t, a1).Message.ID)
	assert.Equal(t, "m1", recvChange(t, a2).Message.ID)
	select {
	case ch := <-b:
		t.Fatalf("subscriber for other conversation got %+v", ch)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(log.NewNop())
	ch, cancel := h.Subscribe("a")
	cancel()

	// Channel is closed; publishing afterwards must not panic.
	h.Publish("a", Change{Action: ActionAdd})
	_, open := <-ch
	assert.False(t, open)
}

func recvChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}
