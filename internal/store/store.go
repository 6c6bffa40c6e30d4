package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindwell-app/mindwell/internal/conversation"
	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/tools"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is one persisted conversation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one persisted turn. Content holds the flattened prose;
// tool calls are kept separately with their settled statuses.
type Message struct {
	ID             string                  `json:"id"`
	ConversationID string                  `json:"conversationId"`
	Role           conversation.Role       `json:"role"`
	Content        string                  `json:"content"`
	ToolCalls      []conversation.ToolCall `json:"toolCalls,omitempty"`
	Type           string                  `json:"type,omitempty"`
	Attachments    json.RawMessage         `json:"attachments,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

// FromMessage flattens an assembled in-memory message into its persisted
// form. The message id is preserved so clients keep local identity across
// the echo.
func FromMessage(conversationID string, m *conversation.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: conversationID,
		Role:           m.Role,
		Content:        m.Text(),
		ToolCalls:      m.ToolCalls(),
		Type:           m.Type,
		Attachments:    m.Attachments,
	}
}

// Store provides conversation persistence over SQLite and publishes
// committed changes to hub subscribers. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	hub    *Hub
	logger log.Logger
}

// New creates a Store.
func New(db *sql.DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		db:     db,
		hub:    NewHub(logger),
		logger: logger,
	}
}

// Hub exposes the change-subscription hub.
func (s *Store) Hub() *Hub {
	return s.hub
}

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	c := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	return c, nil
}

// Conversation fetches one conversation by id.
func (s *Store) Conversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns conversations newest first.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations
		 ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RenameConversation updates a conversation's title.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	return requireAffected(res, id)
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return requireAffected(res, id)
}

// Messages returns a conversation's messages oldest first.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, type, attachments, created_at, updated_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutMessage commits a message: insert when new, update when the id
// already exists. Subscribers are notified only after the write has
// succeeded, so pushes never precede durability.
func (s *Store) PutMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("encoding tool calls: %w", err)
	}

	now := time.Now().UTC()
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id = ?)`, m.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking message existence: %w", err)
	}

	if exists {
		m.UpdatedAt = now
		_, err = s.db.ExecContext(ctx,
			`UPDATE messages SET content = ?, tool_calls = ?, type = ?, attachments = ?, updated_at = ?
			 WHERE id = ?`,
			m.Content, string(toolCalls), m.Type, nullableJSON(m.Attachments), m.UpdatedAt, m.ID)
		if err != nil {
			return fmt.Errorf("updating message: %w", err)
		}
		s.touchConversation(ctx, m.ConversationID, now)
		s.hub.Publish(m.ConversationID, Change{Action: ActionUpdate, Message: *m})
		return nil
	}

	m.CreatedAt = now
	m.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, type, attachments, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, string(toolCalls),
		m.Type, nullableJSON(m.Attachments), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	s.touchConversation(ctx, m.ConversationID, now)
	s.hub.Publish(m.ConversationID, Change{Action: ActionAdd, Message: *m})
	return nil
}

// DeleteMessage removes one message and notifies subscribers.
func (s *Store) DeleteMessage(ctx context.Context, conversationID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ? AND conversation_id = ?`, id, conversationID)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	s.hub.Publish(conversationID, Change{Action: ActionRemove, Message: Message{ID: id, ConversationID: conversationID}})
	return nil
}

// SearchMessages finds committed messages containing the query text.
// Implements the tools.MessageSearcher interface.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]tools.SearchMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, role, content FROM messages
		 WHERE content LIKE ? ESCAPE '\' ORDER BY updated_at DESC LIMIT ?`,
		"%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var out []tools.SearchMatch
	for rows.Next() {
		var m tools.SearchMatch
		var content string
		if err := rows.Scan(&m.ConversationID, &m.Role, &content); err != nil {
			return nil, fmt.Errorf("scanning search match: %w", err)
		}
		m.Snippet = snippet(content, query)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Document fetches one document. Implements tools.DocumentSource.
func (s *Store) Document(ctx context.Context, id string) (*tools.Document, error) {
	var d tools.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, page_count FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.Title, &d.Content, &d.PageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &d, nil
}

// SaveDocument inserts or replaces a document.
func (s *Store) SaveDocument(ctx context.Context, d *tools.Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, page_count) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content, page_count = excluded.page_count`,
		d.ID, d.Title, d.Content, d.PageCount)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

func (s *Store) touchConversation(ctx context.Context, id string, at time.Time) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, at, id); err != nil {
		s.logger.Warn("touching conversation failed", "conversation_id", id, "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m           Message
		role        string
		toolCalls   string
		attachments sql.NullString
	)
	err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &toolCalls,
		&m.Type, &attachments, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("scanning message: %w", err)
	}
	m.Role = conversation.Role(role)
	if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
		return Message{}, fmt.Errorf("decoding tool calls: %w", err)
	}
	if attachments.Valid && attachments.String != "" {
		m.Attachments = json.RawMessage(attachments.String)
	}
	return m, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet returns the query match with up to 60 characters of context on
// each side, falling back to the content head when there is no match.
func snippet(content, query string) string {
	const radius = 60
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 {
		if len(content) > 2*radius {
			return content[:2*radius]
		}
		return content
	}
	start := max(idx-radius, 0)
	end := min(idx+len(query)+radius, len(content))
	return content[start:end]
}
