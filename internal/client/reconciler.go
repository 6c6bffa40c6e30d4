package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mindwell-app/mindwell/internal/conversation"
	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/store"
)

// Committer persists a finalized message.
type Committer interface {
	PutMessage(ctx context.Context, m *store.Message) error
}

// owner is the single-writer token over the in-memory message list.
type owner int

const (
	// ownerListener: push-subscription snapshots are authoritative.
	ownerListener owner = iota
	// ownerStream: a turn is streaming; snapshots are suppressed.
	ownerStream
)

const (
	commitAttempts = 3
	commitBackoff  = 250 * time.Millisecond
)

// Reconciler owns one conversation's visible message list. While a turn
// streams, the stream task is the sole writer and push snapshots are
// suppressed; once the turn is committed, ownership passes back to the
// listener and the latest suppressed snapshot is applied.
type Reconciler struct {
	conversationID string
	committer      Committer
	logger         log.Logger

	mu       sync.Mutex
	owner    owner
	messages []*conversation.Message

	// pending is the newest snapshot that arrived during suppression.
	pending    []store.Message
	hasPending bool
}

// NewReconciler creates a Reconciler for one conversation.
func NewReconciler(conversationID string, committer Committer, logger log.Logger) *Reconciler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Reconciler{
		conversationID: conversationID,
		committer:      committer,
		logger:         logger,
	}
}

// Messages returns the visible message list.
func (r *Reconciler) Messages() []*conversation.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*conversation.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// BeginTurn appends the optimistic user message and the streaming
// placeholder, and takes write ownership from the listener.
func (r *Reconciler) BeginTurn(userText string) (user, placeholder *conversation.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user = conversation.NewUserMessage(userText)
	placeholder = conversation.NewPlaceholder()
	r.messages = append(r.messages, user, placeholder)
	r.owner = ownerStream
	return user, placeholder
}

// ApplySnapshot feeds one push-subscription snapshot of the
// conversation's message list. During the suppression window the
// snapshot is stashed, not applied; the newest stashed snapshot is
// replayed when ownership returns to the listener.
func (r *Reconciler) ApplySnapshot(snapshot []store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner == ownerStream {
		r.pending = snapshot
		r.hasPending = true
		return
	}
	r.merge(snapshot)
}

// Finalize commits the assembled message and then clears its streaming
// flag. The write happens first: a commit failure leaves the message
// streaming and ownership with the stream task, so the suppression rule
// cannot let a stale snapshot overwrite a half-committed turn. The
// caller may retry by calling Finalize again.
func (r *Reconciler) Finalize(ctx context.Context, msg *conversation.Message) error {
	rec := store.FromMessage(r.conversationID, msg)

	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		if err = r.committer.PutMessage(ctx, &rec); err == nil {
			break
		}
		r.logger.Warn("commit failed",
			"conversation_id", r.conversationID,
			"message_id", msg.ID,
			"attempt", attempt,
			"error", err)
		if attempt < commitAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("commit canceled: %w", ctx.Err())
			case <-time.After(commitBackoff * time.Duration(attempt)):
			}
		}
	}
	if err != nil {
		return fmt.Errorf("committing message %s: %w", msg.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	msg.IsStreaming = false
	r.releaseToListener()
	return nil
}

// Discard removes the placeholder (empty or failed turn) and returns
// ownership to the listener.
func (r *Reconciler) Discard(msg *conversation.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.messages {
		if m == msg {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			break
		}
	}
	r.releaseToListener()
}

// EndTurnWithError keeps the partially assembled content visible, marks
// it non-streaming, and returns ownership to the listener.
func (r *Reconciler) EndTurnWithError(msg *conversation.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg.IsStreaming = false
	r.releaseToListener()
}

// releaseToListener hands write ownership back and replays the newest
// suppressed snapshot. Caller holds r.mu.
func (r *Reconciler) releaseToListener() {
	r.owner = ownerListener
	if r.hasPending {
		snapshot := r.pending
		r.pending = nil
		r.hasPending = false
		r.merge(snapshot)
	}
}

// merge applies a snapshot position by position. Where a local message
// already matches the snapshot's role and flattened content, the local
// object is kept so its identity survives the server echo; otherwise the
// snapshot's message is adopted. Caller holds r.mu.
func (r *Reconciler) merge(snapshot []store.Message) {
	next := make([]*conversation.Message, 0, len(snapshot))
	for i, rec := range snapshot {
		if i < len(r.messages) {
			local := r.messages[i]
			if local.Role == rec.Role && local.Text() == rec.Content {
				next = append(next, local)
				continue
			}
		}
		next = append(next, fromRecord(rec))
	}
	r.messages = next
}

// fromRecord rebuilds an in-memory message from its persisted form. The
// flattened shape cannot restore exact interleaving, so tool-call blocks
// precede the prose.
func fromRecord(rec store.Message) *conversation.Message {
	m := &conversation.Message{
		ID:          rec.ID,
		Role:        rec.Role,
		Type:        rec.Type,
		Attachments: rec.Attachments,
	}
	for i := range rec.ToolCalls {
		tc := rec.ToolCalls[i]
		m.Blocks = append(m.Blocks, conversation.ContentBlock{
			Kind:     conversation.KindToolCall,
			ToolCall: &tc,
		})
	}
	if rec.Content != "" {
		m.Blocks = append(m.Blocks, conversation.TextBlock(rec.Content))
	}
	return m
}
