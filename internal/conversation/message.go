// Package conversation defines the message and content-block model shared
// by the server orchestrator, the client assembler, and the durable store.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolStatus is the lifecycle state of a tool invocation.
//
// The machine is calling → processing* → (complete | error). Terminal
// states are final: no further transitions are accepted.
type ToolStatus string

const (
	StatusCalling    ToolStatus = "calling"
	StatusProcessing ToolStatus = "processing"
	StatusComplete   ToolStatus = "complete"
	StatusError      ToolStatus = "error"
)

// ErrTerminalStatus is returned when transitioning out of a terminal state.
var ErrTerminalStatus = errors.New("tool call already in terminal status")

// Terminal reports whether the status is final.
func (s ToolStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// ToolCall is a tool invocation and its live status within a message.
type ToolCall struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    ToolStatus `json:"status"`
	Title     string     `json:"title,omitempty"`
	PageCount int        `json:"pageCount,omitempty"`
}

// Transition moves the call to a new status, enforcing terminal finality.
func (tc *ToolCall) Transition(to ToolStatus) error {
	if tc.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s on %s", ErrTerminalStatus, tc.Status, to, tc.ID)
	}
	tc.Status = to
	return nil
}

// BlockKind discriminates the ContentBlock union.
type BlockKind int

const (
	// KindText is a run of prose.
	KindText BlockKind = iota
	// KindToolCall is a tool invocation's live status.
	KindToolCall
)

// ContentBlock is one unit of an assistant message: either a run of text
// or a tool invocation. Exactly one variant is populated per Kind.
//
// Block order is append-only during assembly and semantically significant:
// it is the rendering and reading order. Two adjacent KindText blocks are
// forbidden as a final invariant; assembly coalesces them.
type ContentBlock struct {
	Kind     BlockKind
	Text     string
	ToolCall *ToolCall
}

// TextBlock returns a prose block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: KindText, Text: text}
}

// ToolCallBlock returns a block wrapping a fresh tool invocation in the
// calling state.
func ToolCallBlock(id, name string) ContentBlock {
	return ContentBlock{Kind: KindToolCall, ToolCall: &ToolCall{ID: id, Name: name, Status: StatusCalling}}
}

// Message is one turn in a conversation.
type Message struct {
	// ID is locally stable: assigned client-side for optimistic turns and
	// preserved across the server echo.
	ID   string
	Role Role

	// Blocks is the ordered heterogeneous content of the message.
	Blocks []ContentBlock

	// IsStreaming is true while the message is still being assembled.
	// At most one message per conversation has this set.
	IsStreaming bool

	// Type and Attachments are opaque pass-through fields; the streaming
	// core never interprets them.
	Type        string
	Attachments json.RawMessage
}

// NewUserMessage returns a completed user turn holding a single text block.
func NewUserMessage(text string) *Message {
	return &Message{
		ID:     uuid.NewString(),
		Role:   RoleUser,
		Blocks: []ContentBlock{TextBlock(text)},
	}
}

// NewPlaceholder returns the optimistic assistant message created the
// instant a turn begins. It is upgraded in place as stream events arrive.
func NewPlaceholder() *Message {
	return &Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		IsStreaming: true,
	}
}

// Text flattens the message prose: all text blocks concatenated in order,
// tool-call blocks skipped.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Kind == KindText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolCalls extracts the flattened tool-call list in block order.
func (m *Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Blocks {
		if b.Kind == KindToolCall && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

// Empty reports whether the message accumulated no content at all.
func (m *Message) Empty() bool {
	return len(m.Blocks) == 0
}

// FindToolCall returns the tool call with the given invocation id, or nil.
// Routing is by id, never by position, so interleaved invocations resolve
// unambiguously.
func (m *Message) FindToolCall(id string) *ToolCall {
	for _, b := range m.Blocks {
		if b.Kind == KindToolCall && b.ToolCall != nil && b.ToolCall.ID == id {
			return b.ToolCall
		}
	}
	return nil
}
