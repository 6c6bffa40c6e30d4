// Package client consumes the server's event stream, assembles content
// blocks for the in-progress assistant message, and reconciles the result
// with the durable store's push feed.
package client

import (
	"github.com/mindwell-app/mindwell/internal/conversation"
	"github.com/mindwell-app/mindwell/internal/event"
)

// Assembler folds decoded events, in arrival order, into the placeholder
// message's block list. Tool events are routed to their blocks by
// invocation id through an index map, never by position, so interleaved
// invocations resolve unambiguously.
//
// Not safe for concurrent use; one goroutine owns the assembler for the
// lifetime of the stream.
type Assembler struct {
	msg *conversation.Message

	// index maps invocation id to block index.
	index map[string]int

	// activeID routes progress frames, which carry no id on the wire, to
	// the invocation they belong to.
	activeID string

	done      bool
	discarded bool
	errMsg    string
}

// NewAssembler wraps the streaming placeholder message.
func NewAssembler(msg *conversation.Message) *Assembler {
	return &Assembler{
		msg:   msg,
		index: make(map[string]int),
	}
}

// Message returns the message under assembly.
func (a *Assembler) Message() *conversation.Message {
	return a.msg
}

// Done reports whether a terminal event has been applied.
func (a *Assembler) Done() bool { return a.done }

// Discarded reports whether the placeholder ended with no content and
// should be removed rather than committed.
func (a *Assembler) Discarded() bool { return a.discarded }

// Err returns the session error message, if the stream ended with one.
func (a *Assembler) Err() string { return a.errMsg }

// Apply folds one event into the block list. Events after a terminal
// event are ignored.
func (a *Assembler) Apply(ev event.Event) {
	if a.done {
		return
	}

	switch ev.Type {
	case event.TypeText:
		a.appendText(ev.Content)

	case event.TypeToolCall:
		if _, exists := a.index[ev.ID]; exists {
			return
		}
		a.msg.Blocks = append(a.msg.Blocks, conversation.ToolCallBlock(ev.ID, ev.Name))
		a.index[ev.ID] = len(a.msg.Blocks) - 1
		a.activeID = ev.ID

	case event.TypeFileReading:
		tc := a.lookup(a.activeID)
		if tc == nil {
			return
		}
		// Terminal statuses are final; late progress is dropped.
		if err := tc.Transition(conversation.StatusProcessing); err != nil {
			return
		}
		if ev.Title != "" {
			tc.Title = ev.Title
		}
		if ev.PageCount > 0 {
			tc.PageCount = ev.PageCount
		}

	case event.TypeToolResult:
		tc := a.lookup(ev.ID)
		if tc == nil {
			return
		}
		to := conversation.StatusComplete
		if ev.IsError {
			to = conversation.StatusError
		}
		if err := tc.Transition(to); err != nil {
			return
		}
		if a.activeID == ev.ID {
			a.activeID = ""
		}

	case event.TypeFinal:
		a.applyFinal(ev.Content)

	case event.TypeEndOfStream:
		a.finalize()

	case event.TypeError:
		a.errMsg = ev.Message
		if a.msg.Empty() {
			a.discarded = true
		} else {
			a.msg.IsStreaming = false
		}
		a.done = true

	case event.TypeConnected, event.TypeUnknown:
		// No-op.
	}
}

// Finish handles a stream that closed without a terminal event: non-empty
// content finalizes as an implicit end of stream, empty content discards
// the placeholder.
func (a *Assembler) Finish() {
	if a.done {
		return
	}
	a.finalize()
}

func (a *Assembler) finalize() {
	if a.msg.Empty() {
		a.discarded = true
	} else {
		a.msg.IsStreaming = false
	}
	a.done = true
}

// appendText coalesces into a trailing text block so no two adjacent
// blocks are both text.
func (a *Assembler) appendText(chunk string) {
	if chunk == "" {
		return
	}
	if n := len(a.msg.Blocks); n > 0 && a.msg.Blocks[n-1].Kind == conversation.KindText {
		a.msg.Blocks[n-1].Text += chunk
		return
	}
	a.msg.Blocks = append(a.msg.Blocks, conversation.TextBlock(chunk))
}

// applyFinal treats settled text as authoritative for the trailing
// narrative run. Earlier text and tool blocks are kept; only the prose
// after them is replaced or extended.
func (a *Assembler) applyFinal(settled string) {
	if settled == "" {
		return
	}

	// Drop the trailing text run, if any.
	trimmed := a.msg.Blocks
	if n := len(trimmed); n > 0 && trimmed[n-1].Kind == conversation.KindText {
		trimmed = trimmed[:n-1]
	}

	prefix := textOf(trimmed)
	switch {
	case len(settled) >= len(prefix) && settled[:len(prefix)] == prefix:
		a.msg.Blocks = trimmed
		if tail := settled[len(prefix):]; tail != "" {
			a.appendText(tail)
		}
	case len(a.index) == 0:
		// No tool blocks: the settled text wholly replaces assembly.
		a.msg.Blocks = []conversation.ContentBlock{conversation.TextBlock(settled)}
	default:
		// Settled text disagrees with text interleaved around tool
		// blocks; keep the assembled view rather than corrupt order.
	}
}

func (a *Assembler) lookup(id string) *conversation.ToolCall {
	if id == "" {
		return nil
	}
	idx, ok := a.index[id]
	if !ok {
		return nil
	}
	return a.msg.Blocks[idx].ToolCall
}

func textOf(blocks []conversation.ContentBlock) string {
	var s string
	for _, b := range blocks {
		if b.Kind == conversation.KindText {
			s += b.Text
		}
	}
	return s
}
