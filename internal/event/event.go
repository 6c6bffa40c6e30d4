// Package event defines the versioned wire contract between the stream
// session orchestrator and clients.
//
// Events travel as SSE frames: each frame is a single line beginning with
// "data: " followed by a JSON envelope, terminated by a blank line. The
// envelope carries a type tag, a type-specific data object, and optional
// metadata. A legacy envelope shape with root-level content/error fields
// (no data wrapper) decodes to the same typed events.
package event

// Type identifies the kind of stream event.
type Type string

const (
	// TypeConnected is emitted once when the stream opens.
	TypeConnected Type = "connected"

	// TypeText carries an incremental chunk of assistant prose.
	TypeText Type = "text"

	// TypeToolCall announces a model-requested tool invocation.
	TypeToolCall Type = "tool_call"

	// TypeFileReading carries progress metadata for an in-flight tool
	// invocation (status, document title, page count).
	TypeFileReading Type = "file_reading"

	// TypeToolResult reports the terminal outcome of a tool invocation.
	TypeToolResult Type = "tool_result"

	// TypeFinal optionally carries the settled full text before the
	// stream closes.
	TypeFinal Type = "final"

	// TypeEndOfStream terminates a successful stream.
	TypeEndOfStream Type = "end_of_stream"

	// TypeError terminates the stream with a session-fatal error.
	TypeError Type = "error"

	// TypeDone is the legacy terminator, equivalent to TypeEndOfStream.
	TypeDone Type = "done"

	// TypeUnknown marks an event of an unrecognized type. Decoders
	// produce it instead of failing so newer servers can add event
	// types without breaking older clients.
	TypeUnknown Type = ""
)

// Event is the decoded form of one stream frame. It is a flat struct with
// a type tag; only the fields relevant to the type are populated.
type Event struct {
	Type Type

	// Content is the text payload for TypeText and TypeFinal.
	Content string

	// ID is the invocation id for TypeToolCall and TypeToolResult.
	ID string

	// Name is the tool name for TypeToolCall.
	Name string

	// Status, Title and PageCount carry TypeFileReading progress.
	Status    string
	Title     string
	PageCount int

	// IsError marks a failed invocation on TypeToolResult.
	IsError bool

	// Message is the error description for TypeError.
	Message string

	// Metadata is the optional envelope metadata, passed through as-is.
	Metadata *Metadata
}

// Metadata is the optional envelope metadata block.
type Metadata struct {
	Status    string `json:"status,omitempty"`
	Source    string `json:"source,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case TypeEndOfStream, TypeDone, TypeError:
		return true
	default:
		return false
	}
}

// Connected returns a connection-established event.
func Connected() Event { return Event{Type: TypeConnected} }

// Text returns a text chunk event.
func Text(chunk string) Event { return Event{Type: TypeText, Content: chunk} }

// ToolCall returns a tool invocation announcement.
func ToolCall(id, name string) Event { return Event{Type: TypeToolCall, ID: id, Name: name} }

// FileReading returns a tool progress event.
func FileReading(status, title string, pageCount int) Event {
	return Event{Type: TypeFileReading, Status: status, Title: title, PageCount: pageCount}
}

// ToolResult returns a tool completion event.
func ToolResult(id string, isError bool) Event {
	return Event{Type: TypeToolResult, ID: id, IsError: isError}
}

// Final returns a settled-text event.
func Final(content string) Event { return Event{Type: TypeFinal, Content: content} }

// EndOfStream returns the stream terminator.
func EndOfStream() Event { return Event{Type: TypeEndOfStream} }

// Errorf returns a session-fatal error event.
func Errorf(message string) Event { return Event{Type: TypeError, Message: message} }
