package event

import (
	"encoding/json"
	"fmt"
)

// envelope is the wire shape of one frame.
// Content and Error at the root support the legacy two-field shape.
type envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Metadata *Metadata       `json:"metadata,omitempty"`

	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type textData struct {
	Content string `json:"content"`
}

type toolCallData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type fileReadingData struct {
	Status    string `json:"status"`
	Title     string `json:"title,omitempty"`
	PageCount int    `json:"pageCount,omitempty"`
}

type toolResultData struct {
	ID      string `json:"id"`
	IsError bool   `json:"isError,omitempty"`
}

type finalData struct {
	Content string `json:"content,omitempty"`
}

type errorData struct {
	Message string `json:"message"`
}

// Marshal encodes an event into its JSON envelope.
func Marshal(ev Event) ([]byte, error) {
	env := envelope{Type: string(ev.Type), Metadata: ev.Metadata}

	var data any
	switch ev.Type {
	case TypeConnected, TypeEndOfStream, TypeDone:
		// No payload.
	case TypeText:
		data = textData{Content: ev.Content}
	case TypeToolCall:
		data = toolCallData{ID: ev.ID, Name: ev.Name}
	case TypeFileReading:
		data = fileReadingData{Status: ev.Status, Title: ev.Title, PageCount: ev.PageCount}
	case TypeToolResult:
		data = toolResultData{ID: ev.ID, IsError: ev.IsError}
	case TypeFinal:
		data = finalData{Content: ev.Content}
	case TypeError:
		data = errorData{Message: ev.Message}
	default:
		return nil, fmt.Errorf("marshal event: unsupported type %q", ev.Type)
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}
		env.Data = raw
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}
	return out, nil
}

// Unmarshal decodes a JSON envelope into a typed event.
//
// Unknown event types decode to an Event with TypeUnknown and a nil error:
// forward compatibility requires skipping them, not aborting the stream.
// Malformed JSON returns an error; callers skip the frame.
func Unmarshal(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Event{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}

	ev := Event{Metadata: env.Metadata}

	switch Type(env.Type) {
	case TypeConnected:
		ev.Type = TypeConnected

	case TypeText:
		ev.Type = TypeText
		if len(env.Data) > 0 {
			var d textData
			if err := json.Unmarshal(env.Data, &d); err != nil {
				return Event{}, fmt.Errorf("unmarshal text data: %w", err)
			}
			ev.Content = d.Content
		} else {
			// Legacy shape: content at the envelope root.
			ev.Content = env.Content
		}

	case TypeToolCall:
		ev.Type = TypeToolCall
		var d toolCallData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Event{}, fmt.Errorf("unmarshal tool_call data: %w", err)
		}
		ev.ID, ev.Name = d.ID, d.Name

	case TypeFileReading:
		ev.Type = TypeFileReading
		var d fileReadingData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Event{}, fmt.Errorf("unmarshal file_reading data: %w", err)
		}
		ev.Status, ev.Title, ev.PageCount = d.Status, d.Title, d.PageCount

	case TypeToolResult:
		ev.Type = TypeToolResult
		var d toolResultData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Event{}, fmt.Errorf("unmarshal tool_result data: %w", err)
		}
		ev.ID, ev.IsError = d.ID, d.IsError

	case TypeFinal:
		ev.Type = TypeFinal
		if len(env.Data) > 0 {
			var d finalData
			if err := json.Unmarshal(env.Data, &d); err != nil {
				return Event{}, fmt.Errorf("unmarshal final data: %w", err)
			}
			ev.Content = d.Content
		} else {
			ev.Content = env.Content
		}

	case TypeError:
		ev.Type = TypeError
		if len(env.Data) > 0 {
			var d errorData
			if err := json.Unmarshal(env.Data, &d); err != nil {
				return Event{}, fmt.Errorf("unmarshal error data: %w", err)
			}
			ev.Message = d.Message
		} else {
			ev.Message = env.Error
		}

	case TypeEndOfStream, TypeDone:
		// "done" is the legacy terminator; both normalize to end_of_stream.
		ev.Type = TypeEndOfStream

	case Type("content"):
		// Legacy text frame: { "type": "content", "content": "..." }.
		ev.Type = TypeText
		ev.Content = env.Content

	default:
		ev.Type = TypeUnknown
	}

	return ev, nil
}
