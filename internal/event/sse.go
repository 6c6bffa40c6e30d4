package event

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxFrameSize bounds a single SSE frame line.
const maxFrameSize = 1 << 20

// Writer serializes events onto an SSE response stream.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets the streaming headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// Write encodes ev and writes it as one "data: <json>" frame, flushing
// immediately so clients see deltas as they happen.
func (w *Writer) Write(ctx context.Context, ev Event) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	payload, err := Marshal(ev)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// Reader decodes an SSE frame stream into typed events.
//
// Lines without the "data:" prefix (blank separators, comments) are
// ignored. Malformed frames and unknown event types are skipped rather
// than surfaced; a bad frame must not kill the stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a Reader over an SSE byte stream.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Reader{scanner: s}
}

// Next returns the next decoded event.
// It returns io.EOF when the underlying stream ends.
func (r *Reader) Next() (Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()

		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimPrefix(payload, " ")
		if payload == "" {
			continue
		}

		ev, err := Unmarshal([]byte(payload))
		if err != nil {
			// Decode errors are frame-local, not stream-fatal.
			continue
		}
		if ev.Type == TypeUnknown {
			continue
		}
		return ev, nil
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read frame: %w", err)
	}
	return Event{}, io.EOF
}
