// Package testutil provides shared test helpers.
package testutil

import (
	"bufio"
	"strings"
	"testing"

	"github.com/mindwell-app/mindwell/internal/event"
)

// ParseSSEFrames extracts the data payload of every frame in an SSE
// response body. Blank separator lines and ":" comments are ignored.
func ParseSSEFrames(t *testing.T, body string) []string {
	t.Helper()

	var frames []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			if line != "" && !strings.HasPrefix(line, ":") {
				t.Fatalf("unexpected SSE line: %q", line)
			}
			continue
		}
		frames = append(frames, strings.TrimPrefix(payload, " "))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("SSE scan error: %v", err)
	}
	return frames
}

// DecodeEvents parses an SSE body into typed events, failing the test on
// any malformed frame.
func DecodeEvents(t *testing.T, body string) []event.Event {
	t.Helper()

	var events []event.Event
	for _, frame := range ParseSSEFrames(t, body) {
		ev, err := event.Unmarshal([]byte(frame))
		if err != nil {
			t.Fatalf("decoding frame %q: %v", frame, err)
		}
		events = append(events, ev)
	}
	return events
}

// EventTypes projects the type of each event, for order assertions.
func EventTypes(events []event.Event) []event.Type {
	types := make([]event.Type, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
