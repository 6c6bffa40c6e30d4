package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   Event
	}{
		{"connected", Connected()},
		{"text", Text("hello world")},
		{"tool_call", ToolCall("call-1", "read_document")},
		{"file_reading", FileReading("reading", "Q3 Report", 12)},
		{"tool_result ok", ToolResult("call-1", false)},
		{"tool_result error", ToolResult("call-2", true)},
		{"final", Final("the settled answer")},
		{"end_of_stream", EndOfStream()},
		{"error", Errorf("model unavailable")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			raw, err := Marshal(tc.ev)
			require.NoError(t, err)

			got, err := Unmarshal(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.ev, got)
		})
	}
}

func TestMarshal_EnvelopeShape(t *testing.T) {
	t.Parallel()

	raw, err := Marshal(Text("hi"))
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.JSONEq(t, `"text"`, string(env["type"]))
	assert.JSONEq(t, `{"content":"hi"}`, string(env["data"]))
}

func TestUnmarshal_LegacyContentShape(t *testing.T) {
	t.Parallel()

	legacy, err := Unmarshal([]byte(`{"type":"content","content":"hello"}`))
	require.NoError(t, err)

	structured, err := Unmarshal([]byte(`{"type":"text","data":{"content":"hello"}}`))
	require.NoError(t, err)

	assert.Equal(t, structured, legacy, "legacy and structured shapes must decode identically")
	assert.Equal(t, TypeText, legacy.Type)
	assert.Equal(t, "hello", legacy.Content)
}

func TestUnmarshal_LegacyRootFields(t *testing.T) {
	t.Parallel()

	t.Run("root content on text", func(t *testing.T) {
		t.Parallel()

		ev, err := Unmarshal([]byte(`{"type":"text","content":"chunk"}`))
		require.NoError(t, err)
		assert.Equal(t, Text("chunk"), ev)
	})

	t.Run("root error", func(t *testing.T) {
		t.Parallel()

		ev, err := Unmarshal([]byte(`{"type":"error","error":"boom"}`))
		require.NoError(t, err)
		assert.Equal(t, Errorf("boom"), ev)
	})

	t.Run("legacy done normalizes to end_of_stream", func(t *testing.T) {
		t.Parallel()

		ev, err := Unmarshal([]byte(`{"type":"done"}`))
		require.NoError(t, err)
		assert.Equal(t, TypeEndOfStream, ev.Type)
	})
}

func TestUnmarshal_UnknownType(t *testing.T) {
	t.Parallel()

	ev, err := Unmarshal([]byte(`{"type":"telemetry","data":{"lag":3}}`))
	require.NoError(t, err, "unknown types must not abort the stream")
	assert.Equal(t, TypeUnknown, ev.Type)
}

func TestUnmarshal_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte(`{"type":"text","data":`))
	assert.Error(t, err)
}

func TestUnmarshal_Metadata(t *testing.T) {
	t.Parallel()

	ev, err := Unmarshal([]byte(`{"type":"text","data":{"content":"x"},"metadata":{"status":"ok","source":"orchestrator"}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Metadata)
	assert.Equal(t, "ok", ev.Metadata.Status)
	assert.Equal(t, "orchestrator", ev.Metadata.Source)
}

func TestEvent_Terminal(t *testing.T) {
	t.Parallel()

	assert.True(t, EndOfStream().Terminal())
	assert.True(t, Errorf("x").Terminal())
	assert.True(t, Event{Type: TypeDone}.Terminal())
	assert.False(t, Text("x").Terminal())
	assert.False(t, ToolCall("id", "n").Terminal())
	assert.False(t, Final("x").Terminal())
}
