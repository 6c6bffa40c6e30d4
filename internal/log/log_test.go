package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter_TextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})

	logger.Debug("hello", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key=value")
}

func TestNewWithWriter_JSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{JSON: true})

	logger.Info("event", "count", 3)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"), "JSON output should start with {")
	assert.Contains(t, out, `"msg":"event"`)
	assert.Contains(t, out, `"count":3`)
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelWarn})

	logger.Info("suppressed")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "visible")
}

func TestNewNop_DiscardsOutput(t *testing.T) {
	t.Parallel()

	logger := NewNop()
	// Must not panic and must accept any level.
	logger.Debug("a")
	logger.Info("b")
	logger.Error("c")
}
