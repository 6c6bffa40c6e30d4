package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Provider:   ProviderOllama,
		ModelName:  "llama3.3",
		OllamaHost: "http://localhost:11434",
		MaxTurns:   5,
		Addr:       "127.0.0.1:3600",
		DBPath:     "/tmp/mindwell-test.db",
		LogLevel:   "info",
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid ollama config", func(*Config) {}, nil},
		{"unknown provider", func(c *Config) { c.Provider = "anthropic" }, ErrInvalidProvider},
		{"empty model name", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"zero max turns", func(c *Config) { c.MaxTurns = 0 }, ErrInvalidMaxTurns},
		{"excessive max turns", func(c *Config) { c.MaxTurns = MaxAllowedTurns + 1 }, ErrInvalidMaxTurns},
		{"missing addr port", func(c *Config) { c.Addr = "localhost" }, ErrInvalidAddr},
		{"empty addr", func(c *Config) { c.Addr = "" }, ErrInvalidAddr},
		{"missing ollama host", func(c *Config) { c.OllamaHost = "" }, ErrInvalidProvider},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidate_GeminiRequiresAPIKey(t *testing.T) {
	// Not parallel: mutates process environment.
	t.Setenv("GEMINI_API_KEY", "")

	cfg := validConfig()
	cfg.Provider = ProviderGemini
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)

	t.Setenv("GEMINI_API_KEY", "test-key")
	assert.NoError(t, cfg.Validate())
}

func TestFullModelName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		model    string
		want     string
	}{
		{"gemini default", ProviderGemini, "gemini-2.5-flash", "googleai/gemini-2.5-flash"},
		{"ollama", ProviderOllama, "llama3.3", "ollama/llama3.3"},
		{"already qualified", ProviderGemini, "googleai/gemini-2.5-pro", "googleai/gemini-2.5-pro"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{Provider: tc.provider, ModelName: tc.model}
			assert.Equal(t, tc.want, cfg.FullModelName())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range tests {
		cfg := &Config{LogLevel: tc.in}
		assert.Equal(t, tc.want, cfg.SlogLevel(), "level %q", tc.in)
	}
}
