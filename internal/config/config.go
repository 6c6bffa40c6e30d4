// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.mindwell/config.yaml)
//  3. Default values
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidMaxTurns indicates the max turns value is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidAddr indicates the listen address is malformed.
	ErrInvalidAddr = errors.New("invalid listen address")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// MaxAllowedTurns bounds the agentic tool-call loop to prevent runaway
// model/tool cycles.
const MaxAllowedTurns = 16

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`
	ModelName string `mapstructure:"model_name" json:"model_name"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Conversation loop configuration
	MaxTurns int `mapstructure:"max_turns" json:"max_turns"`

	// HTTP server configuration
	Addr string `mapstructure:"addr" json:"addr"`

	// Storage configuration
	DBPath string `mapstructure:"db_path" json:"db_path"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".mindwell")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("max_turns", 5)
	v.SetDefault("addr", "127.0.0.1:3600")
	v.SetDefault("db_path", filepath.Join(configDir, "mindwell.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variable overrides explicitly.
// GEMINI_API_KEY is read directly by the Genkit plugin, not via Viper;
// Validate() only checks its presence for the gemini provider.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "MINDWELL_PROVIDER")
	mustBind("model_name", "MINDWELL_MODEL_NAME")
	mustBind("ollama_host", "MINDWELL_OLLAMA_HOST")
	mustBind("addr", "MINDWELL_ADDR")
	mustBind("db_path", "MINDWELL_DB_PATH")
	mustBind("log_level", "MINDWELL_LOG_LEVEL")
}

// Validate checks configuration values, fail-fast on startup.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host is required for provider ollama", ErrInvalidProvider)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.MaxTurns <= 0 || c.MaxTurns > MaxAllowedTurns {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidMaxTurns, c.MaxTurns, MaxAllowedTurns)
	}
	if c.Addr == "" || !strings.Contains(c.Addr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, c.Addr)
	}
	return nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == ProviderOllama {
		return ProviderOllama + "/" + c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// SlogLevel converts the configured log level string to a slog.Level.
// Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
