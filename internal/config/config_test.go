package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:     "empty credential url",
			mutate:   func(c *Config) { c.Client.CredentialURL = "" },
			errorMsg: "credential_url",
		},
		{
			name:     "chunk interval too small",
			mutate:   func(c *Config) { c.Client.ChunkIntervalMs = 1 },
			errorMsg: "chunk_interval_ms",
		},
		{
			name:     "unknown merge policy",
			mutate:   func(c *Config) { c.Client.MergePolicy = "interleaved" },
			errorMsg: "merge_policy",
		},
		{
			name:     "unknown stt provider",
			mutate:   func(c *Config) { c.Broker.STTProvider = "whisper" },
			errorMsg: "stt_provider",
		},
		{
			name:     "vad threshold below one",
			mutate:   func(c *Config) { c.Broker.VAD.Threshold = 0.5 },
			errorMsg: "threshold",
		},
		{
			name:     "stereo audio",
			mutate:   func(c *Config) { c.Audio.Channels = 2 },
			errorMsg: "channels",
		},
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.Logging.Level = "loud" },
			errorMsg: "level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Expected validation error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "farmvoice.yaml")

	configContent := `
client:
  chunk_interval_ms: 250
  merge_policy: merged
broker:
  address: ":9000"
  vad:
    silence_ms: 700
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("FARMVOICE_BROKER_ADDRESS", "")
	t.Setenv("FARMVOICE_LOG_LEVEL", "")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Client.GetChunkInterval() != 250*time.Millisecond {
		t.Errorf("Expected chunk interval 250ms, got %v", config.Client.GetChunkInterval())
	}
	if config.Client.MergePolicy != "merged" {
		t.Errorf("Expected merge policy merged, got %s", config.Client.MergePolicy)
	}
	if config.Broker.Address != ":9000" {
		t.Errorf("Expected address :9000, got %s", config.Broker.Address)
	}
	if config.Broker.VAD.GetSilenceDuration() != 700*time.Millisecond {
		t.Errorf("Expected silence 700ms, got %v", config.Broker.VAD.GetSilenceDuration())
	}
	// untouched fields keep their defaults
	if config.Broker.Voice != "verse" {
		t.Errorf("Expected default voice verse, got %s", config.Broker.Voice)
	}
	if config.Broker.OpenAIAPIKey != "sk-test" {
		t.Errorf("Expected API key from environment, got %q", config.Broker.OpenAIAPIKey)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gm-test")
	t.Setenv("FARMVOICE_BROKER_ADDRESS", "127.0.0.1:8100")
	t.Setenv("FARMVOICE_LOG_LEVEL", "warn")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Broker.GeminiAPIKey != "gm-test" {
		t.Errorf("Expected gemini key gm-test, got %q", config.Broker.GeminiAPIKey)
	}
	if config.Broker.Address != "127.0.0.1:8100" {
		t.Errorf("Expected address override, got %s", config.Broker.Address)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", config.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestNewLogger(t *testing.T) {
	l := LoggingConfig{Level: "debug", Development: true}
	logger, err := l.NewLogger()
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Error("Expected debug level to be enabled")
	}
}
