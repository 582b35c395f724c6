package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config represents the complete farmvoice configuration
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Broker  BrokerConfig  `yaml:"broker"`
	Audio   AudioConfig   `yaml:"audio"`
	Logging LoggingConfig `yaml:"logging"`
}

// ClientConfig contains the console client endpoints and timings
type ClientConfig struct {
	CredentialURL        string `yaml:"credential_url"`
	NegotiationURL       string `yaml:"negotiation_url"`
	Model                string `yaml:"model"`
	TransportURL         string `yaml:"transport_url"`
	HTTPTimeoutMs        int    `yaml:"http_timeout_ms"`
	ChannelOpenTimeoutMs int    `yaml:"channel_open_timeout_ms"`
	ChunkIntervalMs      int    `yaml:"chunk_interval_ms"`
	SendQueueSize        int    `yaml:"send_queue_size"`
	MergePolicy          string `yaml:"merge_policy"`
	InputDevice          int    `yaml:"input_device"` // 0 selects the default input, n selects device n-1
}

// BrokerConfig contains the local broker server configuration
type BrokerConfig struct {
	Address      string    `yaml:"address"`
	SessionsURL  string    `yaml:"sessions_url"`
	Model        string    `yaml:"model"`
	Voice        string    `yaml:"voice"`
	OpenAIAPIKey string    `yaml:"openai_api_key"`
	GeminiAPIKey string    `yaml:"gemini_api_key"`
	GeminiModel  string    `yaml:"gemini_model"`
	STTProvider  string    `yaml:"stt_provider"`
	Language     string    `yaml:"language"`
	ArchiveDir   string    `yaml:"archive_dir"` // empty disables archiving
	VAD          VADConfig `yaml:"vad"`
}

// VADConfig contains the energy voice activity detector parameters
type VADConfig struct {
	Threshold        float64 `yaml:"threshold"`         // speech/background energy ratio
	BackgroundWindow int     `yaml:"background_window"` // chunks
	SilenceMs        int     `yaml:"silence_ms"`
}

// AudioConfig contains the PCM format used on the streaming transport
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given. The
// endpoints match the local broker started by `farmvoice broker`.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			CredentialURL:        "http://localhost:8000/session",
			NegotiationURL:       "https://api.openai.com/v1/realtime",
			Model:                "gpt-4o-realtime-preview-2024-12-17",
			TransportURL:         "ws://localhost:8000/ws",
			HTTPTimeoutMs:        15000,
			ChannelOpenTimeoutMs: 20000,
			ChunkIntervalMs:      100,
			SendQueueSize:        64,
			MergePolicy:          "separate",
		},
		Broker: BrokerConfig{
			Address:     ":8000",
			SessionsURL: "https://api.openai.com/v1/realtime/sessions",
			Model:       "gpt-4o-realtime-preview-2024-12-17",
			Voice:       "verse",
			GeminiModel: "gemini-2.0-flash",
			STTProvider: "google",
			Language:    "en-US",
			VAD: VADConfig{
				Threshold:        2.22,
				BackgroundWindow: 50,
				SilenceMs:        1000,
			},
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then .env and process environment overrides.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Broker.OpenAIAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Broker.GeminiAPIKey = v
	}
	if v := os.Getenv("FARMVOICE_BROKER_ADDRESS"); v != "" {
		c.Broker.Address = v
	}
	if v := os.Getenv("FARMVOICE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	if err := c.Broker.Validate(); err != nil {
		return fmt.Errorf("broker config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates client configuration
func (c *ClientConfig) Validate() error {
	if c.CredentialURL == "" {
		return fmt.Errorf("credential_url cannot be empty")
	}

	if c.NegotiationURL == "" {
		return fmt.Errorf("negotiation_url cannot be empty")
	}

	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if c.TransportURL == "" {
		return fmt.Errorf("transport_url cannot be empty")
	}

	if c.HTTPTimeoutMs < 1 {
		return fmt.Errorf("http_timeout_ms must be positive, got %d", c.HTTPTimeoutMs)
	}

	if c.ChannelOpenTimeoutMs < 1 {
		return fmt.Errorf("channel_open_timeout_ms must be positive, got %d", c.ChannelOpenTimeoutMs)
	}

	if c.ChunkIntervalMs < 10 || c.ChunkIntervalMs > 1000 {
		return fmt.Errorf("chunk_interval_ms must be between 10 and 1000, got %d", c.ChunkIntervalMs)
	}

	if c.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1, got %d", c.SendQueueSize)
	}

	if c.MergePolicy != "separate" && c.MergePolicy != "merged" {
		return fmt.Errorf("merge_policy must be 'separate' or 'merged', got '%s'", c.MergePolicy)
	}

	if c.InputDevice < 0 {
		return fmt.Errorf("input_device cannot be negative, got %d", c.InputDevice)
	}

	return nil
}

// Validate validates broker configuration. API keys are checked when the
// broker starts, so the console can run without them.
func (b *BrokerConfig) Validate() error {
	if b.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if b.SessionsURL == "" {
		return fmt.Errorf("sessions_url cannot be empty")
	}

	if b.Model == "" || b.Voice == "" {
		return fmt.Errorf("model and voice cannot be empty")
	}

	if b.STTProvider != "google" && b.STTProvider != "mock" {
		return fmt.Errorf("stt_provider must be 'google' or 'mock', got '%s'", b.STTProvider)
	}

	if b.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if err := b.VAD.Validate(); err != nil {
		return fmt.Errorf("vad: %w", err)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold <= 1 {
		return fmt.Errorf("threshold must be greater than 1, got %f", v.Threshold)
	}

	if v.BackgroundWindow < 1 {
		return fmt.Errorf("background_window must be at least 1, got %d", v.BackgroundWindow)
	}

	if v.SilenceMs < 1 {
		return fmt.Errorf("silence_ms must be positive, got %d", v.SilenceMs)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.SampleRate {
	case 8000, 16000, 24000, 44100, 48000:
	default:
		return fmt.Errorf("sample_rate %d is not supported", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	return nil
}

// GetHTTPTimeout returns the signaling HTTP timeout as a time.Duration
func (c *ClientConfig) GetHTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

// GetChannelOpenTimeout returns how long a negotiated session may wait for
// its control channel to open
func (c *ClientConfig) GetChannelOpenTimeout() time.Duration {
	return time.Duration(c.ChannelOpenTimeoutMs) * time.Millisecond
}

// GetChunkInterval returns the capture chunk interval as a time.Duration
func (c *ClientConfig) GetChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalMs) * time.Millisecond
}

// GetSilenceDuration returns the end-of-utterance silence as a time.Duration
func (v *VADConfig) GetSilenceDuration() time.Duration {
	return time.Duration(v.SilenceMs) * time.Millisecond
}

// NewLogger builds a zap logger from the logging configuration
func (l *LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}
