package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain/repositories"
)

const (
	defaultSessionsURL = "https://api.openai.com/v1/realtime/sessions"
	defaultModel       = "gpt-4o-realtime-preview-2024-12-17"
	defaultVoice       = "verse"
	defaultTimeout     = 15 * time.Second
	maxResponseBytes   = 1 << 20
)

// SessionsConfig holds configuration for the SessionsClient adapter
// Required fields:
// - APIKey: the upstream API key, never sent to the client
// Optional fields with defaults:
// - SessionsURL: upstream session endpoint (default: OpenAI realtime sessions)
// - Model: realtime model (default: "gpt-4o-realtime-preview-2024-12-17")
// - Voice: assistant voice (default: "verse")
// - Timeout: upstream request timeout (default: 15s)
type SessionsConfig struct {
	APIKey      string        // Required
	SessionsURL string        // Optional
	Model       string        // Optional
	Voice       string        // Optional
	Timeout     time.Duration // Optional
	HTTPClient  *http.Client  // Optional
}

// UpstreamError is returned when the upstream answers with a non-200 status.
// The broker passes the status through to the client.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream session request failed with status %d: %s", e.StatusCode, e.Body)
}

// SessionsClient mints ephemeral realtime sessions
type SessionsClient struct {
	apiKey      string
	sessionsURL string
	model       string
	voice       string
	httpClient  *http.Client
	logger      *zap.Logger
}

var _ repositories.SessionMinter = (*SessionsClient)(nil)

type sessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
}

// ValidateSessionsConfig validates the SessionsConfig
func ValidateSessionsConfig(config SessionsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("realtime API key is required")
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %v", config.Timeout)
	}
	return nil
}

// NewSessionsClient creates a new session minter
func NewSessionsClient(config SessionsConfig, logger *zap.Logger) (*SessionsClient, error) {
	if err := ValidateSessionsConfig(config); err != nil {
		return nil, err
	}

	sessionsURL := config.SessionsURL
	if sessionsURL == "" {
		sessionsURL = defaultSessionsURL
		logger.Info("Using default sessions URL", zap.String("sessionsURL", sessionsURL))
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	voice := config.Voice
	if voice == "" {
		voice = defaultVoice
		logger.Info("Using default voice", zap.String("voice", voice))
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &SessionsClient{
		apiKey:      config.APIKey,
		sessionsURL: sessionsURL,
		model:       model,
		voice:       voice,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// MintSession asks the upstream for a new session and returns its JSON body
// unchanged.
func (c *SessionsClient) MintSession(ctx context.Context) (json.RawMessage, error) {
	payload, err := json.Marshal(sessionRequest{Model: c.model, Voice: c.voice})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionsURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Session request failed", zap.Error(err))
		return nil, fmt.Errorf("failed to send session request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Upstream rejected session request",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream returned invalid JSON")
	}

	c.logger.Info("Realtime session minted", zap.String("model", c.model))
	return json.RawMessage(body), nil
}
