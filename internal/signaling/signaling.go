// Package signaling exchanges a local session offer for a remote answer
// using a short-lived credential from the local broker.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
)

const (
	defaultTimeout = 15 * time.Second

	// Upper bound on response bodies read from either endpoint.
	maxBodySize = 1 << 20
)

// Config holds configuration for the signaling Client
type Config struct {
	CredentialURL  string        // Required: local endpoint issuing ephemeral keys
	NegotiationURL string        // Required: remote endpoint accepting offers
	Model          string        // Required: sent as the model query parameter
	Timeout        time.Duration // Optional: per-request timeout
}

// Client performs the two-step negotiation. It never retries.
type Client struct {
	credentialURL  string
	negotiationURL string
	model          string
	httpClient     *http.Client
	logger         *zap.Logger
}

// ValidateConfig validates the signaling Config
func ValidateConfig(config Config) error {
	if config.CredentialURL == "" {
		return fmt.Errorf("credential URL is required")
	}
	if config.NegotiationURL == "" {
		return fmt.Errorf("negotiation URL is required")
	}
	if _, err := url.Parse(config.NegotiationURL); err != nil {
		return fmt.Errorf("invalid negotiation URL: %w", err)
	}
	if config.Model == "" {
		return fmt.Errorf("model is required")
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}
	return nil
}

// NewClient creates a signaling client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		credentialURL:  config.CredentialURL,
		negotiationURL: config.NegotiationURL,
		model:          config.Model,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}, nil
}

// FetchCredential obtains a fresh ephemeral key from the credential endpoint.
func (c *Client) FetchCredential(ctx context.Context) (domain.Credential, error) {
	fail := func(status int, err error) (domain.Credential, error) {
		return domain.Credential{}, &domain.CredentialFetchError{URL: c.credentialURL, StatusCode: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.credentialURL, nil)
	if err != nil {
		return fail(0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("failed to read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))))
	}

	var grant domain.SessionGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("failed to decode credential: %w", err))
	}
	if grant.ClientSecret.Value == "" {
		return fail(resp.StatusCode, errors.New("credential value is empty"))
	}

	c.logger.Debug("Credential fetched", zap.Int64("expiresAt", grant.ClientSecret.ExpiresAt))
	return grant.ClientSecret, nil
}

// Negotiate fetches a credential and posts the offer to the negotiation
// endpoint, returning the remote answer description.
func (c *Client) Negotiate(ctx context.Context, offer string) (string, error) {
	credential, err := c.FetchCredential(ctx)
	if err != nil {
		return "", err
	}

	endpoint, err := c.negotiationEndpoint()
	if err != nil {
		return "", &domain.NegotiationError{URL: c.negotiationURL, Err: err}
	}

	fail := func(status int, body string, err error) (string, error) {
		return "", &domain.NegotiationError{URL: c.negotiationURL, StatusCode: status, Body: body, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(offer))
	if err != nil {
		return fail(0, "", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential.Value)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail(resp.StatusCode, "", fmt.Errorf("failed to read answer: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, string(body), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		return fail(resp.StatusCode, "", errors.New("empty answer"))
	}

	c.logger.Info("Negotiation completed",
		zap.String("model", c.model),
		zap.Int("answerSize", len(answer)))

	return answer, nil
}

func (c *Client) negotiationEndpoint() (string, error) {
	u, err := url.Parse(c.negotiationURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", c.model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
