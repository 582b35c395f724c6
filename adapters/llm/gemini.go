package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/bromscandium/BioGrow/domain/repositories"
)

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiLLM{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// GenerateChat creates a chat session with history
func (g *GeminiLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return NewGeminiChatSession(g.client, g.config, g.logger, history)
}
