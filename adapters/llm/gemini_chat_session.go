package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/bromscandium/BioGrow/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.4
	defaultTopP           = 0.9
	defaultTopK           = 40
	defaultMaxTokens      = 512
	defaultTimeoutSeconds = 30
	maxAttempts           = 3
)

// FarmAssistantPrompt is the system instruction of every chat session
const FarmAssistantPrompt = `You are a farm assistant speaking with a farmer through a voice interface.
Answer questions about crops, soil, irrigation, pests, livestock and weather in plain language.
Keep answers short enough to be read aloud: two or three sentences unless asked for detail.
If a question needs a local expert or a lab test, say so.`

var fallbackReplies = []string{
	"Sorry, I could not come up with an answer just now. Could you ask again?",
	"I did not catch that properly. Please repeat your question.",
}

// GeminiConfig holds configuration for the Gemini chat sessions
// Required fields:
// - APIKey: Google AI API key
// Optional fields with defaults:
// - Model: default "gemini-2.0-flash"
// - Temperature, TopP: between 0 and 1
// - TopK, MaxOutputTokens, TimeoutSeconds
// - SystemPrompt: default FarmAssistantPrompt
type GeminiConfig struct {
	APIKey          string  // Required
	Model           string  // Optional
	Temperature     float32 // Optional
	TopP            float32 // Optional
	TopK            float32 // Optional
	MaxOutputTokens int     // Optional
	TimeoutSeconds  int     // Optional
	SystemPrompt    string  // Optional
}

// contentGenerator is the part of the genai client used by a session
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiChatSession implements the ChatSession interface
type GeminiChatSession struct {
	models          contentGenerator
	logger          *zap.Logger
	model           string
	temperature     float32
	topP            float32
	topK            float32
	maxOutputTokens int
	timeoutSeconds  int
	systemPrompt    string
	retryDelay      time.Duration

	mu      sync.Mutex
	history []*genai.Content
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}

	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}

	if config.TopP != 0 && (config.TopP < 0 || config.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// NewGeminiChatSession creates a new chat session with config and history
func NewGeminiChatSession(client *genai.Client, config GeminiConfig, logger *zap.Logger, history []repositories.ChatMessage) (*GeminiChatSession, error) {
	if client == nil {
		return nil, fmt.Errorf("gemini client is required")
	}
	return newChatSession(client.Models, config, logger, history)
}

func newChatSession(models contentGenerator, config GeminiConfig, logger *zap.Logger, history []repositories.ChatMessage) (*GeminiChatSession, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Debug("Using default model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = float32(defaultTemperature)
	}

	topP := config.TopP
	if topP == 0 {
		topP = float32(defaultTopP)
	}

	topK := config.TopK
	if topK == 0 {
		topK = float32(defaultTopK)
	}

	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxTokens
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	systemPrompt := config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = FarmAssistantPrompt
	}

	return &GeminiChatSession{
		models:          models,
		logger:          logger,
		model:           model,
		temperature:     temperature,
		topP:            topP,
		topK:            topK,
		maxOutputTokens: maxOutputTokens,
		timeoutSeconds:  timeoutSeconds,
		systemPrompt:    systemPrompt,
		retryDelay:      time.Second,
		history:         convertRepositoryToGeminiFormat(history),
	}, nil
}

// SendMessage sends a message and gets a response, updating the history.
// When the model cannot answer a fallback reply is returned instead of an error.
func (s *GeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userContent := genai.NewContentFromText(message.Content, genai.RoleUser)
	contents := append(append([]*genai.Content(nil), s.history...), userContent)

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(s.systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(s.temperature),
		TopP:              genai.Ptr(s.topP),
		TopK:              genai.Ptr(s.topK),
		MaxOutputTokens:   int32(s.maxOutputTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSeconds)*time.Second)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = s.models.GenerateContent(ctx, s.model, contents, config)
		if err == nil {
			break
		}

		s.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				attempt = maxAttempts
			case <-time.After(time.Duration(attempt+1) * s.retryDelay):
			}
		}
	}

	if err != nil {
		s.logger.Error("Failed to send message in chat session", zap.Error(err))
		return s.fallback(userContent), nil
	}

	responseText := extractText(response)
	if responseText == "" {
		s.logger.Warn("Empty response in chat session")
		return s.fallback(userContent), nil
	}

	s.history = append(s.history, userContent, genai.NewContentFromText(responseText, genai.RoleModel))

	s.logger.Info("Chat session message processed",
		zap.String("user_message", preview(message.Content)),
		zap.String("response_preview", preview(responseText)),
		zap.Int("history_length", len(s.history)))

	return repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: responseText,
	}, nil
}

// History returns the current conversation history
func (s *GeminiChatSession) History() ([]repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return convertGeminiToRepositoryFormat(s.history), nil
}

func (s *GeminiChatSession) fallback(userContent *genai.Content) repositories.ChatMessage {
	text := fallbackReplies[len(s.history)/2%len(fallbackReplies)]
	s.history = append(s.history, userContent, genai.NewContentFromText(text, genai.RoleModel))
	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: text}
}

func extractText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text += part.Text
		}
	}
	return text
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > 50 {
		return string(runes[:50])
	}
	return text
}

// convertRepositoryToGeminiFormat converts repository messages to Gemini format
func convertRepositoryToGeminiFormat(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		var role genai.Role
		switch msg.Role {
		case repositories.AssistantRole:
			role = genai.RoleModel
		default:
			// system and user turns are both sent as user content
			role = genai.RoleUser
		}

		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return contents
}

// convertGeminiToRepositoryFormat converts Gemini content to repository messages
func convertGeminiToRepositoryFormat(contents []*genai.Content) []repositories.ChatMessage {
	var messages []repositories.ChatMessage

	for _, content := range contents {
		role := repositories.UserRole
		if content.Role == string(genai.RoleModel) {
			role = repositories.AssistantRole
		}

		var text string
		for _, part := range content.Parts {
			if part.Text != "" {
				text += part.Text
			}
		}

		if text != "" {
			messages = append(messages, repositories.ChatMessage{
				Role:    role,
				Content: text,
			})
		}
	}

	return messages
}
