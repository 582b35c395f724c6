package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/bromscandium/BioGrow/domain/repositories"
)

// MockLLM answers every message with a canned farm tip. It is used when no
// Gemini API key is configured.
type MockLLM struct{}

var _ repositories.LargeLanguageModel = MockLLM{}

// NewMockLLM creates a new mock language model
func NewMockLLM() MockLLM {
	return MockLLM{}
}

// GenerateChat implements repositories.LargeLanguageModel
func (MockLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &MockChatSession{history: append([]repositories.ChatMessage(nil), history...)}, nil
}

// MockChatSession implements repositories.ChatSession
type MockChatSession struct {
	mu      sync.Mutex
	history []repositories.ChatMessage
}

// SendMessage implements repositories.ChatSession
func (m *MockChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, message)

	var response string
	switch {
	case message.Content != "":
		response = fmt.Sprintf("You asked about %q. Check soil moisture before watering and keep notes on what you try.", message.Content)
	default:
		response = "Hello! Ask me anything about your crops or animals."
	}

	reply := repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: response,
	}
	m.history = append(m.history, reply)

	return reply, nil
}

// History implements repositories.ChatSession
func (m *MockChatSession) History() ([]repositories.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repositories.ChatMessage(nil), m.history...), nil
}
