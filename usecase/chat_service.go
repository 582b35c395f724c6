package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain/repositories"
	"github.com/bromscandium/BioGrow/internal/metrics"
)

// ChatService produces assistant replies for transcribed utterances
type ChatService struct {
	llm     repositories.LargeLanguageModel
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(llm repositories.LargeLanguageModel, metrics *metrics.Metrics, logger *zap.Logger) *ChatService {
	return &ChatService{llm: llm, metrics: metrics, logger: logger}
}

// StartChat opens a chat session with no history. Each streaming
// connection owns one.
func (s *ChatService) StartChat(ctx context.Context) (repositories.ChatSession, error) {
	session, err := s.llm.GenerateChat(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat session: %w", err)
	}
	return session, nil
}

// Reply sends text as a user message and returns the assistant's answer
func (s *ChatService) Reply(ctx context.Context, session repositories.ChatSession, text string) (string, error) {
	response, err := session.SendMessage(ctx, repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: text,
	})
	if err != nil {
		s.metrics.RecordChat(false)
		return "", fmt.Errorf("failed to get chat response: %w", err)
	}
	s.metrics.RecordChat(true)

	s.logger.Info("Received chat response",
		zap.Int("promptLength", len(text)),
		zap.Int("responseLength", len(response.Content)))
	return response.Content, nil
}
