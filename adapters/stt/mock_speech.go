package stt

import (
	"context"

	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain/repositories"
)

// MockSpeechToText returns a transcript chosen by the amount of audio
// received. It is used when no Cloud Speech credentials are available.
type MockSpeechToText struct {
	logger *zap.Logger
}

// MockSpeechToTextStream is a mock implementation of streaming speech recognition
type MockSpeechToTextStream struct {
	logger *zap.Logger
	bytes  int
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockSpeechToTextStream{logger: s.logger}, nil
}

// Stream counts the received audio
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.bytes += len(data)
	return nil
}

// End returns a transcript based on the cumulative audio size
func (m *MockSpeechToTextStream) End() (string, error) {
	if m.bytes == 0 {
		return "", ErrNoAudio
	}

	var transcription string
	switch {
	case m.bytes > 64000:
		transcription = "My tomato leaves are turning yellow from the bottom, what should I do?"
	case m.bytes > 16000:
		transcription = "When should I plant maize?"
	default:
		transcription = "Hello"
	}

	m.logger.Info("Ending mock transcription stream",
		zap.Int("bytes", m.bytes),
		zap.String("result", transcription))
	return transcription, nil
}
