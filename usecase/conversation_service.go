package usecase

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain/repositories"
	"github.com/bromscandium/BioGrow/internal/metrics"
)

// ConversationConfig describes the audio arriving on the streaming endpoint
type ConversationConfig struct {
	SampleRate int
	Language   string
}

// ConversationService turns utterances into transcripts
type ConversationService struct {
	stt     repositories.SpeechToText
	archive repositories.UtteranceArchive // Optional
	config  ConversationConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewConversationService creates a new conversation service. archive may be
// nil.
func NewConversationService(
	stt repositories.SpeechToText,
	archive repositories.UtteranceArchive,
	config ConversationConfig,
	metrics *metrics.Metrics,
	logger *zap.Logger,
) (*ConversationService, error) {
	if stt == nil {
		return nil, fmt.Errorf("speech-to-text is required")
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.Language == "" {
		config.Language = "en-US"
		logger.Info("Using default language", zap.String("language", config.Language))
	}
	return &ConversationService{
		stt:     stt,
		archive: archive,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Turn is one utterance being streamed to speech recognition
type Turn struct {
	connectionID string
	stream       repositories.SpeechToTextStreaming
	audio        *bytes.Buffer // nil unless archiving
	started      time.Time
	bytes        int
}

// Write streams a PCM chunk belonging to the utterance
func (t *Turn) Write(chunk []byte) error {
	t.bytes += len(chunk)
	if t.audio != nil {
		t.audio.Write(chunk)
	}
	return t.stream.Stream(chunk)
}

// StartTurn opens a recognition stream. The stream lives as long as ctx.
func (s *ConversationService) StartTurn(ctx context.Context, connectionID string) (*Turn, error) {
	stream, err := s.stt.InitTranscribeStreaming(ctx, repositories.AudioConfig{
		SampleRate: s.config.SampleRate,
		Encoding:   "LINEAR16",
		Language:   s.config.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize streaming transcription: %w", err)
	}

	turn := &Turn{connectionID: connectionID, stream: stream, started: time.Now()}
	if s.archive != nil {
		turn.audio = &bytes.Buffer{}
	}
	return turn, nil
}

// Transcribe ends the turn and returns the final transcript
func (s *ConversationService) Transcribe(ctx context.Context, turn *Turn) (string, error) {
	s.metrics.RecordUtterance(time.Since(turn.started).Seconds())

	start := time.Now()
	transcript, err := turn.stream.End()
	s.metrics.RecordTranscription(err == nil, time.Since(start).Seconds())

	if turn.audio != nil {
		if _, archiveErr := s.archive.Save(ctx, turn.connectionID, turn.audio.Bytes(), s.config.SampleRate); archiveErr != nil {
			s.logger.Warn("Failed to archive utterance",
				zap.String("connectionID", turn.connectionID),
				zap.Error(archiveErr))
		}
	}

	if err != nil {
		return "", fmt.Errorf("failed to end transcription stream: %w", err)
	}

	s.logger.Info("Transcription completed",
		zap.String("connectionID", turn.connectionID),
		zap.Int("bytes", turn.bytes),
		zap.String("transcription", transcript))
	return transcript, nil
}

// Abandon closes the recognition stream without using its result
func (s *ConversationService) Abandon(turn *Turn) {
	if _, err := turn.stream.End(); err != nil {
		s.logger.Debug("Abandoned transcription ended with error",
			zap.String("connectionID", turn.connectionID),
			zap.Error(err))
	}
}
