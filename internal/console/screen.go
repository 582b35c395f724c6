// Package console is the terminal view of the assistant. A Screen owns one
// instance of every client component and renders the conversation log.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/domain/entities"
	"github.com/bromscandium/BioGrow/internal/conversation"
)

// Session is the media session as seen by the view.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	State() entities.SessionState
	SendText(text string) error
	Events() []domain.ControlEvent
}

// Transport is the streaming transport as seen by the view.
type Transport interface {
	Connect(ctx context.Context) error
	Close()
	State() entities.TransportState
}

// Recorder is the audio capture controller as seen by the view.
type Recorder interface {
	StartRecording(ctx context.Context) error
	StopRecording()
	Recording() bool
}

// Config holds the components a Screen owns
type Config struct {
	Log       *conversation.Log // Required
	Transport Transport         // Required
	Recorder  Recorder          // Optional: voice input is disabled without it
	Output    io.Writer         // Required
}

// Screen renders the conversation and forwards user input. It implements
// the media session observer.
type Screen struct {
	log       *conversation.Log
	transport Transport
	recorder  Recorder
	logger    *zap.Logger

	outMu sync.Mutex
	out   io.Writer

	mu          sync.Mutex
	session     Session
	input       string
	unsubscribe func()
}

// NewScreen creates a screen. The session is attached separately because it
// reports back to the screen.
func NewScreen(config Config, logger *zap.Logger) (*Screen, error) {
	if config.Log == nil {
		return nil, fmt.Errorf("conversation log is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if config.Output == nil {
		return nil, fmt.Errorf("output is required")
	}
	return &Screen{
		log:       config.Log,
		transport: config.Transport,
		recorder:  config.Recorder,
		logger:    logger,
		out:       config.Output,
	}, nil
}

// AttachSession sets the media session driven by the screen.
func (s *Screen) AttachSession(session Session) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

func (s *Screen) currentSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Mount renders the existing log, starts rendering updates and opens the
// streaming transport.
func (s *Screen) Mount(ctx context.Context) error {
	for _, message := range s.log.Snapshot() {
		s.renderMessage(message)
	}

	unsubscribe := s.log.Subscribe(s.renderMessage)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if err := s.transport.Connect(ctx); err != nil {
		s.logger.Warn("Streaming transport unavailable", zap.Error(err))
		s.printf("! voice transport unavailable: %v\n", err)
		return err
	}
	return nil
}

// Unmount stops recording, stops the session and closes the transport.
func (s *Screen) Unmount() {
	if s.recorder != nil {
		s.recorder.StopRecording()
	}
	if session := s.currentSession(); session != nil {
		session.Stop()
	}
	s.transport.Close()

	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// SetInput replaces the pending input text
func (s *Screen) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

// Input returns the pending input text
func (s *Screen) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Submit appends the pending input to the log as one user message, forwards
// it to the media session and clears the input. Blank input is ignored.
func (s *Screen) Submit() {
	s.mu.Lock()
	text := strings.TrimSpace(s.input)
	session := s.session
	if text == "" {
		s.mu.Unlock()
		return
	}
	s.input = ""
	s.mu.Unlock()

	s.log.AppendUser(text)

	if session == nil {
		return
	}
	if err := session.SendText(text); err != nil {
		if errors.Is(err, domain.ErrChannelNotReady) {
			s.logger.Info("Session not active, message kept locally", zap.Error(err))
			return
		}
		s.logger.Error("Failed to send message", zap.Error(err))
	}
}

// StartSession starts the media session. It blocks until the answer is
// applied; activation is reported through SessionStateChanged.
func (s *Screen) StartSession(ctx context.Context) error {
	session := s.currentSession()
	if session == nil {
		return fmt.Errorf("no session attached")
	}
	if err := session.Start(ctx); err != nil {
		s.logger.Error("Failed to start session", zap.Error(err))
		return err
	}
	return nil
}

// StopSession stops the media session
func (s *Screen) StopSession() {
	if session := s.currentSession(); session != nil {
		session.Stop()
	}
}

// StartVoice starts streaming microphone audio to the broker.
func (s *Screen) StartVoice(ctx context.Context) error {
	if s.recorder == nil {
		return fmt.Errorf("voice input is not configured")
	}
	if !s.transport.State().IsOpen() {
		s.logger.Warn("Recording while the transport is not open, chunks will be dropped",
			zap.String("state", string(s.transport.State())))
	}
	return s.recorder.StartRecording(ctx)
}

// StopVoice stops streaming microphone audio
func (s *Screen) StopVoice() {
	if s.recorder != nil {
		s.recorder.StopRecording()
	}
}

// SessionStateChanged renders session state transitions.
func (s *Screen) SessionStateChanged(state entities.SessionState, err error) {
	if err != nil {
		s.printf("* session %s: %v\n", state, err)
		return
	}
	s.printf("* session %s\n", state)
}

// ControlEventReceived forwards inbound events to the conversation log.
func (s *Screen) ControlEventReceived(event domain.ControlEvent) {
	s.log.ControlEventReceived(event)
}

// RenderEvents prints the session event log, most recent first.
func (s *Screen) RenderEvents() {
	session := s.currentSession()
	if session == nil {
		return
	}
	events := session.Events()
	if len(events) == 0 {
		s.printf("(no events)\n")
		return
	}
	for _, event := range events {
		s.printf("%s %-8s %s\n", event.Timestamp, event.Direction, event.Type)
	}
}

func (s *Screen) renderMessage(message entities.ChatMessage) {
	s.printf("[%s] %s: %s\n", message.Time, message.Sender.Label(), message.Text)
}

func (s *Screen) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
