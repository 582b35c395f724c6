// Package conversation keeps the visible chat log and merges the messages
// coming from the user, the streaming transport and the media session.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/domain/entities"
)

// MergePolicy decides whether assistant completions received on the media
// session also appear in the chat log.
type MergePolicy string

const (
	// MergeSeparate keeps session events in the session event log only.
	MergeSeparate MergePolicy = "separate"
	// MergeMerged appends assistant transcripts from the session to the chat log.
	MergeMerged MergePolicy = "merged"
)

// ParseMergePolicy converts a configuration value. Empty selects MergeSeparate.
func ParseMergePolicy(value string) (MergePolicy, error) {
	switch MergePolicy(value) {
	case "", MergeSeparate:
		return MergeSeparate, nil
	case MergeMerged:
		return MergeMerged, nil
	}
	return "", fmt.Errorf("unknown merge policy %q", value)
}

// Listener is called after every append with the message just added.
// Listeners run one message at a time in log order and must not append.
type Listener func(message entities.ChatMessage)

// Log is an append-only chat log. Messages keep arrival order.
type Log struct {
	policy MergePolicy
	now    func() time.Time
	logger *zap.Logger

	// notifyMu orders appends together with their listener calls
	notifyMu sync.Mutex

	mu        sync.RWMutex
	messages  []entities.ChatMessage
	listeners map[int]Listener
	nextID    int
}

// NewLog creates an empty log
func NewLog(policy MergePolicy, logger *zap.Logger) *Log {
	if policy == "" {
		policy = MergeSeparate
	}
	return &Log{
		policy:    policy,
		now:       time.Now,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// Policy returns the merge policy in use
func (l *Log) Policy() MergePolicy {
	return l.policy
}

// Snapshot returns a copy of the messages in arrival order
func (l *Log) Snapshot() []entities.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]entities.ChatMessage(nil), l.messages...)
}

// Len returns the number of messages
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Subscribe registers a listener and returns a function removing it.
func (l *Log) Subscribe(listener Listener) (unsubscribe func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = listener
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// AppendUser records text typed by the local user.
func (l *Log) AppendUser(text string) entities.ChatMessage {
	message := entities.NewUserMessage(text, l.now())
	l.append(message)
	return message
}

func (l *Log) appendRemote(text string, sender entities.Sender) {
	if text == "" {
		l.logger.Debug("Ignoring empty remote message", zap.String("sender", string(sender)))
		return
	}
	l.append(entities.NewRemoteMessage(text, sender, l.now()))
}

func (l *Log) append(message entities.ChatMessage) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	l.messages = append(l.messages, message)
	listeners := make([]Listener, 0, len(l.listeners))
	for _, listener := range l.listeners {
		listeners = append(listeners, listener)
	}
	l.mu.Unlock()

	for _, listener := range listeners {
		listener(message)
	}
}

// VoiceActivity is only logged.
func (l *Log) VoiceActivity(status string) {
	l.logger.Info("Voice activity", zap.String("status", status))
}

// Transcription appends the broker's transcript of the user's speech.
func (l *Log) Transcription(text string) {
	l.appendRemote(text, entities.SenderTranscriptionEcho)
}

// ChatResponse appends the broker's assistant reply.
func (l *Log) ChatResponse(text string) {
	l.appendRemote(text, entities.SenderRemoteAssistant)
}

// ControlEventReceived appends assistant completions from the media session
// when the log is merged.
func (l *Log) ControlEventReceived(event domain.ControlEvent) {
	if l.policy != MergeMerged {
		return
	}
	if text, ok := event.Text(); ok {
		l.appendRemote(text, entities.SenderRemoteAssistant)
	}
}
