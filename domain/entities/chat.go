package entities

import (
	"errors"
	"time"
)

// Sender identifies who authored a chat message
type Sender string

const (
	SenderUser              Sender = "user"
	SenderRemoteAssistant   Sender = "remoteAssistant"
	SenderTranscriptionEcho Sender = "transcriptionEcho"
)

// Label returns the display label shown next to a message
func (s Sender) Label() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderRemoteAssistant:
		return "Bot"
	case SenderTranscriptionEcho:
		return "Bot (transcription)"
	}
	return string(s)
}

// Display formats for ChatMessage.Time
const (
	UserTimeLayout   = "15:04"
	RemoteTimeLayout = "15:04:05"
)

// ChatMessage is one line of the visible conversation log
type ChatMessage struct {
	Text   string `json:"text"`
	Sender Sender `json:"sender"`
	Time   string `json:"time"`
}

// NewUserMessage creates a message typed by the local user
func NewUserMessage(text string, at time.Time) ChatMessage {
	return ChatMessage{Text: text, Sender: SenderUser, Time: at.Format(UserTimeLayout)}
}

// NewRemoteMessage creates a message produced by a remote source
func NewRemoteMessage(text string, sender Sender, at time.Time) ChatMessage {
	return ChatMessage{Text: text, Sender: sender, Time: at.Format(RemoteTimeLayout)}
}

// Validate validates the chat message data
func (m ChatMessage) Validate() error {
	if m.Text == "" {
		return errors.New("text is required")
	}

	switch m.Sender {
	case SenderUser, SenderRemoteAssistant, SenderTranscriptionEcho:
	default:
		return errors.New("invalid sender")
	}

	return nil
}
