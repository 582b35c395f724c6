package entities

import (
	"testing"
	"time"
)

func TestSessionState(t *testing.T) {
	tests := []struct {
		state    SessionState
		active   bool
		canStart bool
	}{
		{SessionStateIdle, false, true},
		{SessionStateNegotiating, false, false},
		{SessionStateActive, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if tt.state.IsActive() != tt.active {
				t.Errorf("Expected IsActive %v, got %v", tt.active, tt.state.IsActive())
			}
			if tt.state.CanStart() != tt.canStart {
				t.Errorf("Expected CanStart %v, got %v", tt.canStart, tt.state.CanStart())
			}
			if err := tt.state.Validate(); err != nil {
				t.Errorf("Expected valid state, got %v", err)
			}
		})
	}

	if err := SessionState("paused").Validate(); err == nil {
		t.Error("Expected error for unknown state")
	}
}

func TestTransportStateIsOpen(t *testing.T) {
	for _, s := range []TransportState{TransportStateConnecting, TransportStateClosing, TransportStateClosed} {
		if s.IsOpen() {
			t.Errorf("Expected %s not to be open", s)
		}
	}
	if !TransportStateOpen.IsOpen() {
		t.Error("Expected open state to be open")
	}
}

func TestChatMessageTimeFormats(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 5, 7, 0, time.Local)

	user := NewUserMessage("how much water for tomatoes?", at)
	if user.Time != "09:05" {
		t.Errorf("Expected user time 09:05, got %s", user.Time)
	}
	if user.Sender != SenderUser {
		t.Errorf("Expected sender %s, got %s", SenderUser, user.Sender)
	}

	remote := NewRemoteMessage("about two litres a day", SenderRemoteAssistant, at)
	if remote.Time != "09:05:07" {
		t.Errorf("Expected remote time 09:05:07, got %s", remote.Time)
	}
}

func TestChatMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     ChatMessage
		wantErr bool
	}{
		{"valid user", ChatMessage{Text: "hi", Sender: SenderUser}, false},
		{"valid echo", ChatMessage{Text: "hi", Sender: SenderTranscriptionEcho}, false},
		{"empty text", ChatMessage{Sender: SenderUser}, true},
		{"unknown sender", ChatMessage{Text: "hi", Sender: "robot"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSenderLabel(t *testing.T) {
	if SenderTranscriptionEcho.Label() != "Bot (transcription)" {
		t.Errorf("Unexpected label %q", SenderTranscriptionEcho.Label())
	}
	if SenderUser.Label() != "You" {
		t.Errorf("Unexpected label %q", SenderUser.Label())
	}
}
