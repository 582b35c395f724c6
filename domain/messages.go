package domain

import (
	"encoding/json"
	"fmt"
)

// TransportMessageType is the discriminator carried in every JSON frame on
// the streaming transport.
type TransportMessageType string

const (
	TransportMessageVAD           TransportMessageType = "vad"
	TransportMessageTranscription TransportMessageType = "transcription"
	TransportMessageChatResponse  TransportMessageType = "chat_response"
)

// Voice activity statuses reported in vad frames.
const (
	VADSpeechStarted = "speech_started"
	VADSpeechStopped = "speech_stopped"
)

// TransportMessage is a notification pushed from the broker to the client
// over the streaming transport.
type TransportMessage struct {
	Type   TransportMessageType `json:"type"`
	Text   string               `json:"text,omitempty"`
	Status string               `json:"status,omitempty"`
}

// ParseTransportMessage decodes a JSON text frame. A frame without a type is
// still returned so the caller can log it as unknown.
func ParseTransportMessage(data []byte) (TransportMessage, error) {
	var msg TransportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return TransportMessage{}, &MalformedMessageError{Source: "transport", Payload: data, Err: err}
	}
	return msg, nil
}

// NewVADMessage creates a voice activity notification.
func NewVADMessage(status string) TransportMessage {
	return TransportMessage{Type: TransportMessageVAD, Status: status}
}

// NewTranscriptionMessage creates a transcription notification.
func NewTranscriptionMessage(text string) TransportMessage {
	return TransportMessage{Type: TransportMessageTranscription, Text: text}
}

// NewChatResponseMessage creates an assistant response notification.
func NewChatResponseMessage(text string) TransportMessage {
	return TransportMessage{Type: TransportMessageChatResponse, Text: text}
}

// Credential is the ephemeral key handed out by the credential endpoint.
type Credential struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// SessionGrant is the body served by the credential endpoint. Only the
// nested client secret is interpreted by the client.
type SessionGrant struct {
	ClientSecret Credential `json:"client_secret"`
}

// Control event types sent by the client on the control channel.
const (
	ControlEventItemCreate     = "conversation.item.create"
	ControlEventResponseCreate = "response.create"
)

// Inbound control event types the conversation log may surface as chat.
const (
	ControlEventAudioTranscriptDone = "response.audio_transcript.done"
	ControlEventTextDone            = "response.text.done"
)

// EventDirection tells whether a control event was sent or received.
type EventDirection string

const (
	EventOutbound EventDirection = "outbound"
	EventInbound  EventDirection = "inbound"
)

// ControlEvent is one structured message on the control channel. Payload
// holds the full JSON object; Type, EventID and Timestamp mirror its
// well-known fields.
type ControlEvent struct {
	Type      string
	EventID   string
	Timestamp string
	Direction EventDirection
	Payload   map[string]any
}

// NewControlEvent builds an outbound event with the given type and extra
// fields.
func NewControlEvent(eventType string, fields map[string]any) ControlEvent {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = eventType
	return ControlEvent{Type: eventType, Direction: EventOutbound, Payload: payload}
}

// NewUserTextItem builds the conversation item carrying typed user input.
func NewUserTextItem(text string) ControlEvent {
	return NewControlEvent(ControlEventItemCreate, map[string]any{
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []any{
				map[string]any{"type": "input_text", "text": text},
			},
		},
	})
}

// NewResponseRequest builds the event asking the assistant to respond.
func NewResponseRequest() ControlEvent {
	return NewControlEvent(ControlEventResponseCreate, nil)
}

// ParseControlEvent decodes an inbound control channel payload. The payload
// must be a JSON object.
func ParseControlEvent(data []byte) (ControlEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return ControlEvent{}, &MalformedMessageError{Source: "control", Payload: data, Err: err}
	}
	if payload == nil {
		return ControlEvent{}, &MalformedMessageError{Source: "control", Payload: data, Err: fmt.Errorf("payload is not an object")}
	}
	event := ControlEvent{Direction: EventInbound, Payload: payload}
	event.Type, _ = payload["type"].(string)
	event.EventID, _ = payload["event_id"].(string)
	event.Timestamp, _ = payload["timestamp"].(string)
	return event, nil
}

// Text returns the assistant text carried by a completion event, if any.
func (e ControlEvent) Text() (string, bool) {
	switch e.Type {
	case ControlEventAudioTranscriptDone:
		text, ok := e.Payload["transcript"].(string)
		return text, ok && text != ""
	case ControlEventTextDone:
		text, ok := e.Payload["text"].(string)
		return text, ok && text != ""
	}
	return "", false
}
