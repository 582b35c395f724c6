package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/bromscandium/BioGrow/domain"
)

// WriteData is one outbound websocket frame
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// textFrame encodes a transport notification as a JSON text frame
func textFrame(msg domain.TransportMessage) (WriteData, error) {
	if msg.Type == "" {
		return WriteData{}, fmt.Errorf("transport message has no type")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return WriteData{}, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return WriteData{Type: websocket.TextMessage, Payload: payload}, nil
}

// vadStatus maps a detector event to the status reported to the client
func vadStatus(speaking bool) string {
	if speaking {
		return domain.VADSpeechStarted
	}
	return domain.VADSpeechStopped
}
