package entities

import "fmt"

// SessionState represents the lifecycle state of a media session
type SessionState string

const (
	SessionStateIdle        SessionState = "idle"
	SessionStateNegotiating SessionState = "negotiating"
	SessionStateActive      SessionState = "active"
)

// IsActive reports whether events may be sent in this state
func (s SessionState) IsActive() bool {
	return s == SessionStateActive
}

// CanStart reports whether a new negotiation may begin from this state
func (s SessionState) CanStart() bool {
	return s == SessionStateIdle
}

// Validate checks that the state is one of the known states
func (s SessionState) Validate() error {
	switch s {
	case SessionStateIdle, SessionStateNegotiating, SessionStateActive:
		return nil
	}
	return fmt.Errorf("invalid session state %q", string(s))
}

// TransportState represents the lifecycle state of the streaming transport
type TransportState string

const (
	TransportStateConnecting TransportState = "connecting"
	TransportStateOpen       TransportState = "open"
	TransportStateClosing    TransportState = "closing"
	TransportStateClosed     TransportState = "closed"
)

// IsOpen reports whether audio may be delivered in this state
func (s TransportState) IsOpen() bool {
	return s == TransportStateOpen
}
