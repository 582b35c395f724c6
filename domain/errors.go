package domain

import (
	"errors"
	"fmt"
)

// ErrChannelNotReady is matched by every ChannelNotReadyError via errors.Is.
var ErrChannelNotReady = errors.New("control channel not ready")

// CredentialFetchError is returned when the short-lived credential could not
// be obtained from the local credential endpoint.
type CredentialFetchError struct {
	URL        string
	StatusCode int // zero when the endpoint was unreachable
	Err        error
}

func (e *CredentialFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("credential fetch from %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("credential fetch from %s failed: %v", e.URL, e.Err)
}

func (e *CredentialFetchError) Unwrap() error { return e.Err }

// NegotiationError is returned when the remote negotiation endpoint rejected
// the offer or returned an unusable answer.
type NegotiationError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *NegotiationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("negotiation with %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("negotiation with %s failed: %v", e.URL, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// MediaAccessError is returned when the microphone cannot be acquired,
// either because no device exists or because access was refused.
type MediaAccessError struct {
	Device string
	Err    error
}

func (e *MediaAccessError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("media access failed: %v", e.Err)
	}
	return fmt.Sprintf("media access to %q failed: %v", e.Device, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// ChannelNotReadyError is returned when an event is sent while no control
// channel is open.
type ChannelNotReadyError struct {
	EventType string
}

func (e *ChannelNotReadyError) Error() string {
	return fmt.Sprintf("cannot send %q: %v", e.EventType, ErrChannelNotReady)
}

func (e *ChannelNotReadyError) Unwrap() error { return ErrChannelNotReady }

// MalformedMessageError describes an inbound payload that could not be
// parsed. It never leaves the parse boundary except as a log field.
type MalformedMessageError struct {
	Source  string
	Payload []byte
	Err     error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed %s message (%d bytes): %v", e.Source, len(e.Payload), e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }
