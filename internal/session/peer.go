package session

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/domain/entities"
)

// Peer is one media session endpoint. A Peer is used for a single
// negotiation and discarded on Close.
type Peer interface {
	// AddTrack attaches the local microphone track.
	AddTrack(track LocalTrack) error
	// CreateControlChannel opens the structured event channel.
	CreateControlChannel(label string) (ControlChannel, error)
	// CreateOffer builds the local description once candidate gathering
	// has completed.
	CreateOffer(ctx context.Context) (string, error)
	// SetAnswer applies the remote description.
	SetAnswer(sdp string) error
	// OnRemoteTrack registers the handler for audio delivered by the remote side.
	OnRemoteTrack(func(*webrtc.TrackRemote))
	// OnFailed registers the handler called once when the connection fails.
	OnFailed(func())
	Close() error
}

// PeerFactory opens a new Peer for each session start.
type PeerFactory func() (Peer, error)

// ControlChannel carries JSON control events.
type ControlChannel interface {
	OnOpen(func())
	OnMessage(func(data []byte))
	OnClose(func())
	Send(data []byte) error
	Close() error
}

// LocalTrack is a live microphone track. TrackLocal may return nil for
// tracks that are not backed by the media stack.
type LocalTrack interface {
	TrackLocal() webrtc.TrackLocal
	Stop() error
}

// AudioSource acquires the microphone and exposes it as a LocalTrack.
type AudioSource interface {
	OpenTrack(ctx context.Context) (LocalTrack, error)
}

// RemoteSink plays audio received from the remote side.
type RemoteSink interface {
	Attach(track *webrtc.TrackRemote)
	Release() error
}

// Negotiator exchanges a local offer for a remote answer.
type Negotiator interface {
	Negotiate(ctx context.Context, offer string) (string, error)
}

// Observer is notified about session state changes and inbound control
// events. Calls may arrive from any goroutine.
type Observer interface {
	SessionStateChanged(state entities.SessionState, err error)
	ControlEventReceived(event domain.ControlEvent)
}

type nopObserver struct{}

func (nopObserver) SessionStateChanged(entities.SessionState, error) {}
func (nopObserver) ControlEventReceived(domain.ControlEvent)         {}

type nopSink struct{}

func (nopSink) Attach(*webrtc.TrackRemote) {}
func (nopSink) Release() error             { return nil }
