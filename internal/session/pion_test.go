package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/domain/entities"
)

type sampleTrack struct {
	track *webrtc.TrackLocalStaticSample
}

func (s *sampleTrack) TrackLocal() webrtc.TrackLocal { return s.track }
func (s *sampleTrack) Stop() error                   { return nil }

type sampleMic struct{}

func (sampleMic) OpenTrack(ctx context.Context) (LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(AudioCodec, "audio", "farmvoice")
	if err != nil {
		return nil, err
	}
	return &sampleTrack{track: track}, nil
}

// loopbackNegotiator answers offers with a local pion peer connection that
// plays the remote model.
type loopbackNegotiator struct {
	t        *testing.T
	pc       *webrtc.PeerConnection
	received chan []byte
}

func newLoopbackNegotiator(t *testing.T) *loopbackNegotiator {
	t.Helper()
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("registering codecs: %v", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("creating answerer: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	n := &loopbackNegotiator{t: t, pc: pc, received: make(chan []byte, 8)}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			n.received <- msg.Data
		})
	})
	return n
}

func (n *loopbackNegotiator) Negotiate(ctx context.Context, offer string) (string, error) {
	if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", err
	}
	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(n.pc)
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-gatherComplete
	return n.pc.LocalDescription().SDP, nil
}

type activeWaiter struct {
	nopObserver
	active chan struct{}
}

func (w *activeWaiter) SessionStateChanged(state entities.SessionState, err error) {
	if state == entities.SessionStateActive {
		close(w.active)
	}
}

func TestPionSessionLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping loopback peer connection in short mode")
	}

	logger := zap.NewNop()
	negotiator := newLoopbackNegotiator(t)
	waiter := &activeWaiter{active: make(chan struct{})}

	m, err := NewManager(Config{
		Peers:      NewPionPeerFactory(nil, logger),
		Microphone: sampleMic{},
		Negotiator: negotiator,
		Observer:   waiter,
	}, logger)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-waiter.active:
	case <-ctx.Done():
		t.Fatal("Control channel never opened")
	}

	if err := m.SendText("is it too early to harvest wheat?"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	select {
	case data := <-negotiator.received:
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Fatalf("Remote got non-JSON payload: %v", err)
		}
		if payload["type"] != domain.ControlEventItemCreate {
			t.Errorf("Expected first event %s, got %v", domain.ControlEventItemCreate, payload["type"])
		}
	case <-ctx.Done():
		t.Fatal("Remote never received the event")
	}
}
