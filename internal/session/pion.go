package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// iceGatherTimeout bounds candidate gathering before the offer is sent.
const iceGatherTimeout = 10 * time.Second

// AudioCodec is the only audio codec offered. Remote audio is played back
// from PCMU frames without further decoding.
var AudioCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000}

// NewPionPeerFactory returns a PeerFactory backed by pion peer connections.
func NewPionPeerFactory(iceServers []webrtc.ICEServer, logger *zap.Logger) PeerFactory {
	return func() (Peer, error) {
		mediaEngine := &webrtc.MediaEngine{}
		if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: AudioCodec,
			PayloadType:        0,
		}, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("registering codecs: %w", err)
		}

		settingEngine := webrtc.SettingEngine{}
		settingEngine.SetIncludeLoopbackCandidate(true)

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		)
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, fmt.Errorf("creating peer connection: %w", err)
		}

		p := &pionPeer{pc: pc, logger: logger}
		pc.OnConnectionStateChange(p.handleConnectionState)
		return p, nil
	}
}

type pionPeer struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger

	mu       sync.Mutex
	onFailed func()
	failOnce sync.Once
}

func (p *pionPeer) handleConnectionState(state webrtc.PeerConnectionState) {
	p.logger.Debug("Peer connection state changed", zap.String("state", state.String()))
	if state != webrtc.PeerConnectionStateFailed {
		return
	}

	p.mu.Lock()
	onFailed := p.onFailed
	p.mu.Unlock()
	if onFailed == nil {
		return
	}
	// The handler closes this connection, which must not happen on the
	// connection's own callback goroutine.
	p.failOnce.Do(func() { go onFailed() })
}

func (p *pionPeer) AddTrack(track LocalTrack) error {
	local := track.TrackLocal()
	if local == nil {
		return errors.New("track is not backed by a media track")
	}

	sender, err := p.pc.AddTrack(local)
	if err != nil {
		return err
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) CreateControlChannel(label string) (ControlChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("creating SDP offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeer) SetAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *pionPeer) OnRemoteTrack(f func(*webrtc.TrackRemote)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(track)
	})
}

func (p *pionPeer) OnFailed(f func()) {
	p.mu.Lock()
	p.onFailed = f
	p.mu.Unlock()
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) OnOpen(f func()) { c.dc.OnOpen(f) }

func (c *pionChannel) OnMessage(f func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.Data)
	})
}

func (c *pionChannel) OnClose(f func()) { c.dc.OnClose(f) }

// Send transmits data as a text message, which the remote model expects
// for JSON events.
func (c *pionChannel) Send(data []byte) error {
	return c.dc.SendText(string(data))
}

func (c *pionChannel) Close() error { return c.dc.Close() }
