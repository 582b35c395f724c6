package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/internal/pcm"
	"github.com/bromscandium/BioGrow/internal/session"
)

const (
	peerSampleRate = 8000
	peerFrame      = 20 * time.Millisecond
	peerQueueSize  = 50
)

// PeerSource captures the microphone as a PCMU track for the media session
type PeerSource struct {
	device int
	logger *zap.Logger
}

var _ session.AudioSource = (*PeerSource)(nil)

// NewPeerSource creates a source reading from the given input device (0 is
// the default).
func NewPeerSource(device int, logger *zap.Logger) *PeerSource {
	return &PeerSource{device: device, logger: logger}
}

// OpenTrack starts capturing and returns the live track
func (s *PeerSource) OpenTrack(ctx context.Context) (session.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(session.AudioCodec, "audio", "farmvoice")
	if err != nil {
		return nil, fmt.Errorf("failed to create local track: %w", err)
	}

	t := &peerTrack{
		track:   track,
		frames:  make(chan []int16, peerQueueSize),
		written: make(chan struct{}),
		logger:  s.logger,
	}

	stream, device, err := openInput(s.device, 1, peerSampleRate, pcm.FramesPerBuffer(peerSampleRate, peerFrame), t.capture)
	if err != nil {
		return nil, &domain.MediaAccessError{Device: device, Err: err}
	}
	t.stream = stream

	go t.write()

	s.logger.Info("Microphone track opened", zap.String("device", device))
	return t, nil
}

type peerTrack struct {
	track   *webrtc.TrackLocalStaticSample
	stream  *portaudio.Stream
	frames  chan []int16
	written chan struct{}
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool

	stopOnce sync.Once
	stopErr  error
}

func (t *peerTrack) capture(in []int16) {
	frame := make([]int16, len(in))
	copy(frame, in)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.frames <- frame:
	default:
	}
}

func (t *peerTrack) write() {
	defer close(t.written)
	for frame := range t.frames {
		sample := media.Sample{Data: pcm.EncodeUlaw(frame), Duration: peerFrame}
		if err := t.track.WriteSample(sample); err != nil {
			t.logger.Debug("Failed to write microphone sample", zap.Error(err))
		}
	}
}

func (t *peerTrack) TrackLocal() webrtc.TrackLocal {
	return t.track
}

func (t *peerTrack) Stop() error {
	t.stopOnce.Do(func() {
		t.stopErr = closeInput(t.stream)

		t.mu.Lock()
		t.closed = true
		close(t.frames)
		t.mu.Unlock()
		<-t.written

		t.logger.Info("Microphone track stopped")
	})
	return t.stopErr
}
