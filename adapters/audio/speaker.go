package audio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/internal/pcm"
	"github.com/bromscandium/BioGrow/internal/session"
)

const releaseTimeout = 2 * time.Second

// Speaker plays remote PCMU tracks on the default output device
type Speaker struct {
	logger *zap.Logger

	mu      sync.Mutex
	players []chan struct{} // closed when the player exits
}

var _ session.RemoteSink = (*Speaker)(nil)

// NewSpeaker creates a speaker
func NewSpeaker(logger *zap.Logger) *Speaker {
	return &Speaker{logger: logger}
}

// Attach starts playing track until it ends. Tracks in other codecs are
// drained without playback.
func (s *Speaker) Attach(track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		s.logger.Debug("Ignoring non-audio track", zap.String("kind", track.Kind().String()))
		return
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.players = append(s.players, done)
	s.mu.Unlock()

	codec := track.Codec()
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypePCMU) {
		s.logger.Warn("Unsupported remote codec, audio will not be played", zap.String("codec", codec.MimeType))
		go func() {
			defer close(done)
			discard(track)
		}()
		return
	}
	go s.play(track, done)
}

func (s *Speaker) play(track *webrtc.TrackRemote, done chan struct{}) {
	defer close(done)

	if err := s.playback(track); err != nil {
		s.logger.Error("Remote audio playback failed", zap.Error(err))
		discard(track)
	}
}

// discard reads track until it ends
func discard(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (s *Speaker) playback(track *webrtc.TrackRemote) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	frames := pcm.FramesPerBuffer(peerSampleRate, peerFrame)
	buffer := make([]int16, frames)
	stream, err := portaudio.OpenDefaultStream(0, 1, peerSampleRate, frames, &buffer)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	s.logger.Info("Remote audio playback started", zap.String("trackID", track.ID()))
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			s.logger.Info("Remote audio track ended", zap.String("trackID", track.ID()))
			return nil
		}
		for _, frame := range pcm.Split(pcm.DecodeUlaw(packet.Payload), frames) {
			copy(buffer, frame)
			if err := stream.Write(); err != nil {
				s.logger.Debug("Output underflow", zap.Error(err))
			}
		}
	}
}

// Release waits for players to finish once their tracks have ended
func (s *Speaker) Release() error {
	s.mu.Lock()
	players := s.players
	s.players = nil
	s.mu.Unlock()

	deadline := time.After(releaseTimeout)
	for _, done := range players {
		select {
		case <-done:
		case <-deadline:
			return fmt.Errorf("remote audio players did not stop within %v", releaseTimeout)
		}
	}
	return nil
}
