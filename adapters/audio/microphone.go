package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/internal/capture"
	"github.com/bromscandium/BioGrow/internal/pcm"
)

const chunkQueueSize = 256

// MicrophoneConfig selects the capture device and format
type MicrophoneConfig struct {
	Device     int // 0 selects the default input
	SampleRate int
	Channels   int
}

// Microphone records PCM16LE chunks for the streaming transport
type Microphone struct {
	config MicrophoneConfig
	logger *zap.Logger
}

var _ capture.Microphone = (*Microphone)(nil)

// NewMicrophone creates a microphone
func NewMicrophone(config MicrophoneConfig, logger *zap.Logger) (*Microphone, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.Channels <= 0 {
		logger.Info("Using default channel count", zap.Int("channels", 1))
		config.Channels = 1
	}
	if config.Device < 0 {
		return nil, fmt.Errorf("device index cannot be negative, got %d", config.Device)
	}
	return &Microphone{config: config, logger: logger}, nil
}

// Open starts a capture producing one chunk per interval. The recording
// stops itself when ctx is done.
func (m *Microphone) Open(ctx context.Context, interval time.Duration) (capture.Recording, error) {
	frames := pcm.FramesPerBuffer(m.config.SampleRate, interval)
	if frames <= 0 {
		return nil, fmt.Errorf("chunk interval %v is too short", interval)
	}

	r := &recording{
		chunks: make(chan []byte, chunkQueueSize),
		done:   make(chan struct{}),
		logger: m.logger,
	}

	stream, device, err := openInput(m.config.Device, m.config.Channels, m.config.SampleRate, frames, r.capture)
	if err != nil {
		return nil, &domain.MediaAccessError{Device: device, Err: err}
	}
	r.stream = stream

	m.logger.Info("Microphone opened",
		zap.String("device", device),
		zap.Int("sampleRate", m.config.SampleRate),
		zap.Int("framesPerBuffer", frames))

	go func() {
		select {
		case <-ctx.Done():
			if err := r.Stop(); err != nil {
				m.logger.Warn("Failed to stop microphone", zap.Error(err))
			}
		case <-r.done:
		}
	}()

	return r, nil
}

type recording struct {
	stream *portaudio.Stream
	chunks chan []byte
	done   chan struct{}
	logger *zap.Logger

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64

	stopOnce sync.Once
	stopErr  error
}

// capture runs on the PortAudio callback thread and must not block
func (r *recording) capture(in []int16) {
	chunk := pcm.Encode(in)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.chunks <- chunk:
	default:
		r.dropped.Add(1)
	}
}

func (r *recording) Chunks() <-chan []byte {
	return r.chunks
}

func (r *recording) Stop() error {
	r.stopOnce.Do(func() {
		r.stopErr = closeInput(r.stream)

		r.mu.Lock()
		r.closed = true
		close(r.chunks)
		r.mu.Unlock()
		close(r.done)

		if dropped := r.dropped.Load(); dropped > 0 {
			r.logger.Warn("Microphone chunks dropped", zap.Int64("dropped", dropped))
		}
		r.logger.Info("Microphone closed")
	})
	return r.stopErr
}
