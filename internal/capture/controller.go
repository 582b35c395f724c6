// Package capture records microphone audio and forwards each chunk to the
// streaming transport as soon as it is produced.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
)

const defaultChunkInterval = 100 * time.Millisecond

// Microphone opens a recording that yields PCM chunks at a fixed interval.
type Microphone interface {
	Open(ctx context.Context, interval time.Duration) (Recording, error)
}

// Recording is a live microphone capture. Chunks is closed after Stop.
type Recording interface {
	Chunks() <-chan []byte
	Stop() error
}

// ChunkSink receives captured chunks. The streaming transport implements it.
type ChunkSink interface {
	SendAudioChunk(chunk []byte)
}

type activeRecording struct {
	recording Recording
	forwarded chan struct{}
	chunks    int
}

// Controller tracks at most one recording at a time.
type Controller struct {
	microphone Microphone
	sink       ChunkSink
	interval   time.Duration
	logger     *zap.Logger

	// ops serializes StartRecording and StopRecording.
	ops     sync.Mutex
	mu      sync.Mutex
	current *activeRecording
}

// NewController creates a capture controller. A zero interval selects 100ms.
func NewController(microphone Microphone, sink ChunkSink, interval time.Duration, logger *zap.Logger) (*Controller, error) {
	if microphone == nil {
		return nil, fmt.Errorf("microphone is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("chunk sink is required")
	}
	if interval <= 0 {
		interval = defaultChunkInterval
	}
	return &Controller{
		microphone: microphone,
		sink:       sink,
		interval:   interval,
		logger:     logger,
	}, nil
}

// Recording reports whether a recording is tracked
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// StartRecording stops any tracked recording, then opens the microphone and
// forwards its chunks to the sink until StopRecording.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.stop()

	recording, err := c.microphone.Open(ctx, c.interval)
	if err != nil {
		var mediaErr *domain.MediaAccessError
		if !errors.As(err, &mediaErr) {
			err = &domain.MediaAccessError{Err: err}
		}
		c.logger.Error("Error accessing microphone", zap.Error(err))
		return err
	}

	active := &activeRecording{recording: recording, forwarded: make(chan struct{})}
	c.mu.Lock()
	c.current = active
	c.mu.Unlock()

	go c.forward(active)

	c.logger.Info("Recording started", zap.Duration("interval", c.interval))
	return nil
}

func (c *Controller) forward(active *activeRecording) {
	defer close(active.forwarded)
	for chunk := range active.recording.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		active.chunks++
		c.sink.SendAudioChunk(chunk)
	}
}

// StopRecording stops the tracked recording. It does nothing when no
// recording is tracked.
func (c *Controller) StopRecording() {
	c.ops.Lock()
	defer c.ops.Unlock()
	c.stop()
}

func (c *Controller) stop() {
	c.mu.Lock()
	active := c.current
	c.current = nil
	c.mu.Unlock()

	if active == nil {
		return
	}

	if err := active.recording.Stop(); err != nil {
		c.logger.Warn("Failed to stop recording", zap.Error(err))
	}
	<-active.forwarded

	c.logger.Info("Recording stopped", zap.Int("chunks", active.chunks))
}
