// Package vad detects the start and end of speech in a PCM16 stream by
// comparing each chunk's energy with an adaptive background level.
package vad

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/internal/pcm"
)

// Event is the outcome of processing one chunk
type Event int

const (
	None Event = iota
	SpeechStarted
	SpeechStopped
)

func (e Event) String() string {
	switch e {
	case SpeechStarted:
		return "speech_started"
	case SpeechStopped:
		return "speech_stopped"
	}
	return "none"
}

const (
	defaultThreshold        = 2.22
	defaultBackgroundWindow = 50
	defaultSilence          = time.Second
	defaultSampleRate       = 16000
)

// Config holds the detector parameters. Zero values select the defaults.
type Config struct {
	Threshold        float64       // chunk/background energy ratio that counts as speech
	BackgroundWindow int           // number of chunks averaged into the background level
	Silence          time.Duration // non-speech audio that ends an utterance
	SampleRate       int
}

// Detector is a per-connection voice activity detector. It is not safe for
// concurrent use.
type Detector struct {
	threshold  float64
	window     int
	silence    time.Duration
	sampleRate int
	logger     *zap.Logger

	background []float64
	level      float64
	speaking   bool
	quiet      time.Duration
	chunks     int
}

// NewDetector creates a detector
func NewDetector(config Config, logger *zap.Logger) (*Detector, error) {
	if config.Threshold != 0 && config.Threshold <= 1 {
		return nil, fmt.Errorf("threshold must be greater than 1, got %f", config.Threshold)
	}
	if config.BackgroundWindow < 0 || config.SampleRate < 0 || config.Silence < 0 {
		return nil, fmt.Errorf("vad parameters cannot be negative")
	}

	d := &Detector{
		threshold:  config.Threshold,
		window:     config.BackgroundWindow,
		silence:    config.Silence,
		sampleRate: config.SampleRate,
		logger:     logger,
	}
	if d.threshold == 0 {
		d.threshold = defaultThreshold
	}
	if d.window == 0 {
		d.window = defaultBackgroundWindow
	}
	if d.silence == 0 {
		d.silence = defaultSilence
	}
	if d.sampleRate == 0 {
		d.sampleRate = defaultSampleRate
	}
	d.background = make([]float64, 0, d.window)
	return d, nil
}

// Speaking reports whether an utterance is in progress
func (d *Detector) Speaking() bool {
	return d.speaking
}

// Process feeds one PCM16LE chunk. Silence is measured in audio time, not
// wall-clock time.
func (d *Detector) Process(chunk []byte) Event {
	samples := pcm.Decode(chunk)
	if len(samples) == 0 {
		return None
	}

	amplitude := Amplitude(samples)
	d.updateBackground(amplitude)
	d.chunks++

	ratio := amplitude / d.level
	isSpeech := ratio > d.threshold

	if d.chunks%10 == 0 {
		d.logger.Debug("Audio chunk energy",
			zap.Float64("amplitude", amplitude),
			zap.Float64("background", d.level),
			zap.Float64("ratio", ratio))
	}

	if isSpeech {
		d.quiet = 0
		if !d.speaking {
			d.speaking = true
			d.logger.Info("Speech detected",
				zap.Float64("amplitude", amplitude),
				zap.Float64("background", d.level),
				zap.Float64("ratio", ratio))
			return SpeechStarted
		}
		return None
	}

	if !d.speaking {
		return None
	}

	d.quiet += pcm.Duration(len(samples), d.sampleRate)
	if d.quiet > d.silence {
		d.speaking = false
		d.quiet = 0
		d.logger.Info("Extended silence detected", zap.Duration("silence", d.silence))
		return SpeechStopped
	}
	return None
}

// Reset forgets any utterance in progress but keeps the background level.
func (d *Detector) Reset() {
	d.speaking = false
	d.quiet = 0
}

func (d *Detector) updateBackground(amplitude float64) {
	if len(d.background) >= d.window {
		d.background = d.background[1:]
	}
	d.background = append(d.background, amplitude)

	var sum float64
	for _, a := range d.background {
		sum += a
	}
	d.level = sum / float64(len(d.background))
}

// Amplitude returns the mean absolute sample value
func Amplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total float64
	for _, sample := range samples {
		total += math.Abs(float64(sample))
	}
	return total / float64(len(samples))
}
