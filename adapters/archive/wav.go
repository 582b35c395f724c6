package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/youpy/go-wav"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain/repositories"
	"github.com/bromscandium/BioGrow/internal/pcm"
)

const (
	numChannels   = 1
	bitsPerSample = 16
)

// WavArchive writes each utterance to its own mono PCM16 WAV file
type WavArchive struct {
	dir    string
	now    func() time.Time
	seq    atomic.Uint64
	logger *zap.Logger
}

var _ repositories.UtteranceArchive = (*WavArchive)(nil)

// NewWavArchive creates the archive directory if needed
func NewWavArchive(dir string, logger *zap.Logger) (*WavArchive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}
	return &WavArchive{dir: dir, now: time.Now, logger: logger}, nil
}

// Save writes audio (PCM16LE mono) and returns the file path
func (a *WavArchive) Save(ctx context.Context, connectionID string, audio []byte, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(audio) < 2 {
		return "", fmt.Errorf("utterance is empty")
	}
	if sampleRate <= 0 {
		return "", fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	name := fmt.Sprintf("%s-%s-%03d.wav", connectionID, a.now().Format("20060102T150405"), a.seq.Add(1))
	path := filepath.Join(a.dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	decoded := pcm.Decode(audio)
	numSamples := len(decoded)
	samples := make([]wav.Sample, numSamples)
	for i, value := range decoded {
		samples[i].Values[0] = int(value)
	}

	writer := wav.NewWriter(file, uint32(numSamples), numChannels, uint32(sampleRate), bitsPerSample)
	if err := writer.WriteSamples(samples); err != nil {
		return "", fmt.Errorf("failed to write samples to %s: %w", path, err)
	}

	a.logger.Info("Utterance archived",
		zap.String("connectionID", connectionID),
		zap.String("path", path),
		zap.Int("samples", numSamples))

	return path, nil
}
