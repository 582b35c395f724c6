package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/youpy/go-wav"

	"github.com/bromscandium/BioGrow/internal/pcm"
	"github.com/bromscandium/BioGrow/internal/transport"
)

const (
	readBatch = 4096
	pcmFormat = 1
)

func newReplayCmd(configPath *string) *cobra.Command {
	var (
		tail    time.Duration
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay <file.wav>",
		Short: "Stream a recorded question to the broker",
		Long: "Sends a mono 16-bit WAV file over the streaming transport at real-time pace, " +
			"followed by silence, and prints the broker's notifications until the assistant answers.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), *configPath, args[0], tail, timeout, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&tail, "tail", 2*time.Second, "silence appended after the recording")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "max wait for the assistant's answer")
	return cmd
}

func runReplay(ctx context.Context, configPath, path string, tail, timeout time.Duration, out io.Writer) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	samples, sampleRate, err := loadRecording(path)
	if err != nil {
		return err
	}
	if sampleRate != cfg.Audio.SampleRate {
		return fmt.Errorf("%s is %d Hz but the transport expects %d Hz", path, sampleRate, cfg.Audio.SampleRate)
	}

	printer := &replayPrinter{out: out, answered: make(chan struct{})}
	streaming, err := transport.NewClient(transport.Config{
		URL:           cfg.Client.TransportURL,
		SendQueueSize: cfg.Client.SendQueueSize,
	}, printer, logger)
	if err != nil {
		return err
	}
	defer streaming.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := streaming.Connect(ctx); err != nil {
		return err
	}

	interval := cfg.Client.GetChunkInterval()
	frameSize := pcm.FramesPerBuffer(sampleRate, interval)
	frames := pcm.Split(samples, frameSize)
	frames = append(frames, pcm.Split(make([]int16, pcm.FramesPerBuffer(sampleRate, tail)), frameSize)...)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for _, frame := range frames {
		streaming.SendAudioChunk(pcm.Encode(frame))
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fmt.Fprintf(out, "sent %s of audio\n", pcm.Duration(len(frames)*frameSize, sampleRate))

	select {
	case <-printer.answered:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no answer within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadRecording reads a mono 16-bit PCM WAV file
func loadRecording(path string) ([]int16, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.AudioFormat != pcmFormat || format.NumChannels != 1 || format.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("%s must be mono 16-bit PCM, got %d channels at %d bits", path, format.NumChannels, format.BitsPerSample)
	}

	var samples []int16
	for {
		batch, err := reader.ReadSamples(readBatch)
		for _, sample := range batch {
			samples = append(samples, int16(reader.IntValue(sample, 0)))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read samples: %w", err)
		}
	}
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("%s contains no audio", path)
	}
	return samples, int(format.SampleRate), nil
}

// replayPrinter writes broker notifications as they arrive
type replayPrinter struct {
	out      io.Writer
	mu       sync.Mutex
	answered chan struct{}
	once     sync.Once
}

func (p *replayPrinter) VoiceActivity(status string) {
	p.print("vad: %s\n", status)
}

func (p *replayPrinter) Transcription(text string) {
	p.print("you said: %s\n", text)
}

func (p *replayPrinter) ChatResponse(text string) {
	p.print("assistant: %s\n", text)
	p.once.Do(func() { close(p.answered) })
}

func (p *replayPrinter) print(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

var _ transport.Handler = (*replayPrinter)(nil)
