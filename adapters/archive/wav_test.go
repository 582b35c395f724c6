package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/youpy/go-wav"
	"go.uber.org/zap/zaptest"
)

func TestSaveWritesReadableWav(t *testing.T) {
	dir := t.TempDir()
	a, err := NewWavArchive(filepath.Join(dir, "utterances"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWavArchive failed: %v", err)
	}

	// samples 1, -2, 300 as PCM16LE
	pcm := []byte{0x01, 0x00, 0xFE, 0xFF, 0x2C, 0x01}

	path, err := a.Save(context.Background(), "conn-1", pcm, 16000)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "conn-1-") {
		t.Errorf("Expected file named after the connection, got %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if format.SampleRate != 16000 || format.NumChannels != 1 || format.BitsPerSample != 16 {
		t.Errorf("Expected 16kHz mono 16-bit, got %+v", format)
	}

	samples, err := reader.ReadSamples(3)
	if err != nil {
		t.Fatalf("ReadSamples failed: %v", err)
	}
	want := []int{1, -2, 300}
	if len(samples) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if got := reader.IntValue(samples[i], 0); got != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got)
		}
	}
}

func TestSaveUniqueNames(t *testing.T) {
	a, err := NewWavArchive(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWavArchive failed: %v", err)
	}

	first, err := a.Save(context.Background(), "c", []byte{0, 0}, 8000)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, err := a.Save(context.Background(), "c", []byte{0, 0}, 8000)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if first == second {
		t.Errorf("Expected distinct files, got %s twice", first)
	}
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	a, err := NewWavArchive(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWavArchive failed: %v", err)
	}

	if _, err := a.Save(context.Background(), "c", []byte{1}, 16000); err == nil {
		t.Error("Expected error for empty utterance")
	}
	if _, err := a.Save(context.Background(), "c", []byte{1, 0}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Save(ctx, "c", []byte{1, 0}, 16000); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestNewWavArchiveRequiresDir(t *testing.T) {
	if _, err := NewWavArchive("", zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error for empty directory")
	}
}
