package pcm

import (
	"testing"
	"time"
)

func TestEncodeDecode(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	got := Decode(Encode(samples))
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
	if len(Decode([]byte{1, 2, 3})) != 1 {
		t.Error("Expected trailing odd byte ignored")
	}
}

func TestUlaw(t *testing.T) {
	samples := []int16{0, 1000, -1000, 8000, -8000}
	encoded := EncodeUlaw(samples)
	if len(encoded) != len(samples) {
		t.Fatalf("Expected one byte per sample, got %d bytes", len(encoded))
	}

	decoded := DecodeUlaw(encoded)
	for i, want := range samples {
		diff := int(decoded[i]) - int(want)
		if diff < 0 {
			diff = -diff
		}
		// mu-law keeps roughly 13 bits of precision
		if diff > int(abs(want))/16+16 {
			t.Errorf("sample %d: expected about %d, got %d", i, want, decoded[i])
		}
	}
}

func abs(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

func TestFramesPerBuffer(t *testing.T) {
	tests := []struct {
		rate     int
		interval time.Duration
		want     int
	}{
		{8000, 20 * time.Millisecond, 160},
		{16000, 100 * time.Millisecond, 1600},
		{48000, 10 * time.Millisecond, 480},
	}
	for _, tt := range tests {
		if got := FramesPerBuffer(tt.rate, tt.interval); got != tt.want {
			t.Errorf("FramesPerBuffer(%d, %v): expected %d, got %d", tt.rate, tt.interval, tt.want, got)
		}
	}
	if Duration(160, 8000) != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", Duration(160, 8000))
	}
}

func TestSplit(t *testing.T) {
	frames := Split([]int16{1, 2, 3, 4, 5}, 2)
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	last := frames[2]
	if last[0] != 5 || last[1] != 0 {
		t.Errorf("Expected padded last frame [5 0], got %v", last)
	}
	if Split(nil, 160) != nil {
		t.Error("Expected nil for empty input")
	}
}
