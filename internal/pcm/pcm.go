// Package pcm converts between 16-bit linear PCM byte streams, samples and
// G.711 mu-law frames.
package pcm

import (
	"encoding/binary"
	"time"

	"github.com/zaf/g711"
)

// Decode converts little-endian 16-bit PCM to samples. A trailing odd byte
// is ignored.
func Decode(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Encode converts samples to little-endian 16-bit PCM
func Encode(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return data
}

// EncodeUlaw compresses samples to mu-law, one byte per sample
func EncodeUlaw(samples []int16) []byte {
	return g711.EncodeUlaw(Encode(samples))
}

// DecodeUlaw expands mu-law bytes to samples
func DecodeUlaw(data []byte) []int16 {
	return Decode(g711.DecodeUlaw(data))
}

// FramesPerBuffer returns the number of samples covering interval at
// sampleRate.
func FramesPerBuffer(sampleRate int, interval time.Duration) int {
	return int(int64(sampleRate) * int64(interval) / int64(time.Second))
}

// Duration returns the playback time of n samples at sampleRate
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// Split cuts samples into frames of size samples. The last frame is padded
// with silence.
func Split(samples []int16, size int) [][]int16 {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		frame := make([]int16, size)
		copy(frame, samples[start:])
		frames = append(frames, frame)
	}
	return frames
}
