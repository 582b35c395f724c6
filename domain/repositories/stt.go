package repositories

import "context"

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming opens a streaming transcription for one utterance
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// SpeechToTextStreaming receives audio for one utterance. End closes the
// stream and returns the final transcript.
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	End() (string, error)
}
