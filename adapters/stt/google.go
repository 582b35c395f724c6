package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain/repositories"
)

// ErrNoAudio is returned by End when no audio was streamed
var ErrNoAudio = errors.New("no audio data received")

// ErrNoSpeech is returned by End when the recognizer found no words
var ErrNoSpeech = errors.New("no speech detected in audio")

// GoogleSpeechToText implements SpeechToText for Google Cloud. One client is
// shared by all streams.
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates the Cloud Speech client using application
// default credentials.
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Close releases the Cloud Speech client
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// InitTranscribeStreaming opens a streaming recognition for one utterance
func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: false,
			},
		},
	}); err != nil {
		stream.CloseSend()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &GoogleSpeechToTextStream{
		stream: stream,
		ctx:    ctx,
		logger: g.logger,
		done:   make(chan struct{}),
	}
	go s.receiveResults()

	return s, nil
}

// GoogleSpeechToTextStream is one streaming recognition request
type GoogleSpeechToTextStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
	ctx    context.Context
	logger *zap.Logger

	mu            sync.Mutex
	audioReceived bool

	done       chan struct{}
	transcript string
	recvErr    error
}

// Stream sends one chunk of audio
func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	g.mu.Lock()
	g.audioReceived = true
	g.mu.Unlock()

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// End closes the audio stream and waits for the final transcript
func (g *GoogleSpeechToTextStream) End() (string, error) {
	if err := g.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	g.mu.Lock()
	audioReceived := g.audioReceived
	g.mu.Unlock()
	if !audioReceived {
		return "", ErrNoAudio
	}

	select {
	case <-g.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case <-g.done:
	}

	if g.recvErr != nil {
		return "", g.recvErr
	}
	if g.transcript == "" {
		return "", ErrNoSpeech
	}
	return g.transcript, nil
}

// receiveResults collects final results until the server ends the stream.
func (g *GoogleSpeechToTextStream) receiveResults() {
	defer close(g.done)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.recvErr = fmt.Errorf("failed to receive response: %w", err)
			return
		}

		for _, result := range resp.GetResults() {
			if result.GetIsFinal() && len(result.GetAlternatives()) > 0 {
				if g.transcript != "" {
					g.transcript += " "
				}
				g.transcript += result.GetAlternatives()[0].GetTranscript()
			}
		}
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
