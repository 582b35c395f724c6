package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/adapters/archive"
	"github.com/bromscandium/BioGrow/adapters/llm"
	"github.com/bromscandium/BioGrow/adapters/realtime"
	"github.com/bromscandium/BioGrow/adapters/stt"
	"github.com/bromscandium/BioGrow/domain/repositories"
	"github.com/bromscandium/BioGrow/internal/api"
	"github.com/bromscandium/BioGrow/internal/config"
	"github.com/bromscandium/BioGrow/internal/metrics"
	"github.com/bromscandium/BioGrow/internal/vad"
	"github.com/bromscandium/BioGrow/internal/websocket"
	"github.com/bromscandium/BioGrow/usecase"
)

const shutdownTimeout = 10 * time.Second

func newBrokerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "broker",
		Short: "Run the local broker",
		Long:  "Serves the credential endpoint (/session), the streaming transport (/ws), /health and /metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(cmd.Context(), *configPath)
		},
	}
}

func runBroker(ctx context.Context, configPath string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	minter, err := realtime.NewSessionsClient(realtime.SessionsConfig{
		APIKey:      cfg.Broker.OpenAIAPIKey,
		SessionsURL: cfg.Broker.SessionsURL,
		Model:       cfg.Broker.Model,
		Voice:       cfg.Broker.Voice,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create session minter: %w", err)
	}

	speechToText, closeSpeech, err := newSpeechToText(ctx, cfg.Broker, logger)
	if err != nil {
		return err
	}
	defer closeSpeech()

	model, err := newLanguageModel(ctx, cfg.Broker, logger)
	if err != nil {
		return err
	}

	var utterances repositories.UtteranceArchive
	if cfg.Broker.ArchiveDir != "" {
		wavArchive, err := archive.NewWavArchive(cfg.Broker.ArchiveDir, logger)
		if err != nil {
			return err
		}
		utterances = wavArchive
	}

	conversation, err := usecase.NewConversationService(speechToText, utterances, usecase.ConversationConfig{
		SampleRate: cfg.Audio.SampleRate,
		Language:   cfg.Broker.Language,
	}, m, logger)
	if err != nil {
		return err
	}

	hub, err := websocket.NewHub(websocket.HubConfig{
		Conversation: conversation,
		Chat:         usecase.NewChatService(model, m, logger),
		Metrics:      m,
		VAD: vad.Config{
			Threshold:        cfg.Broker.VAD.Threshold,
			BackgroundWindow: cfg.Broker.VAD.BackgroundWindow,
			Silence:          cfg.Broker.VAD.GetSilenceDuration(),
			SampleRate:       cfg.Audio.SampleRate,
		},
	}, logger)
	if err != nil {
		return err
	}
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	api.InitRoutes(e, hub, minter, m, registry, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Broker.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("Broker started",
		zap.String("address", cfg.Broker.Address),
		zap.String("sttProvider", cfg.Broker.STTProvider),
		zap.Bool("archive", utterances != nil))

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("broker server failed: %w", err)
	}

	logger.Info("Broker is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("broker forced to shutdown: %w", err)
	}
	stopHub()

	logger.Info("Broker exited")
	return nil
}

func newSpeechToText(ctx context.Context, broker config.BrokerConfig, logger *zap.Logger) (repositories.SpeechToText, func(), error) {
	if broker.STTProvider == "mock" {
		logger.Warn("Using mock speech-to-text")
		return stt.NewMockSpeechToText(logger), func() {}, nil
	}

	google, err := stt.NewGoogleSpeechToText(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	return google, func() {
		if err := google.Close(); err != nil {
			logger.Warn("Failed to close speech client", zap.Error(err))
		}
	}, nil
}

func newLanguageModel(ctx context.Context, broker config.BrokerConfig, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	if broker.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, using mock language model")
		return llm.NewMockLLM(), nil
	}
	return llm.NewGeminiLLM(ctx, llm.GeminiConfig{
		APIKey: broker.GeminiAPIKey,
		Model:  broker.GeminiModel,
	}, logger)
}
