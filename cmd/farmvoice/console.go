package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/adapters/audio"
	"github.com/bromscandium/BioGrow/internal/capture"
	"github.com/bromscandium/BioGrow/internal/console"
	"github.com/bromscandium/BioGrow/internal/conversation"
	"github.com/bromscandium/BioGrow/internal/session"
	"github.com/bromscandium/BioGrow/internal/signaling"
	"github.com/bromscandium/BioGrow/internal/transport"
)

func newConsoleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Chat with the farm assistant",
		Long: "Opens the streaming transport to the broker and reads commands from stdin. " +
			"Type /help for the list of commands; any other line is sent as a chat message.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), *configPath, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runConsole(ctx context.Context, configPath string, in io.Reader, out io.Writer) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	policy, err := conversation.ParseMergePolicy(cfg.Client.MergePolicy)
	if err != nil {
		return err
	}
	log := conversation.NewLog(policy, logger)

	streaming, err := transport.NewClient(transport.Config{
		URL:           cfg.Client.TransportURL,
		SendQueueSize: cfg.Client.SendQueueSize,
	}, log, logger)
	if err != nil {
		return err
	}

	microphone, err := audio.NewMicrophone(audio.MicrophoneConfig{
		Device:     cfg.Client.InputDevice,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	}, logger)
	if err != nil {
		return err
	}
	recorder, err := capture.NewController(microphone, streaming, cfg.Client.GetChunkInterval(), logger)
	if err != nil {
		return err
	}

	screen, err := console.NewScreen(console.Config{
		Log:       log,
		Transport: streaming,
		Recorder:  recorder,
		Output:    out,
	}, logger)
	if err != nil {
		return err
	}

	signaler, err := signaling.NewClient(signaling.Config{
		CredentialURL:  cfg.Client.CredentialURL,
		NegotiationURL: cfg.Client.NegotiationURL,
		Model:          cfg.Client.Model,
		Timeout:        cfg.Client.GetHTTPTimeout(),
	}, logger)
	if err != nil {
		return err
	}

	manager, err := session.NewManager(session.Config{
		Peers:              session.NewPionPeerFactory(nil, logger),
		Microphone:         audio.NewPeerSource(cfg.Client.InputDevice, logger),
		Negotiator:         signaler,
		Sink:               audio.NewSpeaker(logger),
		Observer:           screen,
		ChannelOpenTimeout: cfg.Client.GetChannelOpenTimeout(),
	}, logger)
	if err != nil {
		return err
	}
	screen.AttachSession(manager)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := screen.Mount(ctx); err != nil {
		logger.Warn("Continuing without voice input", zap.Error(err))
	}
	defer screen.Unmount()

	return screen.Run(ctx, in)
}
