package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "farmvoice",
		Short:        "Farm assistant with voice and text chat",
		Long:         "farmvoice runs the realtime farm assistant console and the local broker it talks to.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to farmvoice config file")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newBrokerCmd(&configPath))
	cmd.AddCommand(newConsoleCmd(&configPath))
	cmd.AddCommand(newReplayCmd(&configPath))
	cmd.AddCommand(newDevicesCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "farmvoice %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// setup loads the configuration and builds the logger it describes
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
