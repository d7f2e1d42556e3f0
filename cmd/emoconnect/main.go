package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/emoconnect/internal/config"
	"github.com/loykin/emoconnect/internal/logger"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// ControlFlags are the flags of the commands that talk to a running daemon.
type ControlFlags struct {
	APIUrl string
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	control := &ControlFlags{}

	root := createRootCommand(global)
	root.AddCommand(
		createServeCommand(global),
		createSamplerCommand(global),
		createCompanionCommand(global),
		createStartCommand(global, control),
		createStopCommand(global, control),
		createStatusCommand(global, control),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "emoconnect",
		Short: "Emotion-aware companion for the Furhat robot",
		Long: `EmoConnect runs an emotion sampler and a conversational companion as a
supervised pair behind a small control panel.

Examples:
  emoconnect serve --config=emoconnect.toml   # control daemon on 127.0.0.1:8000
  emoconnect start                            # start sampler, then companion
  emoconnect status
  emoconnect stop`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	return root
}

// setup loads the config and builds the logger for service. The returned
// closer flushes a rotated log file.
func setup(flags *GlobalFlags, service string) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	if flags.LogLevel != "" {
		cfg.Log.Slog.Level = logger.Level(flags.LogLevel)
	}
	lc := cfg.Log.ForService(service)
	w := lc.Writer()
	log := lc.NewSloggerTo(w).With("service", service)
	slog.SetDefault(log)
	closer := func() {
		if c, ok := w.(io.Closer); ok && w != os.Stderr {
			_ = c.Close()
		}
	}
	return cfg, log, closer, nil
}
