package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-depth-sampler/internal/config"
)

const version = "v0.1.0"

// app holds what the persistent pre-run resolved for the executing command
type app struct {
	cfg    *config.Config
	closer io.Closer
}

// NewRootCommand builds the depth-sampler command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "depth-sampler",
		Short: "Synchronized depth capture and recording",
		Long: `depth-sampler captures image, depth and detection streams, fuses them into
one synchronized frame per capture instant, renders the depth map and
optionally records the rendered stream as MP4 or as a frame dump.

Configuration is read from --config (YAML) and overridden by flags and
DEPTH_SAMPLER_* environment variables, e.g. DEPTH_SAMPLER_CAPTURE_FPS=15.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("catalog", "", "Recordings catalog database (default: <recording dir>/catalog.db)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("log-file", "", "Also write logs to this file, rotated by size")

	cmd.AddCommand(NewRunCommand(a))
	cmd.AddCommand(NewProbeCommand())
	cmd.AddCommand(NewRecordingsCommand(a))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closer, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.closer = closer
	return nil
}

func (a *app) teardown() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// NewVersionCommand prints the build version
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "depth-sampler %s\n", version)
		},
	}
}
