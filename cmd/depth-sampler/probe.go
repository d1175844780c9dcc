package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder"
)

type ProbeOptions struct {
	OutputFormat string
}

// NewProbeCommand reports the track properties of a recording
func NewProbeCommand() *cobra.Command {
	opts := &ProbeOptions{}

	cmd := &cobra.Command{
		Use:     "probe <file>",
		Short:   "Inspect a recorded MP4 file",
		Example: `  depth-sampler probe recordings/depth-20250101-120000.000.mp4 --output json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.OutputFormat, "output", "o", "text", "Output format (json or text)")
	return cmd
}

func runProbe(out io.Writer, path string, opts *ProbeOptions) error {
	info, err := recorder.Probe(path)
	if err != nil {
		return fmt.Errorf("probe %s: %w", path, err)
	}

	switch opts.OutputFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"path":        path,
			"width":       info.Width,
			"height":      info.Height,
			"timescale":   info.Timescale,
			"samples":     info.Samples,
			"keyframes":   info.Keyframes,
			"duration_ms": info.Duration.Milliseconds(),
		})
	case "text":
		fmt.Fprintf(out, "File:        %s\n", path)
		fmt.Fprintf(out, "Geometry:    %dx%d\n", info.Width, info.Height)
		fmt.Fprintf(out, "Timescale:   %d Hz\n", info.Timescale)
		fmt.Fprintf(out, "Samples:     %d (%d keyframes)\n", info.Samples, info.Keyframes)
		fmt.Fprintf(out, "Duration:    %v\n", info.Duration)
		return nil
	default:
		return fmt.Errorf("invalid output format: %s", opts.OutputFormat)
	}
}
