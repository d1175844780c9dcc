package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-depth-sampler/modules/catalog"
)

type RecordingsListOptions struct {
	OutputFormat string
	Limit        int
}

// NewRecordingsCommand lists and removes catalog entries
func NewRecordingsCommand(a *app) *cobra.Command {
	opts := &RecordingsListOptions{}

	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List finished recordings",
		Example: `  depth-sampler recordings
  depth-sampler recordings --limit 5 --output json
  depth-sampler recordings rm 3f0c2a8e-6b1d-4d67-9a3e-0c2b7f1e5a90`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCatalog(a, func(cat *catalog.Catalog) error {
				return runRecordingsList(cmd.Context(), cmd.OutOrStdout(), cat, opts)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.OutputFormat, "output", "o", "text", "Output format (json or text)")
	flags.IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of recordings to list (0 = all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a recording from the catalog (the file is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(a, func(cat *catalog.Catalog) error {
				if err := cat.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withCatalog(a *app, fn func(*catalog.Catalog) error) error {
	cat, err := catalog.Open(a.cfg.Catalog.Path)
	if err != nil {
		return err
	}
	defer cat.Close()
	return fn(cat)
}

func runRecordingsList(ctx context.Context, out io.Writer, cat *catalog.Catalog, opts *RecordingsListOptions) error {
	list, err := cat.List(ctx, opts.Limit)
	if err != nil {
		return err
	}

	switch opts.OutputFormat {
	case "json":
		type row struct {
			ID         string `json:"id"`
			Mode       string `json:"mode"`
			Path       string `json:"path"`
			Frames     int    `json:"frames"`
			Dropped    uint64 `json:"dropped"`
			DurationMS int64  `json:"duration_ms"`
			StartedAt  string `json:"started_at"`
			Error      string `json:"error,omitempty"`
		}
		rows := make([]row, 0, len(list))
		for _, r := range list {
			rows = append(rows, row{
				ID:         r.ID,
				Mode:       string(r.Mode),
				Path:       r.Path,
				Frames:     r.Frames,
				Dropped:    r.Dropped,
				DurationMS: r.Duration.Milliseconds(),
				StartedAt:  r.StartedAt.Format(time.RFC3339),
				Error:      r.Error,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)

	case "text":
		if len(list) == 0 {
			fmt.Fprintln(out, "No recordings found")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODE\tFRAMES\tDROPPED\tDURATION\tSTARTED\tPATH")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\t%s\t%s\n",
				r.ID, r.Mode, r.Frames, r.Dropped,
				r.Duration.Round(time.Millisecond),
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Path)
		}
		return w.Flush()

	default:
		return fmt.Errorf("invalid output format: %s", opts.OutputFormat)
	}
}
