package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/e7canasta/orion-depth-sampler/internal/config"
	"github.com/e7canasta/orion-depth-sampler/modules/catalog"
	"github.com/e7canasta/orion-depth-sampler/modules/pipeline"
	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

func printBanner(out io.Writer, cfg *config.Config, mode pipeline.Mode) {
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          Depth Sampler - Synchronized Depth Capture           ║")
	fmt.Fprintf(out, "║                    Version %-34s ║\n", version)
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration:")

	c := cfg.Capture
	fmt.Fprintf(out, "  Source:          %s\n", c.Source)
	if c.Source == "replay" {
		fmt.Fprintf(out, "  Replay:          %s (speed %.2fx, loop %v)\n", c.ReplayDir, c.ReplaySpeed, c.ReplayLoop)
	} else {
		fmt.Fprintf(out, "  Camera:          %s (mirrored %v)\n", c.Camera, c.Mirrored)
		fmt.Fprintf(out, "  Image:           %dx%d @ %.2f fps\n", c.Width, c.Height, c.FPS)
		fmt.Fprintf(out, "  Depth Map:       %dx%d\n", c.DepthWidth, c.DepthHeight)
	}
	fmt.Fprintf(out, "  Streams:         image, depth=%v, metadata=%v\n", c.Depth, c.Metadata)
	fmt.Fprintf(out, "  Depth Filter:    %v\n", c.DepthFilter)

	t := cfg.Transform
	representation := "distance"
	if t.Inverse {
		representation = "disparity"
	}
	fmt.Fprintf(out, "  Render:          %dx%d, %s, rotation %d°, equalize %v\n",
		t.Width, t.Height, representation, t.Rotation, t.Equalize)
	fmt.Fprintf(out, "  Recording:       %s\n", mode)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Pipeline:")
	fmt.Fprintln(out, "  capture → stream-sync → handoff → depth-transform → render → recorder")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Press Ctrl+C to stop gracefully")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(out)
}

// reportStats periodically prints statistics from all pipeline components
func reportStats(
	ctx context.Context,
	out io.Writer,
	interval time.Duration,
	synchronizer *streamsync.Synchronizer,
	target *pipeline.OffscreenTarget,
	p *pipeline.Pipeline,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLiveStats(out, time.Since(startTime), synchronizer, target, p)
		}
	}
}

func printLiveStats(
	out io.Writer,
	uptime time.Duration,
	synchronizer *streamsync.Synchronizer,
	target *pipeline.OffscreenTarget,
	p *pipeline.Pipeline,
) {
	ss := synchronizer.Stats()
	ps := p.Stats()

	fmt.Fprintln(out)
	fmt.Fprintln(out, "╭─────────────────────────────────────────────────────────────────╮")
	fmt.Fprintf(out, "│ Pipeline Statistics (Uptime: %v)\n", uptime.Round(time.Second))
	fmt.Fprintln(out, "├─────────────────────────────────────────────────────────────────┤")

	fmt.Fprintln(out, "│ Stream Sync:")
	fmt.Fprintf(out, "│   Frames Emitted:     %6d frames\n", ss.FramesEmitted)
	fmt.Fprintf(out, "│   Instants Skipped:   %6d (image dropped)\n", ss.InstantsSkipped)
	fmt.Fprintf(out, "│   Depth Omitted:      %6d frames\n", ss.DepthOmitted)
	fmt.Fprintf(out, "│   Late Frames:        %6d\n", ss.LateFrames)
	fmt.Fprintf(out, "│   Inbox Drops:        %6d\n", ss.InboxDrops)
	fmt.Fprintf(out, "│   Device Drops:       image=%d depth=%d metadata=%d\n",
		ss.DroppedByStream[streamsync.StreamImage],
		ss.DroppedByStream[streamsync.StreamDepth],
		ss.DroppedByStream[streamsync.StreamMetadata])
	fmt.Fprintf(out, "│   Real FPS:           %6.2f fps (σ %.2f)\n", ss.FPSReal, ss.FPSStdDev)
	fmt.Fprintf(out, "│   Jitter:             %6.2f ms\n", ss.JitterMeanMS)

	fmt.Fprintln(out, "│")
	fmt.Fprintln(out, "│ Render:")
	fmt.Fprintf(out, "│   Presented:          %6d images\n", target.Presented())
	fmt.Fprintf(out, "│   Transform Errors:   %6d\n", ps.TransformErrors)
	fmt.Fprintf(out, "│   Handoff Drops:      %6d frames (%.1f%%)\n",
		ps.Handoff.TotalDrops, dropRate(ps.Handoff.Published, ps.Handoff.TotalDrops))

	if ps.Recording != pipeline.ModeOff {
		fmt.Fprintln(out, "│")
		fmt.Fprintf(out, "│ Recording (%s):\n", ps.Recording)
		if s := ps.Session; s != nil {
			fmt.Fprintf(out, "│   Appended:           %6d frames\n", s.Appended)
			fmt.Fprintf(out, "│   Muxed:              %6d samples\n", s.Muxed)
			fmt.Fprintf(out, "│   Dropped:            %6d (pool=%d backpressure=%d non-monotonic=%d)\n",
				s.Dropped(), s.DroppedPool, s.DroppedBackpressure, s.DroppedNonMonotonic)
		} else {
			fmt.Fprintf(out, "│   Entries Written:    %6d\n", ps.Dumped)
		}
	}

	fmt.Fprintln(out, "╰─────────────────────────────────────────────────────────────────╯")
	fmt.Fprintln(out)
}

// printFinalStats prints final statistics at shutdown
func printFinalStats(
	out io.Writer,
	synchronizer *streamsync.Synchronizer,
	target *pipeline.OffscreenTarget,
	p *pipeline.Pipeline,
	entry *catalog.Recording,
) {
	ss := synchronizer.Stats()
	ps := p.Stats()

	fmt.Fprintln(out)
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(out, "                     Final Statistics                         ")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")

	fmt.Fprintf(out, "  Frames Synchronized:   %d frames\n", ss.FramesEmitted)
	fmt.Fprintf(out, "  Instants Skipped:      %d\n", ss.InstantsSkipped)
	fmt.Fprintf(out, "  Average FPS:           %.2f fps\n", ss.FPSReal)
	fmt.Fprintf(out, "  Images Presented:      %d\n", target.Presented())
	fmt.Fprintf(out, "  Handoff Drops:         %d\n", ps.Handoff.TotalDrops)

	if entry != nil {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Recording:             %s\n", entry.Path)
		fmt.Fprintf(out, "  Mode:                  %s\n", entry.Mode)
		fmt.Fprintf(out, "  Frames:                %d (%d dropped)\n", entry.Frames, entry.Dropped)
		fmt.Fprintf(out, "  Duration:              %v\n", entry.Duration.Round(time.Millisecond))
		if entry.ID != "" {
			fmt.Fprintf(out, "  Catalog ID:            %s\n", entry.ID)
		}
		if entry.Error != "" {
			fmt.Fprintf(out, "  Error:                 %s\n", entry.Error)
		}
	}

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(out)
}

// dropRate calculates drop percentage
func dropRate(total, drops uint64) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(drops) / float64(total) * 100.0
}
