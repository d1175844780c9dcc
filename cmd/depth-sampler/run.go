package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-depth-sampler/internal/config"
	"github.com/e7canasta/orion-depth-sampler/modules/capture"
	"github.com/e7canasta/orion-depth-sampler/modules/catalog"
	depthtransform "github.com/e7canasta/orion-depth-sampler/modules/depth-transform"
	"github.com/e7canasta/orion-depth-sampler/modules/pipeline"
	"github.com/e7canasta/orion-depth-sampler/modules/recorder"
	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

// shutdownTimeout bounds recording finalization on exit
const shutdownTimeout = 10 * time.Second

type RunOptions struct {
	Duration      time.Duration
	StatsInterval time.Duration
	Quiet         bool
}

// NewRunCommand captures until interrupted or for a fixed duration
func NewRunCommand(a *app) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture, render and optionally record",
		Example: `  depth-sampler run --duration 10s
  depth-sampler run --record video --dir recordings --inverse --equalize
  depth-sampler run --record frame-dump --image-format jpeg --camera front --mirrored
  depth-sampler run --source replay --replay-dir recordings/depth-20250101-120000.000 --replay-loop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCapture(ctx, a.cfg, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.Duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	flags.DurationVar(&opts.StatsInterval, "stats-interval", 5*time.Second, "Statistics reporting interval")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "Do not print banner and statistics")

	// Overrides; unset flags keep the configured value
	flags.String("source", "", "Frame source: synthetic or replay")
	flags.String("camera", "", "Camera facing: back or front")
	flags.Bool("mirrored", false, "Mirror the camera horizontally")
	flags.Int("width", 0, "Image width")
	flags.Int("height", 0, "Image height")
	flags.Float64("fps", 0, "Capture rate")
	flags.Bool("depth", true, "Enable the depth stream")
	flags.Bool("metadata", true, "Enable the metadata stream")
	flags.Bool("depth-filter", false, "Smooth depth maps")
	flags.Float64("match-window", 0, "Timestamp matching window in milliseconds")
	flags.Int("drop-depth-every", 0, "Synthetic source: drop every Nth depth frame")
	flags.String("replay-dir", "", "Frame dump to replay")
	flags.Float64("replay-speed", 1, "Replay speed factor")
	flags.Bool("replay-loop", false, "Replay in a loop")
	flags.Bool("inverse", false, "Render disparity instead of distance")
	flags.Bool("equalize", false, "Equalize the depth histogram")
	flags.Int("render-width", 0, "Render width (default: capture width)")
	flags.Int("render-height", 0, "Render height (default: capture height)")
	flags.Int("rotation", 0, "Render rotation in degrees clockwise")
	flags.String("record", "", "Recording mode: off, video or frame-dump")
	flags.String("dir", "", "Recording directory")
	flags.Int("backpressure-budget", 0, "Encoder backpressure budget in milliseconds")
	flags.String("preset", "", "x264 speed preset")
	flags.Int("bitrate", 0, "Video bitrate in kbps (0 = encoder default)")
	flags.String("image-format", "", "Frame dump image format: png or jpeg")
	flags.Int("jpeg-quality", 0, "Frame dump JPEG quality (1-100)")

	cmd.RegisterFlagCompletionFunc("record", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"off", "video", "frame-dump"}, cobra.ShellCompDirectiveNoFileComp
	})
	cmd.RegisterFlagCompletionFunc("source", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"synthetic", "replay"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// runCapture composes controller → synchronizer → pipeline and runs it until
// ctx ends. An active recording is finished and cataloged before returning.
func runCapture(ctx context.Context, cfg *config.Config, opts *RunOptions, out io.Writer) error {
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}
	if opts.Quiet {
		out = io.Discard
	}

	mode, err := pipeline.ParseMode(cfg.Recording.Mode)
	if err != nil {
		return err
	}
	rotation, err := depthtransform.RotationFromDegrees(cfg.Transform.Rotation)
	if err != nil {
		return err
	}
	facing, err := capture.ParseFacing(cfg.Capture.Camera)
	if err != nil {
		return err
	}

	// 1. Depth transform and render target
	stage := depthtransform.New()
	stage.SelectDepthRepresentation(cfg.Transform.Inverse)
	stage.SetEqualizationEnabled(cfg.Transform.Equalize)

	target, err := pipeline.NewOffscreenTarget(cfg.Transform.Width, cfg.Transform.Height)
	if err != nil {
		return err
	}

	// 2. Catalog, only when something gets recorded
	var cat *catalog.Catalog
	if mode != pipeline.ModeOff {
		if err := os.MkdirAll(filepath.Dir(cfg.Catalog.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create catalog dir: %w", err)
		}
		cat, err = catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		defer cat.Close()
	}

	// 3. Synchronizer and pipeline
	synchronizer := streamsync.New()
	synchronizer.SetAuxiliaryFilterEnabled(cfg.Capture.DepthFilter)

	p, err := pipeline.New(synchronizer, stage, target, cat, pipeline.Config{
		Rotation:           rotation,
		Dir:                cfg.Recording.Dir,
		BackpressureBudget: time.Duration(cfg.Recording.BackpressureBudgetMS) * time.Millisecond,
		PoolSize:           cfg.Recording.PoolSize,
		Preset:             cfg.Recording.Preset,
		BitrateKbps:        cfg.Recording.BitrateKbps,
		KeyframeInterval:   cfg.Recording.KeyframeInterval,
		ImageFormat:        cfg.Recording.ImageFormat,
		JPEGQuality:        cfg.Recording.JPEGQuality,
	})
	if err != nil {
		return err
	}

	// 4. Capture controller
	ctrl, err := capture.NewController(synchronizer, deviceFactory(cfg.Capture), capture.ControllerConfig{
		Camera:          capture.CameraSelector{Facing: facing, Mirrored: cfg.Capture.Mirrored},
		DepthEnabled:    cfg.Capture.Depth,
		MetadataEnabled: cfg.Capture.Metadata,
		SyncOptions: []streamsync.Option{
			streamsync.WithMatchWindow(time.Duration(cfg.Capture.MatchWindowMS * float64(time.Millisecond))),
		},
	})
	if err != nil {
		return err
	}

	printBanner(out, cfg, mode)

	// Components outlive ctx so the shutdown below can drain them in order
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if err := p.Start(runCtx); err != nil {
		return err
	}
	if err := ctrl.Start(runCtx); err != nil {
		_ = p.Stop(runCtx)
		return err
	}

	if mode != pipeline.ModeOff {
		path, err := p.StartRecording(mode)
		if err != nil {
			_ = ctrl.Stop()
			_ = p.Stop(runCtx)
			return err
		}
		fmt.Fprintf(out, "Recording (%s): %s\n\n", mode, path)
	}

	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		if opts.StatsInterval > 0 {
			reportStats(ctx, out, opts.StatsInterval, synchronizer, target, p)
		}
	}()

	<-ctx.Done()
	<-reporterDone
	slog.Info("depth-sampler: shutting down", "reason", context.Cause(ctx))

	// 5. Stop capture first, then finish the recording
	if err := ctrl.Stop(); err != nil {
		slog.Error("depth-sampler: capture stop failed", "error", err)
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelStop()

	var (
		entry    *catalog.Recording
		finalErr error
	)
	if mode != pipeline.ModeOff {
		rec, err := p.StopRecording(stopCtx)
		switch {
		case errors.Is(err, recorder.ErrNoSamples):
			fmt.Fprintln(out, "Recording discarded: no frames were captured")
		case err != nil:
			finalErr = err
			entry = &rec
		default:
			entry = &rec
		}
	}
	if err := p.Stop(stopCtx); err != nil && finalErr == nil {
		finalErr = err
	}

	printFinalStats(out, synchronizer, target, p, entry)
	return finalErr
}

// deviceFactory builds the configured source for a camera selection
func deviceFactory(c config.CaptureConfig) capture.DeviceFactory {
	return func(sel capture.CameraSelector) (capture.Device, error) {
		if c.Source == "replay" {
			src, err := capture.NewReplaySource(capture.ReplayConfig{
				Dir:   c.ReplayDir,
				Speed: c.ReplaySpeed,
				Loop:  c.ReplayLoop,
			})
			if err != nil {
				return nil, err
			}
			return src, nil
		}

		src, err := capture.NewSyntheticSource(capture.SyntheticConfig{
			Camera:            sel,
			Width:             c.Width,
			Height:            c.Height,
			DepthWidth:        c.DepthWidth,
			DepthHeight:       c.DepthHeight,
			FPS:               c.FPS,
			DropImageEvery:    c.DropImageEvery,
			DropDepthEvery:    c.DropDepthEvery,
			DropMetadataEvery: c.DropMetadataEvery,
			HoleEvery:         c.HoleEvery,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}
