// Package pipeline composes capture, depth transform, rendering and
// recording into one running graph:
//
//	synchronizer → handoff → transform → render target
//	                                   ↘ recording (video | frame dump)
//
// The synchronizer worker only publishes into the handoff mailbox; transform,
// rendering and recording run on the handoff goroutine. At most one recording
// is active at a time and finished recordings are indexed in the catalog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-depth-sampler/modules/catalog"
	depthtransform "github.com/e7canasta/orion-depth-sampler/modules/depth-transform"
	"github.com/e7canasta/orion-depth-sampler/modules/recorder"
	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

var (
	// ErrRecordingActive is returned by StartRecording while a recording runs
	ErrRecordingActive = errors.New("pipeline: recording already active")

	// ErrNotRecording is returned by StopRecording when nothing is recording
	ErrNotRecording = errors.New("pipeline: not recording")
)

// Mode selects what a recording produces
type Mode string

const (
	ModeOff       Mode = "off"
	ModeVideo     Mode = "video"
	ModeFrameDump Mode = "frame-dump"
)

// ParseMode converts a configuration value to a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOff, "":
		return ModeOff, nil
	case ModeVideo, ModeFrameDump:
		return Mode(s), nil
	default:
		return ModeOff, fmt.Errorf("pipeline: unknown recording mode '%s'", s)
	}
}

// Config configures a Pipeline
type Config struct {
	// Rotation applied to depth images before they reach the target
	Rotation depthtransform.Rotation

	// Dir receives recordings: <Dir>/depth-<stamp>.mp4 or <Dir>/depth-<stamp>/
	Dir string

	// Video session parameters. Geometry comes from the render target.
	BackpressureBudget time.Duration
	PoolSize           int
	Preset             string
	BitrateKbps        int
	KeyframeInterval   int
	Encoder            recorder.EncoderFactory // default: GStreamer
	Clock              recorder.Clock

	// Frame dump parameters
	ImageFormat string
	JPEGQuality int
}

// Stats is a snapshot of pipeline counters
type Stats struct {
	Frames          uint64 // synchronized frames fully handled
	Rendered        uint64 // depth images presented
	WithoutDepth    uint64 // frames that carried no depth map
	TransformErrors uint64

	Recording Mode
	Handoff   streamsync.HandoffStats
	Session   *recorder.Stats // nil unless recording video
	Dumped    uint64          // entries written by the active frame dump
}

// recording is the active recording, exactly one of session or dumper is set
type recording struct {
	mode      Mode
	path      string
	startedAt time.Time

	session *recorder.Session
	dumper  *recorder.FrameDumper

	// frame dump extent, in capture time
	firstTS, lastTS time.Duration
	hasTS           bool
}

// Pipeline drives synchronized frames through transform, rendering and the
// active recording.
type Pipeline struct {
	synchronizer *streamsync.Synchronizer
	stage        *depthtransform.Stage
	target       RenderTarget
	catalog      *catalog.Catalog
	cfg          Config

	handoff *streamsync.Handoff

	mu      sync.Mutex
	active  *recording
	started bool

	// handling is held while a frame is processed; StopRecording takes it
	// to drain the in-flight frame
	handling sync.Mutex

	frames          atomic.Uint64
	rendered        atomic.Uint64
	withoutDepth    atomic.Uint64
	transformErrors atomic.Uint64
}

// New creates a pipeline. The catalog is optional.
func New(s *streamsync.Synchronizer, stage *depthtransform.Stage, target RenderTarget, cat *catalog.Catalog, cfg Config) (*Pipeline, error) {
	if s == nil {
		return nil, errors.New("pipeline: synchronizer is required")
	}
	if stage == nil {
		return nil, errors.New("pipeline: transform stage is required")
	}
	if target == nil {
		return nil, errors.New("pipeline: render target is required")
	}
	if size := target.Size(); size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("pipeline: invalid render size %v", size)
	}

	p := &Pipeline{
		synchronizer: s,
		stage:        stage,
		target:       target,
		catalog:      cat,
		cfg:          cfg,
	}
	p.handoff = streamsync.NewHandoff(p.handle)
	return p, nil
}

// Start attaches the pipeline as the synchronizer consumer
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline: already started")
	}
	if err := p.handoff.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.synchronizer.OnSynchronizedFrame(p.handoff.Publish)
	p.started = true

	slog.Info("pipeline: started",
		"render_size", p.target.Size(),
		"rotation", p.cfg.Rotation.Degrees(),
		"inverse", p.stage.UsesInverse(),
		"equalize", p.stage.EqualizationEnabled(),
	)
	return nil
}

// Stop detaches from the synchronizer, drains the handoff and finishes an
// active recording. Idempotent.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	p.synchronizer.OnSynchronizedFrame(nil)
	p.handoff.Stop()

	var err error
	if p.Recording() != ModeOff {
		if _, stopErr := p.StopRecording(ctx); stopErr != nil {
			err = stopErr
		}
	}

	slog.Info("pipeline: stopped",
		"frames", p.frames.Load(),
		"rendered", p.rendered.Load(),
		"transform_errors", p.transformErrors.Load(),
	)
	return err
}

// Recording returns the active recording mode
func (p *Pipeline) Recording() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return ModeOff
	}
	return p.active.mode
}

// StartRecording begins a recording in the given mode and returns its path.
// Modes are exclusive: starting while a recording runs returns
// ErrRecordingActive.
func (p *Pipeline) StartRecording(mode Mode) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		return "", ErrRecordingActive
	}
	if p.cfg.Dir == "" {
		return "", errors.New("pipeline: recording directory is not configured")
	}
	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("pipeline: create recording dir: %w", err)
	}

	now := time.Now()
	base := filepath.Join(p.cfg.Dir, "depth-"+now.Format("20060102-150405.000"))
	rec := &recording{mode: mode, startedAt: now}

	switch mode {
	case ModeVideo:
		size := p.target.Size()
		session, err := recorder.Open(recorder.Config{
			Path:               base + ".mp4",
			Width:              size.X,
			Height:             size.Y,
			PoolSize:           p.cfg.PoolSize,
			BackpressureBudget: p.cfg.BackpressureBudget,
			Preset:             p.cfg.Preset,
			BitrateKbps:        p.cfg.BitrateKbps,
			KeyframeInterval:   p.cfg.KeyframeInterval,
			Encoder:            p.cfg.Encoder,
			Clock:              p.cfg.Clock,
		})
		if err != nil {
			return "", err
		}
		session.Start()
		rec.session = session
		rec.path = session.Path()

	case ModeFrameDump:
		dumper, err := recorder.NewFrameDumper(recorder.DumpConfig{
			Dir:         base,
			Format:      p.cfg.ImageFormat,
			JPEGQuality: p.cfg.JPEGQuality,
		})
		if err != nil {
			return "", fmt.Errorf("pipeline: %w", err)
		}
		rec.dumper = dumper
		rec.path = dumper.Dir()

	default:
		return "", fmt.Errorf("pipeline: cannot record in mode '%s'", mode)
	}

	p.active = rec
	slog.Info("pipeline: recording started", "mode", mode, "path", rec.path)
	return rec.path, nil
}

// StopRecording finishes the active recording, waits for it to be sealed and
// adds it to the catalog. A video recording without frames leaves no file
// and returns recorder.ErrNoSamples.
func (p *Pipeline) StopRecording(ctx context.Context) (catalog.Recording, error) {
	p.mu.Lock()
	rec := p.active
	p.active = nil
	p.mu.Unlock()

	if rec == nil {
		return catalog.Recording{}, ErrNotRecording
	}

	// Drain the frame in flight
	p.handling.Lock()
	p.handling.Unlock()

	var (
		entry catalog.Recording
		err   error
	)
	switch rec.mode {
	case ModeVideo:
		entry, err = p.finishVideo(ctx, rec)
		if errors.Is(err, recorder.ErrNoSamples) {
			slog.Warn("pipeline: recording had no frames", "path", rec.path)
			return entry, err
		}
	case ModeFrameDump:
		entry = p.finishDump(rec)
	}

	if err != nil {
		entry.Error = err.Error()
	}
	if p.catalog != nil {
		id, addErr := p.catalog.Add(ctx, entry)
		if addErr != nil {
			slog.Error("pipeline: catalog add failed", "path", rec.path, "error", addErr)
			err = errors.Join(err, addErr)
		} else {
			entry.ID = id
		}
	}

	slog.Info("pipeline: recording finished",
		"mode", rec.mode,
		"path", rec.path,
		"frames", entry.Frames,
		"dropped", entry.Dropped,
		"duration", entry.Duration,
	)
	return entry, err
}

func (p *Pipeline) finishVideo(ctx context.Context, rec *recording) (catalog.Recording, error) {
	type outcome struct {
		result recorder.Result
		err    error
	}
	done := make(chan outcome, 1)

	entry := catalog.Recording{
		ID:        rec.session.ID(),
		Mode:      catalog.ModeVideo,
		Path:      rec.path,
		StartedAt: rec.startedAt,
	}

	if err := rec.session.Stop(func(r recorder.Result, err error) {
		done <- outcome{r, err}
	}); err != nil {
		entry.FinishedAt = time.Now()
		return entry, fmt.Errorf("pipeline: stop recording: %w", err)
	}

	select {
	case o := <-done:
		entry.Frames = o.result.Frames
		entry.Dropped = o.result.Dropped
		entry.Duration = o.result.Duration
		if !o.result.StartedAt.IsZero() {
			entry.StartedAt = o.result.StartedAt
		}
		entry.FinishedAt = time.Now()
		return entry, o.err
	case <-ctx.Done():
		entry.FinishedAt = time.Now()
		return entry, fmt.Errorf("pipeline: waiting for %s: %w", rec.path, ctx.Err())
	}
}

func (p *Pipeline) finishDump(rec *recording) catalog.Recording {
	saved, failed := rec.dumper.Stats()

	var duration time.Duration
	if rec.hasTS {
		duration = rec.lastTS - rec.firstTS
	}
	return catalog.Recording{
		Mode:       catalog.ModeFrameDump,
		Path:       rec.path,
		Frames:     int(saved),
		Dropped:    failed,
		Duration:   duration,
		StartedAt:  rec.startedAt,
		FinishedAt: time.Now(),
	}
}

// handle runs on the handoff goroutine for every synchronized frame
func (p *Pipeline) handle(f streamsync.SynchronizedFrame) {
	p.handling.Lock()
	defer p.handling.Unlock()
	defer p.frames.Add(1)

	p.mu.Lock()
	rec := p.active
	if rec != nil && rec.dumper != nil {
		if !rec.hasTS {
			rec.firstTS = f.Timestamp
			rec.hasTS = true
		}
		rec.lastTS = f.Timestamp
	}
	p.mu.Unlock()

	// Frame dumps keep the raw image and depth, rendered or not
	if rec != nil && rec.dumper != nil {
		if err := rec.dumper.Dump(f); err != nil {
			slog.Warn("pipeline: frame dump failed", "seq", f.Seq, "trace_id", f.TraceID, "error", err)
		}
	}

	if f.Depth == nil {
		p.withoutDepth.Add(1)
		return
	}

	img, err := p.stage.Process(f.Depth, p.target.Size(), p.cfg.Rotation)
	if err != nil {
		p.transformErrors.Add(1)
		slog.Debug("pipeline: depth frame skipped", "seq", f.Seq, "error", err)
		return
	}
	p.target.Present(img)
	p.rendered.Add(1)

	if rec != nil && rec.session != nil {
		rec.session.AppendFrame(recorder.ImageTexture(img))
	}
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Frames:          p.frames.Load(),
		Rendered:        p.rendered.Load(),
		WithoutDepth:    p.withoutDepth.Load(),
		TransformErrors: p.transformErrors.Load(),
		Recording:       ModeOff,
		Handoff:         p.handoff.Stats(),
	}

	p.mu.Lock()
	rec := p.active
	p.mu.Unlock()

	if rec != nil {
		st.Recording = rec.mode
		if rec.session != nil {
			ss := rec.session.Stats()
			st.Session = &ss
		}
		if rec.dumper != nil {
			st.Dumped, _ = rec.dumper.Stats()
		}
	}
	return st
}
