package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder"
	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

// ReplayConfig configures a ReplaySource
type ReplayConfig struct {
	// Dir is a frame dump directory written by recorder.FrameDumper
	Dir string
	// Speed scales the recorded pacing; 2 replays twice as fast (default: 1)
	Speed float64
	// Loop restarts from the first entry after the last one
	Loop bool
}

// ReplaySource replays a frame dump as the three streams. Entries keep their
// recorded timestamps; when looping, each pass is shifted past the previous one.
type ReplaySource struct {
	cfg    ReplayConfig
	stamps []string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	replayed atomic.Uint64
	failed   atomic.Uint64
}

// NewReplaySource indexes cfg.Dir. It fails when the dump holds no entry.
func NewReplaySource(cfg ReplayConfig) (*ReplaySource, error) {
	if cfg.Speed == 0 {
		cfg.Speed = 1
	}
	if cfg.Speed < 0 {
		return nil, fmt.Errorf("capture: invalid replay speed %.2f", cfg.Speed)
	}

	stamps, err := recorder.ListDump(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if len(stamps) == 0 {
		return nil, errors.New("capture: frame dump is empty")
	}

	return &ReplaySource{cfg: cfg, stamps: stamps}, nil
}

// Entries returns the number of entries in the dump
func (r *ReplaySource) Entries() int { return len(r.stamps) }

// Replayed returns the number of instants emitted so far
func (r *ReplaySource) Replayed() uint64 { return r.replayed.Load() }

// Start begins replaying
func (r *ReplaySource) Start(ctx context.Context, emit streamsync.EmitFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return fmt.Errorf("capture: replay source already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.run(runCtx, emit)

	slog.Info("capture: replay source started",
		"dir", r.cfg.Dir,
		"entries", len(r.stamps),
		"speed", r.cfg.Speed,
		"loop", r.cfg.Loop,
	)
	return nil
}

// Stop halts replay and waits for it. Idempotent.
func (r *ReplaySource) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.cancel()
	r.wg.Wait()
	r.cancel = nil

	slog.Info("capture: replay source stopped",
		"dir", r.cfg.Dir,
		"replayed", r.replayed.Load(),
		"failed", r.failed.Load(),
	)
	return nil
}

func (r *ReplaySource) run(ctx context.Context, emit streamsync.EmitFunc) {
	defer r.wg.Done()

	var (
		offset   time.Duration // shifts each loop pass past the previous one
		first    time.Duration // recorded timestamp of the first entry
		lastTS   time.Duration
		interval time.Duration // shortest recorded spacing
		seq      uint64
		emitted  bool
	)

	wait := func(d time.Duration) bool {
		timer := time.NewTimer(time.Duration(float64(d) / r.cfg.Speed))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}

	for {
		var prev time.Duration
		for i, stamp := range r.stamps {
			entry, err := recorder.ReadDumpEntry(r.cfg.Dir, stamp)
			if err != nil {
				r.failed.Add(1)
				slog.Warn("capture: replay entry skipped", "stamp", stamp, "error", err)
				continue
			}

			recorded := time.Duration(entry.Sidecar.TimestampNS)
			if !emitted {
				first = recorded
			}
			if i > 0 && recorded > prev {
				if interval == 0 || recorded-prev < interval {
					interval = recorded - prev
				}
				if !wait(recorded - prev) {
					return
				}
			}
			prev = recorded

			ts := recorded + offset
			if emitted && ts <= lastTS {
				continue
			}
			emitted = true
			lastTS = ts

			for _, f := range replayFrames(entry, ts, seq) {
				if ctx.Err() != nil {
					return
				}
				emit(f)
			}
			seq++
			r.replayed.Add(1)
		}

		if !r.cfg.Loop || !emitted {
			slog.Info("capture: replay finished", "dir", r.cfg.Dir, "replayed", r.replayed.Load())
			<-ctx.Done()
			return
		}

		if interval == 0 {
			interval = 33 * time.Millisecond
		}
		offset = lastTS + interval - first
		if !wait(interval) {
			return
		}
	}
}

// replayFrames reports the entry on all three streams. A missing depth map
// is reported as a drop so the instant can close.
func replayFrames(e recorder.DumpEntry, ts time.Duration, seq uint64) []streamsync.RawFrame {
	image := streamsync.RawFrame{
		Stream:    streamsync.StreamImage,
		Timestamp: ts,
		Seq:       seq,
		Image:     e.Image,
	}

	depth := streamsync.RawFrame{
		Stream:    streamsync.StreamDepth,
		Timestamp: ts,
		Seq:       seq,
		Depth:     e.Depth,
	}
	if e.Depth == nil {
		depth.Dropped = true
		depth.DropReason = "not recorded"
	}

	meta := streamsync.RawFrame{
		Stream:     streamsync.StreamMetadata,
		Timestamp:  ts,
		Seq:        seq,
		Detections: e.Sidecar.Detections,
	}

	return []streamsync.RawFrame{image, depth, meta}
}
