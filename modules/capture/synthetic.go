package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

// SyntheticConfig configures a SyntheticSource
type SyntheticConfig struct {
	Camera CameraSelector

	// Image size (default: 640x480)
	Width  int
	Height int

	// Depth map size (default: 320x240)
	DepthWidth  int
	DepthHeight int

	// FPS is the hardware cadence, 0.1 - 240 (default: 30)
	FPS float64

	// Drop injection: every Nth frame of the stream is reported dropped.
	// 0 disables.
	DropImageEvery    int
	DropDepthEvery    int
	DropMetadataEvery int

	// HoleEvery makes one in N depth pixels invalid (default: 0, no holes)
	HoleEvery int
}

func (c *SyntheticConfig) setDefaults() {
	if c.Width == 0 && c.Height == 0 {
		c.Width, c.Height = 640, 480
	}
	if c.DepthWidth == 0 && c.DepthHeight == 0 {
		c.DepthWidth, c.DepthHeight = 320, 240
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
}

// SyntheticSource generates the three streams of a depth camera at a fixed
// cadence: a BGRA gradient image, a distance map with a moving bump and one
// face detection that leaves the scene every fourth frame.
//
// It implements streamsync.DepthFilterer: with filtering enabled the depth
// map is smoothed before emission and marked Filtered, as a driver would.
type SyntheticSource struct {
	cfg      SyntheticConfig
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	filtering atomic.Bool
	tick      atomic.Uint64 // persists across restarts: timestamps stay monotonic
	dropped   [3]atomic.Uint64
}

// NewSyntheticSource creates a source with fail-fast validation
func NewSyntheticSource(cfg SyntheticConfig) (*SyntheticSource, error) {
	cfg.setDefaults()

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid image size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.DepthWidth <= 0 || cfg.DepthHeight <= 0 {
		return nil, fmt.Errorf("capture: invalid depth size %dx%d", cfg.DepthWidth, cfg.DepthHeight)
	}
	if cfg.FPS < 0.1 || cfg.FPS > 240 {
		return nil, fmt.Errorf("capture: invalid FPS %.2f (must be 0.1-240)", cfg.FPS)
	}
	if cfg.DropImageEvery < 0 || cfg.DropDepthEvery < 0 || cfg.DropMetadataEvery < 0 || cfg.HoleEvery < 0 {
		return nil, fmt.Errorf("capture: drop and hole intervals must not be negative")
	}

	return &SyntheticSource{
		cfg:      cfg,
		interval: time.Duration(float64(time.Second) / cfg.FPS),
	}, nil
}

// Camera returns the selector the source was built for
func (s *SyntheticSource) Camera() CameraSelector { return s.cfg.Camera }

// SetDepthFilteringEnabled toggles driver-level depth smoothing
func (s *SyntheticSource) SetDepthFilteringEnabled(enabled bool) {
	s.filtering.Store(enabled)
}

// Start begins emitting frames at the configured cadence
func (s *SyntheticSource) Start(ctx context.Context, emit streamsync.EmitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("capture: synthetic source already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx, emit)

	slog.Info("capture: synthetic source started",
		"camera", s.cfg.Camera.String(),
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"depth_resolution", fmt.Sprintf("%dx%d", s.cfg.DepthWidth, s.cfg.DepthHeight),
		"fps", s.cfg.FPS,
	)
	return nil
}

// Stop halts emission and waits for the generator. Idempotent.
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	s.wg.Wait()
	s.cancel = nil

	slog.Info("capture: synthetic source stopped",
		"camera", s.cfg.Camera.String(),
		"ticks", s.tick.Load(),
	)
	return nil
}

// Ticks returns the number of capture instants generated so far
func (s *SyntheticSource) Ticks() uint64 { return s.tick.Load() }

// Dropped returns the number of injected drops for a stream
func (s *SyntheticSource) Dropped(id streamsync.StreamID) uint64 {
	if id < 0 || int(id) >= len(s.dropped) {
		return 0
	}
	return s.dropped[id].Load()
}

func (s *SyntheticSource) run(ctx context.Context, emit streamsync.EmitFunc) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := s.tick.Add(1) - 1
		for _, f := range s.Instant(n) {
			if ctx.Err() != nil {
				return
			}
			emit(f)
		}
	}
}

// Instant builds the three frames of capture instant n, in stream order
func (s *SyntheticSource) Instant(n uint64) []streamsync.RawFrame {
	ts := time.Duration(n) * s.interval

	image := streamsync.RawFrame{Stream: streamsync.StreamImage, Timestamp: ts, Seq: n}
	if s.injectDrop(streamsync.StreamImage, s.cfg.DropImageEvery, n) {
		image.Dropped = true
		image.DropReason = "injected"
	} else {
		image.Image = s.renderImage(n)
	}

	depth := streamsync.RawFrame{Stream: streamsync.StreamDepth, Timestamp: ts, Seq: n}
	if s.injectDrop(streamsync.StreamDepth, s.cfg.DropDepthEvery, n) {
		depth.Dropped = true
		depth.DropReason = "injected"
	} else {
		depth.Depth = s.renderDepth(n)
	}

	meta := streamsync.RawFrame{Stream: streamsync.StreamMetadata, Timestamp: ts, Seq: n}
	if s.injectDrop(streamsync.StreamMetadata, s.cfg.DropMetadataEvery, n) {
		meta.Dropped = true
		meta.DropReason = "injected"
	} else if n%4 != 3 {
		meta.Detections = []streamsync.Detection{s.face(n)}
	}

	return []streamsync.RawFrame{image, depth, meta}
}

func (s *SyntheticSource) injectDrop(id streamsync.StreamID, every int, n uint64) bool {
	if every <= 0 || (n+1)%uint64(every) != 0 {
		return false
	}
	s.dropped[id].Add(1)
	return true
}

// center returns the moving point of interest in normalized coordinates
func (s *SyntheticSource) center(n uint64) (float64, float64) {
	phase := float64(n%240) / 240 * 2 * math.Pi
	x := 0.5 + 0.25*math.Sin(phase)
	y := 0.5 + 0.15*math.Cos(phase)
	if s.cfg.Camera.Mirrored {
		x = 1 - x
	}
	return x, y
}

func (s *SyntheticSource) renderImage(n uint64) *streamsync.PixelBuffer {
	w, h := s.cfg.Width, s.cfg.Height
	stride := (w*4 + 63) &^ 63

	red := byte(60)
	if s.cfg.Camera.Facing == FacingFront {
		red = 200
	}

	pb := &streamsync.PixelBuffer{
		Width:  w,
		Height: h,
		Stride: stride,
		Format: streamsync.PixelFormatBGRA,
		Data:   make([]byte, stride*h),
	}
	for y := 0; y < h; y++ {
		row := pb.Data[y*stride:]
		g := byte(y * 255 / h)
		for x := 0; x < w; x++ {
			sx := x
			if s.cfg.Camera.Mirrored {
				sx = w - 1 - x
			}
			row[x*4+0] = byte(sx*255/w + int(n))
			row[x*4+1] = g
			row[x*4+2] = red
			row[x*4+3] = 0xff
		}
	}
	return pb
}

func (s *SyntheticSource) renderDepth(n uint64) *streamsync.DepthMap {
	w, h := s.cfg.DepthWidth, s.cfg.DepthHeight
	cx, cy := s.center(n)

	d := &streamsync.DepthMap{
		Width:  w,
		Height: h,
		Kind:   streamsync.DepthKindDistance,
		Data:   make([]float32, w*h),
	}
	for y := 0; y < h; y++ {
		ny := (float64(y) + 0.5) / float64(h)
		for x := 0; x < w; x++ {
			nx := (float64(x) + 0.5) / float64(w)
			// background plane from 1.5m (top) to 3m (bottom), bump of 0.8m
			dist := 1.5 + 1.5*ny
			r2 := (nx-cx)*(nx-cx) + (ny-cy)*(ny-cy)
			dist -= 0.8 * math.Exp(-r2/0.01)

			i := y*w + x
			if s.cfg.HoleEvery > 0 && (uint64(i)+n)%uint64(s.cfg.HoleEvery) == 0 {
				d.Data[i] = float32(math.NaN())
				continue
			}
			d.Data[i] = float32(dist)
		}
	}

	if s.filtering.Load() {
		return streamsync.SmoothDepth(d)
	}
	return d
}

func (s *SyntheticSource) face(n uint64) streamsync.Detection {
	cx, cy := s.center(n)
	return streamsync.Detection{
		ID:     1,
		Type:   "face",
		Bounds: streamsync.Rect{X: cx - 0.1, Y: cy - 0.125, W: 0.2, H: 0.25},
		Score:  0.98,
	}
}
