package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder/internal/container"
)

// DefaultTimescale is the container timescale (90 kHz, the MPEG clock)
const DefaultTimescale = 90000

// Config configures a recording session.
type Config struct {
	// Path of the output file. The parent directory must exist.
	Path string

	// Frame geometry in pixels; both must be positive and even.
	Width  int
	Height int

	// Codec must be "h264" (empty selects it)
	Codec string

	// Timescale of the container track (default: 90000)
	Timescale uint32

	// PoolSize is the number of pooled pixel buffers (default: 3)
	PoolSize int

	// BackpressureBudget bounds how long AppendFrame waits for the encoder
	// to become ready before dropping the frame (default: 50ms)
	BackpressureBudget time.Duration

	// Backoff shapes the readiness polling inside the budget
	Backoff BackoffConfig

	// Encoder parameters passed through to the factory
	Preset           string
	BitrateKbps      int
	KeyframeInterval int

	// Encoder creates the encoder (default: NewGStreamerEncoder)
	Encoder EncoderFactory

	// Clock stamps appended frames (default: system monotonic clock)
	Clock Clock

	// FinishTimeout bounds encoder drain during Stop (default: 5s)
	FinishTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Codec == "" {
		c.Codec = CodecH264
	}
	if c.Timescale == 0 {
		c.Timescale = DefaultTimescale
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 3
	}
	if c.BackpressureBudget <= 0 {
		c.BackpressureBudget = 50 * time.Millisecond
	}
	if c.Backoff.InitialDelay <= 0 || c.Backoff.MaxDelay <= 0 {
		c.Backoff = DefaultBackoffConfig()
	}
	if c.Encoder == nil {
		c.Encoder = NewGStreamerEncoder
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = 5 * time.Second
	}
}

// State is the lifecycle state of a Session
type State int32

const (
	StateIdle State = iota
	StateWriting
	StateFinishing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateFinishing:
		return "finishing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Result describes a finished recording
type Result struct {
	ID        string
	Path      string
	Frames    int           // samples in the sealed file
	Dropped   uint64        // frames dropped on the append path
	Duration  time.Duration // container duration
	StartedAt time.Time
}

// Stats is a snapshot of session counters
type Stats struct {
	State    State
	Appended uint64 // frames handed to the encoder
	Muxed    uint64 // access units written to the container

	DroppedPool         uint64 // no free pixel buffer
	DroppedNonMonotonic uint64 // presentation time did not advance
	DroppedBackpressure uint64 // encoder not ready within the budget
	DroppedGeometry     uint64 // texture size differs from the session
	DroppedEncode       uint64 // encoder rejected the frame

	MuxErrors     uint64
	PoolAvailable int
}

// Dropped returns the total number of frames dropped on the append path
func (s Stats) Dropped() uint64 {
	return s.DroppedPool + s.DroppedNonMonotonic + s.DroppedBackpressure +
		s.DroppedGeometry + s.DroppedEncode
}

// Session records rendered frames into one fragmented MP4 file.
//
// Lifecycle is Idle → Writing → Finishing → Closed; sessions are single-use.
// AppendFrame outside Writing is a silent no-op.
type Session struct {
	id  string
	cfg Config
	log *slog.Logger

	state atomic.Int32

	pool    *bufferPool
	encoder Encoder

	containerMu sync.Mutex
	container   *container.Writer

	// appendMu serializes AppendFrame; the finalizer takes it to drain
	// the in-flight append
	appendMu  sync.Mutex
	startedAt time.Time
	lastPTS   int64
	hasLast   bool

	appended            atomic.Uint64
	muxed               atomic.Uint64
	droppedPool         atomic.Uint64
	droppedNonMonotonic atomic.Uint64
	droppedBackpressure atomic.Uint64
	droppedGeometry     atomic.Uint64
	droppedEncode       atomic.Uint64
	muxErrors           atomic.Uint64

	done chan struct{}
}

// Open validates cfg, creates the output file and the encoder.
// Failures are returned as *InitializationError.
func Open(cfg Config) (*Session, error) {
	cfg.setDefaults()

	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, &InitializationError{
			Op:   "validate geometry",
			Path: cfg.Path,
			Err:  fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, cfg.Width, cfg.Height),
		}
	}
	if cfg.Codec != CodecH264 {
		return nil, &InitializationError{
			Op:   "validate codec",
			Path: cfg.Path,
			Err:  fmt.Errorf("%w: %q", ErrUnsupportedCodec, cfg.Codec),
		}
	}
	if cfg.Path == "" {
		return nil, &InitializationError{
			Op:  "validate path",
			Err: errors.New("path is required"),
		}
	}

	s := &Session{
		id:   uuid.NewString(),
		cfg:  cfg,
		pool: newBufferPool(cfg.PoolSize, cfg.Width, cfg.Height),
		done: make(chan struct{}),
	}
	s.log = slog.With("session_id", s.id)

	w, err := container.Create(cfg.Path, cfg.Timescale, cfg.Width, cfg.Height)
	if err != nil {
		return nil, &InitializationError{Op: "create file", Path: cfg.Path, Err: err}
	}
	s.container = w

	enc, err := cfg.Encoder(EncoderConfig{
		Width:            cfg.Width,
		Height:           cfg.Height,
		Preset:           cfg.Preset,
		BitrateKbps:      cfg.BitrateKbps,
		KeyframeInterval: cfg.KeyframeInterval,
		QueueFrames:      cfg.PoolSize,
	}, s.onAccessUnit)
	if err != nil {
		w.Abort()
		return nil, &InitializationError{Op: "create encoder", Path: cfg.Path, Err: err}
	}
	s.encoder = enc

	s.log.Info("recorder: session opened",
		"path", cfg.Path,
		"width", cfg.Width,
		"height", cfg.Height,
		"codec", cfg.Codec,
		"pool_size", cfg.PoolSize,
		"backpressure_budget", cfg.BackpressureBudget,
	)

	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Path returns the output file path
func (s *Session) Path() string { return s.cfg.Path }

// State returns the current lifecycle state
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reached Closed and the Stop callback returned
func (s *Session) Done() <-chan struct{} { return s.done }

// Start moves Idle → Writing and anchors presentation time at the current
// clock reading. No-op in any other state.
func (s *Session) Start() {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateWriting)) {
		return
	}
	s.startedAt = s.cfg.Clock.Now()
	s.hasLast = false

	s.log.Info("recorder: session writing", "path", s.cfg.Path)
}

// AppendFrame copies tex into a pooled buffer and queues it for encoding.
//
// Drops (no buffer, non-advancing timestamp, encoder backpressure beyond the
// budget) are counted in Stats and never returned. The texture is read
// synchronously and not retained.
func (s *Session) AppendFrame(tex Texture) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if s.State() != StateWriting {
		return
	}

	b := tex.Bounds()
	if b.Dx() != s.cfg.Width || b.Dy() != s.cfg.Height {
		s.droppedGeometry.Add(1)
		s.log.Debug("recorder: frame dropped, geometry mismatch",
			"width", b.Dx(),
			"height", b.Dy(),
		)
		return
	}

	buf, ok := s.pool.acquire()
	if !ok {
		s.droppedPool.Add(1)
		s.log.Debug("recorder: frame dropped, pixel buffer pool exhausted")
		return
	}

	if err := tex.ReadPixels(buf.Pix, buf.Stride); err != nil {
		buf.Release()
		s.droppedEncode.Add(1)
		s.log.Debug("recorder: frame dropped, texture read failed", "error", err)
		return
	}

	pts := durationToTicks(s.cfg.Clock.Now().Sub(s.startedAt), s.cfg.Timescale)
	if s.hasLast && pts <= s.lastPTS {
		buf.Release()
		s.droppedNonMonotonic.Add(1)
		s.log.Debug("recorder: frame dropped, presentation time did not advance",
			"pts", pts,
			"last_pts", s.lastPTS,
		)
		return
	}
	s.lastPTS = pts
	s.hasLast = true

	if !waitReady(s.encoder.Ready, s.cfg.BackpressureBudget, s.cfg.Backoff) {
		buf.Release()
		s.droppedBackpressure.Add(1)
		s.log.Debug("recorder: frame dropped, encoder not ready",
			"pts", pts,
			"budget", s.cfg.BackpressureBudget,
		)
		return
	}

	if err := s.encoder.Encode(buf, ticksToDuration(pts, s.cfg.Timescale)); err != nil {
		s.droppedEncode.Add(1)
		s.log.Debug("recorder: frame dropped, encode failed", "pts", pts, "error", err)
		return
	}
	s.appended.Add(1)
}

// Stop moves Writing → Finishing and seals the file in the background.
// onFinished (optional) runs once the file is sealed, while the session is
// still Finishing; the session turns Closed after it returns. Returns
// ErrSessionNotWriting without any transition when not Writing.
func (s *Session) Stop(onFinished func(Result, error)) error {
	if !s.state.CompareAndSwap(int32(StateWriting), int32(StateFinishing)) {
		return ErrSessionNotWriting
	}

	stopAt := s.cfg.Clock.Now()

	s.log.Info("recorder: session finishing", "path", s.cfg.Path)
	go s.finalize(stopAt, onFinished)
	return nil
}

// Discard releases an Idle session that was never started and removes its
// file. Returns ErrSessionNotWriting in any other state.
func (s *Session) Discard() error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateClosed)) {
		return ErrSessionNotWriting
	}

	err := s.encoder.Close()

	s.containerMu.Lock()
	s.container.Abort()
	s.containerMu.Unlock()

	close(s.done)
	return err
}

func (s *Session) finalize(stopAt time.Time, onFinished func(Result, error)) {
	// Drain the append in flight, if any
	s.appendMu.Lock()
	endPTS := durationToTicks(stopAt.Sub(s.startedAt), s.cfg.Timescale)
	s.appendMu.Unlock()

	var errs []error

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FinishTimeout)
	if err := s.encoder.Finish(ctx); err != nil {
		errs = append(errs, fmt.Errorf("finish encoder: %w", err))
	}
	cancel()

	s.containerMu.Lock()
	if err := s.container.Close(endPTS); err != nil {
		errs = append(errs, err)
	}
	frames := s.container.Samples()
	durationTicks := s.container.Duration()
	s.containerMu.Unlock()

	if err := s.encoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close encoder: %w", err))
	}

	stats := s.Stats()
	result := Result{
		ID:        s.id,
		Path:      s.cfg.Path,
		Frames:    frames,
		Dropped:   stats.Dropped(),
		Duration:  ticksToDuration(durationTicks, s.cfg.Timescale),
		StartedAt: s.startedAt,
	}

	var err error
	if len(errs) > 0 {
		err = fmt.Errorf("recorder: finalize %s: %w", s.cfg.Path, errors.Join(errs...))
		s.log.Error("recorder: session finalize failed", "path", s.cfg.Path, "error", err)
	} else {
		s.log.Info("recorder: session closed",
			"path", s.cfg.Path,
			"frames", result.Frames,
			"dropped", result.Dropped,
			"duration", result.Duration,
		)
	}

	if onFinished != nil {
		onFinished(result, err)
	}
	s.state.Store(int32(StateClosed))
	close(s.done)
}

// onAccessUnit receives encoder output; it may run on an encoder goroutine
func (s *Session) onAccessUnit(nalus [][]byte, pts time.Duration) {
	ticks := durationToTicks(pts, s.cfg.Timescale)

	s.containerMu.Lock()
	err := s.container.WriteAccessUnit(nalus, ticks)
	s.containerMu.Unlock()

	if err != nil {
		s.muxErrors.Add(1)
		s.log.Warn("recorder: access unit not written", "pts", ticks, "error", err)
		return
	}
	s.muxed.Add(1)
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() Stats {
	return Stats{
		State:               s.State(),
		Appended:            s.appended.Load(),
		Muxed:               s.muxed.Load(),
		DroppedPool:         s.droppedPool.Load(),
		DroppedNonMonotonic: s.droppedNonMonotonic.Load(),
		DroppedBackpressure: s.droppedBackpressure.Load(),
		DroppedGeometry:     s.droppedGeometry.Load(),
		DroppedEncode:       s.droppedEncode.Load(),
		MuxErrors:           s.muxErrors.Load(),
		PoolAvailable:       s.pool.available(),
	}
}

// durationToTicks rounds d to the nearest timescale tick
func durationToTicks(d time.Duration, timescale uint32) int64 {
	if d <= 0 {
		return 0
	}
	ts := int64(timescale)
	sec := int64(d / time.Second)
	rem := int64(d % time.Second)
	return sec*ts + (rem*ts+int64(time.Second)/2)/int64(time.Second)
}

func ticksToDuration(ticks int64, timescale uint32) time.Duration {
	ts := int64(timescale)
	return time.Duration(ticks/ts)*time.Second +
		time.Duration((ticks%ts)*int64(time.Second)/ts)
}
