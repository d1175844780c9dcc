package streamsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-depth-sampler/modules/stream-sync/internal/cadence"
	"github.com/google/uuid"
)

var (
	// ErrConfigureWhileRunning is returned by Configure when capture is active.
	// Reconfiguration follows stop → configure → start.
	ErrConfigureWhileRunning = errors.New("stream-sync: configure called while running")

	// ErrNotConfigured is returned by Start before a successful Configure
	ErrNotConfigured = errors.New("stream-sync: not configured")

	// ErrAlreadyRunning is returned by Start when capture is active
	ErrAlreadyRunning = errors.New("stream-sync: already running")
)

const (
	defaultInboxSize  = 32
	defaultMaxPending = 8
	stopTimeout       = 3 * time.Second
)

// Option customizes a configuration
type Option func(*options)

type options struct {
	window     time.Duration
	inboxSize  int
	maxPending int
}

// WithMatchWindow sets the timestamp tolerance for grouping frames into one
// capture instant. The default (0) requires exact equality.
func WithMatchWindow(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.window = d
		}
	}
}

// WithInboxSize sets the capacity of the worker inbox. A full inbox drops frames.
func WithInboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboxSize = n
		}
	}
}

// WithMaxPending bounds the number of simultaneously open capture instants.
// When exceeded, the oldest instant is closed with whatever has arrived.
func WithMaxPending(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPending = n
		}
	}
}

// instant collects the frames reported for one capture timestamp
type instant struct {
	ts       time.Duration
	reported [3]bool
	frames   [3]RawFrame
}

// Synchronizer fuses the image, depth and metadata streams into one
// SynchronizedFrame per capture instant.
//
// All source callbacks are funnelled into a bounded inbox drained by a single
// worker goroutine. The consumer callback runs on that worker, so it must
// return quickly; hand heavy work to a Handoff. Stop waits for a callback in
// flight, so the consumer must not call Stop itself.
type Synchronizer struct {
	mu         sync.Mutex
	streamsMu  sync.RWMutex // guards streams for SetAuxiliaryFilterEnabled
	streams    Streams
	configured bool
	opts       options

	consumerMu sync.RWMutex
	consumer   func(SynchronizedFrame)

	filterEnabled atomic.Bool
	running       atomic.Bool
	generation    atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics (atomic for thread-safety)
	framesEmitted   atomic.Uint64
	instantsSkipped atomic.Uint64
	depthOmitted    atomic.Uint64
	metadataOmitted atomic.Uint64
	lateFrames      atomic.Uint64
	inboxDrops      atomic.Uint64
	droppedByStream [3]atomic.Uint64

	cadenceMu sync.Mutex
	cadence   cadence.Window

	// Worker state, owned by the worker goroutine
	pending    []*instant
	progressed [3]time.Duration
	seen       [3]bool
	lastClosed time.Duration
	hasClosed  bool
	emitSeq    uint64
}

// New creates an unconfigured synchronizer
func New() *Synchronizer {
	return &Synchronizer{}
}

// Configure registers the stream sources. It replaces any previous
// configuration and returns ErrConfigureWhileRunning while capture is active.
func (s *Synchronizer) Configure(streams Streams, opts ...Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrConfigureWhileRunning
	}
	if streams.Image == nil {
		return fmt.Errorf("stream-sync: image source is required")
	}

	o := options{inboxSize: defaultInboxSize, maxPending: defaultMaxPending}
	for _, opt := range opts {
		opt(&o)
	}

	s.streamsMu.Lock()
	s.streams = streams
	s.streamsMu.Unlock()
	s.opts = o
	s.configured = true

	// A new depth source starts from the current toggle
	if f, ok := streams.Depth.(DepthFilterer); ok {
		f.SetDepthFilteringEnabled(s.filterEnabled.Load())
	}

	slog.Info("stream-sync: configured",
		"depth", streams.Depth != nil,
		"metadata", streams.Metadata != nil,
		"match_window", o.window,
		"inbox_size", o.inboxSize,
	)

	return nil
}

// OnSynchronizedFrame registers the single consumer. A later call replaces it;
// nil detaches it.
func (s *Synchronizer) OnSynchronizedFrame(fn func(SynchronizedFrame)) {
	s.consumerMu.Lock()
	s.consumer = fn
	s.consumerMu.Unlock()
}

// SetAuxiliaryFilterEnabled toggles depth smoothing. Safe to call from any
// goroutine; it affects frames produced after the call.
func (s *Synchronizer) SetAuxiliaryFilterEnabled(enabled bool) {
	s.filterEnabled.Store(enabled)

	s.streamsMu.RLock()
	depth := s.streams.Depth
	s.streamsMu.RUnlock()

	if f, ok := depth.(DepthFilterer); ok {
		f.SetDepthFilteringEnabled(enabled)
	}

	slog.Debug("stream-sync: auxiliary filter toggled", "enabled", enabled)
}

// Start launches the worker and starts every registered source.
//
// If a source fails to start, sources already started are stopped and the
// error is returned.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return ErrNotConfigured
	}
	if s.running.Load() {
		return ErrAlreadyRunning
	}

	s.resetWorkerState()

	workerCtx, cancel := context.WithCancel(ctx)
	inbox := make(chan RawFrame, s.opts.inboxSize)
	gen := s.generation.Add(1)

	s.cancel = cancel
	s.running.Store(true)

	s.wg.Add(1)
	go s.run(workerCtx, inbox)

	// Forward the driver-level filter state before frames flow
	if f, ok := s.streams.Depth.(DepthFilterer); ok {
		f.SetDepthFilteringEnabled(s.filterEnabled.Load())
	}

	var started []Source
	for _, src := range s.streams.distinct() {
		if err := src.Start(workerCtx, s.sink(src, gen, inbox)); err != nil {
			slog.Error("stream-sync: source failed to start", "error", err)
			for _, st := range started {
				if stopErr := st.Stop(); stopErr != nil {
					slog.Warn("stream-sync: source stop failed during rollback", "error", stopErr)
				}
			}
			s.shutdownWorker()
			return fmt.Errorf("stream-sync: failed to start source: %w", err)
		}
		started = append(started, src)
	}

	slog.Info("stream-sync: started", "sources", len(started))

	return nil
}

// Stop halts every source and the worker.
//
// When Stop returns no source sink and no consumer callback will run again.
// Idempotent - safe to call multiple times.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		slog.Debug("stream-sync: not running, nothing to stop")
		return nil
	}

	slog.Info("stream-sync: stopping")

	// Detach sinks first: frames emitted from here on are ignored
	s.generation.Add(1)

	var errs []error
	for _, src := range s.streams.distinct() {
		if err := src.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	s.shutdownWorker()

	slog.Info("stream-sync: stopped",
		"frames_emitted", s.framesEmitted.Load(),
		"instants_skipped", s.instantsSkipped.Load(),
		"late_frames", s.lateFrames.Load(),
		"inbox_drops", s.inboxDrops.Load(),
	)

	if len(errs) > 0 {
		return fmt.Errorf("stream-sync: stopping sources: %w", errors.Join(errs...))
	}
	return nil
}

// shutdownWorker cancels the worker and waits until it exited, including a
// consumer callback in flight. Caller holds mu.
func (s *Synchronizer) shutdownWorker() {
	s.running.Store(false)
	s.generation.Add(1)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(stopTimeout):
		slog.Warn("stream-sync: stop timeout exceeded, consumer callback still running")
	}
	<-done
}

// Running reports whether capture is active
func (s *Synchronizer) Running() bool {
	return s.running.Load()
}

// Stats returns a snapshot of the synchronizer counters
func (s *Synchronizer) Stats() SyncStats {
	s.cadenceMu.Lock()
	cs := cadence.Calculate(s.cadence.Snapshot())
	s.cadenceMu.Unlock()

	byStream := make(map[StreamID]uint64, 3)
	for _, id := range []StreamID{StreamImage, StreamDepth, StreamMetadata} {
		byStream[id] = s.droppedByStream[id].Load()
	}

	return SyncStats{
		FramesEmitted:   s.framesEmitted.Load(),
		InstantsSkipped: s.instantsSkipped.Load(),
		DepthOmitted:    s.depthOmitted.Load(),
		MetadataOmitted: s.metadataOmitted.Load(),
		LateFrames:      s.lateFrames.Load(),
		InboxDrops:      s.inboxDrops.Load(),
		DroppedByStream: byStream,
		FPSReal:         cs.FPSMean,
		FPSStdDev:       cs.FPSStdDev,
		JitterMeanMS:    cs.JitterMean * 1000,
		IsRunning:       s.running.Load(),
	}
}

// sink builds the emit function handed to one source. Frames are accepted
// only for the streams that source is registered for, and only while the
// generation it was created for is current.
func (s *Synchronizer) sink(src Source, gen uint64, inbox chan<- RawFrame) EmitFunc {
	streams := s.streams
	return func(f RawFrame) {
		if s.generation.Load() != gen {
			return
		}
		if streams.sourceFor(f.Stream) != src {
			slog.Debug("stream-sync: frame from unregistered source ignored",
				"stream", f.Stream.String(),
				"seq", f.Seq,
			)
			return
		}

		select {
		case inbox <- f:
		default:
			s.inboxDrops.Add(1)
			slog.Debug("stream-sync: dropping frame, inbox full",
				"stream", f.Stream.String(),
				"seq", f.Seq,
			)
		}
	}
}

// run is the worker loop
func (s *Synchronizer) run(ctx context.Context, inbox <-chan RawFrame) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.discardPending()
			return
		case f := <-inbox:
			// select picks at random when both are ready
			if ctx.Err() != nil {
				s.discardPending()
				return
			}
			s.route(f)
			s.closeReady(ctx)
		}
	}
}

func (s *Synchronizer) discardPending() {
	if n := len(s.pending); n > 0 {
		slog.Debug("stream-sync: discarding open instants on stop", "count", n)
	}
	s.pending = nil
}

func (s *Synchronizer) resetWorkerState() {
	s.pending = nil
	s.progressed = [3]time.Duration{}
	s.seen = [3]bool{}
	s.lastClosed = 0
	s.hasClosed = false

	s.cadenceMu.Lock()
	s.cadence = cadence.Window{}
	s.cadenceMu.Unlock()
}

// route places one frame into its open instant
func (s *Synchronizer) route(f RawFrame) {
	id := f.Stream
	if id < StreamImage || id > StreamMetadata {
		return
	}

	if f.Dropped {
		s.droppedByStream[id].Add(1)
		slog.Debug("stream-sync: stream reported drop",
			"stream", id.String(),
			"seq", f.Seq,
			"reason", f.DropReason,
		)
	}

	if !s.seen[id] || f.Timestamp > s.progressed[id] {
		s.progressed[id] = f.Timestamp
		s.seen[id] = true
	}

	if s.hasClosed && f.Timestamp <= s.lastClosed+s.opts.window {
		s.lateFrames.Add(1)
		slog.Debug("stream-sync: late frame discarded",
			"stream", id.String(),
			"seq", f.Seq,
			"timestamp", f.Timestamp,
		)
		return
	}

	inst := s.match(id, f.Timestamp)
	inst.reported[id] = true
	inst.frames[id] = f
}

// match finds the open instant for a timestamp on a stream, opening a new
// one when no instant within the window is still waiting for that stream.
func (s *Synchronizer) match(id StreamID, ts time.Duration) *instant {
	for _, inst := range s.pending {
		if inst.reported[id] {
			continue
		}
		d := ts - inst.ts
		if d < 0 {
			d = -d
		}
		if d <= s.opts.window {
			return inst
		}
	}

	inst := &instant{ts: ts}
	i := len(s.pending)
	for i > 0 && s.pending[i-1].ts > ts {
		i--
	}
	s.pending = append(s.pending, nil)
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = inst
	return inst
}

// complete reports whether every configured stream has either reported for
// the instant or moved past it. Streams deliver in capture order, so a stream
// that has moved past will never report it.
func (s *Synchronizer) complete(inst *instant) bool {
	for _, id := range []StreamID{StreamImage, StreamDepth, StreamMetadata} {
		if s.streams.sourceFor(id) == nil || inst.reported[id] {
			continue
		}
		if !s.seen[id] || s.progressed[id] <= inst.ts+s.opts.window {
			return false
		}
	}
	return true
}

// closeReady closes open instants oldest first, preserving capture order.
// It stops as soon as ctx is cancelled.
func (s *Synchronizer) closeReady(ctx context.Context) {
	for len(s.pending) > 0 && ctx.Err() == nil {
		oldest := s.pending[0]
		if !s.complete(oldest) && len(s.pending) <= s.opts.maxPending {
			return
		}
		s.pending = s.pending[1:]
		s.close(ctx, oldest)
	}
}

// close emits the tuple for one instant, or skips it when the image is missing
func (s *Synchronizer) close(ctx context.Context, inst *instant) {
	// Stop has begun: nothing reaches the consumer past this point
	if ctx.Err() != nil {
		return
	}

	s.lastClosed = inst.ts
	s.hasClosed = true

	img := inst.frames[StreamImage]
	if !inst.reported[StreamImage] || img.Dropped || img.Image == nil {
		s.instantsSkipped.Add(1)
		slog.Debug("stream-sync: instant skipped, image unavailable",
			"timestamp", inst.ts,
			"reported", inst.reported[StreamImage],
		)
		return
	}

	s.emitSeq++
	frame := SynchronizedFrame{
		Seq:       s.emitSeq,
		Timestamp: inst.ts,
		TraceID:   uuid.New().String(),
		Image:     img.Image,
	}

	if d := inst.frames[StreamDepth]; inst.reported[StreamDepth] && !d.Dropped && d.Depth != nil {
		frame.Depth = s.filterDepth(d.Depth)
	} else {
		s.depthOmitted.Add(1)
	}

	if m := inst.frames[StreamMetadata]; inst.reported[StreamMetadata] && !m.Dropped && len(m.Detections) > 0 {
		frame.Metadata = &Metadata{Detections: m.Detections}
	} else {
		s.metadataOmitted.Add(1)
	}

	s.cadenceMu.Lock()
	s.cadence.Add(inst.ts)
	s.cadenceMu.Unlock()

	s.consumerMu.RLock()
	consumer := s.consumer
	s.consumerMu.RUnlock()

	s.framesEmitted.Add(1)
	if consumer != nil {
		consumer(frame)
	}
}

// filterDepth applies software smoothing when enabled and the driver has not
// already filtered the payload. The source payload is never modified.
func (s *Synchronizer) filterDepth(d *DepthMap) *DepthMap {
	if !s.filterEnabled.Load() || d.Filtered {
		return d
	}
	if _, ok := s.streams.Depth.(DepthFilterer); ok {
		return d
	}
	return SmoothDepth(d)
}
