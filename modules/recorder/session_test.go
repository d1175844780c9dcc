package recorder_test

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder"
	"github.com/e7canasta/orion-depth-sampler/modules/recorder/recordertest"
)

// fakeClock is advanced explicitly by the test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	session *recorder.Session
	clock   *fakeClock
	encoder *recordertest.Encoder
	path    string
}

func newHarness(t *testing.T, mutate func(*recorder.Config)) *harness {
	t.Helper()

	h := &harness{
		clock:   newFakeClock(),
		encoder: recordertest.NewEncoder(),
		path:    filepath.Join(t.TempDir(), "clip.mp4"),
	}
	cfg := recorder.Config{
		Path:    h.path,
		Width:   640,
		Height:  480,
		Encoder: h.encoder.Factory(),
		Clock:   h.clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := recorder.Open(cfg)
	require.NoError(t, err)
	h.session = s
	return h
}

// stop stops the session and waits until it is Closed
func (h *harness) stop(t *testing.T) (recorder.Result, error) {
	t.Helper()

	type outcome struct {
		result recorder.Result
		err    error
	}
	done := make(chan outcome, 1)
	require.NoError(t, h.session.Stop(func(r recorder.Result, err error) {
		done <- outcome{r, err}
	}))

	var o outcome
	select {
	case o = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop callback never fired")
	}
	select {
	case <-h.session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session never closed")
	}
	return o.result, o.err
}

func frame(w, h int) recorder.Texture {
	return recorder.ImageTexture(image.NewRGBA(image.Rect(0, 0, w, h)))
}

// TestRecordThreeFrames validates the 640x480, 30 fps, three frame recording.
//
// Scenario:
//  1. Append three frames one frame interval apart
//  2. Advance 5ms and stop
//  3. Assert: three samples, duration covers two intervals and stays below 0.1s
func TestRecordThreeFrames(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Start()
	assert.Equal(t, recorder.StateWriting, h.session.State())

	interval := time.Second / 30
	for i := 0; i < 3; i++ {
		if i > 0 {
			h.clock.Advance(interval)
		}
		h.session.AppendFrame(frame(640, 480))
	}
	h.clock.Advance(5 * time.Millisecond)

	result, err := h.stop(t)
	require.NoError(t, err)
	assert.Equal(t, recorder.StateClosed, h.session.State())
	assert.Equal(t, 3, result.Frames)
	assert.Zero(t, result.Dropped)
	assert.Equal(t, h.path, result.Path)
	assert.Equal(t, h.session.ID(), result.ID)

	info, err := recorder.Probe(h.path)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Samples)
	assert.Equal(t, 1, info.Keyframes)
	assert.Equal(t, uint32(recorder.DefaultTimescale), info.Timescale)
	assert.GreaterOrEqual(t, info.Duration, 2*interval)
	assert.Less(t, info.Duration, 100*time.Millisecond)

	stats := h.session.Stats()
	assert.Equal(t, uint64(3), stats.Appended)
	assert.Equal(t, uint64(3), stats.Muxed)
	assert.Equal(t, 3, stats.PoolAvailable)
	assert.True(t, h.encoder.Finished())
	assert.True(t, h.encoder.Closed())
}

func TestPresentationTimeMonotonic(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Start()

	h.session.AppendFrame(frame(640, 480))
	// same instant: dropped
	h.session.AppendFrame(frame(640, 480))

	h.clock.Advance(10 * time.Millisecond)
	h.session.AppendFrame(frame(640, 480))

	// below one tick after the previous frame: rounds to the same pts
	h.clock.Advance(time.Microsecond)
	h.session.AppendFrame(frame(640, 480))

	h.clock.Advance(10 * time.Millisecond)
	h.session.AppendFrame(frame(640, 480))

	stats := h.session.Stats()
	assert.Equal(t, uint64(2), stats.DroppedNonMonotonic)
	assert.Equal(t, uint64(3), stats.Appended)

	stamps := h.encoder.Frames()
	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		assert.Greater(t, stamps[i], stamps[i-1])
	}

	_, err := h.stop(t)
	require.NoError(t, err)
}

// TestBackpressureBudget validates a never-ready encoder does not stall the caller.
//
// Scenario:
//  1. Encoder never becomes ready, budget is 50ms
//  2. AppendFrame must return within the budget (plus scheduling slack)
//  3. Assert: the frame is counted as dropped and its buffer returned to the pool
func TestBackpressureBudget(t *testing.T) {
	budget := 50 * time.Millisecond
	h := newHarness(t, func(cfg *recorder.Config) {
		cfg.BackpressureBudget = budget
	})
	h.encoder.SetReady(false)
	h.session.Start()

	start := time.Now()
	h.session.AppendFrame(frame(640, 480))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, budget)
	assert.Less(t, elapsed, budget+250*time.Millisecond, "append blocked past its budget")

	stats := h.session.Stats()
	assert.Equal(t, uint64(1), stats.DroppedBackpressure)
	assert.Equal(t, uint64(1), stats.Dropped())
	assert.Zero(t, stats.Appended)
	assert.Equal(t, 3, stats.PoolAvailable)
	assert.Empty(t, h.encoder.Frames())
}

func TestBackpressureRecovers(t *testing.T) {
	h := newHarness(t, func(cfg *recorder.Config) {
		cfg.BackpressureBudget = time.Second
	})
	h.encoder.SetReady(false)
	h.session.Start()

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.encoder.SetReady(true)
	}()

	h.session.AppendFrame(frame(640, 480))

	stats := h.session.Stats()
	assert.Equal(t, uint64(1), stats.Appended)
	assert.Zero(t, stats.DroppedBackpressure)
}

func TestPoolExhaustionDrops(t *testing.T) {
	h := newHarness(t, func(cfg *recorder.Config) {
		cfg.PoolSize = 2
	})
	h.encoder.Hold(true)
	h.session.Start()

	for i := 0; i < 3; i++ {
		h.clock.Advance(10 * time.Millisecond)
		h.session.AppendFrame(frame(640, 480))
	}

	stats := h.session.Stats()
	assert.Equal(t, uint64(2), stats.Appended)
	assert.Equal(t, uint64(1), stats.DroppedPool)
	assert.Zero(t, stats.PoolAvailable)

	for _, b := range h.encoder.Held() {
		b.Release()
		b.Release()
	}
	assert.Equal(t, 2, h.session.Stats().PoolAvailable)
}

func TestGeometryMismatchDrops(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Start()

	h.session.AppendFrame(frame(320, 240))

	stats := h.session.Stats()
	assert.Equal(t, uint64(1), stats.DroppedGeometry)
	assert.Zero(t, stats.Appended)
}

func TestAppendOutsideWritingIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	// Idle
	h.session.AppendFrame(frame(640, 480))
	assert.Zero(t, h.session.Stats().Appended)

	h.session.Start()
	h.session.AppendFrame(frame(640, 480))
	h.clock.Advance(time.Millisecond)

	_, err := h.stop(t)
	require.NoError(t, err)

	// Closed
	h.clock.Advance(time.Millisecond)
	h.session.AppendFrame(frame(640, 480))

	stats := h.session.Stats()
	assert.Equal(t, uint64(1), stats.Appended)
	assert.Zero(t, stats.Dropped())
	assert.Len(t, h.encoder.Frames(), 1)
}

func TestStopRequiresWriting(t *testing.T) {
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.session.Stop(nil), recorder.ErrSessionNotWriting)
	assert.Equal(t, recorder.StateIdle, h.session.State())

	h.session.Start()
	h.session.AppendFrame(frame(640, 480))
	h.clock.Advance(time.Millisecond)

	_, err := h.stop(t)
	require.NoError(t, err)

	assert.ErrorIs(t, h.session.Stop(nil), recorder.ErrSessionNotWriting)
	assert.Equal(t, recorder.StateClosed, h.session.State())

	// Start after close does not reopen the session
	h.session.Start()
	assert.Equal(t, recorder.StateClosed, h.session.State())
}

func TestStopWithoutFramesRemovesFile(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Start()
	h.clock.Advance(time.Second)

	result, err := h.stop(t)
	assert.ErrorIs(t, err, recorder.ErrNoSamples)
	assert.Zero(t, result.Frames)

	_, statErr := os.Stat(h.path)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestDoneClosesAfterCallback(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Start()
	h.session.AppendFrame(frame(640, 480))
	h.clock.Advance(time.Millisecond)

	var (
		called  bool
		inState recorder.State
	)
	require.NoError(t, h.session.Stop(func(recorder.Result, error) {
		called = true
		inState = h.session.State()
		h.session.AppendFrame(frame(640, 480))
	}))

	select {
	case <-h.session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session never closed")
	}
	assert.True(t, called)
	assert.Equal(t, recorder.StateFinishing, inState, "closed before the callback fired")
	assert.Equal(t, recorder.StateClosed, h.session.State())
	assert.Equal(t, uint64(1), h.session.Stats().Appended)
}

func TestDiscardIdleSession(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.session.Discard())
	assert.Equal(t, recorder.StateClosed, h.session.State())
	assert.True(t, h.encoder.Closed())

	_, err := os.Stat(h.path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.ErrorIs(t, h.session.Discard(), recorder.ErrSessionNotWriting)
}

func TestOpenInitializationErrors(t *testing.T) {
	dir := t.TempDir()
	ok := recordertest.NewEncoder().Factory()
	failing := func(recorder.EncoderConfig, recorder.AccessUnitFunc) (recorder.Encoder, error) {
		return nil, recorder.ErrEncoderUnavailable
	}

	tests := []struct {
		name    string
		cfg     recorder.Config
		op      string
		wantErr error
	}{
		{
			name:    "odd width",
			cfg:     recorder.Config{Path: filepath.Join(dir, "a.mp4"), Width: 641, Height: 480, Encoder: ok},
			op:      "validate geometry",
			wantErr: recorder.ErrInvalidGeometry,
		},
		{
			name:    "zero height",
			cfg:     recorder.Config{Path: filepath.Join(dir, "b.mp4"), Width: 640, Height: 0, Encoder: ok},
			op:      "validate geometry",
			wantErr: recorder.ErrInvalidGeometry,
		},
		{
			name:    "unsupported codec",
			cfg:     recorder.Config{Path: filepath.Join(dir, "c.mp4"), Width: 640, Height: 480, Codec: "vp9", Encoder: ok},
			op:      "validate codec",
			wantErr: recorder.ErrUnsupportedCodec,
		},
		{
			name: "missing path",
			cfg:  recorder.Config{Width: 640, Height: 480, Encoder: ok},
			op:   "validate path",
		},
		{
			name:    "missing directory",
			cfg:     recorder.Config{Path: filepath.Join(dir, "nope", "d.mp4"), Width: 640, Height: 480, Encoder: ok},
			op:      "create file",
			wantErr: os.ErrNotExist,
		},
		{
			name:    "encoder unavailable",
			cfg:     recorder.Config{Path: filepath.Join(dir, "e.mp4"), Width: 640, Height: 480, Encoder: failing},
			op:      "create encoder",
			wantErr: recorder.ErrEncoderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := recorder.Open(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, s)

			var initErr *recorder.InitializationError
			require.True(t, errors.As(err, &initErr), "got %T", err)
			assert.Equal(t, tt.op, initErr.Op)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.cfg.Path != "" {
				_, statErr := os.Stat(tt.cfg.Path)
				assert.ErrorIs(t, statErr, os.ErrNotExist, "no file left behind")
			}
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", recorder.StateIdle.String())
	assert.Equal(t, "writing", recorder.StateWriting.String())
	assert.Equal(t, "finishing", recorder.StateFinishing.String())
	assert.Equal(t, "closed", recorder.StateClosed.String())
	assert.Equal(t, "State(9)", recorder.State(9).String())
}
