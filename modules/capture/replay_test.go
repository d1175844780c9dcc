package capture_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-depth-sampler/modules/capture"
	"github.com/e7canasta/orion-depth-sampler/modules/recorder"
	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

// writeDump records n synthetic instants with a FrameDumper; every second
// instant has no depth
func writeDump(t *testing.T, n int) string {
	t.Helper()

	dir := t.TempDir()
	dumper, err := recorder.NewFrameDumper(recorder.DumpConfig{Dir: dir})
	require.NoError(t, err)

	src, err := capture.NewSyntheticSource(smallConfig())
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		raw := src.Instant(uint64(i))
		f := streamsync.SynchronizedFrame{
			Seq:       uint64(i),
			Timestamp: raw[0].Timestamp,
			Image:     raw[0].Image,
		}
		if i%2 == 0 {
			f.Depth = raw[1].Depth
		}
		if len(raw[2].Detections) > 0 {
			f.Metadata = &streamsync.Metadata{Detections: raw[2].Detections}
		}
		require.NoError(t, dumper.Dump(f))
	}
	return dir
}

type collector struct {
	mu     sync.Mutex
	frames []streamsync.RawFrame
}

func (c *collector) emit(f streamsync.RawFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *collector) snapshot() []streamsync.RawFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]streamsync.RawFrame(nil), c.frames...)
}

func TestReplaySourceReplaysDump(t *testing.T) {
	dir := writeDump(t, 4)

	src, err := capture.NewReplaySource(capture.ReplayConfig{Dir: dir, Speed: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, src.Entries())

	var c collector
	require.NoError(t, src.Start(context.Background(), c.emit))
	require.Eventually(t, func() bool { return c.count() == 12 }, 2*time.Second, time.Millisecond)
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())

	frames := c.snapshot()
	for i := 0; i < 4; i++ {
		img, dep, meta := frames[i*3], frames[i*3+1], frames[i*3+2]
		want := time.Duration(i) * 10 * time.Millisecond

		assert.Equal(t, streamsync.StreamImage, img.Stream)
		assert.Equal(t, want, img.Timestamp)
		require.NotNil(t, img.Image)
		assert.Equal(t, 16, img.Image.Width)

		assert.Equal(t, want, dep.Timestamp)
		if i%2 == 0 {
			assert.NotNil(t, dep.Depth)
			assert.False(t, dep.Dropped)
		} else {
			assert.Nil(t, dep.Depth)
			assert.True(t, dep.Dropped, "missing depth reported as a drop")
		}

		assert.Equal(t, streamsync.StreamMetadata, meta.Stream)
		if i == 3 {
			assert.Empty(t, meta.Detections)
		} else {
			assert.Len(t, meta.Detections, 1)
		}
	}
	assert.Equal(t, uint64(4), src.Replayed())
}

func TestReplaySourceLoopKeepsTimestampsIncreasing(t *testing.T) {
	dir := writeDump(t, 3)

	src, err := capture.NewReplaySource(capture.ReplayConfig{Dir: dir, Speed: 20, Loop: true})
	require.NoError(t, err)

	var c collector
	require.NoError(t, src.Start(context.Background(), c.emit))
	require.Eventually(t, func() bool { return c.count() >= 3*7 }, 3*time.Second, time.Millisecond)
	require.NoError(t, src.Stop())

	var last time.Duration = -1
	for _, f := range c.snapshot() {
		if f.Stream != streamsync.StreamImage {
			continue
		}
		assert.Greater(t, f.Timestamp, last)
		last = f.Timestamp
	}
}

func TestReplaySourceFeedsSynchronizer(t *testing.T) {
	dir := writeDump(t, 4)
	src, err := capture.NewReplaySource(capture.ReplayConfig{Dir: dir, Speed: 10})
	require.NoError(t, err)

	s := streamsync.New()
	require.NoError(t, s.Configure(streamsync.Streams{Image: src, Depth: src, Metadata: src}))

	frames := make(chan streamsync.SynchronizedFrame, 8)
	s.OnSynchronizedFrame(func(f streamsync.SynchronizedFrame) { frames <- f })
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	var got []streamsync.SynchronizedFrame
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-timeout:
			t.Fatalf("got %d synchronized frames", len(got))
		}
	}

	assert.True(t, got[0].HasDepth())
	assert.False(t, got[1].HasDepth())
	assert.True(t, got[2].HasDepth())
}

func TestNewReplaySourceErrors(t *testing.T) {
	_, err := capture.NewReplaySource(capture.ReplayConfig{Dir: t.TempDir()})
	assert.Error(t, err, "no meta directory")

	_, err = capture.NewReplaySource(capture.ReplayConfig{Dir: writeDump(t, 1), Speed: -1})
	assert.Error(t, err)
}
