package recorder_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder"
	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

func testFrame(ts time.Duration, withDepth bool, detections ...streamsync.Detection) streamsync.SynchronizedFrame {
	pb := &streamsync.PixelBuffer{
		Width:  4,
		Height: 2,
		Stride: 20, // padded
		Format: streamsync.PixelFormatBGRA,
		Data:   make([]byte, 40),
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			i := y*20 + x*4
			pb.Data[i+0] = byte(10 * x) // B
			pb.Data[i+1] = byte(50 * y) // G
			pb.Data[i+2] = 200          // R
			pb.Data[i+3] = 255
		}
	}

	f := streamsync.SynchronizedFrame{
		Seq:       7,
		Timestamp: ts,
		TraceID:   "trace-7",
		Image:     pb,
	}
	if withDepth {
		f.Depth = &streamsync.DepthMap{
			Width:  4,
			Height: 2,
			Data: []float32{
				0.5, 1.25, 2, float32(math.NaN()),
				3.5, 0, 4.001, 12,
			},
		}
	}
	if len(detections) > 0 {
		f.Metadata = &streamsync.Metadata{Detections: detections}
	}
	return f
}

func TestFrameDumpRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dump")
	d, err := recorder.NewFrameDumper(recorder.DumpConfig{Dir: dir, Format: "png"})
	require.NoError(t, err)

	_, err = os.Stat(dir)
	assert.ErrorIs(t, err, os.ErrNotExist, "directories are created on first dump")

	face := streamsync.Detection{ID: 3, Type: "face", Bounds: streamsync.Rect{X: 0.25, Y: 0.5, W: 0.1, H: 0.2}, Score: 0.9}
	require.NoError(t, d.Dump(testFrame(1500*time.Millisecond, true, face)))
	require.NoError(t, d.Dump(testFrame(500*time.Millisecond, false)))

	for _, sub := range []string{"rgb/1.500000.png", "depth/1.500000.png", "meta/1.500000.msgpack", "rgb/0.500000.png", "meta/0.500000.msgpack"} {
		assert.FileExists(t, filepath.Join(dir, sub))
	}
	assert.NoFileExists(t, filepath.Join(dir, "depth/0.500000.png"))

	stamps, err := recorder.ListDump(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.500000", "1.500000"}, stamps)

	entry, err := recorder.ReadDumpEntry(dir, "1.500000")
	require.NoError(t, err)

	assert.Equal(t, int64(1500*time.Millisecond), entry.Sidecar.TimestampNS)
	assert.Equal(t, uint64(7), entry.Sidecar.Seq)
	assert.Equal(t, "trace-7", entry.Sidecar.TraceID)
	if diff := cmp.Diff([]streamsync.Detection{face}, entry.Sidecar.Detections); diff != "" {
		t.Errorf("detections mismatch (-want +got):\n%s", diff)
	}

	// Colour survives the BGRA → PNG → BGRA trip; padding is not carried
	require.NotNil(t, entry.Image)
	assert.Equal(t, 4, entry.Image.Width)
	assert.Equal(t, 16, entry.Image.Stride)
	assert.Equal(t, []byte{30, 50, 200, 255}, entry.Image.Data[16+12:16+16])

	require.NotNil(t, entry.Depth)
	want := []float32{0.5, 1.25, 2, -1, 3.5, -1, 4.001, 12}
	for i, w := range want {
		got := entry.Depth.Data[i]
		if w < 0 {
			assert.True(t, math.IsNaN(float64(got)), "pixel %d should be a hole, got %v", i, got)
			continue
		}
		assert.InDelta(t, w, got, 0.0005, "pixel %d", i)
	}

	entry, err = recorder.ReadDumpEntry(dir, "0.500000")
	require.NoError(t, err)
	assert.Nil(t, entry.Depth)
	assert.Empty(t, entry.Sidecar.Detections)

	saved, failed := d.Stats()
	assert.Equal(t, uint64(2), saved)
	assert.Zero(t, failed)
}

func TestFrameDumpJPEG(t *testing.T) {
	dir := t.TempDir()
	d, err := recorder.NewFrameDumper(recorder.DumpConfig{Dir: dir, Format: "jpeg", JPEGQuality: 95})
	require.NoError(t, err)

	require.NoError(t, d.Dump(testFrame(time.Second, true)))
	assert.FileExists(t, filepath.Join(dir, "rgb", "1.000000.jpeg"))
	assert.FileExists(t, filepath.Join(dir, "depth", "1.000000.png"), "depth stays lossless")

	entry, err := recorder.ReadDumpEntry(dir, "1.000000")
	require.NoError(t, err)
	assert.Equal(t, 4, entry.Image.Width)
	assert.Equal(t, 2, entry.Image.Height)
}

func TestFrameDumpRejectsMissingImage(t *testing.T) {
	d, err := recorder.NewFrameDumper(recorder.DumpConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	assert.Error(t, d.Dump(streamsync.SynchronizedFrame{Seq: 1}))

	saved, failed := d.Stats()
	assert.Zero(t, saved)
	assert.Equal(t, uint64(1), failed)
}

func TestNewFrameDumperValidation(t *testing.T) {
	_, err := recorder.NewFrameDumper(recorder.DumpConfig{})
	assert.Error(t, err)

	_, err = recorder.NewFrameDumper(recorder.DumpConfig{Dir: t.TempDir(), Format: "bmp"})
	assert.Error(t, err)
}

func TestDumpStamp(t *testing.T) {
	assert.Equal(t, "0.000000", recorder.DumpStamp(0))
	assert.Equal(t, "12.345678", recorder.DumpStamp(12345678*time.Microsecond))
}
