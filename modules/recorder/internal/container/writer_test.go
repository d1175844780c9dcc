package container

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// baseline profile, level 3.0, 640x480, no VUI
var testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xda, 0x02, 0x80, 0xf6, 0x40}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

var testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}

var testPFrame = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}

func keyframe() [][]byte { return [][]byte{testSPS, testPPS, testIDR} }
func delta() [][]byte    { return [][]byte{testPFrame} }

func TestWriteAndProbe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	w, err := Create(path, 90000, 640, 480)
	require.NoError(t, err)

	require.NoError(t, w.WriteAccessUnit(keyframe(), 0))
	require.NoError(t, w.WriteAccessUnit(delta(), 3000))
	require.NoError(t, w.WriteAccessUnit(delta(), 6000))
	assert.Equal(t, 3, w.Samples())

	require.NoError(t, w.Close(6450))
	assert.Equal(t, int64(6450), w.Duration())

	info, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(90000), info.Timescale)
	assert.Equal(t, 3, info.Samples)
	assert.Equal(t, 1, info.Keyframes)
	assert.Equal(t, 3, info.Fragments)
	assert.Equal(t, int64(6450), info.DurationTicks)
	assert.Equal(t, 71666666*time.Nanosecond, info.Duration)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 480, info.Height)
}

func TestSPSGeometryMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	w, err := Create(path, 90000, 1280, 720)
	require.NoError(t, err)
	defer w.Abort()

	err = w.WriteAccessUnit(keyframe(), 0)
	require.ErrorIs(t, err, ErrGeometryMismatch)
	assert.Contains(t, err.Error(), "640x480")
	assert.Equal(t, 0, w.Samples())

	assert.ErrorIs(t, w.Close(3000), ErrNoSamples)
}

func TestAccessUnitsBeforeKeyframeDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	w, err := Create(path, 90000, 640, 480)
	require.NoError(t, err)

	require.NoError(t, w.WriteAccessUnit(delta(), 0))
	assert.Equal(t, 0, w.Samples())

	require.NoError(t, w.WriteAccessUnit(keyframe(), 3000))
	require.NoError(t, w.Close(6000))

	info, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Samples)
	assert.Equal(t, int64(3000), info.DurationTicks)
}

func TestNonIncreasingPTSRejected(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "out.mp4"), 90000, 640, 480)
	require.NoError(t, err)
	defer w.Abort()

	require.NoError(t, w.WriteAccessUnit(keyframe(), 3000))
	assert.Error(t, w.WriteAccessUnit(delta(), 3000))
	assert.Error(t, w.WriteAccessUnit(delta(), 1500))
}

func TestCloseWithoutSamplesRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mp4")
	w, err := Create(path, 90000, 640, 480)
	require.NoError(t, err)

	assert.ErrorIs(t, w.Close(0), ErrNoSamples)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	assert.NoError(t, w.Close(0), "close is idempotent")
	assert.ErrorIs(t, w.WriteAccessUnit(keyframe(), 0), ErrClosed)
}

func TestLastSampleHasMinimumDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	w, err := Create(path, 90000, 640, 480)
	require.NoError(t, err)

	require.NoError(t, w.WriteAccessUnit(keyframe(), 100))
	require.NoError(t, w.Close(50))

	info, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.DurationTicks)
}

func TestCreateFailsWithoutParentDirectory(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing", "out.mp4"), 90000, 640, 480)
	assert.Error(t, err)
}

func TestFirstBox(t *testing.T) {
	data := []byte{
		0, 0, 0, 8, 'f', 't', 'y', 'p',
		0, 0, 0, 8, 'm', 'o', 'o', 'f',
	}
	off, err := firstBox(data, "moof")
	require.NoError(t, err)
	assert.Equal(t, 8, off)

	off, err = firstBox(data[:8], "moof")
	require.NoError(t, err)
	assert.Equal(t, 8, off)

	_, err = firstBox([]byte{0, 0, 0, 64, 'f', 't', 'y', 'p'}, "moof")
	assert.Error(t, err)
}
