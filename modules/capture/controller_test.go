package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-depth-sampler/modules/capture"
	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

// recordingFactory builds synthetic devices and remembers each selection
type recordingFactory struct {
	mu      sync.Mutex
	opened  []capture.CameraSelector
	devices []*capture.SyntheticSource
	err     error
}

func (f *recordingFactory) build(sel capture.CameraSelector) (capture.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	cfg := smallConfig()
	cfg.Camera = sel
	src, err := capture.NewSyntheticSource(cfg)
	if err != nil {
		return nil, err
	}
	f.opened = append(f.opened, sel)
	f.devices = append(f.devices, src)
	return src, nil
}

func (f *recordingFactory) selections() []capture.CameraSelector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capture.CameraSelector(nil), f.opened...)
}

type controllerHarness struct {
	ctrl    *capture.Controller
	sync    *streamsync.Synchronizer
	factory *recordingFactory
	frames  chan streamsync.SynchronizedFrame
}

func newControllerHarness(t *testing.T) *controllerHarness {
	t.Helper()

	h := &controllerHarness{
		sync:    streamsync.New(),
		factory: &recordingFactory{},
		frames:  make(chan streamsync.SynchronizedFrame, 256),
	}
	h.sync.OnSynchronizedFrame(func(f streamsync.SynchronizedFrame) {
		select {
		case h.frames <- f:
		default:
		}
	})

	ctrl, err := capture.NewController(h.sync, h.factory.build, capture.ControllerConfig{
		Camera:          capture.CameraSelector{Facing: capture.FacingBack},
		DepthEnabled:    true,
		MetadataEnabled: true,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(func() { _ = ctrl.Stop() })
	return h
}

func (h *controllerHarness) next(t *testing.T) streamsync.SynchronizedFrame {
	t.Helper()
	select {
	case f := <-h.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no synchronized frame")
		return streamsync.SynchronizedFrame{}
	}
}

func (h *controllerHarness) poll() (streamsync.SynchronizedFrame, bool) {
	select {
	case f := <-h.frames:
		return f, true
	default:
		return streamsync.SynchronizedFrame{}, false
	}
}

func (h *controllerHarness) drain() {
	for {
		select {
		case <-h.frames:
		default:
			return
		}
	}
}

func TestControllerStartStopIdempotent(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Start(ctx))
	assert.True(t, h.ctrl.Running())
	assert.Len(t, h.factory.selections(), 1, "device built once")

	f := h.next(t)
	assert.NotNil(t, f.Image)
	assert.NotEmpty(t, f.TraceID)

	require.NoError(t, h.ctrl.Stop())
	require.NoError(t, h.ctrl.Stop())
	assert.False(t, h.ctrl.Running())
	assert.False(t, h.sync.Running())

	// Restart reuses the device
	require.NoError(t, h.ctrl.Start(ctx))
	h.next(t)
	assert.Len(t, h.factory.selections(), 1)
}

func TestControllerSwitchCameraWhileRunning(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	h.next(t)

	front := capture.CameraSelector{Facing: capture.FacingFront, Mirrored: true}
	require.NoError(t, h.ctrl.SwitchCamera(ctx, front))
	assert.True(t, h.ctrl.Running(), "restarted because it was running")
	assert.Equal(t, front, h.ctrl.Camera())
	assert.Equal(t, []capture.CameraSelector{{Facing: capture.FacingBack}, front}, h.factory.selections())

	dev, ok := h.ctrl.Device().(*capture.SyntheticSource)
	require.True(t, ok)
	assert.Equal(t, front, dev.Camera())

	// front camera frames carry the front tint (red channel 200)
	h.drain()
	require.Eventually(t, func() bool {
		f, ok := h.poll()
		return ok && f.Image.Data[2] == 200
	}, 2*time.Second, time.Millisecond)
}

func TestControllerSwitchCameraWhileStopped(t *testing.T) {
	h := newControllerHarness(t)

	front := capture.CameraSelector{Facing: capture.FacingFront}
	require.NoError(t, h.ctrl.SwitchCamera(context.Background(), front))

	assert.False(t, h.ctrl.Running(), "not started by a switch")
	assert.Empty(t, h.factory.selections(), "device is built on Start")

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, []capture.CameraSelector{front}, h.factory.selections())
}

func TestControllerFilterToggleReachesNewDevice(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()

	h.sync.SetAuxiliaryFilterEnabled(true)
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.SwitchCamera(ctx, capture.CameraSelector{Facing: capture.FacingFront}))

	h.drain()
	require.Eventually(t, func() bool {
		f, ok := h.poll()
		return ok && f.Depth != nil && f.Depth.Filtered
	}, 2*time.Second, time.Millisecond)
}

func TestControllerDeviceError(t *testing.T) {
	h := newControllerHarness(t)
	h.factory.err = errors.New("camera busy")

	err := h.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera busy")
	assert.False(t, h.ctrl.Running())
}

func TestNewControllerValidation(t *testing.T) {
	_, err := capture.NewController(nil, (&recordingFactory{}).build, capture.ControllerConfig{})
	assert.Error(t, err)

	_, err = capture.NewController(streamsync.New(), nil, capture.ControllerConfig{})
	assert.Error(t, err)
}
