package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

// Device is a source producing all three streams of one camera
type Device interface {
	streamsync.Source
}

// DeviceFactory builds the device for a camera selection
type DeviceFactory func(CameraSelector) (Device, error)

// ControllerConfig configures a Controller
type ControllerConfig struct {
	Camera CameraSelector

	// Stream toggles; the image stream is always on
	DepthEnabled    bool
	MetadataEnabled bool

	// Options passed to every Configure call
	SyncOptions []streamsync.Option
}

// Controller owns the capture session: it builds the device for the selected
// camera, registers it with the synchronizer and drives start/stop.
//
// Start and Stop are idempotent. SwitchCamera performs stop → reconfigure →
// start, restarting only when capture was running.
type Controller struct {
	synchronizer *streamsync.Synchronizer
	factory      DeviceFactory

	mu      sync.Mutex
	cfg     ControllerConfig
	device  Device
	running bool
}

// NewController creates a controller. No device is built until Start.
func NewController(s *streamsync.Synchronizer, factory DeviceFactory, cfg ControllerConfig) (*Controller, error) {
	if s == nil {
		return nil, errors.New("capture: synchronizer is required")
	}
	if factory == nil {
		return nil, errors.New("capture: device factory is required")
	}

	return &Controller{
		synchronizer: s,
		factory:      factory,
		cfg:          cfg,
	}, nil
}

// Start builds and configures the device if needed, then starts capture.
// Starting a running controller is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		slog.Debug("capture: already running", "camera", c.cfg.Camera.String())
		return nil
	}
	return c.startLocked(ctx)
}

// Stop halts capture synchronously. Stopping a stopped controller is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		slog.Debug("capture: already stopped")
		return nil
	}
	return c.stopLocked()
}

// SwitchCamera changes the camera selection. The device is rebuilt for the
// new selection; capture is restarted only if it was running.
func (c *Controller) SwitchCamera(ctx context.Context, sel CameraSelector) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasRunning := c.running
	if wasRunning {
		if err := c.stopLocked(); err != nil {
			return fmt.Errorf("capture: switch camera: %w", err)
		}
	}

	previous := c.cfg.Camera
	c.cfg.Camera = sel
	c.device = nil

	slog.Info("capture: camera switched",
		"from", previous.String(),
		"to", sel.String(),
		"restart", wasRunning,
	)

	if !wasRunning {
		return nil
	}
	if err := c.startLocked(ctx); err != nil {
		return fmt.Errorf("capture: switch camera: %w", err)
	}
	return nil
}

// Camera returns the current camera selection
func (c *Controller) Camera() CameraSelector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Camera
}

// Running reports whether capture is active
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Device returns the current device, nil before the first Start
func (c *Controller) Device() Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

func (c *Controller) startLocked(ctx context.Context) error {
	if c.device == nil {
		dev, err := c.factory(c.cfg.Camera)
		if err != nil {
			return fmt.Errorf("capture: open device %s: %w", c.cfg.Camera, err)
		}
		c.device = dev

		streams := streamsync.Streams{Image: dev}
		if c.cfg.DepthEnabled {
			streams.Depth = dev
		}
		if c.cfg.MetadataEnabled {
			streams.Metadata = dev
		}
		if err := c.synchronizer.Configure(streams, c.cfg.SyncOptions...); err != nil {
			c.device = nil
			return fmt.Errorf("capture: configure: %w", err)
		}
	}

	if err := c.synchronizer.Start(ctx); err != nil {
		return fmt.Errorf("capture: start: %w", err)
	}
	c.running = true

	slog.Info("capture: started",
		"camera", c.cfg.Camera.String(),
		"depth", c.cfg.DepthEnabled,
		"metadata", c.cfg.MetadataEnabled,
	)
	return nil
}

func (c *Controller) stopLocked() error {
	err := c.synchronizer.Stop()
	c.running = false

	slog.Info("capture: stopped", "camera", c.cfg.Camera.String())
	return err
}
