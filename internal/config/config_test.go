package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
capture:
  camera: front
  mirrored: true
  fps: 60
  metadata: false
  drop_depth_every: 5
transform:
  inverse: true
  rotation: 90
recording:
  mode: video
  dir: /tmp/rec
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Capture.Camera = "front"
	want.Capture.Mirrored = true
	want.Capture.FPS = 60
	want.Capture.Metadata = false
	want.Capture.DropDepthEvery = 5
	want.Transform = TransformConfig{Inverse: true, Rotation: 90, Width: 640, Height: 480}
	want.Recording.Mode = "video"
	want.Recording.Dir = "/tmp/rec"
	want.Catalog.Path = "/tmp/rec/catalog.db"
	want.Log.Level = "debug"
	want.Log.Format = "json"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "off", cfg.Recording.Mode)
	assert.Equal(t, 640, cfg.Transform.Width)
	assert.Equal(t, filepath.Join("recordings", "catalog.db"), cfg.Catalog.Path)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown source", func(c *Config) { c.Capture.Source = "usb" }, "capture.source"},
		{"replay without dir", func(c *Config) { c.Capture.Source = "replay" }, "replay_dir"},
		{"unknown camera", func(c *Config) { c.Capture.Camera = "side" }, "capture.camera"},
		{"fps", func(c *Config) { c.Capture.FPS = 500 }, "capture.fps"},
		{"zero size", func(c *Config) { c.Capture.Width = 0 }, "capture size"},
		{"negative window", func(c *Config) { c.Capture.MatchWindowMS = -1 }, "match_window_ms"},
		{"negative drop", func(c *Config) { c.Capture.DropImageEvery = -1 }, "intervals"},
		{"rotation", func(c *Config) { c.Transform.Rotation = 45 }, "rotation"},
		{"odd video size", func(c *Config) {
			c.Recording.Mode = "video"
			c.Transform.Width, c.Transform.Height = 641, 480
		}, "even render size"},
		{"unknown mode", func(c *Config) { c.Recording.Mode = "gif" }, "recording.mode"},
		{"recording without dir", func(c *Config) {
			c.Recording.Mode = "frame-dump"
			c.Recording.Dir = ""
		}, "recording.dir"},
		{"image format", func(c *Config) {
			c.Recording.Mode = "frame-dump"
			c.Recording.ImageFormat = "bmp"
		}, "image_format"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "capture: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "capture:\n  fps: 0\n"))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("recorder: hidden")
	logger.Warn("recorder: frame dropped", "seq", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "recorder: frame dropped", entry["msg"])
	assert.Equal(t, float64(7), entry["seq"])
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sampler.log")
	var buf bytes.Buffer

	logger, closer, err := NewLogger(LogConfig{Level: "info", Format: "text", File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)

	logger.Info("capture: started", "camera", "back")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "capture: started")
	assert.Contains(t, buf.String(), "camera=back")
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"debug", "INFO", "", "warn", "warning", "error"} {
		_, err := ParseLevel(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "depth-sampler.yaml"))
	require.NoError(t, err)

	want := Default()
	require.NoError(t, Validate(want))
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("example config drifted from defaults (-want +got):\n%s", diff)
	}
}
