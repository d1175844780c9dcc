package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete depth-sampler configuration
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Transform TransformConfig `yaml:"transform"`
	Recording RecordingConfig `yaml:"recording"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Log       LogConfig       `yaml:"log"`
}

// CaptureConfig contains device and synchronizer settings
type CaptureConfig struct {
	Source   string `yaml:"source"`   // synthetic, replay
	Camera   string `yaml:"camera"`   // back, front
	Mirrored bool   `yaml:"mirrored"` // flip horizontally

	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	DepthWidth  int     `yaml:"depth_width"`
	DepthHeight int     `yaml:"depth_height"`
	FPS         float64 `yaml:"fps"`

	Depth         bool    `yaml:"depth"`           // register the depth stream
	Metadata      bool    `yaml:"metadata"`        // register the metadata stream
	DepthFilter   bool    `yaml:"depth_filter"`    // auxiliary depth smoothing
	MatchWindowMS float64 `yaml:"match_window_ms"` // 0 = exact timestamp match

	// Synthetic drop injection (every Nth frame, 0 = off)
	DropImageEvery    int `yaml:"drop_image_every"`
	DropDepthEvery    int `yaml:"drop_depth_every"`
	DropMetadataEvery int `yaml:"drop_metadata_every"`
	HoleEvery         int `yaml:"hole_every"`

	// Replay source
	ReplayDir   string  `yaml:"replay_dir"`
	ReplaySpeed float64 `yaml:"replay_speed"`
	ReplayLoop  bool    `yaml:"replay_loop"`
}

// TransformConfig contains depth rendering settings
type TransformConfig struct {
	Inverse  bool `yaml:"inverse"`  // render disparity instead of distance
	Equalize bool `yaml:"equalize"` // histogram equalization
	Width    int  `yaml:"width"`    // render target size (default: capture size)
	Height   int  `yaml:"height"`
	Rotation int  `yaml:"rotation"` // degrees clockwise, multiple of 90
}

// RecordingConfig contains recording settings
type RecordingConfig struct {
	Mode string `yaml:"mode"` // off, video, frame-dump
	Dir  string `yaml:"dir"`

	BackpressureBudgetMS int    `yaml:"backpressure_budget_ms"`
	PoolSize             int    `yaml:"pool_size"`
	Preset               string `yaml:"preset"` // x264 speed preset
	BitrateKbps          int    `yaml:"bitrate_kbps"`
	KeyframeInterval     int    `yaml:"keyframe_interval"`

	ImageFormat string `yaml:"image_format"` // png, jpeg (frame-dump)
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// CatalogConfig contains the recordings index settings
type CatalogConfig struct {
	Path string `yaml:"path"` // default: <recording.dir>/catalog.db
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`   // also write to this file, rotated

	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Source:      "synthetic",
			Camera:      "back",
			Width:       640,
			Height:      480,
			DepthWidth:  320,
			DepthHeight: 240,
			FPS:         30,
			Depth:       true,
			Metadata:    true,
			ReplaySpeed: 1,
		},
		Recording: RecordingConfig{
			Mode:                 "off",
			Dir:                  "recordings",
			BackpressureBudgetMS: 50,
			PoolSize:             3,
			Preset:               "veryfast",
			KeyframeInterval:     30,
			ImageFormat:          "png",
			JPEGQuality:          90,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  20,
			MaxBackups: 7,
			MaxAgeDays: 14,
		},
	}
}

// Load reads a YAML configuration file on top of Default and validates it
func Load(path string) (*Config, error) {
	cfg, err := Decode(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Decode reads a YAML configuration file on top of Default without
// validating it, so callers can apply overrides first
func Decode(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
