package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks the configuration and fills derived defaults
func Validate(cfg *Config) error {
	if err := validateCapture(&cfg.Capture); err != nil {
		return err
	}

	// Render target defaults to the capture size
	if cfg.Transform.Width == 0 && cfg.Transform.Height == 0 {
		cfg.Transform.Width = cfg.Capture.Width
		cfg.Transform.Height = cfg.Capture.Height
	}
	if cfg.Transform.Width <= 0 || cfg.Transform.Height <= 0 {
		return fmt.Errorf("transform size must be > 0, got %dx%d", cfg.Transform.Width, cfg.Transform.Height)
	}
	if cfg.Transform.Rotation%90 != 0 {
		return fmt.Errorf("transform.rotation must be a multiple of 90, got %d", cfg.Transform.Rotation)
	}

	if err := validateRecording(&cfg.Recording, cfg.Transform); err != nil {
		return err
	}

	if cfg.Catalog.Path == "" && cfg.Recording.Dir != "" {
		cfg.Catalog.Path = filepath.Join(cfg.Recording.Dir, "catalog.db")
	}

	return validateLog(&cfg.Log)
}

func validateCapture(c *CaptureConfig) error {
	switch c.Source {
	case "synthetic":
	case "replay":
		if c.ReplayDir == "" {
			return fmt.Errorf("capture.replay_dir is required for the replay source")
		}
		if c.ReplaySpeed <= 0 {
			c.ReplaySpeed = 1
		}
	default:
		return fmt.Errorf("capture.source: unknown source '%s' (must be 'synthetic' or 'replay')", c.Source)
	}

	switch strings.ToLower(c.Camera) {
	case "", "back", "front":
	default:
		return fmt.Errorf("capture.camera: unknown camera '%s' (must be 'back' or 'front')", c.Camera)
	}

	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("capture size must be > 0, got %dx%d", c.Width, c.Height)
	}
	if c.DepthWidth <= 0 || c.DepthHeight <= 0 {
		return fmt.Errorf("capture depth size must be > 0, got %dx%d", c.DepthWidth, c.DepthHeight)
	}
	if c.FPS < 0.1 || c.FPS > 240 {
		return fmt.Errorf("capture.fps must be 0.1-240, got %.2f", c.FPS)
	}
	if c.MatchWindowMS < 0 {
		return fmt.Errorf("capture.match_window_ms must be >= 0")
	}
	if c.DropImageEvery < 0 || c.DropDepthEvery < 0 || c.DropMetadataEvery < 0 || c.HoleEvery < 0 {
		return fmt.Errorf("capture drop and hole intervals must be >= 0")
	}

	return nil
}

func validateRecording(r *RecordingConfig, t TransformConfig) error {
	switch r.Mode {
	case "", "off":
		r.Mode = "off"
		return nil
	case "video":
		// H.264 4:2:0 needs even dimensions; a quarter turn swaps them
		if t.Width%2 != 0 || t.Height%2 != 0 {
			return fmt.Errorf("recording.mode video needs an even render size, got %dx%d", t.Width, t.Height)
		}
	case "frame-dump":
		switch r.ImageFormat {
		case "":
			r.ImageFormat = "png"
		case "png", "jpeg":
		default:
			return fmt.Errorf("recording.image_format: unknown format '%s' (must be 'png' or 'jpeg')", r.ImageFormat)
		}
	default:
		return fmt.Errorf("recording.mode: unknown mode '%s' (must be 'off', 'video' or 'frame-dump')", r.Mode)
	}

	if r.Dir == "" {
		return fmt.Errorf("recording.dir is required when recording")
	}
	if r.BackpressureBudgetMS <= 0 {
		r.BackpressureBudgetMS = 50
	}
	if r.PoolSize <= 0 {
		r.PoolSize = 3
	}
	if r.JPEGQuality <= 0 || r.JPEGQuality > 100 {
		r.JPEGQuality = 90
	}
	return nil
}

func validateLog(l *LogConfig) error {
	if _, err := ParseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "":
		l.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format '%s' (must be 'text' or 'json')", l.Format)
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 20
	}
	return nil
}
