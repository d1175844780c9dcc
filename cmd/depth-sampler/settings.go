package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/e7canasta/orion-depth-sampler/internal/config"
)

const envPrefix = "DEPTH_SAMPLER"

// setting maps one configuration key to its flag and applies the resolved
// value. The environment variable is the key with the prefix, upper-cased,
// dots as underscores: capture.fps → DEPTH_SAMPLER_CAPTURE_FPS.
type setting struct {
	key   string
	flag  string // empty: environment only
	apply func(*config.Config, *viper.Viper, string)
}

func str(set func(*config.Config, string)) func(*config.Config, *viper.Viper, string) {
	return func(c *config.Config, v *viper.Viper, key string) { set(c, v.GetString(key)) }
}

func integer(set func(*config.Config, int)) func(*config.Config, *viper.Viper, string) {
	return func(c *config.Config, v *viper.Viper, key string) { set(c, v.GetInt(key)) }
}

func float(set func(*config.Config, float64)) func(*config.Config, *viper.Viper, string) {
	return func(c *config.Config, v *viper.Viper, key string) { set(c, v.GetFloat64(key)) }
}

func boolean(set func(*config.Config, bool)) func(*config.Config, *viper.Viper, string) {
	return func(c *config.Config, v *viper.Viper, key string) { set(c, v.GetBool(key)) }
}

var settings = []setting{
	{"capture.source", "source", str(func(c *config.Config, s string) { c.Capture.Source = s })},
	{"capture.camera", "camera", str(func(c *config.Config, s string) { c.Capture.Camera = s })},
	{"capture.mirrored", "mirrored", boolean(func(c *config.Config, b bool) { c.Capture.Mirrored = b })},
	{"capture.width", "width", integer(func(c *config.Config, n int) { c.Capture.Width = n })},
	{"capture.height", "height", integer(func(c *config.Config, n int) { c.Capture.Height = n })},
	{"capture.depth_width", "", integer(func(c *config.Config, n int) { c.Capture.DepthWidth = n })},
	{"capture.depth_height", "", integer(func(c *config.Config, n int) { c.Capture.DepthHeight = n })},
	{"capture.fps", "fps", float(func(c *config.Config, f float64) { c.Capture.FPS = f })},
	{"capture.depth", "depth", boolean(func(c *config.Config, b bool) { c.Capture.Depth = b })},
	{"capture.metadata", "metadata", boolean(func(c *config.Config, b bool) { c.Capture.Metadata = b })},
	{"capture.depth_filter", "depth-filter", boolean(func(c *config.Config, b bool) { c.Capture.DepthFilter = b })},
	{"capture.match_window_ms", "match-window", float(func(c *config.Config, f float64) { c.Capture.MatchWindowMS = f })},
	{"capture.drop_image_every", "", integer(func(c *config.Config, n int) { c.Capture.DropImageEvery = n })},
	{"capture.drop_depth_every", "drop-depth-every", integer(func(c *config.Config, n int) { c.Capture.DropDepthEvery = n })},
	{"capture.drop_metadata_every", "", integer(func(c *config.Config, n int) { c.Capture.DropMetadataEvery = n })},
	{"capture.hole_every", "", integer(func(c *config.Config, n int) { c.Capture.HoleEvery = n })},
	{"capture.replay_dir", "replay-dir", str(func(c *config.Config, s string) { c.Capture.ReplayDir = s })},
	{"capture.replay_speed", "replay-speed", float(func(c *config.Config, f float64) { c.Capture.ReplaySpeed = f })},
	{"capture.replay_loop", "replay-loop", boolean(func(c *config.Config, b bool) { c.Capture.ReplayLoop = b })},

	{"transform.inverse", "inverse", boolean(func(c *config.Config, b bool) { c.Transform.Inverse = b })},
	{"transform.equalize", "equalize", boolean(func(c *config.Config, b bool) { c.Transform.Equalize = b })},
	{"transform.width", "render-width", integer(func(c *config.Config, n int) { c.Transform.Width = n })},
	{"transform.height", "render-height", integer(func(c *config.Config, n int) { c.Transform.Height = n })},
	{"transform.rotation", "rotation", integer(func(c *config.Config, n int) { c.Transform.Rotation = n })},

	{"recording.mode", "record", str(func(c *config.Config, s string) { c.Recording.Mode = s })},
	{"recording.dir", "dir", str(func(c *config.Config, s string) { c.Recording.Dir = s })},
	{"recording.backpressure_budget_ms", "backpressure-budget", integer(func(c *config.Config, n int) { c.Recording.BackpressureBudgetMS = n })},
	{"recording.pool_size", "", integer(func(c *config.Config, n int) { c.Recording.PoolSize = n })},
	{"recording.preset", "preset", str(func(c *config.Config, s string) { c.Recording.Preset = s })},
	{"recording.bitrate_kbps", "bitrate", integer(func(c *config.Config, n int) { c.Recording.BitrateKbps = n })},
	{"recording.keyframe_interval", "", integer(func(c *config.Config, n int) { c.Recording.KeyframeInterval = n })},
	{"recording.image_format", "image-format", str(func(c *config.Config, s string) { c.Recording.ImageFormat = s })},
	{"recording.jpeg_quality", "jpeg-quality", integer(func(c *config.Config, n int) { c.Recording.JPEGQuality = n })},

	{"catalog.path", "catalog", str(func(c *config.Config, s string) { c.Catalog.Path = s })},

	{"log.level", "log-level", str(func(c *config.Config, s string) { c.Log.Level = s })},
	{"log.format", "log-format", str(func(c *config.Config, s string) { c.Log.Format = s })},
	{"log.file", "log-file", str(func(c *config.Config, s string) { c.Log.File = s })},
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig resolves the configuration for cmd: defaults, then the YAML
// file from --config or DEPTH_SAMPLER_CONFIG, then environment variables and
// flags the user set. Flags win over the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := newViper()
	flags := cmd.Flags()

	if f := flags.Lookup("config"); f != nil {
		if err := v.BindPFlag("config", f); err != nil {
			return nil, err
		}
	}

	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		decoded, err := config.Decode(path)
		if err != nil {
			return nil, err
		}
		cfg = decoded
	}

	for _, s := range settings {
		if s.flag != "" {
			if f := flags.Lookup(s.flag); f != nil {
				if err := v.BindPFlag(s.key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", s.flag, err)
				}
			}
		}
		if v.IsSet(s.key) {
			s.apply(cfg, v, s.key)
		}
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
