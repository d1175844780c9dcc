package gstenc

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// PipelineConfig contains configuration for the encode pipeline
type PipelineConfig struct {
	Width  int
	Height int
	// Preset is the x264 speed preset name (e.g. "ultrafast", "veryfast")
	Preset string
	// BitrateKbps is the target bitrate; 0 keeps the encoder default
	BitrateKbps int
	// KeyframeInterval is the maximum GOP length in frames; 0 keeps the encoder default
	KeyframeInterval int
	// QueueFrames bounds how many raw frames appsrc holds before reporting enough-data
	QueueFrames int
}

// PipelineElements holds references to GStreamer pipeline elements
// needed for pushing, pulling and cleanup
type PipelineElements struct {
	Pipeline *gst.Pipeline
	AppSrc   *app.Source
	AppSink  *app.Sink
	Encoder  *gst.Element
}

// CreatePipeline creates and configures the encode pipeline
//
// Pipeline structure:
//
//	appsrc (BGRA, time format, live) → videoconvert → x264enc →
//	capsfilter (byte-stream, au) → appsink
//
// The pipeline is configured but NOT started (state remains NULL).
// Caller must call pipeline.SetState(gst.StatePlaying) to start.
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsrc: %w", err)
	}
	appsrc.SetCaps(gst.NewCapsFromString(buildInputCaps(cfg.Width, cfg.Height)))
	appsrc.SetFormat(gst.FormatTime)

	queueFrames := cfg.QueueFrames
	if queueFrames <= 0 {
		queueFrames = 4
	}
	if err := setProperties("appsrc", appsrc,
		property{"is-live", true},
		property{"block", false},
		property{"max-bytes", uint64(queueFrames * cfg.Width * cfg.Height * 4)},
	); err != nil {
		return nil, err
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	// 0 = auto-detect cores
	if err := setProperties("videoconvert", converter, property{"n-threads", uint(0)}); err != nil {
		return nil, err
	}

	encoder, err := gst.NewElement("x264enc")
	if err != nil {
		return nil, fmt.Errorf("failed to create x264enc: %w", err)
	}
	if err := configureEncoder(encoder, cfg); err != nil {
		return nil, err
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	if err := setProperties("capsfilter", capsfilter,
		property{"caps", gst.NewCapsFromString(outputCaps)},
	); err != nil {
		return nil, err
	}

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	if err := setProperties("appsink", appsink,
		property{"sync", false}, // drain as fast as encoded
		property{"emit-signals", false},
	); err != nil {
		return nil, err
	}

	pipeline.AddMany(
		appsrc.Element,
		converter,
		encoder,
		capsfilter,
		appsink.Element,
	)

	if err := gst.ElementLinkMany(
		appsrc.Element,
		converter,
		encoder,
		capsfilter,
		appsink.Element,
	); err != nil {
		return nil, fmt.Errorf("failed to link encode pipeline elements: %w", err)
	}

	slog.Debug("gstenc: encode pipeline created",
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"preset", cfg.Preset,
		"bitrate_kbps", cfg.BitrateKbps,
	)

	return &PipelineElements{
		Pipeline: pipeline,
		AppSrc:   appsrc,
		AppSink:  appsink,
		Encoder:  encoder,
	}, nil
}

// propertySetter is the part of a GStreamer element used for configuration
type propertySetter interface {
	SetProperty(name string, value interface{}) error
	SetArg(name, value string)
}

type property struct {
	name  string
	value interface{}
}

func setProperties(element string, obj propertySetter, props ...property) error {
	for _, p := range props {
		if err := obj.SetProperty(p.name, p.value); err != nil {
			return fmt.Errorf("failed to set %s %s: %w", element, p.name, err)
		}
	}
	return nil
}

// configureEncoder applies cfg to an x264enc element. tune and speed-preset
// are enum/flags typed and are set from their string nick through SetArg.
func configureEncoder(enc propertySetter, cfg PipelineConfig) error {
	enc.SetArg("tune", "zerolatency")
	if cfg.Preset != "" {
		enc.SetArg("speed-preset", cfg.Preset)
	}

	props := []property{
		{"bframes", uint(0)}, // presentation order == decode order
		{"byte-stream", true},
	}
	if cfg.BitrateKbps > 0 {
		props = append(props, property{"bitrate", uint(cfg.BitrateKbps)})
	}
	if cfg.KeyframeInterval > 0 {
		props = append(props, property{"key-int-max", uint(cfg.KeyframeInterval)})
	}
	return setProperties("x264enc", enc, props...)
}

// DestroyPipeline cleans up GStreamer pipeline resources
//
// Sets pipeline state to NULL and releases all resources.
// Safe to call even if pipeline is already destroyed.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}

	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}

	return nil
}

// outputCaps forces Annex-B access units out of the encoder
const outputCaps = "video/x-h264,stream-format=byte-stream,alignment=au"

// buildInputCaps builds the raw caps accepted by appsrc.
// framerate=0/1 declares a variable frame rate driven by buffer timestamps.
func buildInputCaps(width, height int) string {
	return fmt.Sprintf(
		"video/x-raw,format=BGRA,width=%d,height=%d,framerate=0/1",
		width, height,
	)
}

// CheckAvailable verifies that GStreamer and the H.264 encoder are installed
//
// This is a fail-fast validation that runs at session open time.
func CheckAvailable() error {
	gst.Init(nil)

	for _, name := range []string{"appsrc", "videoconvert", "x264enc", "appsink"} {
		elem, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("%s not available (install gstreamer1.0-plugins-ugly/base): %w", name, err)
		}
		elem.SetState(gst.StateNull)
	}

	return nil
}
