package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder/internal/gstenc"
)

// CodecH264 is the only supported output codec
const CodecH264 = "h264"

// EncoderConfig parameterizes an encoder instance
type EncoderConfig struct {
	Width            int
	Height           int
	Preset           string
	BitrateKbps      int
	KeyframeInterval int
	QueueFrames      int
}

// AccessUnitFunc receives encoded access units (NAL units without start codes)
// in presentation order
type AccessUnitFunc func(nalus [][]byte, pts time.Duration)

// Encoder turns BGRA buffers into H.264 access units.
type Encoder interface {
	// Ready reports whether Encode would be accepted without exceeding the
	// encoder's input queue
	Ready() bool

	// Encode queues one frame presented at pts. The encoder takes ownership
	// of buf and must Release it, also when an error is returned.
	Encode(buf *Buffer, pts time.Duration) error

	// Finish marks the input as complete and returns once every queued frame
	// has been delivered to the AccessUnitFunc
	Finish(ctx context.Context) error

	// Close releases encoder resources
	Close() error
}

// EncoderFactory creates an encoder that delivers its output to out
type EncoderFactory func(cfg EncoderConfig, out AccessUnitFunc) (Encoder, error)

// gstEncoder adapts the GStreamer pipeline to Encoder
type gstEncoder struct {
	enc *gstenc.Encoder
}

// NewGStreamerEncoder is the default EncoderFactory: appsrc → x264enc → appsink
func NewGStreamerEncoder(cfg EncoderConfig, out AccessUnitFunc) (Encoder, error) {
	if err := gstenc.CheckAvailable(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderUnavailable, err)
	}

	enc, err := gstenc.New(gstenc.PipelineConfig{
		Width:            cfg.Width,
		Height:           cfg.Height,
		Preset:           cfg.Preset,
		BitrateKbps:      cfg.BitrateKbps,
		KeyframeInterval: cfg.KeyframeInterval,
		QueueFrames:      cfg.QueueFrames,
	}, gstenc.OutputFunc(out))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderUnavailable, err)
	}

	return &gstEncoder{enc: enc}, nil
}

func (g *gstEncoder) Ready() bool {
	return g.enc.Ready()
}

// Encode copies the buffer into GStreamer memory, so it is released on return
func (g *gstEncoder) Encode(buf *Buffer, pts time.Duration) error {
	defer buf.Release()
	return g.enc.Push(buf.Pix, buf.Stride, pts)
}

func (g *gstEncoder) Finish(ctx context.Context) error {
	return g.enc.Finish(ctx)
}

func (g *gstEncoder) Close() error {
	return g.enc.Close()
}
