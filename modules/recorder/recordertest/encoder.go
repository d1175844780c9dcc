// Package recordertest provides an in-process encoder for exercising
// recorder sessions without GStreamer.
package recordertest

import (
	"context"
	"sync"
	"time"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder"
)

// Minimal H.264 bitstream units: a baseline SPS for 640x480 with its PPS,
// one IDR slice and one P slice. The container only inspects the headers.
var (
	SPS    = []byte{0x67, 0x42, 0xc0, 0x1e, 0xda, 0x02, 0x80, 0xf6, 0x40}
	PPS    = []byte{0x68, 0xce, 0x38, 0x80}
	IDR    = []byte{0x65, 0x88, 0x84, 0x00, 0x10}
	PFrame = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}
)

// Encoder emits one access unit per frame synchronously: a keyframe with
// parameter sets first, then P frames. It is always ready unless told otherwise.
type Encoder struct {
	mu       sync.Mutex
	out      recorder.AccessUnitFunc
	blocked  bool
	hold     bool
	held     []*recorder.Buffer
	configs  []recorder.EncoderConfig
	pts      []time.Duration
	finished bool
	closed   bool
}

// NewEncoder returns a ready encoder
func NewEncoder() *Encoder { return &Encoder{} }

// Factory returns an EncoderFactory handing out e. Each session opened with
// it resets the keyframe sequence.
func (e *Encoder) Factory() recorder.EncoderFactory {
	return func(cfg recorder.EncoderConfig, out recorder.AccessUnitFunc) (recorder.Encoder, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.out = out
		e.configs = append(e.configs, cfg)
		e.pts = nil
		e.held = nil
		e.finished = false
		e.closed = false
		return e, nil
	}
}

// SetReady toggles readiness; a blocked encoder makes sessions drop frames
// once their backpressure budget runs out
func (e *Encoder) SetReady(ready bool) {
	e.mu.Lock()
	e.blocked = !ready
	e.mu.Unlock()
}

// Hold makes Encode keep buffers instead of releasing them, so the session
// pool runs dry. Held returns them.
func (e *Encoder) Hold(hold bool) {
	e.mu.Lock()
	e.hold = hold
	e.mu.Unlock()
}

// Held returns the buffers kept while holding
func (e *Encoder) Held() []*recorder.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*recorder.Buffer(nil), e.held...)
}

func (e *Encoder) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.blocked
}

func (e *Encoder) Encode(buf *recorder.Buffer, pts time.Duration) error {
	e.mu.Lock()
	if e.hold {
		e.held = append(e.held, buf)
	} else {
		buf.Release()
	}
	first := len(e.pts) == 0
	e.pts = append(e.pts, pts)
	out := e.out
	e.mu.Unlock()

	if first {
		out([][]byte{SPS, PPS, IDR}, pts)
	} else {
		out([][]byte{PFrame}, pts)
	}
	return nil
}

func (e *Encoder) Finish(context.Context) error {
	e.mu.Lock()
	e.finished = true
	e.mu.Unlock()
	return nil
}

func (e *Encoder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Frames returns the presentation times encoded by the current session
func (e *Encoder) Frames() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Duration(nil), e.pts...)
}

// Configs returns the configuration of every session opened so far
func (e *Encoder) Configs() []recorder.EncoderConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recorder.EncoderConfig(nil), e.configs...)
}

// Closed reports whether the current session closed the encoder
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Finished reports whether the current session drained the encoder
func (e *Encoder) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}
