// Package gstenc encodes raw BGRA frames to H.264 access units with GStreamer.
package gstenc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// ErrPipelineFailed is returned once the bus has reported an error
var ErrPipelineFailed = errors.New("gstenc: pipeline failed")

// Encoder is a running appsrc → x264enc → appsink pipeline
type Encoder struct {
	cfg      PipelineConfig
	elements *PipelineElements

	ready  atomic.Bool
	failed atomic.Bool
	errMu  sync.Mutex
	err    error

	eos     chan struct{}
	eosOnce sync.Once

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once

	// Statistics (atomic for thread-safety)
	framesPushed   uint64
	accessUnits    uint64
	bytesOut       uint64
	errorsResource uint64
	errorsNegot    uint64
	errorsFlow     uint64
	errorsUnknown  uint64
	started        time.Time
}

// New builds the pipeline, wires the callbacks and sets it PLAYING.
// output receives every encoded access unit on a GStreamer streaming thread.
func New(cfg PipelineConfig, output OutputFunc) (*Encoder, error) {
	if output == nil {
		return nil, fmt.Errorf("gstenc: output function is required")
	}

	elements, err := CreatePipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("gstenc: failed to create pipeline: %w", err)
	}

	e := &Encoder{
		cfg:      cfg,
		elements: elements,
		eos:      make(chan struct{}),
		started:  time.Now(),
	}
	e.ready.Store(true)

	callbackCtx := &CallbackContext{
		Output:      output,
		Ready:       &e.ready,
		AccessUnits: &e.accessUnits,
		BytesOut:    &e.bytesOut,
	}

	elements.AppSrc.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc: func(_ *app.Source, _ uint) {
			OnNeedData(callbackCtx)
		},
		EnoughDataFunc: func(_ *app.Source) {
			OnEnoughData(callbackCtx)
		},
	})
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return OnNewSample(sink, callbackCtx)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		_ = DestroyPipeline(elements)
		return nil, fmt.Errorf("gstenc: failed to start pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitorBus(ctx)
	}()

	slog.Info("gstenc: encoder started",
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"preset", cfg.Preset,
	)

	return e, nil
}

// Ready reports whether appsrc accepts more data without exceeding its queue
func (e *Encoder) Ready() bool {
	return e.ready.Load() && !e.failed.Load()
}

// Push copies one BGRA frame into a GStreamer buffer stamped with pts.
// Rows are repacked when stride exceeds width*4. pix may be reused after return.
func (e *Encoder) Push(pix []byte, stride int, pts time.Duration) error {
	if e.failed.Load() {
		return e.lastError()
	}

	rowBytes := e.cfg.Width * 4
	data := pix
	if stride != rowBytes {
		data = make([]byte, rowBytes*e.cfg.Height)
		for y := 0; y < e.cfg.Height; y++ {
			copy(data[y*rowBytes:(y+1)*rowBytes], pix[y*stride:y*stride+rowBytes])
		}
	}

	buffer := gst.NewBufferFromBytes(data)
	buffer.SetPresentationTimestamp(pts)

	if ret := e.elements.AppSrc.PushBuffer(buffer); ret != gst.FlowOK {
		return fmt.Errorf("gstenc: push buffer: %v", ret)
	}

	atomic.AddUint64(&e.framesPushed, 1)
	return nil
}

// Finish signals end of stream and waits until every queued frame has been
// encoded and delivered to the output function.
func (e *Encoder) Finish(ctx context.Context) error {
	if e.failed.Load() {
		return e.lastError()
	}

	if ret := e.elements.AppSrc.EndStream(); ret != gst.FlowOK {
		return fmt.Errorf("gstenc: end stream: %v", ret)
	}

	select {
	case <-e.eos:
		if e.failed.Load() {
			return e.lastError()
		}
		slog.Debug("gstenc: end of stream drained",
			"access_units", atomic.LoadUint64(&e.accessUnits),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gstenc: waiting for end of stream: %w", ctx.Err())
	}
}

// Close stops the bus monitor and destroys the pipeline. Idempotent.
func (e *Encoder) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()

		if destroyErr := DestroyPipeline(e.elements); destroyErr != nil {
			err = fmt.Errorf("gstenc: %w", destroyErr)
		}

		slog.Info("gstenc: encoder closed",
			"frames_pushed", atomic.LoadUint64(&e.framesPushed),
			"access_units", atomic.LoadUint64(&e.accessUnits),
			"bytes_out", atomic.LoadUint64(&e.bytesOut),
			"errors_resource", atomic.LoadUint64(&e.errorsResource),
			"errors_negotiation", atomic.LoadUint64(&e.errorsNegot),
			"errors_flow", atomic.LoadUint64(&e.errorsFlow),
			"errors_unknown", atomic.LoadUint64(&e.errorsUnknown),
			"uptime", time.Since(e.started),
		)
	})
	return err
}

func (e *Encoder) lastError() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.err != nil {
		return e.err
	}
	return ErrPipelineFailed
}

func (e *Encoder) signalEOS() {
	e.eosOnce.Do(func() { close(e.eos) })
}

// monitorBus polls the pipeline bus for EOS and errors
//
// Runs until EOS, an error, or context cancellation. An error marks the
// encoder failed; there is no reconnection for a file encode.
func (e *Encoder) monitorBus(ctx context.Context) {
	bus := e.elements.Pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstenc: context cancelled, stopping bus monitor")
			return

		default:
			// Poll with short timeout for responsive shutdown
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				slog.Debug("gstenc: end of stream received")
				e.signalEOS()
				return

			case gst.MessageError:
				gerr := msg.ParseError()
				category := ClassifyGStreamerError(gerr)

				switch category {
				case ErrCategoryResource:
					atomic.AddUint64(&e.errorsResource, 1)
				case ErrCategoryNegotiation:
					atomic.AddUint64(&e.errorsNegot, 1)
				case ErrCategoryFlow:
					atomic.AddUint64(&e.errorsFlow, 1)
				default:
					atomic.AddUint64(&e.errorsUnknown, 1)
				}

				slog.Error("gstenc: pipeline error",
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
					"category", category.String(),
					"resolution", fmt.Sprintf("%dx%d", e.cfg.Width, e.cfg.Height),
					"frames_pushed", atomic.LoadUint64(&e.framesPushed),
				)

				e.errMu.Lock()
				e.err = fmt.Errorf("%w [%s]: %s", ErrPipelineFailed, category.String(), gerr.Error())
				e.errMu.Unlock()
				e.failed.Store(true)
				e.signalEOS()
				return

			case gst.MessageStateChanged:
				if msg.Source() == e.elements.Pipeline.GetName() {
					old, new := msg.ParseStateChanged()
					slog.Debug("gstenc: pipeline state changed",
						"from", old,
						"to", new,
					)
				}
			}
		}
	}
}
