package gstenc

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// OutputFunc receives one encoded access unit as a list of NAL units
type OutputFunc func(nalus [][]byte, pts time.Duration)

// CallbackContext holds state needed by GStreamer callbacks
type CallbackContext struct {
	Output      OutputFunc
	Ready       *atomic.Bool // appsrc wants more data
	AccessUnits *uint64      // Atomic counter for emitted access units
	BytesOut    *uint64      // Atomic counter for encoded bytes
}

// OnNeedData is called by appsrc when its queue drains below the limit
func OnNeedData(ctx *CallbackContext) {
	if !ctx.Ready.Swap(true) {
		slog.Debug("gstenc: encoder ready for more data")
	}
}

// OnEnoughData is called by appsrc when its queue is full
func OnEnoughData(ctx *CallbackContext) {
	if ctx.Ready.Swap(false) {
		slog.Debug("gstenc: encoder backpressure, enough data queued")
	}
}

// OnNewSample is called by GStreamer when an encoded access unit is available
//
// This callback:
//  1. Pulls the sample from the appsink
//  2. Maps the buffer to read the Annex-B bytes
//  3. Splits the access unit into NAL units (copied, GStreamer reuses the buffer)
//  4. Hands the NAL units and the buffer PTS to the output function
//
// A single malformed sample is skipped rather than failing the pipeline.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstenc: failed to pull sample from appsink, skipping")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstenc: failed to get buffer from sample, skipping")
		return gst.FlowOK
	}

	pts := buffer.PresentationTimestamp()

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstenc: empty buffer received")
		return gst.FlowOK
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	buffer.Unmap()

	var au h264.AnnexB
	if err := au.Unmarshal(payload); err != nil {
		slog.Warn("gstenc: malformed access unit, skipping", "error", err, "size", len(payload))
		return gst.FlowOK
	}

	atomic.AddUint64(ctx.AccessUnits, 1)
	atomic.AddUint64(ctx.BytesOut, uint64(len(payload)))

	ctx.Output(au, pts)

	return gst.FlowOK
}
