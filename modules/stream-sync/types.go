package streamsync

import (
	"fmt"
	"time"
)

// StreamID identifies one of the three capture streams
type StreamID int

const (
	// StreamImage is the primary colour image stream (mandatory)
	StreamImage StreamID = iota
	// StreamDepth is the auxiliary depth-map stream
	StreamDepth
	// StreamMetadata is the auxiliary detection stream
	StreamMetadata
)

// String returns a human-readable name for the stream
func (s StreamID) String() string {
	switch s {
	case StreamImage:
		return "image"
	case StreamDepth:
		return "depth"
	case StreamMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// PixelFormat describes the byte layout of a PixelBuffer
type PixelFormat int

const (
	// PixelFormatBGRA is 4 bytes per pixel, blue first (the capture default)
	PixelFormatBGRA PixelFormat = iota
	// PixelFormatRGBA is 4 bytes per pixel, red first
	PixelFormatRGBA
)

// PixelBuffer is an image payload as delivered by the device.
//
// Stride may be larger than Width*4 when the device pads rows.
type PixelBuffer struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Data   []byte
}

// DepthKind says how the values of a DepthMap are expressed
type DepthKind int

const (
	// DepthKindDistance holds distances in metres
	DepthKindDistance DepthKind = iota
	// DepthKindDisparity holds inverse distances (1/m)
	DepthKindDisparity
)

// String returns a human-readable name for the depth kind
func (k DepthKind) String() string {
	if k == DepthKindDisparity {
		return "disparity"
	}
	return "distance"
}

// DepthMap is a dense grid of depth measurements in row-major order.
//
// Invalid measurements (holes) are NaN or non-positive.
type DepthMap struct {
	Width    int
	Height   int
	Kind     DepthKind
	Data     []float32
	Filtered bool // smoothing already applied (by the driver or the synchronizer)
}

// At returns the measurement at (x, y)
func (d *DepthMap) At(x, y int) float32 {
	return d.Data[y*d.Width+x]
}

// Rect is an axis-aligned box in normalized [0,1] image coordinates
type Rect struct {
	X, Y, W, H float64
}

// Detection is one object reported by the metadata stream
type Detection struct {
	ID     int     `msgpack:"id"`
	Type   string  `msgpack:"type"` // e.g. "face"
	Bounds Rect    `msgpack:"bounds"`
	Score  float64 `msgpack:"score"`
}

// Metadata is the metadata payload of a synchronized frame.
// It is only present when at least one detection was reported.
type Metadata struct {
	Detections []Detection
}

// Primary returns the first detection (the original consumers only look at the first face)
func (m *Metadata) Primary() Detection {
	return m.Detections[0]
}

// RawFrame is one stream's captured sample.
//
// Created by a Source at hardware cadence and immutable afterwards. Exactly one
// of Image, Depth or Detections is meaningful, selected by Stream.
type RawFrame struct {
	// Stream identifies which stream produced the sample
	Stream StreamID
	// Timestamp is the capture instant on the shared monotonic capture clock
	Timestamp time.Duration
	// Seq is the per-stream sequence number assigned by the source
	Seq uint64
	// Dropped is true when the device reports that this stream lost the sample
	Dropped bool
	// DropReason is the device-reported reason (informational)
	DropReason string

	Image      *PixelBuffer
	Depth      *DepthMap
	Detections []Detection
}

// SynchronizedFrame is the fused tuple for one capture instant.
//
// Image is always present. Depth is nil when the depth stream dropped or is
// disabled. Metadata is nil when no detection was reported.
type SynchronizedFrame struct {
	// Seq is the synchronizer's monotonic emission counter
	Seq uint64
	// Timestamp is the capture instant shared by all payloads
	Timestamp time.Duration
	// TraceID is a unique identifier for following the frame through the pipeline
	TraceID string

	Image    *PixelBuffer
	Depth    *DepthMap
	Metadata *Metadata
}

// HasDepth reports whether the depth payload is present
func (f SynchronizedFrame) HasDepth() bool { return f.Depth != nil }

// HasMetadata reports whether the metadata payload is present
func (f SynchronizedFrame) HasMetadata() bool { return f.Metadata != nil }

// SyncStats contains current synchronizer statistics
type SyncStats struct {
	// FramesEmitted is the number of SynchronizedFrames delivered to the consumer
	FramesEmitted uint64
	// InstantsSkipped counts instants with a dropped or missing image (no emission)
	InstantsSkipped uint64
	// DepthOmitted counts emitted frames without a depth payload
	DepthOmitted uint64
	// MetadataOmitted counts emitted frames without a metadata payload
	MetadataOmitted uint64
	// LateFrames counts frames that arrived after their instant was closed
	LateFrames uint64
	// InboxDrops counts frames discarded because the worker inbox was full
	InboxDrops uint64
	// DroppedByStream counts device-reported drops per stream
	DroppedByStream map[StreamID]uint64
	// FPSReal is the measured synchronized frame rate over the recent window
	FPSReal float64
	// FPSStdDev is the standard deviation of the instantaneous frame rate
	FPSStdDev float64
	// JitterMeanMS is the mean deviation from the expected frame interval
	JitterMeanMS float64
	// IsRunning indicates whether capture is active
	IsRunning bool
}
