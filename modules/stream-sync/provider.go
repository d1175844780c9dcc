package streamsync

import "context"

// EmitFunc receives frames from a Source. It never blocks: when the
// synchronizer cannot keep up, the frame is counted and discarded.
type EmitFunc func(RawFrame)

// Source defines the contract for a device stream source
//
// Implementations must guarantee:
//   - Start() returns immediately; frames are delivered asynchronously through emit
//   - frames of one stream are emitted in capture order
//   - every capture instant is reported on each produced stream, either as a
//     payload or as a frame with Dropped set
//   - Stop() is idempotent and, once it returns, emit is never called again
//
// One Source may produce several streams (a depth camera typically produces
// all three). It is then registered for each of them and started once.
type Source interface {
	// Start begins delivering frames through emit.
	//
	// Returns an error if the device cannot be opened. The synchronizer owns
	// the emit function; sources must not retain it after Stop.
	Start(ctx context.Context, emit EmitFunc) error

	// Stop halts delivery. Safe to call multiple times.
	Stop() error
}

// DepthFilterer is implemented by sources that can smooth depth at the
// driver level. When the registered depth source implements it, the
// synchronizer forwards SetAuxiliaryFilterEnabled instead of filtering in software.
type DepthFilterer interface {
	SetDepthFilteringEnabled(enabled bool)
}

// Streams registers the three stream sources.
//
// Image is mandatory. Depth and Metadata may be nil when the stream is disabled.
type Streams struct {
	Image    Source
	Depth    Source
	Metadata Source
}

// sourceFor returns the source registered for a stream
func (s Streams) sourceFor(id StreamID) Source {
	switch id {
	case StreamImage:
		return s.Image
	case StreamDepth:
		return s.Depth
	case StreamMetadata:
		return s.Metadata
	default:
		return nil
	}
}

// distinct returns each registered source once, in stream order
func (s Streams) distinct() []Source {
	var out []Source
	for _, id := range []StreamID{StreamImage, StreamDepth, StreamMetadata} {
		src := s.sourceFor(id)
		if src == nil {
			continue
		}
		seen := false
		for _, o := range out {
			if o == src {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, src)
		}
	}
	return out
}
