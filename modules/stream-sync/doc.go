// Package streamsync fuses the three streams of a depth camera (colour image,
// depth map, detection metadata) into one SynchronizedFrame per capture instant.
//
// # Quick Start
//
//	sync := streamsync.New()
//	err := sync.Configure(streamsync.Streams{
//	    Image:    camera,
//	    Depth:    camera,
//	    Metadata: camera,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sync.OnSynchronizedFrame(func(f streamsync.SynchronizedFrame) {
//	    // runs on the synchronizer worker: keep it short
//	    handoff.Publish(f)
//	})
//
//	if err := sync.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sync.Stop()
//
// # Matching
//
// Frames are grouped by capture timestamp (exact match by default, or within
// WithMatchWindow). An instant closes once every configured stream has either
// reported it or moved past it. On close:
//
//   - image dropped or missing: nothing is emitted (InstantsSkipped)
//   - depth dropped or missing: Depth is nil, never a stale map
//   - no detections: Metadata is nil
//
// Frames that arrive for an instant already closed are discarded and counted
// as LateFrames. Frame drops are never returned as errors; they are visible
// through Stats and debug logs only.
//
// # Lifecycle
//
// Configure only while stopped (stop → configure → start). Stop is idempotent
// and synchronous: once it returns, no source sink and no consumer callback
// will fire.
//
// # Threading
//
// Sources call their emit function from any goroutine; it never blocks. A
// single worker goroutine does all matching and invokes the consumer, so
// SynchronizedFrames are delivered in capture order. Handoff moves frames to
// a background goroutine with a single-slot, drop-oldest mailbox.
package streamsync
