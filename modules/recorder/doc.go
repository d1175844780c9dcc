// Package recorder appends rendered frames to a fragmented MP4 file with one
// H.264 track, and dumps synchronized frames as image pairs.
//
// # Video sessions
//
//	s, err := recorder.Open(recorder.Config{
//	    Path:   "/data/rec/clip.mp4",
//	    Width:  640,
//	    Height: 480,
//	})
//	if err != nil {
//	    var initErr *recorder.InitializationError
//	    errors.As(err, &initErr) // Op says which step failed
//	    return err
//	}
//	s.Start()
//
//	// per rendered frame, from the render loop
//	s.AppendFrame(recorder.ImageTexture(img))
//
//	s.Stop(func(r recorder.Result, err error) {
//	    // runs on a background goroutine once the file is sealed
//	})
//
// Presentation time is the monotonic clock elapsed since Start, in 90 kHz
// ticks. A frame whose time does not advance is dropped, never reordered.
//
// # Backpressure
//
// AppendFrame copies the texture into one of PoolSize pooled buffers and
// hands it to the encoder. When the encoder is not ready it polls with
// exponential backoff for at most BackpressureBudget, then drops the frame.
// Drops are counted in Stats and logged at debug level; they are never
// returned as errors.
//
// # Frame dumps
//
// FrameDumper is the alternative recording mode: every synchronized frame is
// written as rgb/<ts>, depth/<ts>.png (16-bit, millimetres) and a msgpack
// sidecar under meta/. ListDump and ReadDumpEntry read a dump back.
package recorder
