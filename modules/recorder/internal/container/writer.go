// Package container writes and reads back fragmented MP4 files holding one
// H.264 video track.
package container

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

const videoTrackID = 1

var (
	// ErrNoSamples is returned by Close when no sample was ever written;
	// the file holds no init segment and is not playable.
	ErrNoSamples = errors.New("container: no samples written")

	// ErrClosed is returned by writes after Close
	ErrClosed = errors.New("container: writer closed")

	// ErrGeometryMismatch is returned when an SPS describes a picture size
	// other than the one the writer was created for
	ErrGeometryMismatch = errors.New("container: SPS geometry does not match track")
)

// pendingSample is held back until the next sample fixes its duration
type pendingSample struct {
	pts     int64 // track timescale ticks
	payload []byte
	key     bool
}

// Writer appends H.264 access units to a fragmented MP4 file.
//
// The init segment is written lazily from the SPS/PPS of the first IDR access
// unit; access units before it are discarded. Each sample becomes one
// fragment, written once the following sample (or Close) fixes its duration.
// Not safe for concurrent use.
type Writer struct {
	f         *os.File
	path      string
	timescale uint32
	width     int
	height    int

	sps, pps    []byte
	initWritten bool
	pending     *pendingSample
	seq         uint32
	closed      bool

	samples    int
	firstPTS   int64
	endPTS     int64
	skippedPre int
	bytesMuxed int64
}

// Create truncates or creates the file at path. The parent directory must exist.
func Create(path string, timescale uint32, width, height int) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("container: %w", err)
	}

	return &Writer{
		f:         f,
		path:      path,
		timescale: timescale,
		width:     width,
		height:    height,
		seq:       1,
	}, nil
}

// Samples returns the number of samples written so far (the pending one included)
func (w *Writer) Samples() int {
	if w.pending != nil {
		return w.samples + 1
	}
	return w.samples
}

// WriteAccessUnit adds one access unit (Annex-B NAL units without start codes)
// presented at pts ticks. pts must increase strictly between calls.
func (w *Writer) WriteAccessUnit(nalus [][]byte, pts int64) error {
	if w.closed {
		return ErrClosed
	}

	var (
		key     bool
		payload [][]byte
	)
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			if err := w.checkGeometry(nalu); err != nil {
				return err
			}
			w.sps = append([]byte(nil), nalu...)
		case h264.NALUTypePPS:
			w.pps = append([]byte(nil), nalu...)
		case h264.NALUTypeAccessUnitDelimiter:
			// not stored in MP4 samples
		case h264.NALUTypeIDR:
			key = true
			payload = append(payload, nalu)
		default:
			payload = append(payload, nalu)
		}
	}
	if len(payload) == 0 {
		return nil
	}

	if !w.initWritten {
		if !key || w.sps == nil || w.pps == nil {
			w.skippedPre++
			slog.Debug("container: access unit before first keyframe discarded", "pts", pts)
			return nil
		}
		if err := w.writeInit(); err != nil {
			return err
		}
		w.firstPTS = pts
	}

	if w.pending != nil && pts <= w.pending.pts {
		return fmt.Errorf("container: non-increasing pts %d after %d", pts, w.pending.pts)
	}

	avcc, err := h264.AVCC(payload).Marshal()
	if err != nil {
		return fmt.Errorf("container: converting access unit: %w", err)
	}

	if w.pending != nil {
		if err := w.flush(uint32(pts - w.pending.pts)); err != nil {
			return err
		}
	}

	w.pending = &pendingSample{pts: pts, payload: avcc, key: key}
	return nil
}

// Close writes the pending sample with a duration reaching endPTS (at least
// one tick), syncs and closes the file. A file that never received a keyframe
// is removed and ErrNoSamples returned. Idempotent.
func (w *Writer) Close(endPTS int64) error {
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if w.pending != nil {
		duration := endPTS - w.pending.pts
		if duration < 1 {
			duration = 1
		}
		if err := w.flush(uint32(duration)); err != nil {
			errs = append(errs, err)
		}
	}

	if err := w.f.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("container: sync: %w", err))
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("container: close: %w", err))
	}

	slog.Debug("container: file sealed",
		"path", w.path,
		"samples", w.samples,
		"skipped_before_keyframe", w.skippedPre,
		"bytes", w.bytesMuxed,
	)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if !w.initWritten {
		_ = os.Remove(w.path)
		return ErrNoSamples
	}
	return nil
}

// Duration returns the span covered by written samples, in timescale ticks
func (w *Writer) Duration() int64 {
	if w.samples == 0 {
		return 0
	}
	return w.endPTS - w.firstPTS
}

// Abort closes and removes the file without sealing it
func (w *Writer) Abort() {
	if !w.closed {
		w.closed = true
		_ = w.f.Close()
	}
	_ = os.Remove(w.path)
}

// checkGeometry compares the picture size coded in sps with the track size.
// An SPS the parser cannot read is accepted with a warning.
func (w *Writer) checkGeometry(nalu []byte) error {
	var sps h264.SPS
	if err := sps.Unmarshal(nalu); err != nil {
		slog.Warn("container: unreadable SPS, geometry not checked", "path", w.path, "error", err)
		return nil
	}
	if sps.Width() != w.width || sps.Height() != w.height {
		return fmt.Errorf("%w: SPS codes %dx%d, track is %dx%d",
			ErrGeometryMismatch, sps.Width(), sps.Height(), w.width, w.height)
	}
	return nil
}

func (w *Writer) writeInit() error {
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        videoTrackID,
				TimeScale: w.timescale,
				Codec: &mp4.CodecH264{
					SPS: w.sps,
					PPS: w.pps,
				},
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("container: marshal init segment: %w", err)
	}
	if err := w.write(buf.Bytes()); err != nil {
		return err
	}

	w.initWritten = true
	slog.Debug("container: init segment written",
		"path", w.path,
		"resolution", fmt.Sprintf("%dx%d", w.width, w.height),
		"timescale", w.timescale,
	)
	return nil
}

// flush writes the pending sample as one fragment
func (w *Writer) flush(duration uint32) error {
	p := w.pending
	w.pending = nil

	part := &fmp4.Part{
		SequenceNumber: w.seq,
		Tracks: []*fmp4.PartTrack{
			{
				ID:       videoTrackID,
				BaseTime: uint64(p.pts - w.firstPTS),
				Samples: []*fmp4.Sample{
					{
						Duration:        duration,
						IsNonSyncSample: !p.key,
						Payload:         p.payload,
					},
				},
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("container: marshal fragment: %w", err)
	}
	if err := w.write(buf.Bytes()); err != nil {
		return err
	}

	w.seq++
	w.samples++
	w.endPTS = p.pts + int64(duration)
	return nil
}

func (w *Writer) write(b []byte) error {
	n, err := w.f.Write(b)
	w.bytesMuxed += int64(n)
	if err != nil {
		return fmt.Errorf("container: write: %w", err)
	}
	return nil
}
