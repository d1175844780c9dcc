package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// Info describes a sealed recording
type Info struct {
	Timescale     uint32
	Width         int
	Height        int
	Samples       int
	Keyframes     int
	Fragments     int
	DurationTicks int64
	Duration      time.Duration
}

// Probe reads a file written by Writer and reports its track properties.
func Probe(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("container: %w", err)
	}

	split, err := firstBox(data, "moof")
	if err != nil {
		return Info{}, err
	}

	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data[:split])); err != nil {
		return Info{}, fmt.Errorf("container: init segment: %w", err)
	}
	if len(init.Tracks) == 0 {
		return Info{}, fmt.Errorf("container: init segment has no tracks")
	}
	track := init.Tracks[0]

	info := Info{Timescale: track.TimeScale}
	if codec, ok := track.Codec.(*mp4.CodecH264); ok {
		var sps h264.SPS
		if err := sps.Unmarshal(codec.SPS); err == nil {
			info.Width = sps.Width()
			info.Height = sps.Height()
		}
	}

	if split == len(data) {
		return info, nil
	}

	var parts fmp4.Parts
	if err := parts.Unmarshal(data[split:]); err != nil {
		return Info{}, fmt.Errorf("container: fragments: %w", err)
	}

	first, end := int64(-1), int64(0)
	for _, part := range parts {
		info.Fragments++
		for _, pt := range part.Tracks {
			if pt.ID != track.ID {
				continue
			}
			t := int64(pt.BaseTime)
			if first < 0 || t < first {
				first = t
			}
			for _, s := range pt.Samples {
				info.Samples++
				if !s.IsNonSyncSample {
					info.Keyframes++
				}
				t += int64(s.Duration)
			}
			if t > end {
				end = t
			}
		}
	}

	if first >= 0 {
		info.DurationTicks = end - first
	}
	if info.Timescale > 0 {
		info.Duration = time.Duration(info.DurationTicks) * time.Second / time.Duration(info.Timescale)
	}

	return info, nil
}

// firstBox returns the offset of the first top-level box of the given type,
// or len(data) when there is none.
func firstBox(data []byte, typ string) (int, error) {
	off := 0
	for off < len(data) {
		if len(data)-off < 8 {
			return 0, fmt.Errorf("container: truncated box header at %d", off)
		}
		size := uint64(binary.BigEndian.Uint32(data[off:]))
		header := uint64(8)
		switch size {
		case 0:
			size = uint64(len(data) - off)
		case 1:
			if len(data)-off < 16 {
				return 0, fmt.Errorf("container: truncated large box header at %d", off)
			}
			size = binary.BigEndian.Uint64(data[off+8:])
			header = 16
		}
		if size < header || size > uint64(len(data)-off) {
			return 0, fmt.Errorf("container: invalid box size %d at %d", size, off)
		}
		if string(data[off+4:off+8]) == typ {
			return off, nil
		}
		off += int(size)
	}
	return len(data), nil
}
