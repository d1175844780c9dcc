package recorder

import (
	"time"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder/internal/container"
)

// FileInfo describes a sealed recording
type FileInfo struct {
	Timescale uint32
	Width     int
	Height    int
	Samples   int
	Keyframes int
	Duration  time.Duration
}

// Probe reads a recording written by a Session back and reports its track
// properties. It fails on files that are not sealed.
func Probe(path string) (FileInfo, error) {
	info, err := container.Probe(path)
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Timescale: info.Timescale,
		Width:     info.Width,
		Height:    info.Height,
		Samples:   info.Samples,
		Keyframes: info.Keyframes,
		Duration:  info.Duration,
	}, nil
}
