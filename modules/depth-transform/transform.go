// Package depthtransform turns a depth map into a displayable grayscale image.
//
// The stage runs three steps in order: representation (distance or its
// reciprocal), rasterization to the display geometry, and optional histogram
// equalization. It holds no state besides two toggles and performs no I/O.
package depthtransform

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync/atomic"

	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
)

// ErrDegenerateGeometry is returned when the depth payload or the target has
// no area. The frame should be skipped.
var ErrDegenerateGeometry = errors.New("depth-transform: degenerate geometry")

// Rotation is a clockwise rotation in quarter turns
type Rotation int

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// RotationFromDegrees converts 0, 90, 180 or 270 (negative values allowed) to a Rotation
func RotationFromDegrees(deg int) (Rotation, error) {
	if deg%90 != 0 {
		return Rotate0, fmt.Errorf("depth-transform: rotation %d is not a multiple of 90", deg)
	}
	q := ((deg/90)%4 + 4) % 4
	return Rotation(q), nil
}

// Degrees returns the rotation angle
func (r Rotation) Degrees() int {
	return int(r.normalized()) * 90
}

func (r Rotation) normalized() Rotation {
	return ((r % 4) + 4) % 4
}

// Stage applies the depth transform with two thread-safe toggles
type Stage struct {
	useInverse atomic.Bool
	equalize   atomic.Bool
}

// New creates a stage with both toggles off
func New() *Stage {
	return &Stage{}
}

// SelectDepthRepresentation chooses the reciprocal remap (distance to
// closeness) for subsequent frames
func (s *Stage) SelectDepthRepresentation(useInverse bool) {
	s.useInverse.Store(useInverse)
	slog.Debug("depth-transform: representation selected", "inverse", useInverse)
}

// UsesInverse reports the current representation
func (s *Stage) UsesInverse() bool {
	return s.useInverse.Load()
}

// SetEqualizationEnabled toggles histogram equalization
func (s *Stage) SetEqualizationEnabled(enabled bool) {
	s.equalize.Store(enabled)
	slog.Debug("depth-transform: equalization toggled", "enabled", enabled)
}

// EqualizationEnabled reports whether equalization is applied
func (s *Stage) EqualizationEnabled() bool {
	return s.equalize.Load()
}

// Equalize applies histogram equalization when enabled and returns img
// unchanged otherwise
func (s *Stage) Equalize(img *image.Gray) *image.Gray {
	if !s.equalize.Load() {
		return img
	}
	return EqualizeHistogram(img)
}

// Process runs representation, rasterize and equalize on one depth map.
// Toggles are read once, so a frame never mixes settings.
func (s *Stage) Process(d *streamsync.DepthMap, target image.Point, rot Rotation) (*image.Gray, error) {
	inverse := s.useInverse.Load()
	equalize := s.equalize.Load()

	if inverse {
		d = Invert(d)
	}

	img, err := Rasterize(d, target, rot)
	if err != nil {
		return nil, err
	}

	if equalize {
		img = EqualizeHistogram(img)
	}
	return img, nil
}

// Invert returns the reciprocal of every valid measurement. Distance maps
// become disparity maps and vice versa; invalid values become 0.
func Invert(d *streamsync.DepthMap) *streamsync.DepthMap {
	out := &streamsync.DepthMap{
		Width:    d.Width,
		Height:   d.Height,
		Data:     make([]float32, len(d.Data)),
		Filtered: d.Filtered,
		Kind:     streamsync.DepthKindDisparity,
	}
	if d.Kind == streamsync.DepthKindDisparity {
		out.Kind = streamsync.DepthKindDistance
	}

	for i, v := range d.Data {
		if valid(v) {
			out.Data[i] = 1 / v
		}
	}
	return out
}

// Rasterize normalizes the valid measurements of d to 1..255 (holes are 0),
// rotates by rot and resamples to target, which is the size after rotation.
func Rasterize(d *streamsync.DepthMap, target image.Point, rot Rotation) (*image.Gray, error) {
	if d == nil || d.Width <= 0 || d.Height <= 0 || len(d.Data) < d.Width*d.Height {
		return nil, ErrDegenerateGeometry
	}
	if target.X <= 0 || target.Y <= 0 {
		return nil, ErrDegenerateGeometry
	}

	src := normalize(d)
	rotated := rotate(src, rot)

	if rotated.Bounds().Size() == target {
		return rotated, nil
	}

	dst := image.NewGray(image.Rect(0, 0, target.X, target.Y))
	draw.BiLinear.Scale(dst, dst.Bounds(), rotated, rotated.Bounds(), draw.Src, nil)
	return dst, nil
}

// normalize maps valid measurements linearly onto 1..255
func normalize(d *streamsync.DepthMap) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, d.Width, d.Height))

	values := make([]float64, 0, d.Width*d.Height)
	for _, v := range d.Data[:d.Width*d.Height] {
		if valid(v) {
			values = append(values, float64(v))
		}
	}
	if len(values) == 0 {
		return img
	}

	lo, hi := floats.Min(values), floats.Max(values)
	span := hi - lo

	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			v := d.At(x, y)
			if !valid(v) {
				continue
			}
			level := 255.0
			if span > 0 {
				level = 1 + 254*(float64(v)-lo)/span
			}
			img.Pix[y*img.Stride+x] = uint8(math.Round(level))
		}
	}
	return img
}

// rotate turns img clockwise by quarter turns
func rotate(img *image.Gray, rot Rotation) *image.Gray {
	rot = rot.normalized()
	if rot == Rotate0 {
		return img
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	ow, oh := w, h
	if rot == Rotate90 || rot == Rotate270 {
		ow, oh = h, w
	}

	out := image.NewGray(image.Rect(0, 0, ow, oh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var nx, ny int
			switch rot {
			case Rotate90:
				nx, ny = h-1-y, x
			case Rotate180:
				nx, ny = w-1-x, h-1-y
			case Rotate270:
				nx, ny = y, w-1-x
			}
			out.Pix[ny*out.Stride+nx] = img.Pix[y*img.Stride+x]
		}
	}
	return out
}

// EqualizeHistogram spreads the gray levels of img over the full range.
// Zero (no measurement) stays zero.
func EqualizeHistogram(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)

	var hist [256]int
	total := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride : (y-b.Min.Y)*img.Stride+b.Dx()]
		for _, p := range row {
			if p == 0 {
				continue
			}
			hist[p]++
			total++
		}
	}
	if total == 0 {
		copy(out.Pix, img.Pix)
		return out
	}

	var cdf [256]int
	running := 0
	cdfMin := 0
	for i := 1; i < 256; i++ {
		running += hist[i]
		cdf[i] = running
		if cdfMin == 0 && running > 0 {
			cdfMin = running
		}
	}

	var lut [256]uint8
	for i := 1; i < 256; i++ {
		if hist[i] == 0 && cdf[i] == 0 {
			continue
		}
		if total == cdfMin {
			lut[i] = 255
			continue
		}
		level := 1 + 254*float64(cdf[i]-cdfMin)/float64(total-cdfMin)
		lut[i] = uint8(math.Round(level))
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = lut[img.Pix[y*img.Stride+x]]
		}
	}
	return out
}

func valid(v float32) bool {
	f := float64(v)
	return f > 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}
