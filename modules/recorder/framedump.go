package recorder

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
)

// Frame dump layout: one entry per synchronized frame, named by its capture
// timestamp in seconds with microsecond precision.
//
//	<dir>/rgb/<ts>.png|jpeg
//	<dir>/depth/<ts>.png      16-bit, value * 1/DepthScale, 0 = hole
//	<dir>/meta/<ts>.msgpack   Sidecar
const (
	dumpRGBDir   = "rgb"
	dumpDepthDir = "depth"
	dumpMetaDir  = "meta"

	// DefaultDepthScale is the depth quantum stored in dump PNGs (1 mm)
	DefaultDepthScale = 0.001
)

// Sidecar is the per-entry metadata written next to the images
type Sidecar struct {
	TimestampNS int64                  `msgpack:"ts_ns"`
	Seq         uint64                 `msgpack:"seq"`
	TraceID     string                 `msgpack:"trace_id"`
	HasDepth    bool                   `msgpack:"has_depth"`
	DepthKind   string                 `msgpack:"depth_kind,omitempty"`
	DepthScale  float64                `msgpack:"depth_scale,omitempty"`
	Filtered    bool                   `msgpack:"filtered,omitempty"`
	Detections  []streamsync.Detection `msgpack:"detections,omitempty"`
}

// DumpConfig configures a FrameDumper
type DumpConfig struct {
	Dir         string
	Format      string // "png" or "jpeg" for the colour image
	JPEGQuality int    // 1-100, jpeg only (default: 90)
}

// FrameDumper writes synchronized frames as image pairs plus a msgpack sidecar.
//
// Subdirectories are created on the first dump. Safe for concurrent use.
type FrameDumper struct {
	dir         string
	format      string
	jpegQuality int

	dirsReady atomic.Bool
	saved     atomic.Uint64
	failed    atomic.Uint64
}

// NewFrameDumper validates cfg. Nothing is written until the first Dump.
func NewFrameDumper(cfg DumpConfig) (*FrameDumper, error) {
	if cfg.Dir == "" {
		return nil, errors.New("recorder: frame dump directory is required")
	}
	if cfg.Format == "" {
		cfg.Format = "png"
	}
	if cfg.Format != "png" && cfg.Format != "jpeg" {
		return nil, fmt.Errorf("recorder: unsupported frame dump format %q (must be png or jpeg)", cfg.Format)
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}

	return &FrameDumper{
		dir:         cfg.Dir,
		format:      cfg.Format,
		jpegQuality: cfg.JPEGQuality,
	}, nil
}

// Dir returns the dump root directory
func (d *FrameDumper) Dir() string { return d.dir }

// Dump writes one entry for f. Depth is written only when present.
func (d *FrameDumper) Dump(f streamsync.SynchronizedFrame) error {
	if err := d.dump(f); err != nil {
		d.failed.Add(1)
		slog.Debug("recorder: frame dump failed", "seq", f.Seq, "trace_id", f.TraceID, "error", err)
		return err
	}
	d.saved.Add(1)
	return nil
}

func (d *FrameDumper) dump(f streamsync.SynchronizedFrame) error {
	if f.Image == nil {
		return errors.New("recorder: frame dump: image payload missing")
	}
	if err := d.ensureDirs(); err != nil {
		return err
	}

	stamp := DumpStamp(f.Timestamp)

	rgb, err := pixelBufferImage(f.Image)
	if err != nil {
		return err
	}
	if err := d.writeImage(filepath.Join(d.dir, dumpRGBDir, stamp+"."+d.format), rgb, d.format); err != nil {
		return err
	}

	meta := Sidecar{
		TimestampNS: int64(f.Timestamp),
		Seq:         f.Seq,
		TraceID:     f.TraceID,
	}
	if f.Metadata != nil {
		meta.Detections = f.Metadata.Detections
	}

	if f.Depth != nil {
		meta.HasDepth = true
		meta.DepthKind = f.Depth.Kind.String()
		meta.DepthScale = DefaultDepthScale
		meta.Filtered = f.Depth.Filtered

		img := quantizeDepth(f.Depth, DefaultDepthScale)
		if err := d.writeImage(filepath.Join(d.dir, dumpDepthDir, stamp+".png"), img, "png"); err != nil {
			return err
		}
	}

	data, err := msgpack.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("recorder: marshal sidecar: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, dumpMetaDir, stamp+".msgpack"), data, 0o644); err != nil {
		return fmt.Errorf("recorder: write sidecar: %w", err)
	}
	return nil
}

// Stats returns dump counters
func (d *FrameDumper) Stats() (saved, failed uint64) {
	return d.saved.Load(), d.failed.Load()
}

func (d *FrameDumper) ensureDirs() error {
	if d.dirsReady.Load() {
		return nil
	}
	for _, sub := range []string{dumpRGBDir, dumpDepthDir, dumpMetaDir} {
		if err := os.MkdirAll(filepath.Join(d.dir, sub), 0o755); err != nil {
			return fmt.Errorf("recorder: create frame dump directory: %w", err)
		}
	}
	d.dirsReady.Store(true)
	return nil
}

func (d *FrameDumper) writeImage(path string, img image.Image, format string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recorder: create %s: %w", path, err)
	}
	defer file.Close()

	switch format {
	case "png":
		err = png.Encode(file, img)
	case "jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: d.jpegQuality})
	}
	if err != nil {
		return fmt.Errorf("recorder: encode %s: %w", path, err)
	}
	return file.Close()
}

// DumpStamp formats a capture timestamp as a dump entry name
func DumpStamp(ts time.Duration) string {
	return strconv.FormatFloat(ts.Seconds(), 'f', 6, 64)
}

// pixelBufferImage converts a device pixel buffer to an opaque RGBA image
func pixelBufferImage(pb *streamsync.PixelBuffer) (*image.RGBA, error) {
	stride := pb.Stride
	if stride == 0 {
		stride = pb.Width * 4
	}
	if pb.Width <= 0 || pb.Height <= 0 || stride < pb.Width*4 || len(pb.Data) < stride*(pb.Height-1)+pb.Width*4 {
		return nil, fmt.Errorf("recorder: invalid pixel buffer %dx%d stride %d len %d",
			pb.Width, pb.Height, pb.Stride, len(pb.Data))
	}

	img := image.NewRGBA(image.Rect(0, 0, pb.Width, pb.Height))
	for y := 0; y < pb.Height; y++ {
		src := pb.Data[y*stride : y*stride+pb.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+pb.Width*4]
		for x := 0; x < pb.Width*4; x += 4 {
			if pb.Format == streamsync.PixelFormatBGRA {
				dst[x+0] = src[x+2]
				dst[x+2] = src[x+0]
			} else {
				dst[x+0] = src[x+0]
				dst[x+2] = src[x+2]
			}
			dst[x+1] = src[x+1]
			dst[x+3] = 0xff
		}
	}
	return img, nil
}

// quantizeDepth stores depth as multiples of scale; holes become 0
func quantizeDepth(d *streamsync.DepthMap, scale float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, d.Width, d.Height))
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			v := float64(d.Data[y*d.Width+x])
			var q uint16
			if v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
				q = uint16(math.Min(math.Round(v/scale), math.MaxUint16))
				if q == 0 {
					q = 1
				}
			}
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(q >> 8)
			img.Pix[i+1] = uint8(q)
		}
	}
	return img
}

// DumpEntry is one frame read back from a dump directory
type DumpEntry struct {
	Stamp   string
	Sidecar Sidecar
	Image   *streamsync.PixelBuffer
	Depth   *streamsync.DepthMap
}

// ListDump returns the entry stamps of a dump directory in capture order.
// Entries are discovered through their sidecars.
func ListDump(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, dumpMetaDir))
	if err != nil {
		return nil, fmt.Errorf("recorder: list frame dump: %w", err)
	}

	type stamped struct {
		name string
		ts   float64
	}
	var found []stamped
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".msgpack")
		if !ok || e.IsDir() {
			continue
		}
		ts, err := strconv.ParseFloat(name, 64)
		if err != nil {
			continue
		}
		found = append(found, stamped{name: name, ts: ts})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ts < found[j].ts })

	stamps := make([]string, len(found))
	for i, s := range found {
		stamps[i] = s.name
	}
	return stamps, nil
}

// ReadDumpEntry loads the images and sidecar of one entry
func ReadDumpEntry(dir, stamp string) (DumpEntry, error) {
	entry := DumpEntry{Stamp: stamp}

	data, err := os.ReadFile(filepath.Join(dir, dumpMetaDir, stamp+".msgpack"))
	if err != nil {
		return entry, fmt.Errorf("recorder: read sidecar: %w", err)
	}
	if err := msgpack.Unmarshal(data, &entry.Sidecar); err != nil {
		return entry, fmt.Errorf("recorder: decode sidecar %s: %w", stamp, err)
	}

	rgb, err := readFirstImage(filepath.Join(dir, dumpRGBDir, stamp), "png", "jpeg")
	if err != nil {
		return entry, err
	}
	if entry.Image, err = imagePixelBuffer(rgb); err != nil {
		return entry, err
	}

	if entry.Sidecar.HasDepth {
		img, err := readFirstImage(filepath.Join(dir, dumpDepthDir, stamp), "png")
		if err != nil {
			return entry, err
		}
		entry.Depth = dequantizeDepth(img, entry.Sidecar)
	}

	return entry, nil
}

func readFirstImage(base string, exts ...string) (image.Image, error) {
	for _, ext := range exts {
		f, err := os.Open(base + "." + ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("recorder: open %s: %w", base, err)
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("recorder: decode %s.%s: %w", base, ext, err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("recorder: %s: %w", base, fs.ErrNotExist)
}

// imagePixelBuffer converts a decoded image to a tightly packed BGRA buffer
func imagePixelBuffer(img image.Image) (*streamsync.PixelBuffer, error) {
	b := img.Bounds()
	pb := &streamsync.PixelBuffer{
		Width:  b.Dx(),
		Height: b.Dy(),
		Stride: b.Dx() * 4,
		Format: streamsync.PixelFormatBGRA,
	}
	pb.Data = make([]byte, pb.Stride*pb.Height)
	if err := ImageTexture(img).ReadPixels(pb.Data, pb.Stride); err != nil {
		return nil, err
	}
	return pb, nil
}

func dequantizeDepth(img image.Image, meta Sidecar) *streamsync.DepthMap {
	b := img.Bounds()
	d := &streamsync.DepthMap{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Data:     make([]float32, b.Dx()*b.Dy()),
		Filtered: meta.Filtered,
	}
	if meta.DepthKind == streamsync.DepthKindDisparity.String() {
		d.Kind = streamsync.DepthKindDisparity
	}
	scale := meta.DepthScale
	if scale == 0 {
		scale = DefaultDepthScale
	}

	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			var q uint16
			switch g := img.(type) {
			case *image.Gray16:
				q = g.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			default:
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				q = uint16(r)
			}
			if q == 0 {
				d.Data[y*d.Width+x] = float32(math.NaN())
				continue
			}
			d.Data[y*d.Width+x] = float32(float64(q) * scale)
		}
	}
	return d
}
