package pipeline

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder"
)

// RenderTarget receives transformed depth images for display
type RenderTarget interface {
	// Size is the image size the target expects, after rotation
	Size() image.Point
	// Present hands over a rendered image. The target owns it afterwards.
	Present(img *image.Gray)
}

// OffscreenTarget keeps the latest presented image in memory. It stands in
// for a display surface and is the texture source for video recording.
type OffscreenTarget struct {
	size image.Point

	mu     sync.RWMutex
	latest *image.Gray

	presented atomic.Uint64
}

// NewOffscreenTarget creates a target of the given size
func NewOffscreenTarget(width, height int) (*OffscreenTarget, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("pipeline: invalid render size %dx%d", width, height)
	}
	return &OffscreenTarget{size: image.Pt(width, height)}, nil
}

func (t *OffscreenTarget) Size() image.Point { return t.size }

func (t *OffscreenTarget) Present(img *image.Gray) {
	t.mu.Lock()
	t.latest = img
	t.mu.Unlock()
	t.presented.Add(1)
}

// Latest returns the last presented image, nil before the first one.
// Callers must not modify it.
func (t *OffscreenTarget) Latest() *image.Gray {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// Texture returns the last presented image as a recorder texture
func (t *OffscreenTarget) Texture() (recorder.Texture, bool) {
	img := t.Latest()
	if img == nil {
		return nil, false
	}
	return recorder.ImageTexture(img), true
}

// Presented returns the number of images presented so far
func (t *OffscreenTarget) Presented() uint64 { return t.presented.Load() }
