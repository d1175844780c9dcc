package recorder

import "sync/atomic"

// rowAlignment is the row stride alignment of pooled buffers, matching what
// hardware pixel-buffer pools hand out
const rowAlignment = 64

// Buffer is a pooled BGRA pixel buffer. Rows are Stride bytes apart, which is
// usually larger than Width*4.
type Buffer struct {
	Pix    []byte
	Stride int
	Width  int
	Height int

	pool *bufferPool
	out  atomic.Bool
}

// Release returns the buffer to its pool. Calling it more than once is harmless.
func (b *Buffer) Release() {
	if b.pool != nil && b.out.CompareAndSwap(true, false) {
		b.pool.free <- b
	}
}

// bufferPool is a fixed arena of buffers with explicit acquire/release
type bufferPool struct {
	free chan *Buffer
	size int
}

func alignedStride(width int) int {
	return (width*4 + rowAlignment - 1) &^ (rowAlignment - 1)
}

func newBufferPool(size, width, height int) *bufferPool {
	p := &bufferPool{
		free: make(chan *Buffer, size),
		size: size,
	}
	stride := alignedStride(width)
	for i := 0; i < size; i++ {
		p.free <- &Buffer{
			Pix:    make([]byte, stride*height),
			Stride: stride,
			Width:  width,
			Height: height,
			pool:   p,
		}
	}
	return p
}

// acquire returns a free buffer without blocking
func (p *bufferPool) acquire() (*Buffer, bool) {
	select {
	case b := <-p.free:
		b.out.Store(true)
		return b, true
	default:
		return nil, false
	}
}

// available returns the number of free buffers
func (p *bufferPool) available() int {
	return len(p.free)
}
