package recorder

import (
	"fmt"
	"image"
)

// Texture is a rendered frame the recorder reads pixels from.
// The recorder never retains or modifies it.
type Texture interface {
	Bounds() image.Rectangle
	// ReadPixels writes the frame as BGRA rows into dst, stride bytes apart
	ReadPixels(dst []byte, stride int) error
}

// ImageTexture adapts an image.Image to a Texture
func ImageTexture(img image.Image) Texture {
	return imageTexture{img: img}
}

type imageTexture struct {
	img image.Image
}

func (t imageTexture) Bounds() image.Rectangle {
	return t.img.Bounds()
}

func (t imageTexture) ReadPixels(dst []byte, stride int) error {
	b := t.img.Bounds()
	w, h := b.Dx(), b.Dy()
	if stride < w*4 || len(dst) < (h-1)*stride+w*4 {
		return fmt.Errorf("recorder: destination too small for %dx%d frame", w, h)
	}

	switch src := t.img.(type) {
	case *image.RGBA:
		for y := 0; y < h; y++ {
			in := src.Pix[y*src.Stride : y*src.Stride+w*4]
			out := dst[y*stride : y*stride+w*4]
			for x := 0; x < w*4; x += 4 {
				out[x+0] = in[x+2]
				out[x+1] = in[x+1]
				out[x+2] = in[x+0]
				out[x+3] = in[x+3]
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			in := src.Pix[y*src.Stride : y*src.Stride+w]
			out := dst[y*stride : y*stride+w*4]
			for x, v := range in {
				out[x*4+0] = v
				out[x*4+1] = v
				out[x*4+2] = v
				out[x*4+3] = 0xff
			}
		}
	default:
		for y := 0; y < h; y++ {
			out := dst[y*stride : y*stride+w*4]
			for x := 0; x < w; x++ {
				r, g, bl, a := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
				out[x*4+0] = uint8(bl >> 8)
				out[x*4+1] = uint8(g >> 8)
				out[x*4+2] = uint8(r >> 8)
				out[x*4+3] = uint8(a >> 8)
			}
		}
	}
	return nil
}
