package streamsync

import "math"

// SmoothDepth returns a filtered copy of d: holes (NaN, Inf or non-positive
// values) are filled from their valid 3x3 neighbourhood and valid values are
// replaced by the neighbourhood mean. Pixels with no valid neighbour stay holes.
// The input map is not modified.
func SmoothDepth(d *DepthMap) *DepthMap {
	out := &DepthMap{
		Width:    d.Width,
		Height:   d.Height,
		Kind:     d.Kind,
		Data:     make([]float32, len(d.Data)),
		Filtered: true,
	}
	if d.Width <= 0 || d.Height <= 0 || len(d.Data) < d.Width*d.Height {
		copy(out.Data, d.Data)
		return out
	}

	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			var sum float64
			var n int
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= d.Height {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= d.Width {
						continue
					}
					v := d.Data[yy*d.Width+xx]
					if !validDepth(v) {
						continue
					}
					sum += float64(v)
					n++
				}
			}
			if n == 0 {
				out.Data[y*d.Width+x] = d.Data[y*d.Width+x]
				continue
			}
			out.Data[y*d.Width+x] = float32(sum / float64(n))
		}
	}

	return out
}

// validDepth reports whether v is a usable measurement
func validDepth(v float32) bool {
	f := float64(v)
	return f > 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}
