// Package cadence measures the rate and regularity of synchronized output.
package cadence

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// windowSize is the number of recent emission timestamps kept for statistics.
// At 30 fps this covers roughly two seconds.
const windowSize = 64

// Stats summarizes the cadence of a timestamp sequence
type Stats struct {
	Samples      int
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
}

// Window is a fixed-size ring of capture timestamps.
// Not safe for concurrent use; the synchronizer worker is its only writer.
type Window struct {
	samples [windowSize]time.Duration
	next    int
	count   int
}

// Add records one timestamp
func (w *Window) Add(ts time.Duration) {
	w.samples[w.next] = ts
	w.next = (w.next + 1) % windowSize
	if w.count < windowSize {
		w.count++
	}
}

// Snapshot returns the recorded timestamps oldest first
func (w *Window) Snapshot() []time.Duration {
	out := make([]time.Duration, 0, w.count)
	start := (w.next - w.count + windowSize) % windowSize
	for i := 0; i < w.count; i++ {
		out = append(out, w.samples[(start+i)%windowSize])
	}
	return out
}

// Calculate computes cadence statistics from ordered capture timestamps.
//
// The mean rate is derived from the span between first and last timestamp.
// Jitter is the absolute deviation of each interval from the mean interval.
func Calculate(timestamps []time.Duration) Stats {
	n := len(timestamps)
	if n < 2 {
		return Stats{Samples: n}
	}

	span := (timestamps[n-1] - timestamps[0]).Seconds()
	if span <= 0 {
		return Stats{Samples: n}
	}
	fpsMean := float64(n-1) / span

	intervals := make([]float64, 0, n-1)
	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := (timestamps[i] - timestamps[i-1]).Seconds()
		if interval <= 0 {
			continue
		}
		intervals = append(intervals, interval)
		instantaneous = append(instantaneous, 1.0/interval)
	}
	if len(instantaneous) == 0 {
		return Stats{Samples: n, FPSMean: fpsMean}
	}

	_, fpsStdDev := stat.PopMeanStdDev(instantaneous, nil)

	expected := 1.0 / fpsMean
	jitters := make([]float64, len(intervals))
	for i, interval := range intervals {
		jitters[i] = math.Abs(interval - expected)
	}
	jitterMean, jitterStdDev := stat.PopMeanStdDev(jitters, nil)

	return Stats{
		Samples:      n,
		FPSMean:      fpsMean,
		FPSStdDev:    fpsStdDev,
		FPSMin:       floats.Min(instantaneous),
		FPSMax:       floats.Max(instantaneous),
		JitterMean:   jitterMean,
		JitterStdDev: jitterStdDev,
	}
}
