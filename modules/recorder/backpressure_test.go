package recorder

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultBackoffConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 250 * time.Microsecond},
		{2, 500 * time.Microsecond},
		{3, time.Millisecond},
		{5, 4 * time.Millisecond},
		{6, 8 * time.Millisecond},
		{10, 8 * time.Millisecond},
		{64, 8 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateBackoff(tt.attempt, cfg), "attempt %d", tt.attempt)
	}
}

func TestWaitReadyImmediate(t *testing.T) {
	var calls atomic.Int32
	ok := waitReady(func() bool {
		calls.Add(1)
		return true
	}, time.Second, DefaultBackoffConfig())

	assert.True(t, ok)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWaitReadyExhaustsBudget(t *testing.T) {
	budget := 20 * time.Millisecond

	start := time.Now()
	ok := waitReady(func() bool { return false }, budget, DefaultBackoffConfig())
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, budget)
	assert.Less(t, elapsed, budget+200*time.Millisecond)
}

func TestWaitReadyBecomesReady(t *testing.T) {
	var calls atomic.Int32
	ok := waitReady(func() bool {
		return calls.Add(1) >= 4
	}, time.Second, DefaultBackoffConfig())

	assert.True(t, ok)
	assert.Equal(t, int32(4), calls.Load())
}

func TestTickConversion(t *testing.T) {
	tests := []struct {
		d     time.Duration
		ticks int64
	}{
		{0, 0},
		{-time.Millisecond, 0},
		{time.Second, 90000},
		{time.Second / 30, 3000},
		{2 * time.Second / 30, 6000},
		{time.Second/30*2 + 5*time.Millisecond, 6450},
		{5 * time.Microsecond, 0},
		{6 * time.Microsecond, 1},
		{90 * time.Minute, 90 * 60 * 90000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ticks, durationToTicks(tt.d, DefaultTimescale), "duration %v", tt.d)
	}

	// Round trip is exact at tick resolution
	for ticks := int64(0); ticks < 200000; ticks += 997 {
		d := ticksToDuration(ticks, DefaultTimescale)
		assert.Equal(t, ticks, durationToTicks(d, DefaultTimescale))
	}
}
