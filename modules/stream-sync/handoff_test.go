package streamsync_test

import (
	"context"
	"testing"
	"time"

	streamsync "github.com/e7canasta/orion-depth-sampler/modules/stream-sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHandoffOverwritesUnconsumed validates drop-oldest mailbox semantics.
//
// Scenario:
//  1. Handler blocks on the first frame
//  2. Publish frames 2, 3, 4 while it is blocked
//  3. Release the handler
//  4. Assert: handler sees 1 then 4; 2 and 3 were overwritten
func TestHandoffOverwritesUnconsumed(t *testing.T) {
	release := make(chan struct{})
	got := make(chan uint64, 8)

	h := streamsync.NewHandoff(func(f streamsync.SynchronizedFrame) {
		if f.Seq == 1 {
			<-release
		}
		got <- f.Seq
	})
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()

	h.Publish(streamsync.SynchronizedFrame{Seq: 1})
	require.Eventually(t, func() bool {
		return h.Stats().Consumed == 1
	}, time.Second, time.Millisecond)

	for seq := uint64(2); seq <= 4; seq++ {
		h.Publish(streamsync.SynchronizedFrame{Seq: seq})
	}
	close(release)

	assert.Equal(t, uint64(1), <-got)
	assert.Equal(t, uint64(4), <-got)

	stats := h.Stats()
	assert.Equal(t, uint64(4), stats.Published)
	assert.Equal(t, uint64(2), stats.TotalDrops)
	assert.Equal(t, uint64(4), stats.LastConsumedSeq)
	assert.Zero(t, stats.ConsecutiveDrops)
}

// TestHandoffPreservesOrder validates frames reach the handler in publish order
func TestHandoffPreservesOrder(t *testing.T) {
	var seen []uint64
	done := make(chan struct{})

	h := streamsync.NewHandoff(func(f streamsync.SynchronizedFrame) {
		seen = append(seen, f.Seq)
		if f.Seq == 100 {
			close(done)
		}
	})
	require.NoError(t, h.Start(context.Background()))

	for seq := uint64(1); seq <= 100; seq++ {
		h.Publish(streamsync.SynchronizedFrame{Seq: seq})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("last frame never delivered")
	}
	h.Stop()

	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i], "delivery out of order at %d", i)
	}
}

func TestHandoffStopIdempotent(t *testing.T) {
	h := streamsync.NewHandoff(func(streamsync.SynchronizedFrame) {})
	require.NoError(t, h.Start(context.Background()))

	h.Stop()
	h.Stop()

	// Publish after Stop is a no-op
	h.Publish(streamsync.SynchronizedFrame{Seq: 1})
	assert.Zero(t, h.Stats().Published)

	assert.Error(t, h.Start(context.Background()), "handoff is single-use")
}

func TestHandoffStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := streamsync.NewHandoff(func(streamsync.SynchronizedFrame) {})
	require.NoError(t, h.Start(ctx))

	cancel()
	require.Eventually(t, func() bool {
		before := h.Stats().Published
		h.Publish(streamsync.SynchronizedFrame{Seq: 1})
		return h.Stats().Published == before
	}, time.Second, time.Millisecond)
	h.Stop()
}
