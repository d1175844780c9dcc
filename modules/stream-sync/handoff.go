package streamsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// idleThreshold marks a handler as idle when it has not consumed for this long
const idleThreshold = 30 * time.Second

// HandoffStats is a snapshot of handoff operational state
type HandoffStats struct {
	// Published counts frames offered to the mailbox
	Published uint64
	// Consumed counts frames delivered to the handler
	Consumed uint64
	// TotalDrops counts frames overwritten before the handler took them
	TotalDrops uint64
	// ConsecutiveDrops is the current streak of overwritten frames.
	// Resets to 0 on consume.
	ConsecutiveDrops uint64
	// LastConsumedSeq is the Seq of the last frame given to the handler
	LastConsumedSeq uint64
	// LastConsumedAt is when the handler last received a frame
	LastConsumedAt time.Time
	// IsIdle indicates the handler has not consumed a frame in >30s
	IsIdle bool
}

// Handoff moves synchronized frames off the synchronizer worker onto a
// background goroutine.
//
// It is a single-slot mailbox: Publish never blocks, and a frame not yet taken
// by the handler is overwritten by the next one (drop oldest). Frames that do
// reach the handler arrive in capture order.
type Handoff struct {
	handler func(SynchronizedFrame)

	mu    sync.Mutex
	cond  *sync.Cond
	frame *SynchronizedFrame // nil = consumed

	published        uint64
	consumed         uint64
	totalDrops       uint64
	consecutiveDrops uint64
	lastConsumedSeq  uint64
	lastConsumedAt   time.Time

	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHandoff creates a handoff that runs handler for each taken frame
func NewHandoff(handler func(SynchronizedFrame)) *Handoff {
	h := &Handoff{handler: handler}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Start launches the handler goroutine
func (h *Handoff) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("stream-sync: handoff already started")
	}
	if h.handler == nil {
		return fmt.Errorf("stream-sync: handoff handler is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.started = true
	h.lastConsumedAt = time.Now()

	// Wake the loop when the parent context ends
	go func() {
		<-runCtx.Done()
		h.mu.Lock()
		h.closed = true
		h.cond.Signal()
		h.mu.Unlock()
	}()

	h.wg.Add(1)
	go h.loop()

	return nil
}

// Publish offers a frame (non-blocking). An unconsumed frame is overwritten.
// No-op after Stop.
func (h *Handoff) Publish(f SynchronizedFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.published++
	if h.frame != nil {
		h.consecutiveDrops++
		h.totalDrops++
		slog.Debug("stream-sync: handoff overwrote unconsumed frame",
			"dropped_seq", h.frame.Seq,
			"seq", f.Seq,
		)
	}

	h.frame = &f
	h.cond.Signal()
}

// next blocks until a frame is available or the handoff is closed
func (h *Handoff) next() *SynchronizedFrame {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.frame == nil && !h.closed {
		h.cond.Wait()
	}
	if h.closed {
		return nil
	}

	f := h.frame
	h.frame = nil
	h.consumed++
	h.lastConsumedAt = time.Now()
	h.lastConsumedSeq = f.Seq
	h.consecutiveDrops = 0
	return f
}

func (h *Handoff) loop() {
	defer h.wg.Done()

	for {
		f := h.next()
		if f == nil {
			return
		}
		h.handler(*f)
	}
}

// Stop closes the mailbox and waits for the handler to return.
// A pending frame is discarded. Idempotent.
func (h *Handoff) Stop() {
	h.mu.Lock()
	if !h.started {
		h.closed = true
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.frame = nil
	h.cond.Signal()
	cancel := h.cancel
	h.mu.Unlock()

	cancel()
	h.wg.Wait()
}

// Stats returns a snapshot of the mailbox counters
func (h *Handoff) Stats() HandoffStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return HandoffStats{
		Published:        h.published,
		Consumed:         h.consumed,
		TotalDrops:       h.totalDrops,
		ConsecutiveDrops: h.consecutiveDrops,
		LastConsumedSeq:  h.lastConsumedSeq,
		LastConsumedAt:   h.lastConsumedAt,
		IsIdle:           h.started && time.Since(h.lastConsumedAt) > idleThreshold,
	}
}
