// Package limiter bounds the number of concurrent analyses.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting gate with a bounded wait queue. Acquisitions beyond the
// gate size wait while fewer than queueDepth callers are already waiting;
// everything past that is rejected immediately. A Gate never blocks a caller
// indefinitely: the wait is bounded by the caller's context.
type Gate struct {
	sem        *semaphore.Weighted
	queueDepth int64

	waiting  atomic.Int64
	inFlight atomic.Int64
	rejected atomic.Int64
}

// New creates a gate admitting size concurrent holders with queueDepth
// waiting slots. queueDepth 0 means excess acquisitions are dropped rather
// than queued.
func New(size, queueDepth int) *Gate {
	return &Gate{
		sem:        semaphore.NewWeighted(int64(size)),
		queueDepth: int64(queueDepth),
	}
}

// Acquire obtains a slot, waiting until the context expires if the queue has
// room. Returns false when the slot could not be obtained; the caller is
// expected to degrade (treat the exchange as unsampled), not retry.
func (g *Gate) Acquire(ctx context.Context) bool {
	if g.sem.TryAcquire(1) {
		g.inFlight.Add(1)
		return true
	}

	// Gate is full: join the wait queue if there is room.
	if g.waiting.Add(1) > g.queueDepth {
		g.waiting.Add(-1)
		g.rejected.Add(1)
		return false
	}
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		g.rejected.Add(1)
		return false
	}
	g.inFlight.Add(1)
	return true
}

// Release returns a slot to the gate.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// InFlight returns the number of currently held slots.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// Rejected returns the total number of rejected acquisitions.
func (g *Gate) Rejected() int64 { return g.rejected.Load() }
