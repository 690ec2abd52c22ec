// Package pipeline orchestrates capture: sample, analyze under the
// concurrency gate, assemble the span, batch for export.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/mamori-ai/mamori/internal/export"
	"github.com/mamori-ai/mamori/internal/model"
	"github.com/mamori-ai/mamori/internal/telemetry"
)

// maxBatcherCapacity is the hard upper limit on buffered spans to prevent
// OOM. When this limit is reached, Add applies backpressure by returning an
// error.
const maxBatcherCapacity = 50_000

// Batcher accumulates finished spans and flushes them to the export sink
// when either the batch size or the flush interval is reached. A flush is an
// atomic hand-off: the batch is fully exported or fully retried.
type Batcher struct {
	sink          export.Sink
	logger        *slog.Logger
	maxSize       int
	flushInterval time.Duration

	mu    sync.Mutex
	spans []model.Span

	droppedSpans atomic.Int64 // total spans dropped due to capacity after flush failure

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc // cancels the flushLoop goroutine
	drainCtx   context.Context    // set by Drain so the final flush respects the caller's deadline
}

// NewBatcher creates a span batcher over the given sink.
func NewBatcher(sink export.Sink, logger *slog.Logger, maxSize int, flushInterval time.Duration) *Batcher {
	return &Batcher{
		sink:          sink,
		logger:        logger,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics.
// Call Drain to stop.
func (b *Batcher) Start(ctx context.Context) {
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Add appends a finished span to the batch. The span must not be mutated by
// the caller afterwards. Returns an error when the batcher is at capacity
// (backpressure).
func (b *Batcher) Add(span model.Span) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.spans)+1 > maxBatcherCapacity {
		return fmt.Errorf("pipeline: batcher at capacity (%d spans), span dropped", len(b.spans))
	}
	b.spans = append(b.spans, span)

	if len(b.spans) >= b.maxSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Batcher) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush using the drain context provided by Drain().
			// ctx is already done; the drain context carries the caller's
			// shutdown deadline.
			if b.drainCtx != nil {
				b.flush(b.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.spans) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.spans
	b.spans = nil
	b.mu.Unlock()

	start := time.Now()
	err := b.sink.Export(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		b.logger.Error("pipeline: flush failed", "error", err, "batch_size", len(batch))
		// Put spans back for retry, but respect the capacity limit.
		b.mu.Lock()
		if len(b.spans)+len(batch) <= maxBatcherCapacity {
			b.spans = append(batch, b.spans...)
		} else {
			b.droppedSpans.Add(int64(len(batch)))
			b.logger.Error("pipeline: dropping spans, batcher at capacity after flush failure", "dropped", len(batch))
		}
		b.mu.Unlock()
		return
	}

	b.logger.Debug("pipeline: batch flushed",
		"batch_size", len(batch),
		"flush_duration_ms", duration.Milliseconds(),
	)
}

// Drain signals the background flush loop to stop, waits for its final
// flush, and returns. The ctx bounds the wait and is passed to the final
// flush so it respects the caller's shutdown deadline.
func (b *Batcher) Drain(ctx context.Context) {
	b.drainCtx = ctx
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("pipeline: drain timed out waiting for flush loop")
	}
}

// registerMetrics registers observable OTEL gauges for batcher health.
// Called from Start() after the global meter provider has been initialized.
func (b *Batcher) registerMetrics() {
	meter := telemetry.Meter("mamori/batcher")

	_, _ = meter.Int64ObservableGauge("mamori.batcher.depth",
		metric.WithDescription("Current number of spans in the export batch"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("mamori.batcher.dropped_total",
		metric.WithDescription("Total spans dropped due to batcher capacity exhaustion"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.DroppedSpans())
			return nil
		}),
	)
}

// Len returns the current number of buffered spans.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.spans)
}

// Capacity returns the hard span capacity.
func (b *Batcher) Capacity() int { return maxBatcherCapacity }

// DroppedSpans returns the total number of spans dropped after flush
// failures. A non-zero value indicates data loss.
func (b *Batcher) DroppedSpans() int64 {
	return b.droppedSpans.Load()
}
