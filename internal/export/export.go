// Package export delivers finished spans to their sinks. A sink either
// accepts a whole batch or returns an error; the batcher retries the entire
// batch, so partial delivery never loses spans silently.
package export

import (
	"context"
	"fmt"

	"github.com/mamori-ai/mamori/internal/model"
)

// Sink receives batches of finished spans.
type Sink interface {
	Export(ctx context.Context, spans []model.Span) error
}

// Multi fans a batch out to several sinks in order. The first failure aborts
// and is returned, so the batcher treats the batch as undelivered.
type Multi []Sink

// Export implements Sink.
func (m Multi) Export(ctx context.Context, spans []model.Span) error {
	for i, sink := range m {
		if err := sink.Export(ctx, spans); err != nil {
			return fmt.Errorf("export: sink %d: %w", i, err)
		}
	}
	return nil
}

// Discard drops every batch. Used when no sink is configured and in tests.
type Discard struct{}

// Export implements Sink.
func (Discard) Export(context.Context, []model.Span) error { return nil }
