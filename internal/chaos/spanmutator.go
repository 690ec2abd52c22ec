package chaos

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/mamori-ai/mamori/internal/model"
)

// MalformationType tags one structural span corruption.
type MalformationType string

const (
	InvalidTraceID       MalformationType = "invalid_trace_id"
	InvalidSpanID        MalformationType = "invalid_span_id"
	EmptyTraceID         MalformationType = "empty_trace_id"
	EndBeforeStart       MalformationType = "end_before_start"
	NegativeLatency      MalformationType = "negative_latency"
	RiskOutOfRange       MalformationType = "risk_out_of_range"
	FutureTimestamp      MalformationType = "future_timestamp"
	DegradedInconsistent MalformationType = "degraded_inconsistent"
)

// spanMalformer breaks exactly one structural aspect of a span, leaving the
// rest intact, and describes what it broke.
type spanMalformer func(span model.Span, rng *rand.Rand) (model.Span, string)

// nonHexRunes guarantees the corrupted identifier fails the hex format check
// no matter which positions the rng picks.
const nonHexRunes = "ghijklmnopqrstuvwxyz!@#"

var spanMalformRegistry = map[MalformationType]spanMalformer{
	InvalidTraceID: func(span model.Span, rng *rand.Rand) (model.Span, string) {
		// Wrong alphabet and wrong length: fails the 32-hex-char check both ways.
		n := 8 + rng.Intn(16)
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteByte(nonHexRunes[rng.Intn(len(nonHexRunes))])
		}
		span.TraceID = b.String()
		return span, fmt.Sprintf("trace_id replaced with %d non-hex characters", n)
	},
	InvalidSpanID: func(span model.Span, rng *rand.Rand) (model.Span, string) {
		span.SpanID = strings.Repeat("x", 4+rng.Intn(8))
		return span, "span_id replaced with non-hex characters of wrong length"
	},
	EmptyTraceID: func(span model.Span, _ *rand.Rand) (model.Span, string) {
		span.TraceID = ""
		return span, "trace_id emptied"
	},
	EndBeforeStart: func(span model.Span, rng *rand.Rand) (model.Span, string) {
		delta := time.Duration(1+rng.Intn(3600)) * time.Second
		span.EndTime = span.StartTime.Add(-delta)
		return span, fmt.Sprintf("end_time moved %s before start_time", delta)
	},
	NegativeLatency: func(span model.Span, rng *rand.Rand) (model.Span, string) {
		span.LatencyMS = -float64(1 + rng.Intn(10_000))
		return span, "latency_ms made negative"
	},
	RiskOutOfRange: func(span model.Span, rng *rand.Rand) (model.Span, string) {
		if rng.Intn(2) == 0 {
			span.RiskScore = 10 + rng.Float64()*100
			return span, "risk_score pushed above 10"
		}
		span.RiskScore = -1 - rng.Float64()*10
		return span, "risk_score pushed below 0"
	},
	FutureTimestamp: func(span model.Span, rng *rand.Rand) (model.Span, string) {
		jump := time.Duration(1+rng.Intn(365*24)) * time.Hour
		span.StartTime = span.StartTime.Add(jump)
		span.EndTime = span.EndTime.Add(jump)
		return span, fmt.Sprintf("timestamps moved %s into the future", jump)
	},
	DegradedInconsistent: func(span model.Span, _ *rand.Rand) (model.Span, string) {
		span.DegradedMode = true
		span.AnalysisErrors = nil
		return span, "degraded_mode set with empty analysis_errors"
	},
}

// MalformationTypes lists the registered span malformations in stable order.
func MalformationTypes() []MalformationType {
	kinds := make([]MalformationType, 0, len(spanMalformRegistry))
	for k := range spanMalformRegistry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// SpanMutator corrupts one structural field of a span into a specific,
// named invalid shape.
type SpanMutator struct {
	seed int64
}

// NewSpanMutator creates a mutator whose output is fully determined by seed
// and input.
func NewSpanMutator(seed int64) *SpanMutator {
	return &SpanMutator{seed: seed}
}

// MutateSpan applies the named malformation and reports what was broken.
// The original span is returned unchanged inside the result.
func (m *SpanMutator) MutateSpan(span model.Span, kind MalformationType) (model.SpanMalformationResult, error) {
	malform, ok := spanMalformRegistry[kind]
	if !ok {
		return model.SpanMalformationResult{}, fmt.Errorf("chaos: unknown span malformation %q", kind)
	}

	rng := rand.New(rand.NewSource(m.seed))
	malformed, description := malform(span, rng)

	return model.SpanMalformationResult{
		OriginalSpan:     span,
		MalformedSpan:    malformed,
		MalformationType: string(kind),
		Description:      description,
	}, nil
}
