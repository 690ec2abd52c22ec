package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/mamori-ai/mamori/internal/chaos"
	"github.com/mamori-ai/mamori/internal/model"
)

// The harness suites below run the corruption generators against known
// inputs and verify the contract of each: determinism, input immutability,
// and that the produced corruption is actually invalid in the advertised
// way. Each check is one named TestResult, so suite output feeds the scorer
// directly and can also be written out as a result file.

// sampleRecord is the structured payload the mutation suite corrupts.
func sampleRecord() map[string]any {
	return map[string]any{
		"prompt":      "summarize the quarterly revenue figures",
		"model":       "gpt-4o",
		"temperature": 0.7,
		"max_tokens":  512,
		"stream":      false,
	}
}

// MutationSuite exercises every mutation type plus the rate boundaries.
func MutationSuite(seed int64) model.TestResultFile {
	engine := chaos.NewMutationEngine(seed)
	file := model.TestResultFile{Category: CategoryMutation}

	for _, mt := range chaos.MutationTypes() {
		original := sampleRecord()
		res, err := engine.Mutate(original, []chaos.MutationType{mt}, 1.0)
		pass := err == nil &&
			len(res.MutationTypesApplied) == len(original) &&
			!reflect.DeepEqual(res.Original, res.Mutated) &&
			reflect.DeepEqual(original, sampleRecord())
		file.Results = append(file.Results, check("mutate_"+string(mt), pass))
	}

	// Rate zero must round-trip unchanged.
	res, err := engine.Mutate(sampleRecord(), chaos.MutationTypes(), 0.0)
	file.Results = append(file.Results, check("rate_zero_identity",
		err == nil && len(res.MutationTypesApplied) == 0 &&
			reflect.DeepEqual(res.Original, res.Mutated)))

	// Same seed, same input, same output.
	a, errA := engine.Mutate(sampleRecord(), chaos.MutationTypes(), 0.5)
	b, errB := chaos.NewMutationEngine(seed).Mutate(sampleRecord(), chaos.MutationTypes(), 0.5)
	file.Results = append(file.Results, check("deterministic_replay",
		errA == nil && errB == nil && reflect.DeepEqual(a.Mutated, b.Mutated)))

	// Out-of-range rate must be rejected.
	_, err = engine.Mutate(sampleRecord(), nil, 1.5)
	file.Results = append(file.Results, check("rate_out_of_range_rejected", err != nil))

	return file
}

// SpanMutationSuite verifies every malformation produces a span that fails
// validation while leaving the original intact.
func SpanMutationSuite(seed int64) model.TestResultFile {
	mutator := chaos.NewSpanMutator(seed)
	file := model.TestResultFile{Category: CategorySpanMutation}

	for _, kind := range chaos.MalformationTypes() {
		valid := cleanSpan()
		res, err := mutator.MutateSpan(valid, kind)
		pass := err == nil &&
			res.OriginalSpan.Validate() == nil &&
			res.MalformedSpan.Validate() != nil &&
			res.Description != ""
		// Future timestamps stay structurally valid; the check there is that
		// the timestamps actually moved.
		if kind == chaos.FutureTimestamp {
			pass = err == nil &&
				res.MalformedSpan.StartTime.After(valid.StartTime) &&
				res.Description != ""
		}
		file.Results = append(file.Results, check("malform_"+string(kind), pass))
	}

	_, err := mutator.MutateSpan(cleanSpan(), chaos.MalformationType("bogus"))
	file.Results = append(file.Results, check("unknown_kind_rejected", err != nil))

	return file
}

// GorkSuite verifies each payload corruption garbles the way it advertises.
func GorkSuite(seed int64) model.TestResultFile {
	gen := chaos.NewGorkGenerator(seed)
	file := model.TestResultFile{Category: CategoryGork}
	payload := []byte(`{"role":"user","content":"plain ascii payload for corruption"}`)

	for _, kind := range chaos.GorkTypes() {
		res, err := gen.Generate(payload, kind, 0.5)
		pass := err == nil &&
			bytes.Equal(res.Original, payload) &&
			len(res.ExpectedFailures) > 0 &&
			!bytes.Equal(res.GorkData, payload)
		switch kind {
		case chaos.GorkInvalidUTF8:
			pass = pass && !utf8.Valid(res.GorkData)
		case chaos.GorkTruncation:
			pass = pass && len(res.GorkData) < len(payload)
		case chaos.GorkNullInjection:
			pass = pass && bytes.Contains(res.GorkData, []byte{0x00})
		case chaos.GorkDoubleEncoding:
			pass = pass && len(res.GorkData) > len(payload)
		}
		file.Results = append(file.Results, check("gork_"+string(kind), pass))
	}

	// Determinism across generator instances.
	a, errA := gen.Generate(payload, chaos.GorkBinaryNoise, 0.4)
	b, errB := chaos.NewGorkGenerator(seed).Generate(payload, chaos.GorkBinaryNoise, 0.4)
	file.Results = append(file.Results, check("deterministic_replay",
		errA == nil && errB == nil && bytes.Equal(a.GorkData, b.GorkData)))

	_, err := gen.Generate(payload, chaos.GorkTruncation, -0.1)
	file.Results = append(file.Results, check("rate_out_of_range_rejected", err != nil))

	return file
}

// ErrorHandlingSuite drives malformed input through real capture targets and
// verifies the fail-open target degrades while the fail-closed target raises.
// Both targets must be freshly built pipelines backed by a discard sink.
func ErrorHandlingSuite(ctx context.Context, failOpen, failClosed chaos.Target) model.TestResultFile {
	file := model.TestResultFile{Category: CategoryErrorHandling}

	oversized := model.Exchange{
		Name:    "harness.oversized",
		Request: string(bytes.Repeat([]byte("A"), model.MaxPayloadLen+1)),
	}

	// Fail-open: invalid input yields a degraded span, not an error.
	span, err := failOpen.Capture(ctx, oversized)
	file.Results = append(file.Results, check("fail_open_degrades",
		err == nil && span.DegradedMode && len(span.AnalysisErrors) > 0))

	// Fail-closed: the same input raises a typed invalid-request error.
	_, err = failClosed.Capture(ctx, oversized)
	var anaErr *model.AnalysisError
	file.Results = append(file.Results, check("fail_closed_raises",
		errors.As(err, &anaErr) && anaErr.Kind == model.ErrKindInvalidRequest))

	// A dead caller context must not hang or crash the fail-open target.
	deadCtx, cancel := context.WithCancel(ctx)
	cancel()
	done := make(chan bool, 1)
	go func() {
		s, cerr := failOpen.Capture(deadCtx, model.Exchange{Name: "harness.dead-ctx", Request: "hello"})
		done <- cerr == nil && (!s.Sampled || s.DegradedMode || s.RiskScore >= 0)
	}()
	select {
	case ok := <-done:
		file.Results = append(file.Results, check("dead_context_handled", ok))
	case <-time.After(5 * time.Second):
		file.Results = append(file.Results, model.TestResult{Name: "dead_context_handled", Status: model.TestStatusError})
	}

	// A clean capture on the fail-open target still works after the abuse.
	span, err = failOpen.Capture(ctx, model.Exchange{Name: "harness.clean", Request: "benign", Response: "fine"})
	file.Results = append(file.Results, check("recovers_after_faults",
		err == nil && span.Validate() == nil))

	return file
}

func cleanSpan() model.Span {
	start := time.Now().UTC().Add(-time.Second)
	return model.Span{
		TraceID:   model.NewTraceID(),
		SpanID:    model.NewSpanID(),
		Name:      "harness.clean",
		StartTime: start,
		EndTime:   start.Add(500 * time.Millisecond),
		LatencyMS: 500,
		RiskScore: 2.5,
		Sampled:   true,
	}
}

func check(name string, pass bool) model.TestResult {
	status := model.TestStatusPass
	if !pass {
		status = model.TestStatusFail
	}
	return model.TestResult{Name: name, Status: status}
}

// WriteResultFile persists one category result file as <category>.json in dir.
func WriteResultFile(dir string, file model.TestResultFile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("resilience: create results dir: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("resilience: encode %s results: %w", file.Category, err)
	}
	path := filepath.Join(dir, file.Category+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("resilience: write %s: %w", path, err)
	}
	return nil
}
