// Package resilience aggregates fault-test outcomes into the weighted
// resilience verdict and ingests externally produced test-result files.
package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/mamori-ai/mamori/internal/model"
)

// Category names used in reports and result files.
const (
	CategoryMutation      = "mutation"
	CategoryChaosReplay   = "chaos_replay"
	CategorySpanMutation  = "span_mutation"
	CategoryGork          = "gork_generation"
	CategoryErrorHandling = "error_handling"
)

// Category weights. They sum to 1; chaos replay weighs heaviest because it
// exercises the whole pipeline rather than a single generator.
const (
	weightMutation      = 0.25
	weightChaosReplay   = 0.30
	weightSpanMutation  = 0.20
	weightGork          = 0.15
	weightErrorHandling = 0.10
)

// CategoryResult is one category's raw outcome. Either pass/fail counts or
// an explicit fractional score (as the chaos replay engine produces) may be
// supplied; an explicit score wins when both are set.
type CategoryResult struct {
	Passed   int
	Total    int
	Score    *float64
	Degraded bool // result source missing or malformed; scored as zero
}

// value clamps the category term into [0,1].
func (r CategoryResult) value() float64 {
	var v float64
	switch {
	case r.Degraded:
		return 0
	case r.Score != nil:
		v = *r.Score
	case r.Total > 0:
		v = float64(r.Passed) / float64(r.Total)
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Inputs carries the per-category outcomes the scorer merges.
type Inputs struct {
	Mutation      CategoryResult
	ChaosReplay   CategoryResult
	SpanMutation  CategoryResult
	Gork          CategoryResult
	ErrorHandling CategoryResult
}

// Score computes the weighted overall resilience verdict. Scores below
// warnBelow yield a "warning" verdict.
func Score(in Inputs, warnBelow float64) model.ResilienceReport {
	mutation := in.Mutation.value()
	chaosReplay := in.ChaosReplay.value()
	spanMutation := in.SpanMutation.value()
	gork := in.Gork.value()
	errorHandling := in.ErrorHandling.value()

	overall := weightMutation*mutation +
		weightChaosReplay*chaosReplay +
		weightSpanMutation*spanMutation +
		weightGork*gork +
		weightErrorHandling*errorHandling

	verdict := "pass"
	if overall < warnBelow {
		verdict = "warning"
	}

	return model.ResilienceReport{
		ID:                     uuid.New(),
		GeneratedAt:            time.Now().UTC(),
		OverallResilienceScore: overall,
		MutationTestsPassed:    in.Mutation.Passed,
		MutationTestsTotal:     in.Mutation.Total,
		ChaosReplayScore:       chaosReplay,
		SpanMutationScore:      spanMutation,
		GorkGenerationScore:    gork,
		ErrorHandlingScore:     errorHandling,
		Categories: []model.CategoryScore{
			category(CategoryMutation, in.Mutation, weightMutation),
			category(CategoryChaosReplay, in.ChaosReplay, weightChaosReplay),
			category(CategorySpanMutation, in.SpanMutation, weightSpanMutation),
			category(CategoryGork, in.Gork, weightGork),
			category(CategoryErrorHandling, in.ErrorHandling, weightErrorHandling),
		},
		Verdict:   verdict,
		WarnBelow: warnBelow,
	}
}

func category(name string, r CategoryResult, weight float64) model.CategoryScore {
	return model.CategoryScore{
		Category: name,
		Passed:   r.Passed,
		Total:    r.Total,
		Score:    r.value(),
		Weight:   weight,
		Degraded: r.Degraded,
	}
}
