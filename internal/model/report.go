package model

import (
	"time"

	"github.com/google/uuid"
)

// ChaosTestResult aggregates one chaos replay run. Ephemeral; only the
// ResilienceReport that consumes it is persisted.
type ChaosTestResult struct {
	Name              string        `json:"name"`
	Duration          time.Duration `json:"duration"`
	Attempts          int           `json:"attempts"`
	Passed            int           `json:"passed"`
	ResilienceScore   float64       `json:"resilience_score"` // passed/attempts, 0..1
	SuccessRate       float64       `json:"success_rate"`
	ErrorsEncountered []string      `json:"errors_encountered,omitempty"`
}

// TestStatus is the outcome of one named test in an ingested result file.
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusError TestStatus = "error"
)

// TestResult is one named test outcome.
type TestResult struct {
	Name   string     `json:"name"`
	Status TestStatus `json:"status"`
}

// TestResultFile is the structured test-result report format the resilience
// scorer ingests, one file per category.
type TestResultFile struct {
	Category string       `json:"category"`
	Results  []TestResult `json:"results"`
}

// CategoryScore is the per-category term of the weighted resilience score.
type CategoryScore struct {
	Category string  `json:"category"`
	Passed   int     `json:"passed"`
	Total    int     `json:"total"`
	Score    float64 `json:"score"`              // 0..1
	Weight   float64 `json:"weight"`             // fraction of the overall score
	Degraded bool    `json:"degraded,omitempty"` // result file missing or malformed
}

// ResilienceReport is the weighted verdict across all fault-test categories.
// It is the only harness artifact persisted across runs, for trend comparison.
type ResilienceReport struct {
	ID                     uuid.UUID       `json:"id"`
	GeneratedAt            time.Time       `json:"generated_at"`
	OverallResilienceScore float64         `json:"overall_resilience_score"` // 0..1
	MutationTestsPassed    int             `json:"mutation_tests_passed"`
	MutationTestsTotal     int             `json:"mutation_tests_total"`
	ChaosReplayScore       float64         `json:"chaos_replay_score"`
	SpanMutationScore      float64         `json:"span_mutation_score"`
	GorkGenerationScore    float64         `json:"gork_generation_score"`
	ErrorHandlingScore     float64         `json:"error_handling_score"`
	Categories             []CategoryScore `json:"categories"`
	Verdict                string          `json:"verdict"` // "pass" or "warning"
	WarnBelow              float64         `json:"warn_below"`
}
