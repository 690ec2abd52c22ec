package chaos

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mamori-ai/mamori/internal/model"
)

// Target is the pipeline surface the replay engine drives. The production
// capture pipeline implements it; tests substitute stubs.
type Target interface {
	Capture(ctx context.Context, ex model.Exchange) (model.Span, error)
}

// Scenario names one systemic fault the replay engine induces.
type Scenario string

const (
	ScenarioMalformedSpans   Scenario = "malformed_spans"
	ScenarioLatency          Scenario = "latency"
	ScenarioPartition        Scenario = "partition"
	ScenarioResourcePressure Scenario = "resource_pressure"
)

// Scenarios lists every known scenario.
func Scenarios() []Scenario {
	return []Scenario{
		ScenarioMalformedSpans,
		ScenarioLatency,
		ScenarioPartition,
		ScenarioResourcePressure,
	}
}

// pressureFanout is how many concurrent captures one resource-pressure
// attempt issues.
const pressureFanout = 8

// maxRecordedErrors bounds the errors carried in a ChaosTestResult.
const maxRecordedErrors = 20

// ReplayEngine drives fault scenarios against a capture target for a
// bounded wall-clock duration.
type ReplayEngine struct {
	target  Target
	timeout time.Duration // the pipeline's analysis timeout; pass rule allows 2x
	logger  *slog.Logger
	seed    int64
}

// NewReplayEngine creates a replay engine. The seed makes the sequence of
// induced faults reproducible; wall-clock scheduling still varies run to run.
func NewReplayEngine(target Target, analysisTimeout time.Duration, logger *slog.Logger, seed int64) *ReplayEngine {
	return &ReplayEngine{
		target:  target,
		timeout: analysisTimeout,
		logger:  logger,
		seed:    seed,
	}
}

// Run cycles through the scenarios until duration elapses or ctx is done.
// An attempt passes when the target returns a span (degraded is fine)
// without panicking and within twice the analysis timeout. The resilience
// score is the fraction of attempts passing.
func (e *ReplayEngine) Run(ctx context.Context, name string, scenarios []Scenario, duration time.Duration) model.ChaosTestResult {
	if len(scenarios) == 0 {
		scenarios = Scenarios()
	}
	rng := rand.New(rand.NewSource(e.seed))
	mutator := NewGorkGenerator(e.seed)

	deadline := time.Now().Add(duration)
	result := model.ChaosTestResult{Name: name, Duration: duration}
	seenErrors := make(map[string]bool)

	for time.Now().Before(deadline) && ctx.Err() == nil {
		scenario := scenarios[result.Attempts%len(scenarios)]
		result.Attempts++

		err := e.attempt(ctx, scenario, rng, mutator)
		if err == nil {
			result.Passed++
			continue
		}
		msg := fmt.Sprintf("%s: %v", scenario, err)
		if !seenErrors[msg] && len(result.ErrorsEncountered) < maxRecordedErrors {
			seenErrors[msg] = true
			result.ErrorsEncountered = append(result.ErrorsEncountered, msg)
		}
	}

	if result.Attempts > 0 {
		result.ResilienceScore = float64(result.Passed) / float64(result.Attempts)
	}
	result.SuccessRate = result.ResilienceScore

	e.logger.Info("chaos: replay finished",
		"name", name,
		"attempts", result.Attempts,
		"passed", result.Passed,
		"resilience_score", result.ResilienceScore,
	)
	return result
}

// attempt runs one scenario iteration and reports whether the target held
// up. Panics are converted to errors: a crashing pipeline fails the attempt,
// never the harness.
func (e *ReplayEngine) attempt(ctx context.Context, scenario Scenario, rng *rand.Rand, gork *GorkGenerator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("target panicked: %v", r)
		}
	}()

	budget := 2 * e.timeout
	switch scenario {
	case ScenarioMalformedSpans:
		return e.captureWithin(ctx, e.malformedExchange(rng, gork), budget)

	case ScenarioLatency:
		// A slow collaborator upstream of capture: burn part of the budget,
		// then demand the pipeline still answer inside what remains.
		delay := time.Duration(rng.Int63n(int64(e.timeout)))
		time.Sleep(delay)
		return e.captureWithin(ctx, e.cleanExchange(rng), budget)

	case ScenarioPartition:
		// The caller's context is already dead, as it is when the network
		// partitions mid-request. The pipeline must degrade, not hang.
		deadCtx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := e.target.Capture(deadCtx, e.cleanExchange(rng))
		return err

	case ScenarioResourcePressure:
		var wg sync.WaitGroup
		errCh := make(chan error, pressureFanout)
		for i := 0; i < pressureFanout; i++ {
			ex := e.cleanExchange(rng)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						errCh <- fmt.Errorf("target panicked under pressure: %v", r)
					}
				}()
				errCh <- e.captureWithin(ctx, ex, budget)
			}()
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}
}

// captureWithin fails the attempt when the target errors or exceeds the
// time budget. The deadline on the call context cuts off a target that
// ignores its own analysis timeout, so a wedged target fails attempts
// instead of hanging the run.
func (e *ReplayEngine) captureWithin(ctx context.Context, ex model.Exchange, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	_, err := e.target.Capture(ctx, ex)
	if err != nil {
		return err
	}
	if elapsed := time.Since(start); elapsed > budget {
		return fmt.Errorf("capture took %s, budget %s", elapsed, budget)
	}
	return nil
}

func (e *ReplayEngine) cleanExchange(rng *rand.Rand) model.Exchange {
	return model.Exchange{
		Name:     "chaos.clean",
		Provider: "chaos",
		Model:    "stub",
		Request:  fmt.Sprintf("benign request %d", rng.Int63()),
		Response: "benign response",
	}
}

// malformedExchange corrupts the request payload and identifiers so the
// pipeline sees the kind of garbage a broken interception point produces.
func (e *ReplayEngine) malformedExchange(rng *rand.Rand, gork *GorkGenerator) model.Exchange {
	kinds := GorkTypes()
	kind := kinds[rng.Intn(len(kinds))]
	res, err := gork.Generate([]byte(fmt.Sprintf("request payload %d", rng.Int63())), kind, 0.3)
	request := "request"
	if err == nil {
		request = string(res.GorkData)
	}
	return model.Exchange{
		TraceID:  "not-a-trace-id",
		Name:     "chaos.malformed",
		Provider: "chaos",
		Request:  request,
		Response: string([]byte{0xff, 0xfe, 0x00}),
	}
}
