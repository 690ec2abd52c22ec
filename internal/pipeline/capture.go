package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mamori-ai/mamori/internal/analyzer"
	"github.com/mamori-ai/mamori/internal/config"
	"github.com/mamori-ai/mamori/internal/guard"
	"github.com/mamori-ai/mamori/internal/limiter"
	"github.com/mamori-ai/mamori/internal/model"
	"github.com/mamori-ai/mamori/internal/sampler"
)

// Pipeline is the per-exchange capture orchestrator. All of its collaborators
// are explicit dependencies, so multiple pipelines can run in one process
// (required by the resilience harness) without shared state.
type Pipeline struct {
	cfg        config.Config
	sampler    *sampler.Sampler
	analyzer   *analyzer.Analyzer
	guard      *guard.Guard
	gate       *limiter.Gate
	batcher    *Batcher
	logger     *slog.Logger
	categories []model.Category

	degradedSpans  atomic.Int64
	budgetExceeded atomic.Int64
	tokenStorms    atomic.Int64

	latencyMu  sync.Mutex
	latencyAvg float64 // EWMA of analysis latency in ms
}

// Deps holds the pipeline's collaborators.
type Deps struct {
	Sampler  *sampler.Sampler
	Analyzer *analyzer.Analyzer
	Guard    *guard.Guard
	Gate     *limiter.Gate
	Batcher  *Batcher
	Logger   *slog.Logger
	// Categories restricts analysis to a subset; nil means all categories.
	Categories []model.Category
}

// New creates a capture pipeline.
func New(cfg config.Config, d Deps) *Pipeline {
	categories := d.Categories
	if categories == nil {
		categories = model.Categories()
	}
	return &Pipeline{
		cfg:        cfg,
		sampler:    d.Sampler,
		analyzer:   d.Analyzer,
		guard:      d.Guard,
		gate:       d.Gate,
		batcher:    d.Batcher,
		logger:     d.Logger,
		categories: categories,
	}
}

type analysisOutcome struct {
	risk     float64
	findings []model.VulnerabilityFinding
	err      error
}

// Capture processes one intercepted exchange and returns its span.
//
// Order per exchange is strict: sample, acquire a gate slot, run analyzer
// and cost guard concurrently under the analysis timeout, assemble the span,
// batch. The cost guard runs only on sampled exchanges, after the inclusion
// decision: unsampled traffic must stay near-zero overhead, and the guard
// consumes the same token/cost estimate the analysis path does.
//
// Under fail-open (the default) analysis failure degrades the span instead
// of raising; authentication and configuration errors always raise. The
// exchange that produced the payload is never cancelled by anything here.
func (p *Pipeline) Capture(ctx context.Context, ex model.Exchange) (model.Span, error) {
	if err := model.ValidateExchange(ex); err != nil {
		invalid := &model.AnalysisError{Kind: model.ErrKindInvalidRequest, Err: err}
		if !p.cfg.FailOpen {
			return model.Span{}, invalid
		}
		span := p.baseSpan(ex)
		return p.finish(degrade(span, model.ErrKindInvalidRequest)), nil
	}

	span := p.baseSpan(ex)

	decision := p.sampler.Decide()
	if !decision.Include {
		// Unsampled spans are returned but not exported; the draw happens
		// before any analysis to bound overhead on unsampled traffic.
		return span, nil
	}

	// Bound the gate wait by the analysis timeout; a saturated gate degrades
	// the exchange to unsampled rather than blocking the caller.
	gateCtx, cancelGate := context.WithTimeout(ctx, p.cfg.AnalysisTimeout)
	acquired := p.gate.Acquire(gateCtx)
	cancelGate()
	if !acquired {
		p.logger.Debug("pipeline: limiter saturated, exchange degraded to unsampled")
		return span, nil
	}
	defer p.gate.Release()

	span.Sampled = true

	// Analyzer and cost guard run concurrently; the timeout cancels only the
	// analysis task, never the exchange.
	analysisCtx, cancelAnalysis := context.WithTimeout(ctx, p.cfg.AnalysisTimeout)
	defer cancelAnalysis()

	outcomeCh := make(chan analysisOutcome, 1)
	started := time.Now()
	go func() {
		risk, findings, err := p.analyzer.Analyze(analysisCtx, ex.Payload(), p.categories)
		outcomeCh <- analysisOutcome{risk: risk, findings: findings, err: err}
	}()

	verdict := p.guard.Check(guard.Estimate{
		CostUSD: costOf(ex),
		Tokens:  ex.TotalTokens(),
	})
	span.BudgetExceeded = verdict.BudgetExceeded
	span.TokenStorm = verdict.TokenStorm
	if verdict.BudgetExceeded {
		p.budgetExceeded.Add(1)
	}
	if verdict.TokenStorm {
		p.tokenStorms.Add(1)
	}

	var outcome analysisOutcome
	select {
	case outcome = <-outcomeCh:
	case <-analysisCtx.Done():
		outcome = analysisOutcome{err: &model.AnalysisTimeoutError{Timeout: p.cfg.AnalysisTimeout}}
	}
	p.observeLatency(time.Since(started))

	if outcome.err != nil {
		if model.AlwaysRaise(outcome.err) {
			return model.Span{}, outcome.err
		}
		if !p.cfg.FailOpen {
			return model.Span{}, outcome.err
		}
		return p.finish(degrade(span, model.KindOf(outcome.err))), nil
	}

	span.RiskScore = outcome.risk
	span.Vulnerabilities = outcome.findings
	p.sampler.Observe(outcome.risk)

	return p.finish(span), nil
}

// finish hands the span to the batcher; the span is immutable afterwards.
// A full batcher drops the span from export but the caller still gets it.
func (p *Pipeline) finish(span model.Span) model.Span {
	if span.DegradedMode {
		p.degradedSpans.Add(1)
	}
	if err := p.batcher.Add(span); err != nil {
		p.logger.Warn("pipeline: span not batched", "error", err, "trace_id", span.TraceID)
	}
	return span
}

func (p *Pipeline) baseSpan(ex model.Exchange) model.Span {
	now := time.Now().UTC()
	start, end := ex.StartTime, ex.EndTime
	if start.IsZero() {
		start = now
	}
	if end.IsZero() || end.Before(start) {
		end = start
	}

	traceID := ex.TraceID
	if !model.ValidTraceID(traceID) {
		traceID = model.NewTraceID()
	}

	return model.Span{
		TraceID:     traceID,
		SpanID:      model.NewSpanID(),
		ParentID:    ex.ParentSpanID,
		Name:        ex.Name,
		Provider:    ex.Provider,
		Model:       ex.Model,
		Environment: p.cfg.Environment,
		StartTime:   start,
		EndTime:     end,
		LatencyMS:   float64(end.Sub(start).Milliseconds()),
		TokensIn:    ex.TokensIn,
		TokensOut:   ex.TokensOut,
		CostUSD:     ex.CostUSD,
	}
}

func degrade(span model.Span, kind model.ErrorKind) model.Span {
	span.AnalysisErrors = append(span.AnalysisErrors, string(kind))
	span.DegradedMode = true
	return span
}

func costOf(ex model.Exchange) float64 {
	if ex.CostUSD != nil {
		return *ex.CostUSD
	}
	return 0
}

// latencyAlpha is the EWMA smoothing factor for the health endpoint's
// analysis latency snapshot.
const latencyAlpha = 0.2

func (p *Pipeline) observeLatency(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	p.latencyMu.Lock()
	if p.latencyAvg == 0 {
		p.latencyAvg = ms
	} else {
		p.latencyAvg = latencyAlpha*ms + (1-latencyAlpha)*p.latencyAvg
	}
	p.latencyMu.Unlock()
}

// Stats is the pipeline health snapshot consumed by /health and the MCP
// status tool.
type Stats struct {
	DegradedSpans     int64
	BudgetExceeded    int64
	TokenStorms       int64
	LimiterInFlight   int
	LimiterRejected   int64
	BatcherDepth      int
	AnalysisLatencyMS float64
}

// Stats returns a point-in-time health snapshot.
func (p *Pipeline) Stats() Stats {
	p.latencyMu.Lock()
	latency := p.latencyAvg
	p.latencyMu.Unlock()

	return Stats{
		DegradedSpans:     p.degradedSpans.Load(),
		BudgetExceeded:    p.budgetExceeded.Load(),
		TokenStorms:       p.tokenStorms.Load(),
		LimiterInFlight:   p.gate.InFlight(),
		LimiterRejected:   p.gate.Rejected(),
		BatcherDepth:      p.batcher.Len(),
		AnalysisLatencyMS: latency,
	}
}

// Batcher exposes the batcher for health reporting and shutdown.
func (p *Pipeline) Batcher() *Batcher { return p.batcher }
