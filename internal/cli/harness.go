package cli

import (
	"time"

	"github.com/mamori-ai/mamori/internal/analyzer"
	"github.com/mamori-ai/mamori/internal/config"
	"github.com/mamori-ai/mamori/internal/export"
	"github.com/mamori-ai/mamori/internal/guard"
	"github.com/mamori-ai/mamori/internal/limiter"
	"github.com/mamori-ai/mamori/internal/model"
	"github.com/mamori-ai/mamori/internal/pattern"
	"github.com/mamori-ai/mamori/internal/pipeline"
	"github.com/mamori-ai/mamori/internal/sampler"
)

// newHarnessPipeline builds a self-contained capture pipeline for fault
// replay: built-in patterns only, every exchange sampled, spans discarded
// after batching. It shares no state with any running sidecar.
func newHarnessPipeline(cfg config.Config, failOpen bool) *pipeline.Pipeline {
	cfg.FailOpen = failOpen
	cfg.SamplingRate = 1.0
	cfg.LoadCeiling = 1.0 // never shed load inside the harness

	cache := pattern.NewCache(builtinSource{}, cfg.PatternCacheTTL)
	logger := harnessLogger()

	return pipeline.New(cfg, pipeline.Deps{
		Sampler:  sampler.New(cfg, sampler.StaticProbe{}, seed),
		Analyzer: analyzer.New(cache),
		Guard:    guard.New(guard.NewLedger(cfg.BudgetWindow), cfg.DailyBudgetUSD, cfg.TokenStormThreshold),
		Gate:     limiter.New(cfg.MaxConcurrentAnalyses, cfg.LimiterQueueDepth),
		Batcher:  pipeline.NewBatcher(export.Discard{}, logger, cfg.BatchSize, cfg.FlushInterval),
		Logger:   logger,
	})
}

// builtinSource serves only the compiled-in patterns, so harness runs do not
// depend on the host's pattern pack directory.
type builtinSource struct{}

func (builtinSource) Load(category model.Category) ([]pattern.Pattern, error) {
	byCategory := pattern.Builtin()
	return byCategory[category], nil
}

func freshSpan() model.Span {
	start := time.Now().UTC().Add(-time.Second)
	return model.Span{
		TraceID:   model.NewTraceID(),
		SpanID:    model.NewSpanID(),
		Name:      "kuzushi.sample",
		StartTime: start,
		EndTime:   start.Add(250 * time.Millisecond),
		LatencyMS: 250,
		RiskScore: 1.0,
		Sampled:   true,
	}
}
