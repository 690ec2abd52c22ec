package export

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mamori-ai/mamori/internal/model"
)

// Vendor attribute namespace. Trace and span ids are high-cardinality by
// nature; everything else in the namespace is bounded (enum categories,
// provider/environment labels, numeric scores).
const (
	attrRiskScore       = "mamori.risk_score"
	attrVulnerabilities = "mamori.vulnerabilities"
	attrTokensIn        = "mamori.tokens_in"
	attrTokensOut       = "mamori.tokens_out"
	attrCostUSD         = "mamori.cost_usd"
	attrDegradedMode    = "mamori.degraded_mode"
	attrAnalysisErrors  = "mamori.analysis_errors"
	attrBudgetExceeded  = "mamori.budget_exceeded"
	attrTokenStorm      = "mamori.token_storm"
	attrProvider        = "mamori.provider"
	attrModel           = "mamori.model"
	attrEnvironment     = "mamori.environment"
	attrSourceSpanID    = "mamori.source_span_id"
	attrComplianceRefs  = "mamori.compliance_controls"
)

// complianceControls maps finding categories to the OWASP LLM Top-10 control
// references carried on exported spans.
var complianceControls = map[model.Category]string{
	model.CategoryPromptInjection:  "LLM01",
	model.CategoryInsecureOutput:   "LLM02",
	model.CategoryModelDoS:         "LLM04",
	model.CategorySensitiveInfo:    "LLM06",
	model.CategoryDataExfiltration: "LLM06",
}

// OTelSink re-emits captured spans through the global tracer provider, which
// the telemetry package points at the configured OTLP endpoint. The captured
// trace id is preserved by parenting the emitted span on the original
// remote span context; the original span id rides along as an attribute.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink creates an OTel span sink.
func NewOTelSink() *OTelSink {
	return &OTelSink{tracer: otel.Tracer("mamori/export")}
}

// Export implements Sink.
func (s *OTelSink) Export(ctx context.Context, spans []model.Span) error {
	for _, sp := range spans {
		s.emit(ctx, sp)
	}
	return nil
}

func (s *OTelSink) emit(ctx context.Context, sp model.Span) {
	if tid, err := trace.TraceIDFromHex(sp.TraceID); err == nil {
		var sid trace.SpanID
		if parsed, err := trace.SpanIDFromHex(sp.SpanID); err == nil {
			sid = parsed
		}
		ctx = trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: tid,
			SpanID:  sid,
			Remote:  true,
		}))
	}

	name := sp.Name
	if name == "" {
		name = "llm.exchange"
	}

	_, otelSpan := s.tracer.Start(ctx, name,
		trace.WithTimestamp(sp.StartTime),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	otelSpan.SetAttributes(spanAttributes(sp)...)
	otelSpan.End(trace.WithTimestamp(sp.EndTime))
}

func spanAttributes(sp model.Span) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Float64(attrRiskScore, sp.RiskScore),
		attribute.Bool(attrDegradedMode, sp.DegradedMode),
		attribute.String(attrSourceSpanID, sp.SpanID),
	}
	if sp.Provider != "" {
		attrs = append(attrs, attribute.String(attrProvider, sp.Provider))
	}
	if sp.Model != "" {
		attrs = append(attrs, attribute.String(attrModel, sp.Model))
	}
	if sp.Environment != "" {
		attrs = append(attrs, attribute.String(attrEnvironment, sp.Environment))
	}
	if sp.TokensIn != nil {
		attrs = append(attrs, attribute.Int(attrTokensIn, *sp.TokensIn))
	}
	if sp.TokensOut != nil {
		attrs = append(attrs, attribute.Int(attrTokensOut, *sp.TokensOut))
	}
	if sp.CostUSD != nil {
		attrs = append(attrs, attribute.Float64(attrCostUSD, *sp.CostUSD))
	}
	if sp.BudgetExceeded {
		attrs = append(attrs, attribute.Bool(attrBudgetExceeded, true))
	}
	if sp.TokenStorm {
		attrs = append(attrs, attribute.Bool(attrTokenStorm, true))
	}
	if len(sp.AnalysisErrors) > 0 {
		attrs = append(attrs, attribute.StringSlice(attrAnalysisErrors, sp.AnalysisErrors))
	}
	if len(sp.Vulnerabilities) > 0 {
		if encoded, err := json.Marshal(sp.Vulnerabilities); err == nil {
			attrs = append(attrs, attribute.String(attrVulnerabilities, string(encoded)))
		}
		attrs = append(attrs, attribute.StringSlice(attrComplianceRefs, controlRefs(sp.Vulnerabilities)))
	}
	return attrs
}

// controlRefs returns the deduplicated compliance control references for a
// span's findings, in finding order.
func controlRefs(findings []model.VulnerabilityFinding) []string {
	seen := make(map[string]bool, len(findings))
	var refs []string
	for _, f := range findings {
		ref, ok := complianceControls[f.Category]
		if !ok || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}
