package model

import (
	"strings"
	"testing"
	"time"
)

func validSpan() Span {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Span{
		TraceID:   "0123456789abcdef0123456789abcdef",
		SpanID:    "0123456789abcdef",
		Name:      "llm.chat",
		StartTime: start,
		EndTime:   start.Add(250 * time.Millisecond),
		LatencyMS: 250,
		RiskScore: 3.5,
		Sampled:   true,
	}
}

func TestSpanValidateAccepts(t *testing.T) {
	if err := validSpan().Validate(); err != nil {
		t.Fatalf("valid span rejected: %v", err)
	}
}

func TestSpanValidateRejects(t *testing.T) {
	parent := "not-hex"
	negative := -1
	negativeCost := -0.5

	cases := []struct {
		name   string
		mutate func(*Span)
	}{
		{"empty trace id", func(s *Span) { s.TraceID = "" }},
		{"short trace id", func(s *Span) { s.TraceID = "abcdef" }},
		{"uppercase trace id", func(s *Span) { s.TraceID = strings.ToUpper(s.TraceID) }},
		{"non-hex trace id", func(s *Span) { s.TraceID = strings.Repeat("g", 32) }},
		{"bad span id", func(s *Span) { s.SpanID = "xyz" }},
		{"bad parent id", func(s *Span) { s.ParentID = &parent }},
		{"risk above 10", func(s *Span) { s.RiskScore = 10.01 }},
		{"risk below 0", func(s *Span) { s.RiskScore = -0.01 }},
		{"end before start", func(s *Span) { s.EndTime = s.StartTime.Add(-time.Second) }},
		{"negative latency", func(s *Span) { s.LatencyMS = -1 }},
		{"negative tokens in", func(s *Span) { s.TokensIn = &negative }},
		{"negative tokens out", func(s *Span) { s.TokensOut = &negative }},
		{"negative cost", func(s *Span) { s.CostUSD = &negativeCost }},
		{"degraded without errors", func(s *Span) { s.DegradedMode = true }},
		{"errors without degraded", func(s *Span) { s.AnalysisErrors = []string{"analysis"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			span := validSpan()
			tc.mutate(&span)
			if err := span.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestSpanValidateDegradedConsistent(t *testing.T) {
	span := validSpan()
	span.DegradedMode = true
	span.AnalysisErrors = []string{string(ErrKindAnalysisTimeout)}
	if err := span.Validate(); err != nil {
		t.Fatalf("consistent degraded span rejected: %v", err)
	}
}

func TestNewIDsAreWellFormed(t *testing.T) {
	for i := 0; i < 100; i++ {
		if id := NewTraceID(); !ValidTraceID(id) {
			t.Fatalf("generated invalid trace id %q", id)
		}
		if id := NewSpanID(); !ValidSpanID(id) {
			t.Fatalf("generated invalid span id %q", id)
		}
	}
}

func TestValidTraceIDBoundaries(t *testing.T) {
	if ValidTraceID(strings.Repeat("a", 31)) {
		t.Error("31 chars accepted")
	}
	if ValidTraceID(strings.Repeat("a", 33)) {
		t.Error("33 chars accepted")
	}
	if !ValidTraceID(strings.Repeat("a", 32)) {
		t.Error("32 hex chars rejected")
	}
	if ValidTraceID(strings.Repeat("A", 32)) {
		t.Error("uppercase hex accepted")
	}
}

func TestExchangePayload(t *testing.T) {
	ex := Exchange{Request: "req", Response: "resp"}
	if got := ex.Payload(); got != "req\nresp" {
		t.Fatalf("Payload = %q", got)
	}
	ex.Response = ""
	if got := ex.Payload(); got != "req" {
		t.Fatalf("Payload without response = %q", got)
	}
}

func TestExchangeTotalTokens(t *testing.T) {
	in, out := 120, 30
	ex := Exchange{TokensIn: &in, TokensOut: &out}
	if got := ex.TotalTokens(); got != 150 {
		t.Fatalf("TotalTokens = %d, want 150", got)
	}
	if got := (Exchange{}).TotalTokens(); got != 0 {
		t.Fatalf("TotalTokens with no counts = %d, want 0", got)
	}
}

func TestValidateExchange(t *testing.T) {
	if err := ValidateExchange(Exchange{Request: "hello"}); err != nil {
		t.Fatalf("minimal exchange rejected: %v", err)
	}

	oversized := Exchange{Request: strings.Repeat("A", MaxPayloadLen+1)}
	if err := ValidateExchange(oversized); err == nil {
		t.Fatal("oversized request accepted")
	}

	atLimit := Exchange{Request: strings.Repeat("A", MaxPayloadLen)}
	if err := ValidateExchange(atLimit); err != nil {
		t.Fatalf("request at limit rejected: %v", err)
	}

	if err := ValidateExchange(Exchange{TraceID: "nope", Request: "x"}); err == nil {
		t.Fatal("malformed trace id accepted")
	}

	// Propagated well-formed trace ids pass through.
	if err := ValidateExchange(Exchange{TraceID: NewTraceID(), Request: "x"}); err != nil {
		t.Fatalf("valid trace id rejected: %v", err)
	}

	now := time.Now()
	inverted := Exchange{Request: "x", StartTime: now, EndTime: now.Add(-time.Second)}
	if err := ValidateExchange(inverted); err == nil {
		t.Fatal("inverted timestamps accepted")
	}
}
