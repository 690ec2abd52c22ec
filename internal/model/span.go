package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// Span is the record of one intercepted request/response exchange.
// It is assembled by the capture pipeline in a single pass and is
// immutable once handed to the batcher.
type Span struct {
	TraceID   string    `json:"trace_id"` // 32 lowercase hex chars (128-bit)
	SpanID    string    `json:"span_id"`  // 16 lowercase hex chars (64-bit)
	ParentID  *string   `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"` // always >= StartTime

	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	Environment string `json:"environment,omitempty"`

	Sampled   bool    `json:"sampled"`
	RiskScore float64 `json:"risk_score"` // 0..10

	Vulnerabilities []VulnerabilityFinding `json:"vulnerabilities,omitempty"`

	LatencyMS float64  `json:"latency_ms"`
	TokensIn  *int     `json:"tokens_in,omitempty"`
	TokensOut *int     `json:"tokens_out,omitempty"`
	CostUSD   *float64 `json:"cost_usd,omitempty"`

	BudgetExceeded bool `json:"budget_exceeded,omitempty"`
	TokenStorm     bool `json:"token_storm,omitempty"`

	// AnalysisErrors holds error-kind strings (see ErrorKind) accumulated
	// during analysis. DegradedMode is true iff AnalysisErrors is non-empty.
	AnalysisErrors []string `json:"analysis_errors,omitempty"`
	DegradedMode   bool     `json:"degraded_mode"`
}

var (
	traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)
	spanIDPattern  = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

// NewTraceID returns a random 128-bit trace identifier as 32 lowercase hex chars.
func NewTraceID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// NewSpanID returns a random 64-bit span identifier as 16 lowercase hex chars.
func NewSpanID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ValidTraceID reports whether id is a well-formed 128-bit hex trace id.
func ValidTraceID(id string) bool { return traceIDPattern.MatchString(id) }

// ValidSpanID reports whether id is a well-formed 64-bit hex span id.
func ValidSpanID(id string) bool { return spanIDPattern.MatchString(id) }

// Validate checks the span invariants: well-formed identifiers, risk score
// in [0,10], end >= start, non-negative latency and token/cost fields, and
// degraded mode consistent with analysis errors.
func (s Span) Validate() error {
	if !ValidTraceID(s.TraceID) {
		return fmt.Errorf("span: invalid trace_id %q", s.TraceID)
	}
	if !ValidSpanID(s.SpanID) {
		return fmt.Errorf("span: invalid span_id %q", s.SpanID)
	}
	if s.ParentID != nil && !ValidSpanID(*s.ParentID) {
		return fmt.Errorf("span: invalid parent_id %q", *s.ParentID)
	}
	if s.RiskScore < 0 || s.RiskScore > 10 {
		return fmt.Errorf("span: risk_score %.2f out of range [0,10]", s.RiskScore)
	}
	if s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("span: end_time precedes start_time")
	}
	if s.LatencyMS < 0 {
		return fmt.Errorf("span: negative latency_ms %.2f", s.LatencyMS)
	}
	if s.TokensIn != nil && *s.TokensIn < 0 {
		return fmt.Errorf("span: negative tokens_in")
	}
	if s.TokensOut != nil && *s.TokensOut < 0 {
		return fmt.Errorf("span: negative tokens_out")
	}
	if s.CostUSD != nil && *s.CostUSD < 0 {
		return fmt.Errorf("span: negative cost_usd")
	}
	if s.DegradedMode != (len(s.AnalysisErrors) > 0) {
		return fmt.Errorf("span: degraded_mode inconsistent with analysis_errors")
	}
	return nil
}

// Exchange is one observed LLM request/response pair handed to the capture
// pipeline by the interception point. The pipeline never blocks or fails the
// underlying call that produced it.
type Exchange struct {
	TraceID      string    `json:"trace_id,omitempty"` // propagated from upstream; generated if absent
	ParentSpanID *string   `json:"parent_span_id,omitempty"`
	Name         string    `json:"name,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	Request      string    `json:"request"`
	Response     string    `json:"response"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	TokensIn     *int      `json:"tokens_in,omitempty"`
	TokensOut    *int      `json:"tokens_out,omitempty"`
	CostUSD      *float64  `json:"cost_usd,omitempty"`
}

// Payload returns the text the analyzer scores: request and response joined.
func (e Exchange) Payload() string {
	if e.Response == "" {
		return e.Request
	}
	return e.Request + "\n" + e.Response
}

// TotalTokens returns the combined token estimate, or 0 when unreported.
func (e Exchange) TotalTokens() int {
	var n int
	if e.TokensIn != nil {
		n += *e.TokensIn
	}
	if e.TokensOut != nil {
		n += *e.TokensOut
	}
	return n
}
