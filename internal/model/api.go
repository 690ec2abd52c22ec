package model

import (
	"fmt"
	"time"
)

// MaxPayloadLen bounds the request/response text accepted on capture.
// Oversized fields would blow up regex scanning cost and evidence storage.
const MaxPayloadLen = 256 * 1024 // 256 KB

// ValidateExchange checks per-field limits and time ordering on a capture
// request before it enters the pipeline.
func ValidateExchange(e Exchange) error {
	if len(e.Request) > MaxPayloadLen {
		return fmt.Errorf("request exceeds maximum length of %d bytes", MaxPayloadLen)
	}
	if len(e.Response) > MaxPayloadLen {
		return fmt.Errorf("response exceeds maximum length of %d bytes", MaxPayloadLen)
	}
	if e.TraceID != "" && !ValidTraceID(e.TraceID) {
		return fmt.Errorf("invalid trace_id %q", e.TraceID)
	}
	if !e.EndTime.IsZero() && !e.StartTime.IsZero() && e.EndTime.Before(e.StartTime) {
		return fmt.Errorf("end_time precedes start_time")
	}
	if e.TokensIn != nil && *e.TokensIn < 0 {
		return fmt.Errorf("negative tokens_in")
	}
	if e.TokensOut != nil && *e.TokensOut < 0 {
		return fmt.Errorf("negative tokens_out")
	}
	if e.CostUSD != nil && *e.CostUSD < 0 {
		return fmt.Errorf("negative cost_usd")
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeDegraded      = "ANALYSIS_DEGRADED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse carries the minted ops token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status            string  `json:"status"` // healthy, degraded, unhealthy
	Version           string  `json:"version"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	BatcherDepth      int     `json:"batcher_depth"`
	BatcherStatus     string  `json:"batcher_status"` // ok, high, critical
	LimiterInFlight   int     `json:"limiter_in_flight"`
	DegradedSpans     int64   `json:"degraded_spans"`
	BudgetExceeded    int64   `json:"budget_exceeded"`
	AnalysisLatencyMS float64 `json:"analysis_latency_ms"` // rolling average
	Postgres          string  `json:"postgres,omitempty"`  // connected, disconnected; empty when no sink
}
