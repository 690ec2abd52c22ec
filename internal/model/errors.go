package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the degraded-analysis accounting tag recorded on a span.
// Degradation is data, not an exception path: the pipeline converts caught
// errors into kinds appended to Span.AnalysisErrors.
type ErrorKind string

const (
	ErrKindNetwork          ErrorKind = "network"
	ErrKindAnalysisTimeout  ErrorKind = "analysis_timeout"
	ErrKindInvalidRequest   ErrorKind = "invalid_request"
	ErrKindInsufficientData ErrorKind = "insufficient_data"
	ErrKindAnalysis         ErrorKind = "analysis"
	ErrKindLimiterSaturated ErrorKind = "limiter_saturated"
)

// NetworkError is a transport failure talking to a collaborator (pattern
// source, export sink). Retryable; absorbed into a degraded span under
// fail-open.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AnalysisTimeoutError reports that the analyzer exceeded its deadline.
// It belongs to the NetworkError class for retry classification.
type AnalysisTimeoutError struct {
	Timeout time.Duration
}

func (e *AnalysisTimeoutError) Error() string {
	return fmt.Sprintf("analysis exceeded timeout of %s", e.Timeout)
}

// AuthenticationError is non-retryable and always raised, regardless of the
// fail-open policy: the system cannot function without valid credentials.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// RateLimitError carries the retry-after hint. It is surfaced to whatever
// retries the outer call, never silently absorbed.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AnalysisError wraps a failure inside the analyzer itself.
type AnalysisError struct {
	Kind ErrorKind // ErrKindInvalidRequest, ErrKindInsufficientData or ErrKindAnalysis
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis error (%s): %v", e.Kind, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// ConfigurationError is non-retryable and always raised.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ErrFuzzerPackNotFound signals a named pattern or fuzzer pack that does not
// exist. Wrap it in a ConfigurationError so it always propagates.
var ErrFuzzerPackNotFound = errors.New("fuzzer pack not found")

// ReportGenerationError reports a failure assembling or persisting a
// resilience report.
type ReportGenerationError struct {
	Stage string
	Err   error
}

func (e *ReportGenerationError) Error() string {
	return fmt.Sprintf("report generation failed at %s: %v", e.Stage, e.Err)
}

func (e *ReportGenerationError) Unwrap() error { return e.Err }

// KindOf maps an error to the span accounting kind. Unknown errors count as
// generic analysis failures.
func KindOf(err error) ErrorKind {
	var (
		netErr     *NetworkError
		timeoutErr *AnalysisTimeoutError
		anaErr     *AnalysisError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return ErrKindAnalysisTimeout
	case errors.As(err, &netErr):
		return ErrKindNetwork
	case errors.As(err, &anaErr):
		return anaErr.Kind
	default:
		return ErrKindAnalysis
	}
}

// AlwaysRaise reports whether err must propagate to the caller even under
// fail-open: authentication and configuration failures mean the sidecar
// cannot function correctly at all.
func AlwaysRaise(err error) bool {
	var authErr *AuthenticationError
	var cfgErr *ConfigurationError
	return errors.As(err, &authErr) || errors.As(err, &cfgErr)
}
