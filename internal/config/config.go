// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// BudgetWindow selects how the daily spend window resets.
type BudgetWindow string

const (
	BudgetWindowUTCDay    BudgetWindow = "utc-day"
	BudgetWindowRolling24 BudgetWindow = "rolling-24h"
)

// Config holds all application configuration. Immutable after load.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Sampling.
	SamplingRate         float64 // base inclusion probability, 0..1
	HighRiskSamplingRate float64
	LowRiskSamplingRate  float64
	RiskThresholdHigh    float64 // rolling risk >= this escalates sampling
	RiskThresholdLow     float64 // rolling risk <= this relaxes sampling
	HighRiskWindow       int     // draws the escalated rate persists for
	LoadCeiling          float64 // CPU/memory fraction above which sampling is reduced
	LoadReductionFactor  float64

	// Analysis.
	FailOpen              bool
	AnalysisTimeout       time.Duration
	MaxConcurrentAnalyses int
	LimiterQueueDepth     int
	PatternPacksDir       string
	PatternCacheTTL       time.Duration

	// Cost guard.
	DailyBudgetUSD      float64
	TokenStormThreshold int
	BudgetWindow        BudgetWindow

	// Batching and export.
	BatchSize       int
	FlushInterval   time.Duration
	SpanSinkURL     string // Postgres DSN; empty disables the Postgres sink
	RetentionPeriod time.Duration

	// Resilience harness.
	ReportDBPath  string  // SQLite path for persisted resilience reports
	WarnBelow     float64 // resilience verdict threshold
	ResultsDir    string  // directory of ingested test-result files
	ChaosDuration time.Duration

	// Ops API auth. Empty key hash disables auth on mutating endpoints.
	OpsAPIKeyHash string
	JWTSecret     string
	JWTExpiration time.Duration

	// Token endpoint rate limiting, per client IP. Zero RPS disables it.
	AuthRateRPS   float64
	AuthRateBurst int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string
	Environment  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	MCPEnabled          bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:         envInt("MAMORI_PORT", 9190),
		ReadTimeout:  envDuration("MAMORI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout: envDuration("MAMORI_WRITE_TIMEOUT", 30*time.Second),

		SamplingRate:         envFloat("MAMORI_SAMPLING_RATE", 0.1),
		HighRiskSamplingRate: envFloat("MAMORI_HIGH_RISK_SAMPLING_RATE", 1.0),
		LowRiskSamplingRate:  envFloat("MAMORI_LOW_RISK_SAMPLING_RATE", 0.01),
		RiskThresholdHigh:    envFloat("MAMORI_RISK_THRESHOLD_HIGH", 7.0),
		RiskThresholdLow:     envFloat("MAMORI_RISK_THRESHOLD_LOW", 2.0),
		HighRiskWindow:       envInt("MAMORI_HIGH_RISK_WINDOW", 100),
		LoadCeiling:          envFloat("MAMORI_LOAD_CEILING", 0.85),
		LoadReductionFactor:  envFloat("MAMORI_LOAD_REDUCTION_FACTOR", 0.5),

		FailOpen:              envBool("MAMORI_FAIL_OPEN", true),
		AnalysisTimeout:       envDuration("MAMORI_ANALYSIS_TIMEOUT", 200*time.Millisecond),
		MaxConcurrentAnalyses: envInt("MAMORI_MAX_CONCURRENT_ANALYSES", 16),
		LimiterQueueDepth:     envInt("MAMORI_LIMITER_QUEUE_DEPTH", 64),
		PatternPacksDir:       envStr("MAMORI_PATTERN_PACKS_DIR", ""),
		PatternCacheTTL:       envDuration("MAMORI_PATTERN_CACHE_TTL", 5*time.Minute),

		DailyBudgetUSD:      envFloat("MAMORI_DAILY_BUDGET", 100.0),
		TokenStormThreshold: envInt("MAMORI_TOKEN_STORM_THRESHOLD", 50_000),
		BudgetWindow:        BudgetWindow(envStr("MAMORI_BUDGET_WINDOW", string(BudgetWindowUTCDay))),

		BatchSize:       envInt("MAMORI_BATCH_SIZE", 100),
		FlushInterval:   envDuration("MAMORI_FLUSH_INTERVAL", 2*time.Second),
		SpanSinkURL:     envStr("MAMORI_SPAN_SINK_URL", ""),
		RetentionPeriod: envDuration("MAMORI_RETENTION_PERIOD", 30*24*time.Hour),

		ReportDBPath:  envStr("MAMORI_REPORT_DB_PATH", "mamori-reports.db"),
		WarnBelow:     envFloat("MAMORI_RESILIENCE_WARN_BELOW", 0.7),
		ResultsDir:    envStr("MAMORI_RESULTS_DIR", ""),
		ChaosDuration: envDuration("MAMORI_CHAOS_DURATION", 10*time.Second),

		OpsAPIKeyHash: envStr("MAMORI_OPS_API_KEY_HASH", ""),
		JWTSecret:     envStr("MAMORI_JWT_SECRET", ""),
		JWTExpiration: envDuration("MAMORI_JWT_EXPIRATION", 1*time.Hour),

		AuthRateRPS:   envFloat("MAMORI_AUTH_RATE_RPS", 0.5),
		AuthRateBurst: envInt("MAMORI_AUTH_RATE_BURST", 20),

		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "mamori"),
		Environment:  envStr("MAMORI_ENVIRONMENT", "dev"),

		LogLevel:            envStr("MAMORI_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("MAMORI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
		MCPEnabled:          envBool("MAMORI_MCP_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are internally consistent.
func (c Config) Validate() error {
	for name, rate := range map[string]float64{
		"MAMORI_SAMPLING_RATE":           c.SamplingRate,
		"MAMORI_HIGH_RISK_SAMPLING_RATE": c.HighRiskSamplingRate,
		"MAMORI_LOW_RISK_SAMPLING_RATE":  c.LowRiskSamplingRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("config: %s must be in [0,1], got %g", name, rate)
		}
	}
	if c.RiskThresholdLow > c.RiskThresholdHigh {
		return fmt.Errorf("config: MAMORI_RISK_THRESHOLD_LOW (%g) exceeds MAMORI_RISK_THRESHOLD_HIGH (%g)",
			c.RiskThresholdLow, c.RiskThresholdHigh)
	}
	if c.MaxConcurrentAnalyses <= 0 {
		return fmt.Errorf("config: MAMORI_MAX_CONCURRENT_ANALYSES must be positive")
	}
	if c.LimiterQueueDepth < 0 {
		return fmt.Errorf("config: MAMORI_LIMITER_QUEUE_DEPTH must be non-negative")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: MAMORI_BATCH_SIZE must be positive")
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("config: MAMORI_ANALYSIS_TIMEOUT must be positive")
	}
	if c.DailyBudgetUSD < 0 {
		return fmt.Errorf("config: MAMORI_DAILY_BUDGET must be non-negative")
	}
	if c.TokenStormThreshold <= 0 {
		return fmt.Errorf("config: MAMORI_TOKEN_STORM_THRESHOLD must be positive")
	}
	switch c.BudgetWindow {
	case BudgetWindowUTCDay, BudgetWindowRolling24:
	default:
		return fmt.Errorf("config: MAMORI_BUDGET_WINDOW must be %q or %q, got %q",
			BudgetWindowUTCDay, BudgetWindowRolling24, c.BudgetWindow)
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: MAMORI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.WarnBelow < 0 || c.WarnBelow > 1 {
		return fmt.Errorf("config: MAMORI_RESILIENCE_WARN_BELOW must be in [0,1]")
	}
	if c.AuthRateRPS < 0 || c.AuthRateBurst < 0 {
		return fmt.Errorf("config: auth rate limit settings must be non-negative")
	}
	if c.OpsAPIKeyHash != "" && c.JWTSecret == "" {
		return fmt.Errorf("config: MAMORI_JWT_SECRET is required when MAMORI_OPS_API_KEY_HASH is set")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
