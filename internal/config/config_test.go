package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9190 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.SamplingRate != 0.1 {
		t.Errorf("SamplingRate = %v", cfg.SamplingRate)
	}
	if !cfg.FailOpen {
		t.Error("FailOpen default should be true")
	}
	if cfg.AnalysisTimeout != 200*time.Millisecond {
		t.Errorf("AnalysisTimeout = %v", cfg.AnalysisTimeout)
	}
	if cfg.DailyBudgetUSD != 100.0 {
		t.Errorf("DailyBudgetUSD = %v", cfg.DailyBudgetUSD)
	}
	if cfg.TokenStormThreshold != 50_000 {
		t.Errorf("TokenStormThreshold = %d", cfg.TokenStormThreshold)
	}
	if cfg.BudgetWindow != BudgetWindowUTCDay {
		t.Errorf("BudgetWindow = %q", cfg.BudgetWindow)
	}
	if cfg.WarnBelow != 0.7 {
		t.Errorf("WarnBelow = %v", cfg.WarnBelow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAMORI_PORT", "8080")
	t.Setenv("MAMORI_SAMPLING_RATE", "0.5")
	t.Setenv("MAMORI_FAIL_OPEN", "false")
	t.Setenv("MAMORI_ANALYSIS_TIMEOUT", "500ms")
	t.Setenv("MAMORI_BUDGET_WINDOW", "rolling-24h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.SamplingRate != 0.5 {
		t.Errorf("SamplingRate = %v", cfg.SamplingRate)
	}
	if cfg.FailOpen {
		t.Error("FailOpen not overridden")
	}
	if cfg.AnalysisTimeout != 500*time.Millisecond {
		t.Errorf("AnalysisTimeout = %v", cfg.AnalysisTimeout)
	}
	if cfg.BudgetWindow != BudgetWindowRolling24 {
		t.Errorf("BudgetWindow = %q", cfg.BudgetWindow)
	}
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("MAMORI_PORT", "not-a-number")
	t.Setenv("MAMORI_FLUSH_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9190 {
		t.Errorf("unparseable port did not fall back to default: %d", cfg.Port)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Errorf("unparseable duration did not fall back: %v", cfg.FlushInterval)
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() Config {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sampling rate above 1", func(c *Config) { c.SamplingRate = 1.5 }},
		{"sampling rate negative", func(c *Config) { c.SamplingRate = -0.1 }},
		{"inverted risk thresholds", func(c *Config) { c.RiskThresholdLow = 9; c.RiskThresholdHigh = 1 }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrentAnalyses = 0 }},
		{"negative queue depth", func(c *Config) { c.LimiterQueueDepth = -1 }},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"zero analysis timeout", func(c *Config) { c.AnalysisTimeout = 0 }},
		{"negative budget", func(c *Config) { c.DailyBudgetUSD = -1 }},
		{"zero token storm threshold", func(c *Config) { c.TokenStormThreshold = 0 }},
		{"unknown budget window", func(c *Config) { c.BudgetWindow = "fortnight" }},
		{"zero max body", func(c *Config) { c.MaxRequestBodyBytes = 0 }},
		{"warn below out of range", func(c *Config) { c.WarnBelow = 1.5 }},
		{"negative auth rate", func(c *Config) { c.AuthRateRPS = -1 }},
		{"key hash without jwt secret", func(c *Config) { c.OpsAPIKeyHash = "salt$hash"; c.JWTSecret = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsAuthPair(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.OpsAPIKeyHash = "salt$hash"
	cfg.JWTSecret = "test-secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
