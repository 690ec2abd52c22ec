// Package sampler decides, per captured exchange, whether the analyzer runs
// at all. The decision is a single pseudo-random draw against an effective
// rate derived from recent risk and current system load, made before any
// analysis so unsampled traffic carries near-zero overhead.
package sampler

import (
	"math/rand"
	"sync"

	"github.com/mamori-ai/mamori/internal/config"
)

// riskWindowSize is how many recent risk scores the rolling average covers.
const riskWindowSize = 64

// Decision is the outcome of one sampling draw.
type Decision struct {
	Include bool
	Rate    float64 // the effective rate the draw was made against
}

// Sampler holds the adaptive sampling state: a rolling average of recent
// risk scores and a bounded escalation window. All methods are safe for
// concurrent use.
type Sampler struct {
	baseRate      float64
	highRiskRate  float64
	lowRiskRate   float64
	thresholdHigh float64
	thresholdLow  float64
	highRiskDraws int
	loadCeiling   float64
	loadReduction float64

	probe LoadProbe

	mu        sync.Mutex
	ring      [riskWindowSize]float64
	idx       int
	count     int
	sum       float64
	escalated int // remaining draws at the escalated rate
	rng       *rand.Rand
}

// New creates a sampler from config. The rng seed is only fixed in tests;
// production callers pass a time-derived seed.
func New(cfg config.Config, probe LoadProbe, seed int64) *Sampler {
	return &Sampler{
		baseRate:      cfg.SamplingRate,
		highRiskRate:  cfg.HighRiskSamplingRate,
		lowRiskRate:   cfg.LowRiskSamplingRate,
		thresholdHigh: cfg.RiskThresholdHigh,
		thresholdLow:  cfg.RiskThresholdLow,
		highRiskDraws: cfg.HighRiskWindow,
		loadCeiling:   cfg.LoadCeiling,
		loadReduction: cfg.LoadReductionFactor,
		probe:         probe,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// Decide makes the inclusion draw for one exchange.
func (s *Sampler) Decide() Decision {
	cpuFrac, memFrac := s.probe.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	rate := s.baseRate
	switch {
	case s.escalated > 0:
		rate = s.highRiskRate
		s.escalated--
	case s.count > 0 && s.rollingRisk() >= s.thresholdHigh:
		rate = s.highRiskRate
		s.escalated = s.highRiskDraws
	case s.count > 0 && s.rollingRisk() <= s.thresholdLow:
		rate = s.lowRiskRate
	}

	// Load shedding applies regardless of risk state.
	if cpuFrac > s.loadCeiling || memFrac > s.loadCeiling {
		rate *= s.loadReduction
	}

	return Decision{Include: s.rng.Float64() < rate, Rate: rate}
}

// Observe feeds an analyzed span's risk score into the rolling average.
func (s *Sampler) Observe(risk float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == riskWindowSize {
		s.sum -= s.ring[s.idx]
	} else {
		s.count++
	}
	s.ring[s.idx] = risk
	s.sum += risk
	s.idx = (s.idx + 1) % riskWindowSize
}

// RollingRisk returns the current rolling average risk score.
func (s *Sampler) RollingRisk() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollingRisk()
}

// rollingRisk must be called with s.mu held.
func (s *Sampler) rollingRisk() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}
