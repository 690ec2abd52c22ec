package sampler

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// LoadProbe reports current system pressure as fractions in [0,1].
type LoadProbe interface {
	Load() (cpuFrac, memFrac float64)
}

// probeInterval bounds how often the system probe actually reads the OS.
// Sampling decisions happen per exchange; re-reading /proc every time would
// cost more than the analysis it gates.
const probeInterval = 5 * time.Second

// SystemProbe reads CPU and memory utilisation via gopsutil, caching the
// reading for probeInterval.
type SystemProbe struct {
	mu       sync.Mutex
	cpuFrac  float64
	memFrac  float64
	lastRead time.Time
}

// NewSystemProbe creates a system load probe.
func NewSystemProbe() *SystemProbe {
	return &SystemProbe{}
}

// Load returns the cached utilisation fractions, refreshing them when stale.
// Probe failures leave the previous reading in place: a broken probe must
// never stall the sampling decision.
func (p *SystemProbe) Load() (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastRead) < probeInterval {
		return p.cpuFrac, p.memFrac
	}
	p.lastRead = time.Now()

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		p.cpuFrac = percents[0] / 100
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		p.memFrac = vm.UsedPercent / 100
	}
	return p.cpuFrac, p.memFrac
}

// StaticProbe returns fixed readings; used in tests and when load-based
// reduction is disabled.
type StaticProbe struct {
	CPU float64
	Mem float64
}

func (p StaticProbe) Load() (float64, float64) { return p.CPU, p.Mem }
