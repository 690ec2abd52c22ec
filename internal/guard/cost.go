// Package guard enforces the cost budget on captured traffic. The guard
// never aborts the underlying exchange; its verdicts are attached to spans
// as attributes, and any blocking policy is layered on top elsewhere.
package guard

import (
	"sync"
	"time"

	"github.com/mamori-ai/mamori/internal/config"
)

// Estimate is the spend and token estimate for one exchange.
type Estimate struct {
	CostUSD float64
	Tokens  int
}

// Verdict is the outcome of a budget check.
type Verdict struct {
	BudgetExceeded bool
	TokenStorm     bool
	DailySpendUSD  float64 // cumulative spend after recording this estimate
}

// Ledger is the mutable spend accumulator (the cost guard state). It is an
// explicit object passed through the pipeline, not a process-wide singleton,
// so multiple pipelines can run in one process without cross-contamination.
//
// Within a window, spend only increases. The window reset is an explicit
// boundary check performed on each update rather than a timer, so it
// tolerates clock skew and missed ticks.
type Ledger struct {
	mu          sync.Mutex
	spendUSD    float64
	windowStart time.Time

	window config.BudgetWindow
	now    func() time.Time
}

// NewLedger creates a ledger with the given window policy.
func NewLedger(window config.BudgetWindow) *Ledger {
	return &Ledger{window: window, now: time.Now}
}

// record accumulates cost, rolling the window first if the boundary passed.
// Returns the cumulative spend after recording.
func (l *Ledger) record(cost float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	switch l.window {
	case config.BudgetWindowRolling24:
		if now.Sub(l.windowStart) >= 24*time.Hour {
			l.spendUSD = 0
			l.windowStart = now
		}
	default: // fixed UTC day
		if dayOf(now) != dayOf(l.windowStart) {
			l.spendUSD = 0
			l.windowStart = now
		}
	}

	l.spendUSD += cost
	return l.spendUSD
}

// Spend returns the cumulative spend in the current window. Readers see an
// eventually-consistent snapshot; only record mutates the total.
func (l *Ledger) Spend() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spendUSD
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Guard applies the configured budget policy over a ledger.
type Guard struct {
	ledger              *Ledger
	dailyBudgetUSD      float64
	tokenStormThreshold int
}

// New creates a cost guard over the given ledger.
func New(ledger *Ledger, dailyBudgetUSD float64, tokenStormThreshold int) *Guard {
	return &Guard{
		ledger:              ledger,
		dailyBudgetUSD:      dailyBudgetUSD,
		tokenStormThreshold: tokenStormThreshold,
	}
}

// Check records the estimate and returns the verdict. Spend is recorded even
// when over budget, keeping the ledger an accurate account of actual cost.
func (g *Guard) Check(est Estimate) Verdict {
	spend := g.ledger.record(est.CostUSD)
	return Verdict{
		BudgetExceeded: spend > g.dailyBudgetUSD,
		TokenStorm:     est.Tokens > g.tokenStormThreshold,
		DailySpendUSD:  spend,
	}
}

// Ledger exposes the underlying ledger for health reporting.
func (g *Guard) Ledger() *Ledger { return g.ledger }
