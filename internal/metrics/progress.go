package metrics

import (
	"sync/atomic"
	"time"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/runner"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Progress counts submissions of one scenario as they resolve.
// It is safe for concurrent use.
type Progress struct {
	scenario  types.ScenarioName
	sent      atomic.Int64
	confirmed atomic.Int64
	failed    atomic.Int64
}

// NewProgress creates counters for scenario.
func NewProgress(scenario types.ScenarioName) *Progress {
	return &Progress{scenario: scenario}
}

// Sent records a submission accepted for processing.
func (p *Progress) Sent() {
	p.sent.Add(1)
}

// Observe records a resolved outcome.
func (p *Progress) Observe(o runner.Outcome) {
	if o.Succeeded() {
		p.confirmed.Add(1)
	} else {
		p.failed.Add(1)
	}
}

// InFlight returns sent minus resolved, saturating at zero.
func (p *Progress) InFlight() int64 {
	return max(0, p.sent.Load()-p.confirmed.Load()-p.failed.Load())
}

// Resolved returns the number of confirmed plus failed outcomes.
func (p *Progress) Resolved() int64 {
	return p.confirmed.Load() + p.failed.Load()
}

// Event returns a progress snapshot suitable for broadcasting.
func (p *Progress) Event() types.ProgressEvent {
	return types.ProgressEvent{
		Type:      "progress",
		Scenario:  p.scenario,
		Sent:      int(p.sent.Load()),
		Confirmed: int(p.confirmed.Load()),
		Failed:    int(p.failed.Load()),
		InFlight:  int(p.InFlight()),
		Timestamp: time.Now().UnixMilli(),
	}
}
