package main

import (
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/runner"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// progressBars renders one terminal bar per scenario while it submits.
type progressBars struct {
	mu   sync.Mutex
	bars map[types.ScenarioName]*progressbar.ProgressBar
}

func newProgressBars() *progressBars {
	return &progressBars{bars: make(map[types.ScenarioName]*progressbar.ProgressBar)}
}

// start opens a bar; expected -1 renders a spinner.
func (p *progressBars) start(name types.ScenarioName, expected int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[name] = progressbar.Default(int64(expected), string(name))
}

func (p *progressBars) outcome(name types.ScenarioName, _ runner.Outcome) {
	p.mu.Lock()
	bar := p.bars[name]
	p.mu.Unlock()
	if bar != nil {
		_ = bar.Add(1)
	}
}

// state closes the bar once the scenario stops accepting outcomes.
func (p *progressBars) state(name types.ScenarioName, _, to types.ScenarioState) {
	if to != types.StateSummarizing && to != types.StateFailed {
		return
	}
	p.mu.Lock()
	bar := p.bars[name]
	delete(p.bars, name)
	p.mu.Unlock()
	if bar != nil {
		_ = bar.Finish()
	}
}
