package pattern

import (
	"time"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Spike implements a pattern with periodic traffic spikes.
type Spike struct {
	baselineRate  float64
	spikeRate     float64
	spikeDuration time.Duration
	spikeInterval time.Duration
}

// NewSpike creates a spike pattern.
// Runs at baselineRate normally, and spikeRate during spikes.
// Spikes occupy the last spikeDuration of every spikeInterval.
func NewSpike(baselineRate, spikeRate float64, spikeDuration, spikeInterval time.Duration) *Spike {
	return &Spike{
		baselineRate:  baselineRate,
		spikeRate:     spikeRate,
		spikeDuration: spikeDuration,
		spikeInterval: spikeInterval,
	}
}

func (s *Spike) Name() types.LoadPattern {
	return types.PatternSpike
}

func (s *Spike) spikeStart() time.Duration {
	return s.spikeInterval - s.spikeDuration
}

// Rate returns the rate based on whether elapsed falls in a spike window.
func (s *Spike) Rate(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed%s.spikeInterval >= s.spikeStart() {
		return s.spikeRate
	}
	return s.baselineRate
}

func (s *Spike) Due(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	full := elapsed / s.spikeInterval
	perInterval := s.baselineRate*s.spikeStart().Seconds() + s.spikeRate*s.spikeDuration.Seconds()
	due := float64(full) * perInterval

	pos := elapsed % s.spikeInterval
	if pos <= s.spikeStart() {
		return due + s.baselineRate*pos.Seconds()
	}
	return due + s.baselineRate*s.spikeStart().Seconds() + s.spikeRate*(pos-s.spikeStart()).Seconds()
}
