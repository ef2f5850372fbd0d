package pattern

import (
	"time"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Ramp implements a linearly increasing rate pattern. Past its duration it
// holds the end rate.
type Ramp struct {
	startRate float64
	endRate   float64
	duration  time.Duration
}

// NewRamp creates a ramp pattern that increases from startRate to endRate over duration.
func NewRamp(startRate, endRate float64, duration time.Duration) *Ramp {
	return &Ramp{
		startRate: startRate,
		endRate:   endRate,
		duration:  duration,
	}
}

func (r *Ramp) Name() types.LoadPattern {
	return types.PatternRamp
}

// Rate returns the rate based on linear interpolation of elapsed time.
func (r *Ramp) Rate(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return r.startRate
	}
	if elapsed >= r.duration {
		return r.endRate
	}
	progress := float64(elapsed) / float64(r.duration)
	return r.startRate + progress*(r.endRate-r.startRate)
}

func (r *Ramp) Due(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	ramp := min(elapsed, r.duration).Seconds()
	// trapezoid under the ramp, then the flat tail
	due := ramp * (r.startRate + r.Rate(elapsed)) / 2
	if elapsed > r.duration {
		due += r.endRate * (elapsed - r.duration).Seconds()
	}
	return due
}
