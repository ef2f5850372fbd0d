package pattern

import (
	"time"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Constant implements a fixed-rate load pattern.
type Constant struct {
	rate float64
}

// NewConstant creates a constant rate pattern.
func NewConstant(rate float64) *Constant {
	return &Constant{rate: rate}
}

func (c *Constant) Name() types.LoadPattern {
	return types.PatternConstant
}

// Rate returns the constant rate regardless of elapsed time.
func (c *Constant) Rate(time.Duration) float64 {
	return c.rate
}

func (c *Constant) Due(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return c.rate * elapsed.Seconds()
}
