// Package pattern provides the rate shapes of the mixed workload.
package pattern

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

var (
	ErrInvalidRate     = errors.New("pattern rate must be positive")
	ErrInvalidSpike    = errors.New("spike duration must be positive and no longer than the spike interval")
	ErrUnknownPattern  = errors.New("unknown pattern")
	ErrInvalidDuration = errors.New("ramp duration must be positive")
)

// Pattern describes a target submission rate over elapsed time.
type Pattern interface {
	// Name returns the pattern identifier.
	Name() types.LoadPattern

	// Rate returns the target submissions per second at elapsed.
	Rate(elapsed time.Duration) float64

	// Due returns the submissions owed between the start and elapsed, the
	// integral of Rate.
	Due(elapsed time.Duration) float64
}

// Config holds pattern-specific configuration. TPS is the steady rate
// every pattern is built around.
type Config struct {
	TPS      float64
	Duration time.Duration

	// Ramp pattern: climbs from RampStart to TPS over Duration.
	RampStart float64

	// Spike pattern: TPS normally, SpikeRate for the last SpikeDuration of
	// every SpikeInterval.
	SpikeRate     float64
	SpikeDuration time.Duration
	SpikeInterval time.Duration
}

// Registry manages pattern lookup by name.
type Registry struct {
	patterns map[types.LoadPattern]func(Config) (Pattern, error)
}

// NewRegistry creates a registry with the built-in patterns.
func NewRegistry() *Registry {
	r := &Registry{
		patterns: make(map[types.LoadPattern]func(Config) (Pattern, error)),
	}

	r.Register(types.PatternConstant, func(cfg Config) (Pattern, error) {
		if cfg.TPS <= 0 {
			return nil, ErrInvalidRate
		}
		return NewConstant(cfg.TPS), nil
	})
	r.Register(types.PatternRamp, func(cfg Config) (Pattern, error) {
		if cfg.TPS <= 0 || cfg.RampStart < 0 {
			return nil, ErrInvalidRate
		}
		if cfg.Duration <= 0 {
			return nil, ErrInvalidDuration
		}
		return NewRamp(cfg.RampStart, cfg.TPS, cfg.Duration), nil
	})
	r.Register(types.PatternSpike, func(cfg Config) (Pattern, error) {
		if cfg.TPS <= 0 || cfg.SpikeRate <= 0 {
			return nil, ErrInvalidRate
		}
		if cfg.SpikeDuration <= 0 || cfg.SpikeDuration > cfg.SpikeInterval {
			return nil, ErrInvalidSpike
		}
		return NewSpike(cfg.TPS, cfg.SpikeRate, cfg.SpikeDuration, cfg.SpikeInterval), nil
	})

	return r
}

// Register adds a pattern factory to the registry.
func (r *Registry) Register(name types.LoadPattern, factory func(Config) (Pattern, error)) {
	r.patterns[name] = factory
}

// Get returns a pattern instance for the given name and config.
func (r *Registry) Get(name types.LoadPattern, cfg Config) (Pattern, error) {
	factory, ok := r.patterns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, name)
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s pattern: %w", name, err)
	}
	return p, nil
}
