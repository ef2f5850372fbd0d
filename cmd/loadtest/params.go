package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/config"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/pattern"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/scenario"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/txbuilder"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

const (
	countFlag       = "count"
	concurrencyFlag = "concurrency"
	valueFlag       = "value"
	gasLimitFlag    = "gas-limit"
	walletsFlag     = "wallets"
	fundAmountFlag  = "fund-amount"
	durationFlag    = "duration"
	tpsFlag         = "tps"
	maxInFlightFlag = "max-in-flight"
	weightsFlag     = "weights"
	slidingFlag     = "sliding"

	patternFlag       = "pattern"
	rampStartFlag     = "ramp-start"
	spikeRateFlag     = "spike-rate"
	spikeDurationFlag = "spike-duration"
	spikeIntervalFlag = "spike-interval"

	// spikeMultiplier sets the default spike rate relative to --tps.
	spikeMultiplier = 5
)

var (
	errInvalidCount       = errors.New("count must be greater than 0")
	errInvalidConcurrency = errors.New("concurrency must be greater than 0")
	errInvalidWallets     = errors.New("wallets cannot be negative")
	errInvalidDuration    = errors.New("duration must be greater than 0")
	errInvalidTPS         = errors.New("tps must be greater than 0")
	errInvalidMaxInFlight = errors.New("max-in-flight must be greater than 0")
)

// scenarioParams holds the scenario flags. A flag only overrides the
// scenario default when it was set on the command line.
type scenarioParams struct {
	count       int
	concurrency int
	value       string
	gasLimit    uint64
	wallets     int
	fundAmount  string
	duration    time.Duration
	tps         float64
	maxInFlight int
	weights     string
	sliding     bool

	pattern       string
	rampStart     float64
	spikeRate     float64
	spikeDuration time.Duration
	spikeInterval time.Duration

	flags *pflag.FlagSet
}

func (p *scenarioParams) setFlags(fs *pflag.FlagSet) {
	p.flags = fs

	fs.IntVar(&p.count, countFlag, 0, "transactions per count-driven scenario (default: scenario default)")
	fs.IntVar(&p.concurrency, concurrencyFlag, 0, "batch size of concurrent submissions")
	fs.StringVar(&p.value, valueFlag, "", "ether sent per transfer, e.g. 0.001")
	fs.Uint64Var(&p.gasLimit, gasLimitFlag, 0, "gas limit per transaction")
	fs.IntVar(&p.wallets, walletsFlag, 0, "recipient wallets to generate (0 sends to self)")
	fs.StringVar(&p.fundAmount, fundAmountFlag, "", "ether sent to each generated wallet (0 skips funding)")
	fs.DurationVar(&p.duration, durationFlag, 0, "mixed workload duration")
	fs.Float64Var(&p.tps, tpsFlag, 0, "mixed workload target submissions per second")
	fs.IntVar(&p.maxInFlight, maxInFlightFlag, 0, "mixed workload in-flight ceiling")
	fs.StringVar(&p.weights, weightsFlag, "", `mixed workload variants, e.g. "transfer=2,call=1,deploy=1/10"`)
	fs.BoolVar(&p.sliding, slidingFlag, false, "refill submission slots as they free up instead of in batches")

	fs.StringVar(&p.pattern, patternFlag, string(types.PatternConstant), "mixed workload rate shape (constant, ramp, spike)")
	fs.Float64Var(&p.rampStart, rampStartFlag, 0, "ramp pattern starting rate; climbs to --tps over --duration")
	fs.Float64Var(&p.spikeRate, spikeRateFlag, 0, "spike pattern peak rate (default 5x --tps)")
	fs.DurationVar(&p.spikeDuration, spikeDurationFlag, 5*time.Second, "spike pattern peak length")
	fs.DurationVar(&p.spikeInterval, spikeIntervalFlag, 15*time.Second, "spike pattern period")
}

func (p *scenarioParams) changed(name string) bool {
	return p.flags != nil && p.flags.Changed(name)
}

// options returns the effective options of each scenario.
func (p *scenarioParams) options(names []types.ScenarioName) (map[types.ScenarioName]scenario.Options, error) {
	out := make(map[types.ScenarioName]scenario.Options, len(names))
	for _, name := range names {
		opts, err := p.apply(name, scenario.DefaultOptions(name))
		if err != nil {
			return nil, err
		}
		if err := validateOptions(name, opts); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = opts
	}
	return out, nil
}

func (p *scenarioParams) apply(name types.ScenarioName, opts scenario.Options) (scenario.Options, error) {
	mixed := name == types.ScenarioMixed

	if !mixed {
		if p.changed(countFlag) {
			opts.Count = p.count
		}
		if p.changed(concurrencyFlag) {
			opts.Concurrency = p.concurrency
		}
		if p.changed(gasLimitFlag) {
			opts.GasLimit = p.gasLimit
		}
		if p.changed(slidingFlag) {
			opts.Sliding = p.sliding
		}
	}

	if name == types.ScenarioTransfers || mixed {
		if p.changed(valueFlag) {
			v, err := config.ParseEther(p.value)
			if err != nil {
				return opts, fmt.Errorf("--%s: %w", valueFlag, err)
			}
			opts.Value = v
		}
		if p.changed(walletsFlag) {
			opts.Wallets = p.wallets
		}
		if p.changed(fundAmountFlag) {
			v, err := config.ParseEther(p.fundAmount)
			if err != nil {
				return opts, fmt.Errorf("--%s: %w", fundAmountFlag, err)
			}
			opts.FundAmount = v
		}
	}

	if mixed {
		if p.changed(durationFlag) {
			opts.Duration = p.duration
		}
		if p.changed(tpsFlag) {
			opts.TPS = p.tps
		}
		if p.changed(maxInFlightFlag) {
			opts.MaxInFlight = p.maxInFlight
		}
		if p.changed(weightsFlag) {
			variants, err := txbuilder.ParseVariants(p.weights)
			if err != nil {
				return opts, fmt.Errorf("--%s: %w", weightsFlag, err)
			}
			opts.Variants = variants
		}
		if p.changed(patternFlag) {
			shape, err := p.shape(opts)
			if err != nil {
				return opts, fmt.Errorf("--%s: %w", patternFlag, err)
			}
			opts.Pattern = shape
		}
	}

	return opts, nil
}

// shape builds the mixed workload's rate pattern around its TPS and duration.
func (p *scenarioParams) shape(opts scenario.Options) (pattern.Pattern, error) {
	spikeRate := p.spikeRate
	if spikeRate == 0 {
		spikeRate = spikeMultiplier * opts.TPS
	}
	return pattern.NewRegistry().Get(types.LoadPattern(p.pattern), pattern.Config{
		TPS:           opts.TPS,
		Duration:      opts.Duration,
		RampStart:     p.rampStart,
		SpikeRate:     spikeRate,
		SpikeDuration: p.spikeDuration,
		SpikeInterval: p.spikeInterval,
	})
}

func validateOptions(name types.ScenarioName, opts scenario.Options) error {
	if opts.Wallets < 0 {
		return errInvalidWallets
	}

	if name == types.ScenarioMixed {
		if opts.Duration <= 0 {
			return errInvalidDuration
		}
		if opts.TPS <= 0 {
			return errInvalidTPS
		}
		if opts.MaxInFlight <= 0 {
			return errInvalidMaxInFlight
		}
		_, err := txbuilder.NewVariantTable(opts.Variants...)
		return err
	}

	if opts.Count < 1 {
		return errInvalidCount
	}
	if opts.Concurrency < 1 {
		return errInvalidConcurrency
	}
	return nil
}
