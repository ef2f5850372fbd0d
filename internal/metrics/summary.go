// Package metrics provides statistics aggregation and Prometheus instrumentation.
package metrics

import (
	"sort"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/runner"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Summarize reduces outcomes to summary statistics. Latency and gas are
// computed over successful outcomes only; TotalTx counts every outcome.
// Empty input yields zero for every statistic.
func Summarize(outcomes []runner.Outcome) types.Summary {
	s := types.Summary{
		Failures: make(map[types.FailureKind]int),
		ByKind:   make(map[types.TxKind]types.KindCounts),
	}

	latencies := make([]float64, 0, len(outcomes))
	var latencySum float64
	for _, o := range outcomes {
		s.TotalTx++
		kc := s.ByKind[o.Kind]
		if o.Succeeded() {
			s.Succeeded++
			kc.Succeeded++
			latencies = append(latencies, o.Measurement.ConfirmationTime)
			latencySum += o.Measurement.ConfirmationTime
			s.TotalGasUsed += o.Measurement.GasUsed
		} else {
			s.Failed++
			kc.Failed++
			kind := types.FailureNodeError
			if o.Failure != nil {
				kind = o.Failure.Kind
			}
			s.Failures[kind]++
		}
		s.ByKind[o.Kind] = kc
	}

	if len(latencies) == 0 {
		return s
	}

	sort.Float64s(latencies)
	n := float64(len(latencies))
	s.AvgConfirmationTime = latencySum / n
	s.MedianConfirmationTime = Median(latencies)
	s.MinConfirmationTime = latencies[0]
	s.MaxConfirmationTime = latencies[len(latencies)-1]
	s.P95ConfirmationTime = Percentile(latencies, 0.95)
	s.AvgGasUsed = float64(s.TotalGasUsed) / n
	return s
}

// Median returns the middle of a sorted slice, averaging the two middle
// values for even lengths. Returns 0 for an empty slice.
func Median(sorted []float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return sorted[n/2]
	default:
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
}

// Percentile returns the p-th percentile (0..1) of a sorted slice using
// linear interpolation between closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// TPS returns total/seconds, or 0 for a non-positive duration.
func TPS(total int, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(total) / seconds
}
