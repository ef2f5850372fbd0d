package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/runner"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

func confirmed(latency float64, gas uint64) runner.Outcome {
	return runner.Confirmed(0, types.TxKindTransfer, nil, types.Measurement{
		ConfirmationTime: latency,
		GasUsed:          gas,
	})
}

func failed(kind types.TxKind, fk types.FailureKind) runner.Outcome {
	return runner.Failed(0, kind, nil, runner.NewFailure(fk, errors.New("boom")))
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	values := map[string]float64{
		"total":  float64(s.TotalTx),
		"ok":     float64(s.Succeeded),
		"failed": float64(s.Failed),
		"avg":    s.AvgConfirmationTime,
		"median": s.MedianConfirmationTime,
		"min":    s.MinConfirmationTime,
		"max":    s.MaxConfirmationTime,
		"p95":    s.P95ConfirmationTime,
		"gas":    float64(s.TotalGasUsed),
		"avgGas": s.AvgGasUsed,
	}
	for name, v := range values {
		if v != 0 || math.IsNaN(v) {
			t.Errorf("%s = %v, want 0", name, v)
		}
	}
	if s.Failures == nil || s.ByKind == nil {
		t.Error("maps should be non-nil so the report encodes {} not null")
	}
}

func TestSummarize_OnlyFailures(t *testing.T) {
	s := Summarize([]runner.Outcome{
		failed(types.TxKindCall, types.FailureConfirmationTimeout),
		failed(types.TxKindCall, types.FailureConfirmationTimeout),
		failed(types.TxKindDeploy, types.FailureSubmissionRejected),
	})

	if s.TotalTx != 3 || s.Failed != 3 || s.Succeeded != 0 {
		t.Errorf("counts = %d/%d/%d, want 3/0/3", s.TotalTx, s.Succeeded, s.Failed)
	}
	if s.AvgConfirmationTime != 0 || math.IsNaN(s.AvgGasUsed) {
		t.Errorf("latency stats should be zero with no successes, got avg %v", s.AvgConfirmationTime)
	}
	if s.Failures[types.FailureConfirmationTimeout] != 2 {
		t.Errorf("timeouts = %d, want 2", s.Failures[types.FailureConfirmationTimeout])
	}
	if s.Failures[types.FailureSubmissionRejected] != 1 {
		t.Errorf("rejections = %d, want 1", s.Failures[types.FailureSubmissionRejected])
	}
	if got := s.ByKind[types.TxKindCall]; got.Failed != 2 || got.Succeeded != 0 {
		t.Errorf("call counts = %+v", got)
	}
}

func TestSummarize_Median(t *testing.T) {
	tests := []struct {
		name      string
		latencies []float64
		want      float64
	}{
		{"odd", []float64{10, 20, 30}, 20},
		{"even", []float64{10, 20, 30, 40}, 25},
		{"unsorted", []float64{30, 10, 20}, 20},
		{"single", []float64{7}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outcomes []runner.Outcome
			for _, l := range tt.latencies {
				outcomes = append(outcomes, confirmed(l, 21000))
			}
			if got := Summarize(outcomes).MedianConfirmationTime; got != tt.want {
				t.Errorf("median = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummarize_Mixed(t *testing.T) {
	outcomes := []runner.Outcome{
		confirmed(100, 21000),
		confirmed(300, 21000),
		confirmed(200, 50000),
		failed(types.TxKindTransfer, types.FailureNodeError),
	}

	s := Summarize(outcomes)

	if s.TotalTx != 4 {
		t.Errorf("TotalTx = %d, want 4", s.TotalTx)
	}
	if s.Succeeded != 3 || s.Failed != 1 {
		t.Errorf("succeeded/failed = %d/%d, want 3/1", s.Succeeded, s.Failed)
	}
	if s.AvgConfirmationTime != 200 {
		t.Errorf("avg = %v, want 200", s.AvgConfirmationTime)
	}
	if s.MinConfirmationTime != 100 || s.MaxConfirmationTime != 300 {
		t.Errorf("min/max = %v/%v, want 100/300", s.MinConfirmationTime, s.MaxConfirmationTime)
	}
	if s.TotalGasUsed != 92000 {
		t.Errorf("total gas = %d, want 92000", s.TotalGasUsed)
	}
	if math.Abs(s.AvgGasUsed-92000.0/3) > 1e-9 {
		t.Errorf("avg gas = %v, want %v", s.AvgGasUsed, 92000.0/3)
	}
	if got := s.ByKind[types.TxKindTransfer]; got.Succeeded != 3 || got.Failed != 1 {
		t.Errorf("transfer counts = %+v, want 3/1", got)
	}
}

func TestSummarize_FailureWithoutDetail(t *testing.T) {
	// An outcome with neither a measurement nor a failure counts as a node error.
	s := Summarize([]runner.Outcome{{Kind: types.TxKindDeploy}})
	if s.Failures[types.FailureNodeError] != 1 {
		t.Errorf("failures = %v, want one node-error", s.Failures)
	}
}

func TestPercentile(t *testing.T) {
	sorted := make([]float64, 0, 101)
	for i := 0; i <= 100; i++ {
		sorted = append(sorted, float64(i))
	}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 0},
		{0.5, 50},
		{0.95, 95},
		{1, 100},
	}
	for _, tt := range tests {
		if got := Percentile(sorted, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}

	if got := Percentile([]float64{10, 20}, 0.95); math.Abs(got-19.5) > 1e-9 {
		t.Errorf("interpolated p95 = %v, want 19.5", got)
	}
	if got := Percentile(nil, 0.95); got != 0 {
		t.Errorf("empty percentile = %v, want 0", got)
	}
}

func TestTPS(t *testing.T) {
	if got := TPS(100, 4); got != 25 {
		t.Errorf("TPS = %v, want 25", got)
	}
	if got := TPS(100, 0); got != 0 {
		t.Errorf("TPS with zero duration = %v, want 0", got)
	}
	if got := TPS(100, -1); got != 0 {
		t.Errorf("TPS with negative duration = %v, want 0", got)
	}
}
