package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for the load tester.
// All methods are no-ops on a nil receiver.
type PrometheusMetrics struct {
	// Transaction counters
	TxTotal *prometheus.CounterVec

	// Gauges
	InFlight      prometheus.Gauge
	ScenarioState *prometheus.GaugeVec

	// Histograms
	ConfirmLatency *prometheus.HistogramVec
	RPCLatency     *prometheus.HistogramVec

	// Error tracking
	ErrorsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadtest_transactions_total",
				Help: "Total transactions by status and kind",
			},
			[]string{"status", "kind"},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loadtest_in_flight_transactions",
				Help: "Transactions submitted but not yet resolved",
			},
		),

		ScenarioState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loadtest_scenario_state",
				Help: "Current scenario state (1 for the active state, 0 otherwise)",
			},
			[]string{"scenario", "state"},
		),

		ConfirmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadtest_confirmation_latency_seconds",
				Help:    "Submission-to-receipt latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadtest_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadtest_errors_total",
				Help: "Failed transactions by failure kind and tx kind",
			},
			[]string{"category", "kind"},
		),
	}
}

// RecordTxSent records a transaction accepted by the node.
func (m *PrometheusMetrics) RecordTxSent(kind types.TxKind) {
	if m == nil {
		return
	}
	m.TxTotal.WithLabelValues("sent", string(kind)).Inc()
	m.InFlight.Inc()
}

// RecordTxConfirmed records a successful confirmation and its latency.
func (m *PrometheusMetrics) RecordTxConfirmed(kind types.TxKind, latency time.Duration) {
	if m == nil {
		return
	}
	m.TxTotal.WithLabelValues("confirmed", string(kind)).Inc()
	m.ConfirmLatency.WithLabelValues(string(kind)).Observe(latency.Seconds())
}

// RecordTxFailed records a failed transaction by failure category.
func (m *PrometheusMetrics) RecordTxFailed(kind types.TxKind, failure types.FailureKind) {
	if m == nil {
		return
	}
	m.TxTotal.WithLabelValues("failed", string(kind)).Inc()
	m.ErrorsTotal.WithLabelValues(string(failure), string(kind)).Inc()
}

// RecordResolved marks a sent transaction as no longer in flight.
func (m *PrometheusMetrics) RecordResolved() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_sendRawTransaction":               true,
	"eth_getTransactionCount":              true,
	"eth_blockNumber":                      true,
	"eth_getBlockByNumber":                 true,
	"eth_getBlockTransactionCountByNumber": true,
	"eth_getCode":                          true,
	"eth_gasPrice":                         true,
	"eth_chainId":                          true,
	"eth_estimateGas":                      true,
	"eth_getBalance":                       true,
	"eth_getTransactionReceipt":            true,
	"eth_call":                             true,
	"web3_clientVersion":                   true,
}

// ObserveRPC records RPC call latency. Its signature matches rpc.ObserveFunc.
func (m *PrometheusMetrics) ObserveRPC(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	// Bucket unknown methods into 'other' to prevent cardinality explosion
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, status).Observe(d.Seconds())
}

var allStates = []types.ScenarioState{
	types.StateInitializing,
	types.StateFundingWallets,
	types.StateDeployingFixture,
	types.StateSubmitting,
	types.StateDraining,
	types.StateSummarizing,
	types.StateDone,
	types.StateFailed,
}

// SetScenarioState marks state as the active state of scenario.
func (m *PrometheusMetrics) SetScenarioState(scenario types.ScenarioName, state types.ScenarioState) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ScenarioState.WithLabelValues(string(scenario), string(s)).Set(v)
	}
}
