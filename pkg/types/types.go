// Package types contains the public report types for the load tester.
// These types form the persisted JSON contract and must remain backwards-compatible.
package types

import "time"

// ScenarioName identifies one workload shape.
type ScenarioName string

const (
	ScenarioTransfers   ScenarioName = "eth-transfers"
	ScenarioDeployments ScenarioName = "contract-deployment"
	ScenarioCalls       ScenarioName = "contract-calls"
	ScenarioMixed       ScenarioName = "mixed-workload"
)

// AllScenarios lists the scenarios in the order a full suite runs them.
var AllScenarios = []ScenarioName{
	ScenarioTransfers,
	ScenarioDeployments,
	ScenarioCalls,
	ScenarioMixed,
}

// ReportKey returns the key used for the scenario in the suite report's tests map.
func (s ScenarioName) ReportKey() string {
	switch s {
	case ScenarioTransfers:
		return "ethTransfers"
	case ScenarioDeployments:
		return "contractDeployment"
	case ScenarioCalls:
		return "contractCalls"
	case ScenarioMixed:
		return "mixedWorkload"
	default:
		return string(s)
	}
}

// ParseScenario resolves either the scenario name or its report key.
func ParseScenario(s string) (ScenarioName, bool) {
	for _, name := range AllScenarios {
		if s == string(name) || s == name.ReportKey() {
			return name, true
		}
	}
	return "", false
}

// TxKind is the workload variant a transaction belongs to.
type TxKind string

const (
	TxKindTransfer TxKind = "transfer"
	TxKindCall     TxKind = "call"
	TxKindDeploy   TxKind = "deploy"
)

// LoadPattern is the shape of the mixed workload's target rate over time.
type LoadPattern string

const (
	PatternConstant LoadPattern = "constant"
	PatternRamp     LoadPattern = "ramp"
	PatternSpike    LoadPattern = "spike"
)

// FailureKind categorizes a failed transaction attempt.
type FailureKind string

const (
	// FailureSubmissionRejected means the node refused the signed transaction.
	FailureSubmissionRejected FailureKind = "submission-rejected"
	// FailureConfirmationTimeout means no receipt arrived before the confirm deadline.
	FailureConfirmationTimeout FailureKind = "confirmation-timeout"
	// FailureNodeError covers reverted receipts and errors while polling for one.
	FailureNodeError FailureKind = "node-error"
)

// ScenarioState is a step of the scenario driver state machine.
type ScenarioState string

const (
	StateInitializing     ScenarioState = "initializing"
	StateFundingWallets   ScenarioState = "funding-wallets"
	StateDeployingFixture ScenarioState = "deploying-fixture"
	StateSubmitting       ScenarioState = "submitting"
	StateDraining         ScenarioState = "draining"
	StateSummarizing      ScenarioState = "summarizing"
	StateDone             ScenarioState = "done"
	StateFailed           ScenarioState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ScenarioState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Measurement is derived from a confirmed transaction.
type Measurement struct {
	TxHash           string  `json:"txHash"`
	ConfirmationTime float64 `json:"confirmationTime"` // ms
	BlockNumber      uint64  `json:"blockNumber"`
	GasUsed          uint64  `json:"gasUsed"`
}

// KindCounts holds per-variant success and failure counts.
type KindCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Summary holds aggregate statistics over a scenario's outcomes.
type Summary struct {
	TotalTx                int                   `json:"totalTx"`
	Succeeded              int                   `json:"succeeded"`
	Failed                 int                   `json:"failed"`
	AvgConfirmationTime    float64               `json:"avgConfirmationTime"`    // ms
	MedianConfirmationTime float64               `json:"medianConfirmationTime"` // ms
	MinConfirmationTime    float64               `json:"minConfirmationTime"`    // ms
	MaxConfirmationTime    float64               `json:"maxConfirmationTime"`    // ms
	P95ConfirmationTime    float64               `json:"p95ConfirmationTime"`    // ms
	TotalGasUsed           uint64                `json:"totalGasUsed"`
	AvgGasUsed             float64               `json:"avgGasUsed"`
	Failures               map[FailureKind]int   `json:"failures"`
	ByKind                 map[TxKind]KindCounts `json:"byKind"`
}

// NodeSnapshot captures node-level metrics at one point in time.
type NodeSnapshot struct {
	BlockNumber             uint64 `json:"blockNumber"`
	LatestBlockTimestamp    uint64 `json:"latestBlockTimestamp"`
	LatestBlockTransactions int    `json:"latestBlockTransactions"`
	ClientVersion           string `json:"clientVersion"`
	PendingTransactions     uint64 `json:"pendingTransactions"`
}

// ScenarioReport is the result of one scenario run.
type ScenarioReport struct {
	Scenario       ScenarioName  `json:"scenario"`
	State          ScenarioState `json:"state"`
	Stats          Summary       `json:"stats"`
	InitialMetrics NodeSnapshot  `json:"initialMetrics"`
	FinalMetrics   NodeSnapshot  `json:"finalMetrics"`
	BlocksProduced int64         `json:"blocksProduced"`
	TotalDuration  float64       `json:"totalDuration"` // seconds
	TPS            float64       `json:"tps"`
	TxCount        int           `json:"txCount,omitempty"` // issued count, mixed workload only
	Error          string        `json:"error,omitempty"`
}

// SuiteReport is the persisted document for one full run.
type SuiteReport struct {
	Timestamp time.Time                 `json:"timestamp"`
	Tests     map[string]ScenarioReport `json:"tests"`
}

// Failed reports whether any scenario in the suite failed.
func (r SuiteReport) Failed() bool {
	for _, t := range r.Tests {
		if t.State == StateFailed {
			return true
		}
	}
	return false
}

// ProgressEvent is broadcast to live listeners while a scenario runs.
type ProgressEvent struct {
	Type      string        `json:"type"` // "state" or "progress"
	Scenario  ScenarioName  `json:"scenario"`
	State     ScenarioState `json:"state,omitempty"`
	Sent      int           `json:"sent"`
	Confirmed int           `json:"confirmed"`
	Failed    int           `json:"failed"`
	InFlight  int           `json:"inFlight"`
	Timestamp int64         `json:"timestamp"` // unix ms
}

// ProbeResult is the outcome of a node connectivity probe.
type ProbeResult struct {
	BlockNumber   uint64 `json:"blockNumber"`
	ChainID       uint64 `json:"chainId"`
	GasPrice      string `json:"gasPrice"` // wei
	Sender        string `json:"sender"`
	Balance       string `json:"balance"` // wei
	EstimatedGas  uint64 `json:"estimatedGas"`
	ClientVersion string `json:"clientVersion"`
}
