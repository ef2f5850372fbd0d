// Package storage provides persistence for load test history.
package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunInfo describes the environment a suite ran against.
type RunInfo struct {
	RPCURL        string `json:"rpcUrl"`
	ChainID       uint64 `json:"chainId"`
	Sender        string `json:"sender"`
	ClientVersion string `json:"clientVersion,omitempty"`
}

// SuiteRun is a persisted suite execution.
// JSON tags use camelCase to match the results file.
type SuiteRun struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	RunInfo
	Status     string  `json:"status"` // "completed" or "failed"
	CustomName *string `json:"customName,omitempty"`
	IsFavorite bool    `json:"isFavorite"`
	// Aggregates over all scenarios
	TotalTx   int `json:"totalTx"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Results is populated by GetRun and SaveSuite; list queries leave it empty.
	Results []ScenarioResult `json:"results,omitempty"`
}

// ScenarioResult is one scenario's report within a run.
type ScenarioResult struct {
	Key    string               `json:"key"` // report key, e.g. "ethTransfers"
	Report types.ScenarioReport `json:"report"`
}

// NewSuiteRun builds a run record from a suite report.
func NewSuiteRun(suite types.SuiteReport, info RunInfo) *SuiteRun {
	run := &SuiteRun{
		ID:          uuid.NewString(),
		StartedAt:   suite.Timestamp,
		CompletedAt: time.Now().UTC(),
		RunInfo:     info,
		Status:      StatusCompleted,
	}
	if suite.Failed() {
		run.Status = StatusFailed
	}

	for _, name := range types.AllScenarios {
		if r, ok := suite.Tests[name.ReportKey()]; ok {
			run.add(name.ReportKey(), r)
		}
	}
	for key, r := range suite.Tests {
		if _, known := types.ParseScenario(key); !known {
			run.add(key, r)
		}
	}
	return run
}

func (r *SuiteRun) add(key string, report types.ScenarioReport) {
	r.Results = append(r.Results, ScenarioResult{Key: key, Report: report})
	r.TotalTx += report.Stats.TotalTx
	r.Succeeded += report.Stats.Succeeded
	r.Failed += report.Stats.Failed
}

// SuiteReport reassembles the results file document.
func (r *SuiteRun) SuiteReport() types.SuiteReport {
	suite := types.SuiteReport{
		Timestamp: r.StartedAt,
		Tests:     make(map[string]types.ScenarioReport, len(r.Results)),
	}
	for _, res := range r.Results {
		suite.Tests[res.Key] = res.Report
	}
	return suite
}

// DisplayName returns the custom name if set, otherwise the run ID.
func (r *SuiteRun) DisplayName() string {
	if r.CustomName != nil && *r.CustomName != "" {
		return *r.CustomName
	}
	return r.ID
}

// RunMetadataUpdate represents fields that can be updated on a run.
type RunMetadataUpdate struct {
	CustomName *string `json:"customName,omitempty"`
	IsFavorite *bool   `json:"isFavorite,omitempty"`
}

// PaginatedRuns is a page of run history.
type PaginatedRuns struct {
	Runs   []SuiteRun `json:"runs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}
