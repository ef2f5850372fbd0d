package main

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/account"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/config"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/report"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc/rpctest"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

func newTestNode(t *testing.T) *rpctest.Node {
	t.Helper()
	node := rpctest.NewNode(412346)
	dev, err := account.NewAccountFromHex(account.DevPrivateKey)
	require.NoError(t, err)
	node.SetBalance(dev.Address, new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether)))
	return node
}

// execute runs the root command against node and returns its stdout.
func execute(t *testing.T, node *rpctest.Node, args ...string) (string, error) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ConfirmTimeout = time.Second
	a := &app{cfg: cfg}
	if node != nil {
		a.client = node
	}

	cmd := a.rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error", "--progress=false"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTransfers_WritesAndRecords(t *testing.T) {
	node := newTestNode(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")

	out, err := execute(t, node, "transfers",
		"--out-dir", dir, "--db", db,
		"--count", "3", "--concurrency", "1", "--wallets", "0")
	require.NoError(t, err)
	require.Contains(t, out, "results saved to")
	require.Contains(t, out, "run recorded as")
	require.Equal(t, 3, node.SendCount())

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	suite, err := report.ReadJSON(files[0])
	require.NoError(t, err)
	transfers := suite.Tests[types.ScenarioTransfers.ReportKey()]
	require.Equal(t, types.StateDone, transfers.State)
	require.Equal(t, 3, transfers.Stats.Succeeded)

	store, err := storage.NewSQLiteStorage(db)
	require.NoError(t, err)
	defer store.Close()
	page, err := store.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, 3, page.Runs[0].TotalTx)
}

func TestCalls_FixtureFailureExitsNonZero(t *testing.T) {
	node := newTestNode(t)
	node.Errors["eth_sendRawTransaction"] = errors.New("node is syncing")

	_, err := execute(t, node, "calls", "--out-dir", t.TempDir(), "--count", "2")
	require.ErrorIs(t, err, errSuiteFailed)
}

func TestScenarioFlagsValidatedBeforeConnecting(t *testing.T) {
	node := newTestNode(t)
	_, err := execute(t, node, "calls", "--count", "0")
	require.ErrorIs(t, err, errInvalidCount)
	require.Zero(t, node.SendCount())
}

func TestInvalidConfig(t *testing.T) {
	_, err := execute(t, nil, "--rpc", "not a url", "probe")
	require.ErrorIs(t, err, config.ErrInvalidRPCURL)
}

func TestProbe(t *testing.T) {
	out, err := execute(t, newTestNode(t), "probe")
	require.NoError(t, err)
	require.Contains(t, out, "412346")
	require.Contains(t, out, "fakenode/v1.0.0")
}

func TestHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")

	out, err := execute(t, nil, "--db", db, "history", "list")
	require.NoError(t, err)
	require.Contains(t, out, "no runs recorded")

	store, err := storage.NewSQLiteStorage(db)
	require.NoError(t, err)
	run := storage.NewSuiteRun(types.SuiteReport{
		Timestamp: time.Now().UTC(),
		Tests: map[string]types.ScenarioReport{
			types.ScenarioCalls.ReportKey(): {
				Scenario: types.ScenarioCalls,
				State:    types.StateDone,
				Stats:    types.Summary{TotalTx: 4, Succeeded: 4},
			},
		},
	}, storage.RunInfo{RPCURL: "http://node:8547", ChainID: 412346, Sender: "0xabc"})
	require.NoError(t, store.SaveSuite(context.Background(), run))
	require.NoError(t, store.Close())

	_, err = execute(t, nil, "--db", db, "history", "name", run.ID, "baseline")
	require.NoError(t, err)
	_, err = execute(t, nil, "--db", db, "history", "star", run.ID)
	require.NoError(t, err)

	out, err = execute(t, nil, "--db", db, "history", "list")
	require.NoError(t, err)
	require.Contains(t, out, run.ID)
	require.Contains(t, out, "baseline")
	require.Contains(t, out, "showing 1-1 of 1")

	out, err = execute(t, nil, "--db", db, "history", "show", run.ID)
	require.NoError(t, err)
	require.Contains(t, out, "run baseline")
	require.Contains(t, out, "http://node:8547")

	_, err = execute(t, nil, "--db", db, "history", "delete", run.ID)
	require.NoError(t, err)

	_, err = execute(t, nil, "--db", db, "history", "show", run.ID)
	require.ErrorIs(t, err, storage.ErrRunNotFound)
	_, err = execute(t, nil, "--db", db, "history", "star", run.ID)
	require.ErrorIs(t, err, storage.ErrRunNotFound)
}

func TestHistory_Disabled(t *testing.T) {
	_, err := execute(t, nil, "history", "list")
	require.ErrorIs(t, err, errHistoryDisabled)
}

func TestHistory_InvalidLimit(t *testing.T) {
	_, err := execute(t, nil, "--db", filepath.Join(t.TempDir(), "h.db"), "history", "list", "--limit", "0")
	require.ErrorIs(t, err, errInvalidLimit)
}
