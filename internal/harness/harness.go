// Package harness wires the RPC client, signer and submission pipeline for
// one sender against one node.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/account"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/config"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/metrics"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/pipeline"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/probe"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/ratelimit"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/scenario"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/txbuilder"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Deps are the optional collaborators of a Harness.
type Deps struct {
	// Client overrides the HTTP client built from the config.
	Client rpc.Client
	// Registerer receives the Prometheus collectors. Default: a fresh registry.
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Harness is a ready-to-use sender against the node under test.
type Harness struct {
	cfg      *config.Config
	client   rpc.Client
	signer   *txbuilder.Signer
	pipeline *pipeline.Pipeline
	metrics  *metrics.PrometheusMetrics
	logger   *slog.Logger
}

// New connects to the node, reads its chain ID and gas price and builds the
// signer and pipeline. It fails if the node is unreachable.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Harness, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.NewPrometheusMetrics(reg)

	client := deps.Client
	if client == nil {
		clientCfg := rpc.DefaultClientConfig(cfg.RPCURL)
		clientCfg.Limiter = ratelimit.NewRPCLimiter(cfg.RPCRequestsPerSec, 0)
		clientCfg.Observer = m.ObserveRPC
		clientCfg.Logger = logger
		client = rpc.NewHTTPClient(clientCfg)
	}

	sender, err := account.NewAccountFromHex(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	gasPrice, err := client.GetGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}

	signer, err := txbuilder.NewSigner(sender.PrivateKey, chainID, txbuilder.FeeConfig{
		GasPrice:  gasPrice,
		UseLegacy: cfg.UseLegacyTx,
	})
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	p := pipeline.New(pipeline.Config{
		Client:         client,
		Signer:         signer,
		Nonces:         account.NewNonceAllocator(signer.From(), client),
		Metrics:        m,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Logger:         logger,
	})

	logger.Info("connected to node",
		slog.String("rpc", cfg.RPCURL),
		slog.String("chain_id", chainID.String()),
		slog.String("sender", signer.From().Hex()),
		slog.String("gas_price", gasPrice.String()),
		slog.Bool("legacy", cfg.UseLegacyTx),
	)

	return &Harness{
		cfg:      cfg,
		client:   client,
		signer:   signer,
		pipeline: p,
		metrics:  m,
		logger:   logger,
	}, nil
}

// Client returns the RPC client.
func (h *Harness) Client() rpc.Client { return h.client }

// Sender returns the sending address.
func (h *Harness) Sender() common.Address { return h.signer.From() }

// ChainID returns the chain ID reported by the node.
func (h *Harness) ChainID() *big.Int { return h.signer.ChainID() }

// Metrics returns the Prometheus instrumentation.
func (h *Harness) Metrics() *metrics.PrometheusMetrics { return h.metrics }

// Suite creates a scenario suite on the harness pipeline. Pipeline, Metrics
// and Logger in cfg are filled in when unset.
func (h *Harness) Suite(cfg scenario.Config) *scenario.Suite {
	if cfg.Pipeline == nil {
		cfg.Pipeline = h.pipeline
	}
	if cfg.Metrics == nil {
		cfg.Metrics = h.metrics
	}
	if cfg.Logger == nil {
		cfg.Logger = h.logger
	}
	return scenario.NewSuite(cfg)
}

// Probe checks that the node can serve a load test from this sender.
func (h *Harness) Probe(ctx context.Context) (types.ProbeResult, error) {
	return probe.Probe(ctx, h.client, h.Sender())
}

// RunScenario runs a single scenario with opts.
func (h *Harness) RunScenario(ctx context.Context, name types.ScenarioName, opts scenario.Options) types.ScenarioReport {
	suite := h.Suite(scenario.Config{
		Options: map[types.ScenarioName]scenario.Options{name: opts},
	})
	return suite.Run(ctx, name)
}

// RunInfo describes the environment for the run history.
func (h *Harness) RunInfo(ctx context.Context) storage.RunInfo {
	info := storage.RunInfo{
		RPCURL:  h.cfg.RPCURL,
		ChainID: h.ChainID().Uint64(),
		Sender:  h.Sender().Hex(),
	}
	if v, err := h.client.ClientVersion(ctx); err == nil {
		info.ClientVersion = v
	} else {
		h.logger.Debug("client version unavailable", slog.String("error", err.Error()))
	}
	return info
}

// Record stores a finished suite in the run history.
func (h *Harness) Record(ctx context.Context, store storage.Storage, suite types.SuiteReport) (*storage.SuiteRun, error) {
	run := storage.NewSuiteRun(suite, h.RunInfo(ctx))
	if err := store.SaveSuite(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	h.logger.Info("run recorded", slog.String("id", run.ID), slog.String("status", run.Status))
	return run, nil
}
