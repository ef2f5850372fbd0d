package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/harness"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/report"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/scenario"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/transport"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

const shutdownTimeout = 5 * time.Second

func (a *app) scenarioCmd(use, short string, names []types.ScenarioName) *cobra.Command {
	params := &scenarioParams{}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			_, err := params.options(names)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := params.options(names)
			if err != nil {
				return err
			}
			return a.runScenarios(cmd, names, opts)
		},
	}
	params.setFlags(cmd.Flags())
	return cmd
}

// connect builds the harness; the returned registry backs /metrics.
func (a *app) connect(ctx context.Context) (*harness.Harness, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	h, err := harness.New(ctx, a.cfg, harness.Deps{Client: a.client, Registerer: reg, Logger: a.logger})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", a.cfg.RPCURL, err)
	}
	return h, reg, nil
}

func (a *app) openStore() (storage.Storage, error) {
	if a.cfg.DatabasePath == "" {
		return nil, nil
	}
	store, err := storage.NewSQLiteStorage(a.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	a.logger.Info("initialized storage", slog.String("path", a.cfg.DatabasePath))
	return store, nil
}

// serve starts the metrics/progress server when --listen is set. The
// returned stop function is always safe to call.
func (a *app) serve(h *harness.Harness, reg *prometheus.Registry, store storage.Storage) (*transport.Hub, func()) {
	if a.cfg.ListenAddr == "" {
		return nil, func() {}
	}

	srv := transport.NewServer(transport.ServerConfig{
		Store:              store,
		Health:             transport.RPCHealth{Client: h.Client()},
		Gatherer:           reg,
		Logger:             a.logger,
		CORSAllowedOrigins: a.cfg.CORSAllowedOrigins,
	})
	httpSrv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("HTTP server listening", slog.String("addr", a.cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", slog.String("error", err.Error()))
		}
	}()

	return srv.Hub(), func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("HTTP server shutdown", slog.String("error", err.Error()))
		}
	}
}

func (a *app) runScenarios(cmd *cobra.Command, names []types.ScenarioName, opts map[types.ScenarioName]scenario.Options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, reg, err := a.connect(ctx)
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	hub, stopServer := a.serve(h, reg, store)
	defer stopServer()

	scfg := scenario.Config{Options: opts}
	if hub != nil {
		scfg.OnProgress = hub.Broadcast
	}
	if a.cfg.ShowProgress {
		bars := newProgressBars()
		scfg.OnStart = bars.start
		scfg.OnOutcome = bars.outcome
		scfg.OnState = bars.state
	}
	suite := h.Suite(scfg)

	var result types.SuiteReport
	if len(names) == len(types.AllScenarios) {
		result = suite.RunAll(ctx)
	} else {
		result = types.SuiteReport{
			Timestamp: time.Now().UTC(),
			Tests:     make(map[string]types.ScenarioReport, len(names)),
		}
		for _, name := range names {
			result.Tests[name.ReportKey()] = suite.Run(ctx, name)
		}
	}

	return a.finish(ctx, cmd, h, store, result)
}

// finish prints, writes and records the suite. Output is produced even
// after an interrupt so partial runs are kept.
func (a *app) finish(ctx context.Context, cmd *cobra.Command, h *harness.Harness, store storage.Storage, result types.SuiteReport) error {
	out := cmd.OutOrStdout()
	if len(result.Tests) > 1 {
		report.PrintSuite(out, result)
	}
	for _, name := range types.AllScenarios {
		if r, ok := result.Tests[name.ReportKey()]; ok {
			report.PrintScenario(out, r)
		}
	}

	path, err := report.WriteJSON(a.cfg.OutDir, result)
	if err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	a.logger.Info("results written", slog.String("path", path))
	fmt.Fprintf(out, "results saved to %s\n", path)

	if store != nil {
		run, err := h.Record(context.WithoutCancel(ctx), store, result)
		if err != nil {
			a.logger.Error("failed to record run", slog.String("error", err.Error()))
		} else {
			fmt.Fprintf(out, "run recorded as %s\n", run.ID)
		}
	}

	if result.Failed() {
		return errSuiteFailed
	}
	return nil
}
