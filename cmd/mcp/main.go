// Load tester MCP server.
// Exposes probes, scenarios and run history over MCP stdio transport.
// Configuration comes from .env and the environment (RPC_URL, PRIVATE_KEY,
// DATABASE_PATH, ...). Logs go to stderr; stdout carries the protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/config"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/harness"
	mcptools "github.com/jeongkyun-oh/arbitrum-load-test/internal/mcp"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
)

const connectTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := cfg.Logger(os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	h, err := harness.New(ctx, cfg, harness.Deps{Logger: logger})
	cancel()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.RPCURL, err)
	}

	var store storage.Storage
	if cfg.DatabasePath != "" {
		sqlite, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer sqlite.Close()
		store = sqlite
		logger.Info("initialized storage", slog.String("path", cfg.DatabasePath))
	}

	s := server.NewMCPServer(
		"arbitrum-load-test",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	mcptools.RegisterTools(s, h, store)

	return server.ServeStdio(s)
}
