// Package main provides the standalone CDSS MCP server. It needs no external
// services: models come from a SQLite registry in the data directory and the
// interaction corpus from a CSV file or the bundled sample.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/api"
	"github.com/cdss-mcp-server/internal/bootstrap"
	"github.com/cdss-mcp-server/internal/cli"
	"github.com/cdss-mcp-server/internal/config"
	"github.com/cdss-mcp-server/internal/mcp"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cmd := cli.NewSetupCommand()
		cmd.SetArgs(os.Args[2:])
		if err := cmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.LoadLiteConfig()
	logger := config.NewLogger(cfg.LoggingConfig())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("CDSS MCP server failed")
		os.Exit(1)
	}
	logger.Info("CDSS MCP server stopped")
}

func run(ctx context.Context, cfg *config.LiteConfig, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"transport": cfg.Transport,
		"data_dir":  cfg.DataDir,
		"corpus":    cfg.CorpusPath,
	}).Info("Starting CDSS MCP server (lite)")

	rt, err := bootstrap.NewLiteRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.ReloadOnHangup(ctx)

	switch cfg.Transport {
	case "http":
		deps := api.Deps{Risk: rt.Risk, Interactions: rt.Interactions, Cache: rt.Cache}
		return api.NewServer(cfg.ServerConfig(), deps, logger).Start(ctx)
	case "", "stdio":
		err := mcp.NewServer(cfg.MCPConfig(), rt.Risk, rt.Interactions, logger).RunStdio(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
