package cli

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cdss-mcp-server/internal/api"
	"github.com/cdss-mcp-server/internal/bootstrap"
	"github.com/cdss-mcp-server/internal/interaction"
	mcpserver "github.com/cdss-mcp-server/internal/mcp"
)

func (a *app) runtime(ctx context.Context, corpus corpusOptions) (*bootstrap.Runtime, error) {
	cfg := a.config()
	store, err := a.openRegistry()
	if err != nil {
		return nil, err
	}
	rt, err := bootstrap.NewRuntime(ctx, bootstrap.RuntimeConfig{
		Features:    cfg.Engine.Features,
		Attribution: cfg.Engine.Attribution,
		Cache:       cfg.Cache,
		Store:       store,
		Index: func(ctx context.Context) (*interaction.Index, error) {
			return a.interactionIndex(ctx, corpus)
		},
	}, a.logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return rt, nil
}

func newServeCommand(a *app) *cobra.Command {
	var (
		corpus   corpusOptions
		database bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with health, readiness and metrics endpoints",
		Long: `Serve exposes risk assessment and interaction checks over HTTP. The newest
registered model is loaded at start-up; send SIGHUP to reload it and the
interaction corpus without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := a.runtime(ctx, corpus)
			if err != nil {
				return err
			}
			defer rt.Close()

			deps := api.Deps{Risk: rt.Risk, Interactions: rt.Interactions, Cache: rt.Cache}
			if database || a.config().Registry.Driver == "postgres" {
				db, err := a.openDatabase(ctx)
				if err != nil {
					return err
				}
				defer db.Close()
				deps.Database = db
			}

			rt.ReloadOnHangup(ctx)
			srv := api.NewServer(*a.manager.GetServerConfig(), deps, a.logger)
			a.logger.WithFields(logrus.Fields{
				"version":     Version,
				"environment": a.config().Environment,
			}).Info("Starting CDSS API server")
			return srv.Start(ctx)
		},
	}
	corpus.bind(cmd)
	cmd.Flags().BoolVar(&database, "database", false, "include PostgreSQL in the readiness check")
	return cmd
}

func newMCPCommand(a *app) *cobra.Command {
	var corpus corpusOptions
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the assess_risk, check_interactions and model_info tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := a.runtime(ctx, corpus)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.ReloadOnHangup(ctx)

			srv := mcpserver.NewServer(a.config().MCP, rt.Risk, rt.Interactions, a.logger)
			a.logger.WithField("transport", "stdio").Info("Starting CDSS MCP server")
			if err := srv.RunStdio(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			a.logger.Info("CDSS MCP server stopped")
			return nil
		},
	}
	corpus.bind(cmd)
	return cmd
}
