// Package cli implements the cdss command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cdss-mcp-server/internal/config"
	"github.com/cdss-mcp-server/internal/database"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/registry"
)

// Version is set at build time.
var Version = "dev"

// app carries the state shared by every subcommand once the root has loaded
// configuration.
type app struct {
	cfgFile string
	verbose bool

	manager *config.Manager
	logger  *logrus.Logger
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cdss",
		Short: "Clinical risk scoring and drug interaction checks",
		Long: `cdss trains and serves an adverse-event risk model with per-feature
attributions, and checks medication lists against a drug interaction corpus.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (CDSS_*)
  3. Config file (--config, ./config.yaml or /etc/cdss-mcp-server/config.yaml)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newVersionCommand(),
		newSynthCommand(a),
		newTrainCommand(a),
		newAssessCommand(a),
		newInteractionsCommand(a),
		newServeCommand(a),
		newMCPCommand(a),
		newMigrateCommand(a),
		newRegistryCommand(a),
		newImportCommand(a),
		NewSetupCommand(),
	)
	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cdss %s\n", Version)
		},
	}
}

func (a *app) load(cmd *cobra.Command) error {
	m, err := config.NewManagerFromFile(a.cfgFile)
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.manager = m

	a.logger = config.NewLogger(m.GetConfig().Logging)
	// Command output owns stdout; only the HTTP server logs where configured.
	if cmd.Name() != "serve" {
		a.logger.SetOutput(cmd.ErrOrStderr())
	}
	if a.verbose {
		a.logger.SetLevel(logrus.DebugLevel)
	}
	return nil
}

func (a *app) config() *domain.Config { return a.manager.GetConfig() }

func (a *app) databaseURL() string {
	return database.ConfigFromDomain(a.config().Database).URL()
}

func (a *app) openDatabase(ctx context.Context) (*database.DB, error) {
	return database.NewConnection(ctx, database.ConfigFromDomain(a.config().Database), a.logger)
}

func (a *app) openRegistry() (registry.Store, error) {
	return registry.NewStore(a.config().Registry, a.databaseURL(), a.logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// createOutput opens path for writing, or returns stdout for "" and "-".
func createOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, f.Close, nil
}
