package cli

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/cdss-mcp-server/internal/database"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	withRunner := func(fn func(cmd *cobra.Command, mr *database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			mr, err := database.NewMigrationRunner(a.databaseURL(), a.logger)
			if err != nil {
				return err
			}
			defer mr.Close()
			return fn(cmd, mr)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(cmd *cobra.Command, mr *database.MigrationRunner) error {
				return mr.Up(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(cmd *cobra.Command, mr *database.MigrationRunner) error {
				return mr.Down(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(cmd *cobra.Command, mr *database.MigrationRunner) error {
				v, dirty, err := mr.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d", v)
				if dirty {
					fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			}),
		},
	)
	return cmd
}
