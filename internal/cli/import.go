package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cdss-mcp-server/internal/loader"
	"github.com/cdss-mcp-server/internal/repository"
)

func newImportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load cohort or corpus files into PostgreSQL",
		Long: `Import bulk-copies CSV files into the database so train --from-db and
interactions --from-db can read them. Run migrate up first.`,
	}

	var reference bool
	cohort := &cobra.Command{
		Use:   "cohort <file.csv>",
		Short: "Import a labelled cohort, or unlabelled reference records with --reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			file := loader.NewCohortFile(args[0], a.logger)

			db, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := repository.NewCohortRepository(db.Pool, a.logger)

			var n int64
			if reference {
				records, err := file.LoadReference(ctx)
				if err != nil {
					return err
				}
				n, err = repo.InsertUnlabeled(ctx, records)
				if err != nil {
					return err
				}
			} else {
				records, err := file.LoadCohort(ctx)
				if err != nil {
					return err
				}
				n, err = repo.Insert(ctx, records)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d patients\n", n)
			return nil
		},
	}
	cohort.Flags().BoolVar(&reference, "reference", false, "store records without labels")

	var (
		source  string
		replace bool
	)
	corpus := &cobra.Command{
		Use:   "corpus <file.csv>",
		Short: "Import an interaction corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			records, err := loader.NewCorpusFile(args[0], a.logger).LoadInteractions(ctx)
			if err != nil {
				return err
			}

			db, err := a.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := repository.NewInteractionRepository(db.Pool, a.logger)

			tag := source
			if tag == "" {
				tag = filepath.Base(args[0])
			}
			if replace {
				if _, err := repo.DeleteSource(ctx, tag); err != nil {
					return err
				}
			}
			n, err := repo.Insert(ctx, records, tag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d interactions from %s\n", n, tag)
			return nil
		},
	}
	corpus.Flags().StringVar(&source, "source", "", "source tag stored with each row (default: file name)")
	corpus.Flags().BoolVar(&replace, "replace", false, "delete rows with the same source tag first")

	cmd.AddCommand(cohort, corpus)
	return cmd
}
