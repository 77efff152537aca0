package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRegistryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "registry",
		Aliases: []string{"models"},
		Short:   "Inspect and manage registered model bundles",
	}

	var (
		limit, offset int
		asJSON        bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered bundles, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tVERSION\tMODEL\tTEST AUC\tTRAINED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%.3f\t%s\n",
					e.ID, e.Version, e.ModelType, e.TestAUC, e.TrainedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	list.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	show := &cobra.Command{
		Use:   "show <version>",
		Short: "Print a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()
			b, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), b)
		},
	}

	var exportOut string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export every bundle as one JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()

			w, done, err := createOutput(cmd, exportOut)
			if err != nil {
				return err
			}
			if err := store.ExportJSON(cmd.Context(), w); err != nil {
				done()
				return err
			}
			return done()
		},
	}
	export.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: stdout)")

	importCmd := &cobra.Command{
		Use:   "import <export.json>",
		Short: "Import bundles; versions already present are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			store, err := a.openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()

			imported, skipped, err := store.ImportJSON(cmd.Context(), f)
			if err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{"imported": imported, "skipped": skipped}).Info("Imported model bundles")
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", imported, skipped)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <version>",
		Short: "Delete a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			n, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s, %d remaining\n", args[0], n)
			return nil
		},
	}

	cmd.AddCommand(list, show, export, importCmd, del)
	return cmd
}
