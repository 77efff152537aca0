package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdss-mcp-server/internal/bootstrap"
	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/interaction"
	"github.com/cdss-mcp-server/internal/repository"
)

type corpusOptions struct {
	corpus string
	fromDB bool
}

func (o *corpusOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.corpus, "corpus", "", "interaction corpus CSV (default: engine.interactions.corpus_path)")
	cmd.Flags().BoolVar(&o.fromDB, "from-db", false, "load the corpus from PostgreSQL")
}

func newInteractionsCommand(a *app) *cobra.Command {
	var (
		corpus corpusOptions
		stats  bool
		top    int
	)
	cmd := &cobra.Command{
		Use:   "interactions [drug...]",
		Short: "Check a medication list for known drug interactions",
		Long: `Interactions normalises each drug name, resolves brand aliases and reports
every interacting pair with its severity, most severe first. Names missing
from the corpus are reported as warnings, never errors.

Example:
  cdss interactions warfarin aspirin Advil
  cdss interactions --stats --top 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !stats && len(args) == 0 {
				return fmt.Errorf("name at least one drug, or pass --stats")
			}
			ix, err := a.interactionIndex(cmd.Context(), corpus)
			if err != nil {
				return err
			}
			if stats {
				return writeJSON(cmd.OutOrStdout(), ix.Stats(top))
			}
			return writeJSON(cmd.OutOrStdout(), ix.Lookup(args))
		},
	}
	corpus.bind(cmd)
	cmd.Flags().BoolVar(&stats, "stats", false, "print corpus statistics instead of checking drugs")
	cmd.Flags().IntVar(&top, "top", 10, "number of most connected drugs in --stats")
	return cmd
}

// interactionIndex builds the index from the flag, the database or the
// configured corpus, in that order.
func (a *app) interactionIndex(ctx context.Context, opts corpusOptions) (*interaction.Index, error) {
	ic := a.manager.GetEngineConfig().Interactions
	if opts.corpus != "" {
		ic.CorpusPath = opts.corpus
	}
	if !opts.fromDB {
		return bootstrap.InteractionIndex(ctx, ic, a.logger)
	}
	if opts.corpus != "" {
		return nil, fmt.Errorf("--corpus and --from-db are mutually exclusive")
	}

	db, err := a.openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	var src domain.CorpusSource = repository.NewInteractionRepository(db.Pool, a.logger)
	return bootstrap.InteractionIndexFrom(ctx, src, ic, a.logger)
}
