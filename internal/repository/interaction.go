package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/domain"
)

// InteractionRepository stores the pairwise interaction corpus. Rows are kept
// as imported; normalisation and deduplication happen in the index.
type InteractionRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewInteractionRepository creates a new interaction repository
func NewInteractionRepository(db *pgxpool.Pool, logger *logrus.Logger) *InteractionRepository {
	return &InteractionRepository{
		db:  db,
		log: logger,
	}
}

// Insert bulk-loads corpus rows tagged with source.
func (r *InteractionRepository) Insert(ctx context.Context, records []domain.InteractionRecord, source string) (int64, error) {
	n, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"drug_interactions"},
		[]string{"drug_a", "drug_b", "description", "source"},
		pgx.CopyFromSlice(len(records), func(i int) ([]interface{}, error) {
			rec := records[i]
			return []interface{}{rec.DrugA, rec.DrugB, rec.Description, source}, nil
		}),
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"rows":   len(records),
			"source": source,
			"error":  err,
		}).Error("Failed to copy interaction records")
		return 0, fmt.Errorf("copying interactions: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"rows":   n,
		"source": source,
	}).Info("Interaction records stored")
	return n, nil
}

// LoadInteractions implements domain.CorpusSource. Insertion order is kept so
// the first description of a duplicated pair stays first.
func (r *InteractionRepository) LoadInteractions(ctx context.Context) ([]domain.InteractionRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT drug_a, drug_b, description FROM drug_interactions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	var out []domain.InteractionRecord
	for rows.Next() {
		var rec domain.InteractionRecord
		if err := rows.Scan(&rec.DrugA, &rec.DrugB, &rec.Description); err != nil {
			return nil, fmt.Errorf("scanning interaction row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating interaction rows: %w", err)
	}

	r.log.WithField("records", len(out)).Info("Interaction corpus loaded from database")
	return out, nil
}

// DeleteSource removes all rows imported under source.
func (r *InteractionRepository) DeleteSource(ctx context.Context, source string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM drug_interactions WHERE source = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("deleting interactions: %w", err)
	}
	return tag.RowsAffected(), nil
}
