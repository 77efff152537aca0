package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/domain"
)

// Header names used by the interaction dashboard export, with the snake_case
// forms written by the database export.
var (
	drugAColumns = []string{"drug_1", "drug_a", "drug1"}
	drugBColumns = []string{"drug_2", "drug_b", "drug2"}
	descColumns  = []string{"interaction_description", "description"}
)

// CorpusFile reads the interaction corpus CSV. It implements
// domain.CorpusSource.
type CorpusFile struct {
	Path   string
	Logger *logrus.Logger
}

// NewCorpusFile creates a corpus loader for path.
func NewCorpusFile(path string, logger *logrus.Logger) *CorpusFile {
	return &CorpusFile{Path: path, Logger: logger}
}

// LoadInteractions reads the corpus.
func (f *CorpusFile) LoadInteractions(ctx context.Context) ([]domain.InteractionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open interaction corpus: %w", err)
	}
	defer file.Close()

	records, skipped, err := ReadCorpus(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	if f.Logger != nil {
		f.Logger.WithFields(logrus.Fields{
			"path":    f.Path,
			"pairs":   len(records),
			"skipped": skipped,
		}).Info("Loaded interaction corpus")
	}
	return records, nil
}

// ReadCorpus parses corpus rows. Rows missing either drug name are skipped
// and counted.
func ReadCorpus(r io.Reader) ([]domain.InteractionRecord, int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, 0, fmt.Errorf("corpus is empty")
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	cols := indexHeader(header)

	a, b, d := find(cols, drugAColumns), find(cols, drugBColumns), find(cols, descColumns)
	if a < 0 || b < 0 {
		return nil, 0, fmt.Errorf("corpus needs Drug 1 and Drug 2 columns, got %s", strings.Join(header, ", "))
	}

	var (
		out     []domain.InteractionRecord
		skipped int
	)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", line, err)
		}
		rec := domain.InteractionRecord{
			DrugA:       cell(row, a),
			DrugB:       cell(row, b),
			Description: cell(row, d),
		}
		if rec.DrugA == "" || rec.DrugB == "" {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped, nil
}

func find(cols map[string]int, names []string) int {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i
		}
	}
	return -1
}
