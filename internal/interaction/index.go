package interaction

import (
	"sort"

	"github.com/cdss-mcp-server/internal/domain"
)

type pairKey struct {
	a, b string
}

// canonical orders a pair lexicographically so (a, b) and (b, a) share a key.
func canonical(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

type entry struct {
	severity    domain.Severity
	description string
}

// Result is the outcome of one lookup.
type Result struct {
	Findings []domain.InteractionFinding `json:"findings"`
	Warnings []domain.UnknownDrugWarning `json:"warnings,omitempty"`
	// Resolved lists the distinct normalised names that were checked, sorted.
	Resolved []string `json:"resolved"`
}

// Index is an immutable interaction lookup table. Safe for concurrent use.
type Index struct {
	pairs      map[pairKey]entry
	vocab      map[string]struct{}
	degree     map[string]int
	normalizer *Normalizer
	selfPairs  int
	duplicates int
	malformed  int
}

type options struct {
	aliases    map[string]string
	classifier SeverityClassifier
}

// Option configures NewIndex.
type Option func(*options)

// WithAliases installs a brand to generic alias table.
func WithAliases(aliases map[string]string) Option {
	return func(o *options) { o.aliases = aliases }
}

// WithClassifier replaces the default keyword classifier.
func WithClassifier(c SeverityClassifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// NewIndex builds the index. Rows are normalised and stored once under their
// canonical key; the first description of a key wins and self-pairs are
// dropped. Severity is classified once here.
func NewIndex(records []domain.InteractionRecord, opts ...Option) *Index {
	o := options{classifier: NewKeywordClassifier(DefaultKeywordRules())}
	for _, opt := range opts {
		opt(&o)
	}

	ix := &Index{
		pairs:      make(map[pairKey]entry, len(records)),
		vocab:      make(map[string]struct{}),
		degree:     make(map[string]int),
		normalizer: NewNormalizer(o.aliases),
	}
	for _, r := range records {
		a, b := ix.normalizer.Normalize(r.DrugA), ix.normalizer.Normalize(r.DrugB)
		if a == "" || b == "" {
			ix.malformed++
			continue
		}
		ix.vocab[a] = struct{}{}
		ix.vocab[b] = struct{}{}
		if a == b {
			ix.selfPairs++
			continue
		}
		key := canonical(a, b)
		if _, ok := ix.pairs[key]; ok {
			ix.duplicates++
			continue
		}
		ix.pairs[key] = entry{severity: o.classifier.Classify(r.Description), description: r.Description}
		ix.degree[a]++
		ix.degree[b]++
	}
	return ix
}

// Normalize exposes the index normaliser.
func (ix *Index) Normalize(name string) string { return ix.normalizer.Normalize(name) }

// Known reports whether name resolves to a corpus drug.
func (ix *Index) Known(name string) bool {
	_, ok := ix.vocab[ix.normalizer.Normalize(name)]
	return ok
}

// Lookup returns every corpus interaction among the distinct normalised
// names in drugs, ordered High, Moderate, Minor and then by canonical key.
// Unresolvable names produce warnings and are skipped.
func (ix *Index) Lookup(drugs []string) Result {
	res := Result{Findings: []domain.InteractionFinding{}, Resolved: []string{}}
	seen := make(map[string]bool, len(drugs))
	for _, d := range drugs {
		n := ix.normalizer.Normalize(d)
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := ix.vocab[n]; !ok {
			res.Warnings = append(res.Warnings, domain.UnknownDrugWarning{Input: d, Normalized: n})
			continue
		}
		res.Resolved = append(res.Resolved, n)
	}
	sort.Strings(res.Resolved)
	sort.Slice(res.Warnings, func(i, j int) bool {
		return res.Warnings[i].Normalized < res.Warnings[j].Normalized
	})

	for i := 0; i < len(res.Resolved); i++ {
		for j := i + 1; j < len(res.Resolved); j++ {
			key := canonical(res.Resolved[i], res.Resolved[j])
			e, ok := ix.pairs[key]
			if !ok {
				continue
			}
			res.Findings = append(res.Findings, domain.InteractionFinding{
				DrugA:       key.a,
				DrugB:       key.b,
				Severity:    e.severity,
				Description: e.description,
			})
		}
	}

	sort.Slice(res.Findings, func(i, j int) bool {
		fi, fj := res.Findings[i], res.Findings[j]
		if ri, rj := fi.Severity.Rank(), fj.Severity.Rank(); ri != rj {
			return ri < rj
		}
		if fi.DrugA != fj.DrugA {
			return fi.DrugA < fj.DrugA
		}
		return fi.DrugB < fj.DrugB
	})
	return res
}

// DrugCount is a drug with the number of distinct interactions it takes part in.
type DrugCount struct {
	Drug         string `json:"drug"`
	Interactions int    `json:"interactions"`
}

// Stats describes the indexed corpus.
type Stats struct {
	Pairs      int                     `json:"pairs"`
	Vocabulary int                     `json:"vocabulary"`
	Aliases    int                     `json:"aliases"`
	BySeverity map[domain.Severity]int `json:"by_severity"`
	TopDrugs   []DrugCount             `json:"top_drugs"`
	SelfPairs  int                     `json:"self_pairs"`
	Duplicates int                     `json:"duplicates"`
	Malformed  int                     `json:"malformed"`
}

// Stats summarises the corpus with the top n drugs by interaction count,
// ties alphabetical.
func (ix *Index) Stats(top int) Stats {
	st := Stats{
		Pairs:      len(ix.pairs),
		Vocabulary: len(ix.vocab),
		Aliases:    ix.normalizer.Aliases(),
		BySeverity: map[domain.Severity]int{},
		SelfPairs:  ix.selfPairs,
		Duplicates: ix.duplicates,
		Malformed:  ix.malformed,
	}
	for _, e := range ix.pairs {
		st.BySeverity[e.severity]++
	}

	counts := make([]DrugCount, 0, len(ix.degree))
	for d, n := range ix.degree {
		counts = append(counts, DrugCount{Drug: d, Interactions: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Interactions != counts[j].Interactions {
			return counts[i].Interactions > counts[j].Interactions
		}
		return counts[i].Drug < counts[j].Drug
	})
	if top > 0 && len(counts) > top {
		counts = counts[:top]
	}
	st.TopDrugs = counts
	return st
}
