package interaction

import (
	"strings"

	"github.com/cdss-mcp-server/internal/domain"
)

// SeverityClassifier derives a severity from an interaction description.
type SeverityClassifier interface {
	Classify(description string) domain.Severity
}

// KeywordRule assigns Severity when any keyword occurs in the description.
type KeywordRule struct {
	Severity domain.Severity `yaml:"severity" json:"severity"`
	Keywords []string        `yaml:"keywords" json:"keywords"`
}

// DefaultKeywordRules is the standard rule set.
func DefaultKeywordRules() []KeywordRule {
	return []KeywordRule{
		{Severity: domain.SeverityHigh, Keywords: []string{"contraindicated", "avoid", "dangerous"}},
		{Severity: domain.SeverityModerate, Keywords: []string{"increase", "enhance", "monitor"}},
	}
}

// ExtendedKeywordRules widens the default vocabulary with severe and major
// for High and potentiate and caution for Moderate.
func ExtendedKeywordRules() []KeywordRule {
	return []KeywordRule{
		{Severity: domain.SeverityHigh, Keywords: []string{"contraindicated", "avoid", "dangerous", "severe", "major"}},
		{Severity: domain.SeverityModerate, Keywords: []string{"increase", "enhance", "potentiate", "monitor", "caution"}},
	}
}

// KeywordClassifier matches case-insensitive substrings. Rules are tried in
// order and the first match wins; no match is Minor.
type KeywordClassifier struct {
	rules []KeywordRule
}

// NewKeywordClassifier copies and lower-cases the rules.
func NewKeywordClassifier(rules []KeywordRule) *KeywordClassifier {
	cp := make([]KeywordRule, len(rules))
	for i, r := range rules {
		kws := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kws = append(kws, k)
			}
		}
		cp[i] = KeywordRule{Severity: r.Severity, Keywords: kws}
	}
	return &KeywordClassifier{rules: cp}
}

// Classify implements SeverityClassifier.
func (c *KeywordClassifier) Classify(description string) domain.Severity {
	text := strings.ToLower(description)
	for _, r := range c.rules {
		for _, k := range r.Keywords {
			if strings.Contains(text, k) {
				return r.Severity
			}
		}
	}
	return domain.SeverityMinor
}
