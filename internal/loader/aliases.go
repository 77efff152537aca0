package loader

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cdss-mcp-server/internal/interaction"
)

// Vocabulary is the YAML document holding brand-to-generic aliases and,
// optionally, severity keyword rules that replace the defaults.
//
//	aliases:
//	  tylenol: acetaminophen
//	rules:
//	  - severity: High
//	    keywords: [contraindicated, avoid]
type Vocabulary struct {
	Aliases map[string]string         `yaml:"aliases"`
	Rules   []interaction.KeywordRule `yaml:"rules,omitempty"`
}

// Options returns the index options the vocabulary configures.
func (v *Vocabulary) Options() []interaction.Option {
	opts := []interaction.Option{interaction.WithAliases(v.Aliases)}
	if len(v.Rules) > 0 {
		opts = append(opts, interaction.WithClassifier(interaction.NewKeywordClassifier(v.Rules)))
	}
	return opts
}

// LoadVocabulary reads a vocabulary file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open alias table: %w", err)
	}
	defer f.Close()

	v, err := ReadVocabulary(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// ReadVocabulary decodes and validates a vocabulary document.
func ReadVocabulary(r io.Reader) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.NewDecoder(r).Decode(&v); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode alias table: %w", err)
	}

	aliases := make(map[string]string, len(v.Aliases))
	for k, g := range v.Aliases {
		k, g = strings.TrimSpace(k), strings.TrimSpace(g)
		if k == "" || g == "" {
			return nil, fmt.Errorf("alias %q -> %q: both names are required", k, g)
		}
		aliases[k] = g
	}
	v.Aliases = aliases

	for i, rule := range v.Rules {
		if !rule.Severity.IsValid() {
			return nil, fmt.Errorf("rule %d: unknown severity %q", i, rule.Severity)
		}
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d: no keywords", i)
		}
	}
	return &v, nil
}
