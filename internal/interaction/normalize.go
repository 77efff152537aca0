// Package interaction indexes a drug-drug interaction corpus and classifies
// the severity of the pairs found in a medication list.
package interaction

import (
	"strings"
)

// Fold lower-cases name, trims it and collapses inner whitespace.
func Fold(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Normalizer maps free-text medication names onto corpus names: fold, then
// resolve brand names through the alias table.
type Normalizer struct {
	aliases map[string]string
}

// NewNormalizer folds both sides of the alias table. Aliases are resolved one
// hop only.
func NewNormalizer(aliases map[string]string) *Normalizer {
	folded := make(map[string]string, len(aliases))
	for brand, generic := range aliases {
		b, g := Fold(brand), Fold(generic)
		if b == "" || g == "" || b == g {
			continue
		}
		folded[b] = g
	}
	return &Normalizer{aliases: folded}
}

// Normalize returns the canonical form of name.
func (n *Normalizer) Normalize(name string) string {
	f := Fold(name)
	if generic, ok := n.aliases[f]; ok {
		return generic
	}
	return f
}

// Aliases returns the number of alias entries.
func (n *Normalizer) Aliases() int { return len(n.aliases) }
