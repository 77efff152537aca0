package features

import (
	"fmt"
)

// Vector is an ordered mapping from feature name to value. Vectors produced by
// one Builder share the builder's name slice; nothing hands it out mutable.
type Vector struct {
	names  []string
	values []float64
}

// NewVector pairs names and values. Both slices are copied.
func NewVector(names []string, values []float64) (Vector, error) {
	if len(names) != len(values) {
		return Vector{}, fmt.Errorf("vector has %d names but %d values", len(names), len(values))
	}
	n := make([]string, len(names))
	copy(n, names)
	v := make([]float64, len(values))
	copy(v, values)
	return Vector{names: n, values: v}, nil
}

// Len returns the number of features.
func (v Vector) Len() int { return len(v.values) }

// Names returns a copy of the feature names in order.
func (v Vector) Names() []string {
	cp := make([]string, len(v.names))
	copy(cp, v.names)
	return cp
}

// Values returns a copy of the values in schema order.
func (v Vector) Values() []float64 {
	cp := make([]float64, len(v.values))
	copy(cp, v.values)
	return cp
}

// At returns the i-th value.
func (v Vector) At(i int) float64 { return v.values[i] }

// NameAt returns the i-th feature name.
func (v Vector) NameAt(i int) string { return v.names[i] }

// Value looks a feature up by name.
func (v Vector) Value(name string) (float64, bool) {
	for i, n := range v.names {
		if n == name {
			return v.values[i], true
		}
	}
	return 0, false
}

// HasNames reports whether the vector carries exactly these names in this order.
func (v Vector) HasNames(names []string) bool {
	if len(names) != len(v.names) {
		return false
	}
	for i := range names {
		if names[i] != v.names[i] {
			return false
		}
	}
	return true
}
