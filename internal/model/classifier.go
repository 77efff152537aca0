// Package model holds the fitted classifiers, the immutable model artifact and
// its versioned bundle encoding.
package model

import (
	"context"
	"fmt"
	"math"
)

// Type identifies a classifier family.
type Type string

const (
	TypeLogistic Type = "logistic_regression"
	TypeForest   Type = "random_forest"
	TypeBoosted  Type = "gradient_boosting"
)

// ParseType accepts the canonical names and a few short aliases.
func ParseType(s string) (Type, error) {
	switch s {
	case string(TypeLogistic), "logistic", "lr":
		return TypeLogistic, nil
	case string(TypeForest), "forest", "rf":
		return TypeForest, nil
	case string(TypeBoosted), "boosted", "gbm", "xgboost":
		return TypeBoosted, nil
	default:
		return "", fmt.Errorf("unknown model type %q", s)
	}
}

// Hyperparameters is the union of tuning knobs for every family. Fields a
// family does not use are left zero.
type Hyperparameters struct {
	// logistic regression
	L2           float64 `json:"l2,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
	Iterations   int     `json:"iterations,omitempty"`

	// tree ensembles
	Trees           int     `json:"trees,omitempty"`
	MaxDepth        int     `json:"max_depth,omitempty"`
	MinLeaf         int     `json:"min_leaf,omitempty"`
	FeatureFraction float64 `json:"feature_fraction,omitempty"`

	Seed int64 `json:"seed"`
}

// Classifier is the capability every fitted model exposes. Implementations are
// immutable and safe for concurrent use.
type Classifier interface {
	Type() Type
	// PredictProba returns P(adverse event) for a vector in schema order.
	PredictProba(x []float64) float64
	// FeatureContributions returns one additive contribution per feature
	// relative to the mean prediction over background.
	FeatureContributions(x []float64, background [][]float64, samples int, seed int64) []float64
	// Params returns a serialisable copy of the fitted parameters.
	Params() Params
}

// Params is the serialisable form of any Classifier.
type Params struct {
	Type            Type            `json:"type"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	Features        int             `json:"features"`

	// logistic regression
	Means   []float64 `json:"means,omitempty"`
	Scales  []float64 `json:"scales,omitempty"`
	Weights []float64 `json:"weights,omitempty"`
	Bias    float64   `json:"bias,omitempty"`

	// tree ensembles
	Trees     []Tree  `json:"trees,omitempty"`
	InitScore float64 `json:"init_score,omitempty"`
}

// Fit trains a classifier of the given type. X rows are in schema order. The
// context is checked between iterations so long fits can be abandoned.
func Fit(ctx context.Context, typ Type, hp Hyperparameters, x [][]float64, y []bool) (Classifier, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("fit needs matching non-empty rows and labels, got %d and %d", len(x), len(y))
	}
	switch typ {
	case TypeLogistic:
		return fitLogistic(ctx, hp, x, y)
	case TypeForest:
		return fitForest(ctx, hp, x, y)
	case TypeBoosted:
		return fitBoosted(ctx, hp, x, y)
	default:
		return nil, fmt.Errorf("unknown model type %q", typ)
	}
}

// FromParams rebuilds a classifier from its serialised parameters.
func FromParams(p Params) (Classifier, error) {
	switch p.Type {
	case TypeLogistic:
		if len(p.Weights) != p.Features || len(p.Means) != p.Features || len(p.Scales) != p.Features {
			return nil, fmt.Errorf("logistic params: expected %d coefficients", p.Features)
		}
		return &LogisticModel{
			hp:      p.Hyperparameters,
			means:   clone(p.Means),
			scales:  clone(p.Scales),
			weights: clone(p.Weights),
			bias:    p.Bias,
		}, nil
	case TypeForest:
		if err := validateTrees(p); err != nil {
			return nil, fmt.Errorf("forest params: %w", err)
		}
		return &ForestModel{hp: p.Hyperparameters, features: p.Features, trees: cloneTrees(p.Trees)}, nil
	case TypeBoosted:
		if err := validateTrees(p); err != nil {
			return nil, fmt.Errorf("boosted params: %w", err)
		}
		return &BoostedModel{
			hp:        p.Hyperparameters,
			features:  p.Features,
			trees:     cloneTrees(p.Trees),
			initScore: p.InitScore,
		}, nil
	default:
		return nil, fmt.Errorf("unknown model type %q", p.Type)
	}
}

func validateTrees(p Params) error {
	if len(p.Trees) == 0 {
		return fmt.Errorf("no trees")
	}
	if p.Features <= 0 {
		return fmt.Errorf("feature count %d must be positive", p.Features)
	}
	for i, t := range p.Trees {
		if err := t.validate(p.Features); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

func cloneTrees(trees []Tree) []Tree {
	out := make([]Tree, len(trees))
	for i, t := range trees {
		out[i] = Tree{Nodes: append([]Node(nil), t.Nodes...)}
	}
	return out
}
