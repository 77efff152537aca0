package model

import (
	"context"
	"math"
	"math/rand/v2"
)

// ForestModel is a bagged ensemble of CART trees with feature subsampling.
// The prediction is the mean leaf class fraction.
type ForestModel struct {
	hp       Hyperparameters
	features int
	trees    []Tree
}

func fitForest(ctx context.Context, hp Hyperparameters, x [][]float64, y []bool) (*ForestModel, error) {
	if hp.Trees <= 0 {
		hp.Trees = 100
	}
	if hp.MaxDepth <= 0 {
		hp.MaxDepth = 8
	}
	if hp.MinLeaf <= 0 {
		hp.MinLeaf = 3
	}
	nf := len(x[0])
	maxFeatures := int(math.Round(math.Sqrt(float64(nf))))
	if hp.FeatureFraction > 0 {
		maxFeatures = int(math.Ceil(hp.FeatureFraction * float64(nf)))
	}
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	target := make([]float64, len(y))
	for i, v := range y {
		target[i] = label(v)
	}
	cfg := treeConfig{
		maxDepth:    hp.MaxDepth,
		minLeaf:     hp.MinLeaf,
		maxFeatures: maxFeatures,
		leaf: func(rows []int) float64 {
			sum := 0.0
			for _, r := range rows {
				sum += target[r]
			}
			return sum / float64(len(rows))
		},
	}

	n := len(x)
	sorted := presort(x)
	counts := make([]int, n)
	trees := make([]Tree, hp.Trees)
	for t := range trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewPCG(uint64(hp.Seed), uint64(t)))
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			counts[rng.IntN(n)]++
		}
		trees[t] = growTree(x, target, expand(sorted, counts), cfg, rng)
	}
	return &ForestModel{hp: hp, features: nf, trees: trees}, nil
}

// Type implements Classifier.
func (m *ForestModel) Type() Type { return TypeForest }

// PredictProba implements Classifier.
func (m *ForestModel) PredictProba(x []float64) float64 {
	sum := 0.0
	for _, t := range m.trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(m.trees))
}

// FeatureContributions implements Classifier.
func (m *ForestModel) FeatureContributions(x []float64, background [][]float64, samples int, seed int64) []float64 {
	return PermutationContributions(m.PredictProba, x, background, samples, seed)
}

// Params implements Classifier.
func (m *ForestModel) Params() Params {
	return Params{
		Type:            TypeForest,
		Hyperparameters: m.hp,
		Features:        m.features,
		Trees:           cloneTrees(m.trees),
	}
}
