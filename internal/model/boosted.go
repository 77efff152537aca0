package model

import (
	"context"
	"math"
	"math/rand/v2"
)

// BoostedModel is gradient boosting on log-loss with Newton leaf values.
type BoostedModel struct {
	hp        Hyperparameters
	features  int
	trees     []Tree
	initScore float64
}

// leafL2 shrinks Newton leaf values towards zero on small leaves.
const leafL2 = 1.0

func fitBoosted(ctx context.Context, hp Hyperparameters, x [][]float64, y []bool) (*BoostedModel, error) {
	if hp.Trees <= 0 {
		hp.Trees = 100
	}
	if hp.MaxDepth <= 0 {
		hp.MaxDepth = 3
	}
	if hp.MinLeaf <= 0 {
		hp.MinLeaf = 5
	}
	if hp.LearningRate <= 0 {
		hp.LearningRate = 0.1
	}

	n, nf := len(x), len(x[0])
	pos := 0.0
	for _, v := range y {
		pos += label(v)
	}
	rate := math.Min(math.Max(pos/float64(n), 1e-6), 1-1e-6)
	init := math.Log(rate / (1 - rate))

	maxFeatures := 0
	if hp.FeatureFraction > 0 && hp.FeatureFraction < 1 {
		maxFeatures = int(math.Ceil(hp.FeatureFraction * float64(nf)))
	}

	score := make([]float64, n)
	for i := range score {
		score[i] = init
	}
	resid := make([]float64, n)
	hess := make([]float64, n)
	sorted := presort(x)
	cfg := treeConfig{
		maxDepth:    hp.MaxDepth,
		minLeaf:     hp.MinLeaf,
		maxFeatures: maxFeatures,
		leaf: func(rows []int) float64 {
			g, h := 0.0, 0.0
			for _, r := range rows {
				g += resid[r]
				h += hess[r]
			}
			return g / (h + leafL2)
		},
	}

	rng := rand.New(rand.NewPCG(uint64(hp.Seed), 0x9e3779b97f4a7c15))
	trees := make([]Tree, hp.Trees)
	for t := range trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range score {
			p := sigmoid(score[i])
			resid[i] = label(y[i]) - p
			hess[i] = p * (1 - p)
		}
		tree := growTree(x, resid, sorted, cfg, rng)
		for i := range score {
			score[i] += hp.LearningRate * tree.Predict(x[i])
		}
		trees[t] = tree
	}
	return &BoostedModel{hp: hp, features: nf, trees: trees, initScore: init}, nil
}

// Type implements Classifier.
func (m *BoostedModel) Type() Type { return TypeBoosted }

// PredictProba implements Classifier.
func (m *BoostedModel) PredictProba(x []float64) float64 {
	s := m.initScore
	for _, t := range m.trees {
		s += m.hp.LearningRate * t.Predict(x)
	}
	return sigmoid(s)
}

// FeatureContributions implements Classifier.
func (m *BoostedModel) FeatureContributions(x []float64, background [][]float64, samples int, seed int64) []float64 {
	return PermutationContributions(m.PredictProba, x, background, samples, seed)
}

// Params implements Classifier.
func (m *BoostedModel) Params() Params {
	return Params{
		Type:            TypeBoosted,
		Hyperparameters: m.hp,
		Features:        m.features,
		Trees:           cloneTrees(m.trees),
		InitScore:       m.initScore,
	}
}
