package model

import (
	"context"

	"gonum.org/v1/gonum/stat"
)

// LogisticModel is an L2-regularised logistic regression on standardised
// inputs. It is the linear baseline of the candidate grid.
type LogisticModel struct {
	hp      Hyperparameters
	means   []float64
	scales  []float64
	weights []float64
	bias    float64
}

func fitLogistic(ctx context.Context, hp Hyperparameters, x [][]float64, y []bool) (*LogisticModel, error) {
	if hp.LearningRate <= 0 {
		hp.LearningRate = 0.5
	}
	if hp.Iterations <= 0 {
		hp.Iterations = 300
	}
	if hp.L2 < 0 {
		hp.L2 = 0
	}

	n, nf := len(x), len(x[0])
	means := make([]float64, nf)
	scales := make([]float64, nf)
	col := make([]float64, n)
	for j := 0; j < nf; j++ {
		for i := 0; i < n; i++ {
			col[i] = x[i][j]
		}
		mean, sd := stat.PopMeanStdDev(col, nil)
		if sd == 0 {
			sd = 1
		}
		means[j], scales[j] = mean, sd
	}

	z := make([][]float64, n)
	for i := range x {
		row := make([]float64, nf)
		for j := range row {
			row[j] = (x[i][j] - means[j]) / scales[j]
		}
		z[i] = row
	}

	w := make([]float64, nf)
	grad := make([]float64, nf)
	bias := 0.0
	for it := 0; it < hp.Iterations; it++ {
		if it%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := range grad {
			grad[j] = 0
		}
		gb := 0.0
		for i, row := range z {
			s := bias
			for j, v := range row {
				s += w[j] * v
			}
			diff := sigmoid(s) - label(y[i])
			gb += diff
			for j, v := range row {
				grad[j] += diff * v
			}
		}
		inv := 1 / float64(n)
		for j := range w {
			w[j] -= hp.LearningRate * (grad[j]*inv + hp.L2*w[j])
		}
		bias -= hp.LearningRate * gb * inv
	}

	return &LogisticModel{hp: hp, means: means, scales: scales, weights: w, bias: bias}, nil
}

// Type implements Classifier.
func (m *LogisticModel) Type() Type { return TypeLogistic }

// PredictProba implements Classifier.
func (m *LogisticModel) PredictProba(x []float64) float64 {
	s := m.bias
	for j, w := range m.weights {
		s += w * (x[j] - m.means[j]) / m.scales[j]
	}
	return sigmoid(s)
}

// FeatureContributions implements Classifier.
func (m *LogisticModel) FeatureContributions(x []float64, background [][]float64, samples int, seed int64) []float64 {
	return PermutationContributions(m.PredictProba, x, background, samples, seed)
}

// Params implements Classifier.
func (m *LogisticModel) Params() Params {
	return Params{
		Type:            TypeLogistic,
		Hyperparameters: m.hp,
		Features:        len(m.weights),
		Means:           clone(m.means),
		Scales:          clone(m.scales),
		Weights:         clone(m.weights),
		Bias:            m.bias,
	}
}

// Coefficients returns the standardised weights, in schema order.
func (m *LogisticModel) Coefficients() []float64 { return clone(m.weights) }

func label(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
