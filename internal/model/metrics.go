package model

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// DecisionThreshold is the probability cut used for recall and precision.
const DecisionThreshold = 0.5

// ReliabilityBinCount is the number of equal-width calibration bins.
const ReliabilityBinCount = 10

// Metrics summarises classifier performance on one labelled split.
type Metrics struct {
	Count     int     `json:"count"`
	Positives int     `json:"positives"`
	AUC       float64 `json:"auc"`
	Recall    float64 `json:"recall"`
	Precision float64 `json:"precision"`
	Accuracy  float64 `json:"accuracy"`
	Brier     float64 `json:"brier"`
}

// ReliabilityBin is one row of a reliability diagram.
type ReliabilityBin struct {
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	Count         int     `json:"count"`
	MeanPredicted float64 `json:"mean_predicted"`
	ObservedRate  float64 `json:"observed_rate"`
}

// Calibration records how well probabilities match observed frequencies on the
// validation split.
type Calibration struct {
	Brier float64          `json:"brier"`
	Bins  []ReliabilityBin `json:"bins"`
}

// Evaluate computes every metric for probs against labels.
func Evaluate(probs []float64, labels []bool) Metrics {
	m := Metrics{Count: len(labels)}
	tp, fp, tn, fn := confusion(probs, labels, DecisionThreshold)
	m.Positives = tp + fn
	m.AUC = AUC(probs, labels)
	m.Recall = ratio(tp, tp+fn)
	m.Precision = ratio(tp, tp+fp)
	m.Accuracy = ratio(tp+tn, len(labels))
	m.Brier = Brier(probs, labels)
	return m
}

// AUC is the trapezoidal area under the ROC curve. Tied scores share one
// cutoff, which matches the Mann-Whitney estimate with average ranks. Returns
// 0.5 when a class is absent.
func AUC(probs []float64, labels []bool) float64 {
	var pos int
	for _, l := range labels {
		if l {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return 0.5
	}
	y := append([]float64(nil), probs...)
	classes := append([]bool(nil), labels...)
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// Recall is the true-positive rate at threshold.
func Recall(probs []float64, labels []bool, threshold float64) float64 {
	tp, _, _, fn := confusion(probs, labels, threshold)
	return ratio(tp, tp+fn)
}

// Brier is the mean squared error of the probabilities.
func Brier(probs []float64, labels []bool) float64 {
	if len(probs) == 0 {
		return 0
	}
	sq := make([]float64, len(probs))
	for i, p := range probs {
		d := p - label(labels[i])
		sq[i] = d * d
	}
	return stat.Mean(sq, nil)
}

// Reliability bins probabilities into n equal-width buckets over [0,1].
func Reliability(probs []float64, labels []bool, n int) []ReliabilityBin {
	if n <= 0 {
		n = ReliabilityBinCount
	}
	bins := make([]ReliabilityBin, n)
	sumP := make([]float64, n)
	sumY := make([]float64, n)
	for i := range bins {
		bins[i].Lower = float64(i) / float64(n)
		bins[i].Upper = float64(i+1) / float64(n)
	}
	for i, p := range probs {
		b := int(math.Floor(p * float64(n)))
		if b >= n {
			b = n - 1
		}
		if b < 0 {
			b = 0
		}
		bins[b].Count++
		sumP[b] += p
		sumY[b] += label(labels[i])
	}
	for i := range bins {
		if bins[i].Count > 0 {
			bins[i].MeanPredicted = sumP[i] / float64(bins[i].Count)
			bins[i].ObservedRate = sumY[i] / float64(bins[i].Count)
		}
	}
	return bins
}

// Calibrate builds the calibration record for a split.
func Calibrate(probs []float64, labels []bool) Calibration {
	return Calibration{
		Brier: Brier(probs, labels),
		Bins:  Reliability(probs, labels, ReliabilityBinCount),
	}
}

func confusion(probs []float64, labels []bool, threshold float64) (tp, fp, tn, fn int) {
	for i, p := range probs {
		predicted := p >= threshold
		switch {
		case predicted && labels[i]:
			tp++
		case predicted && !labels[i]:
			fp++
		case !predicted && labels[i]:
			fn++
		default:
			tn++
		}
	}
	return tp, fp, tn, fn
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
