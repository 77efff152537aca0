package training

import (
	"math"
	"math/rand/v2"
)

type splitIndices struct {
	train, validation, test []int
}

// stratifiedSplit shuffles each class with seed and cuts it into train,
// validation and test in the configured fractions.
func stratifiedSplit(labels []bool, seed int64) splitIndices {
	rng := rand.New(rand.NewPCG(uint64(seed), 0x5911))
	var out splitIndices
	for _, class := range []bool{false, true} {
		idx := classIndices(labels, class)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTrain := int(math.Round(TrainFraction * float64(len(idx))))
		nVal := int(math.Round(ValidationFraction * float64(len(idx))))
		if nTrain+nVal > len(idx) {
			nVal = len(idx) - nTrain
		}
		out.train = append(out.train, idx[:nTrain]...)
		out.validation = append(out.validation, idx[nTrain:nTrain+nVal]...)
		out.test = append(out.test, idx[nTrain+nVal:]...)
	}
	return out
}

// stratifiedFolds assigns positions 0..len(labels)-1 to k folds so every fold
// holds roughly the same share of each class. fold[i] lists held-out positions.
func stratifiedFolds(labels []bool, k int, seed int64) [][]int {
	rng := rand.New(rand.NewPCG(uint64(seed), 0xf01d))
	folds := make([][]int, k)
	offset := 0
	for _, class := range []bool{false, true} {
		idx := classIndices(labels, class)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for i, p := range idx {
			f := (i + offset) % k
			folds[f] = append(folds[f], p)
		}
		offset += len(idx)
	}
	return folds
}

func classIndices(labels []bool, class bool) []int {
	var idx []int
	for i, l := range labels {
		if l == class {
			idx = append(idx, i)
		}
	}
	return idx
}

func countClasses(labels []bool) (neg, pos int) {
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	return neg, pos
}
