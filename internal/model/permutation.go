package model

import (
	"math/rand/v2"
)

// PermutationContributions estimates interventional Shapley values of predict
// at x against every background row.
//
// Each sampled permutation is paired with its reverse, so samples is rounded
// up to an even count. Inside one (permutation, background row) pass the
// features of x are switched in one at a time and each marginal change is
// credited to the switched feature. The marginals telescope to
// predict(x) - predict(row), hence the contributions always sum to
// predict(x) minus the mean background prediction, whatever samples is.
func PermutationContributions(predict func([]float64) float64, x []float64, background [][]float64, samples int, seed int64) []float64 {
	nf := len(x)
	phi := make([]float64, nf)
	if nf == 0 || len(background) == 0 {
		return phi
	}
	if samples < 1 {
		samples = 1
	}
	pairs := (samples + 1) / 2

	rng := rand.New(rand.NewPCG(uint64(seed), 0x5851f42d4c957f2d))
	perm := make([]int, nf)
	order := make([]int, nf)
	z := make([]float64, nf)
	passes := 0

	for s := 0; s < pairs; s++ {
		for i := range perm {
			perm[i] = i
		}
		rng.Shuffle(nf, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		for dir := 0; dir < 2; dir++ {
			for k := range order {
				if dir == 0 {
					order[k] = perm[k]
				} else {
					order[k] = perm[nf-1-k]
				}
			}
			for _, row := range background {
				copy(z, row)
				prev := predict(z)
				for _, j := range order {
					if z[j] == x[j] {
						continue
					}
					z[j] = x[j]
					cur := predict(z)
					phi[j] += cur - prev
					prev = cur
				}
			}
			passes++
		}
	}

	scale := 1 / float64(passes*len(background))
	for j := range phi {
		phi[j] *= scale
	}
	return phi
}
