package training

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/cdss-mcp-server/internal/domain"
)

// Resampling strategies.
const (
	ResampleNone       = "none"
	ResampleOversample = "oversample"
	ResampleSMOTE      = "smote"
)

// DefaultNeighbors is the SMOTE neighbourhood size.
const DefaultNeighbors = 5

// Resampling rebalances a training set before fitting. Ratio is the target
// minority/majority ratio. It is only ever applied to training rows.
type Resampling struct {
	Strategy  string  `json:"strategy"`
	Ratio     float64 `json:"ratio,omitempty"`
	Neighbors int     `json:"neighbors,omitempty"`
}

// Validate checks the strategy and ratio.
func (r Resampling) Validate() error {
	switch r.Strategy {
	case "", ResampleNone:
		return nil
	case ResampleOversample, ResampleSMOTE:
	default:
		return domain.NewValidationError("training.resample_strategy", "unknown strategy", r.Strategy)
	}
	if r.Ratio <= 0 || r.Ratio > 1 {
		return domain.NewValidationError("training.resample_ratio", "must be in (0, 1]", r.Ratio)
	}
	if r.Neighbors < 0 {
		return domain.NewValidationError("training.resample_neighbors", "must not be negative", r.Neighbors)
	}
	return nil
}

func (r Resampling) active() bool {
	return r.Strategy == ResampleOversample || r.Strategy == ResampleSMOTE
}

// String renders the strategy for provenance.
func (r Resampling) String() string {
	switch r.Strategy {
	case ResampleOversample:
		return fmt.Sprintf("oversample(ratio=%g)", r.Ratio)
	case ResampleSMOTE:
		return fmt.Sprintf("smote(ratio=%g,k=%d)", r.Ratio, r.neighbors())
	default:
		return ResampleNone
	}
}

func (r Resampling) neighbors() int {
	if r.Neighbors > 0 {
		return r.Neighbors
	}
	return DefaultNeighbors
}

// Apply returns x and y extended with synthetic minority rows until the
// minority count reaches ceil(Ratio * majority). Original rows come first and
// are never modified.
func (r Resampling) Apply(x [][]float64, y []bool, seed int64) ([][]float64, []bool) {
	if !r.active() || len(x) == 0 {
		return x, y
	}
	var pos, neg []int
	for i, l := range y {
		if l {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	minority, majority, minorityLabel := pos, neg, true
	if len(pos) > len(neg) {
		minority, majority, minorityLabel = neg, pos, false
	}
	target := int(math.Ceil(r.Ratio * float64(len(majority))))
	need := target - len(minority)
	if need <= 0 || len(minority) == 0 {
		return x, y
	}

	rng := rand.New(rand.NewPCG(uint64(seed), 0x5eed))
	outX := make([][]float64, len(x), len(x)+need)
	copy(outX, x)
	outY := make([]bool, len(y), len(y)+need)
	copy(outY, y)

	if r.Strategy == ResampleOversample || len(minority) < 2 {
		for i := 0; i < need; i++ {
			src := x[minority[rng.IntN(len(minority))]]
			outX = append(outX, append([]float64(nil), src...))
			outY = append(outY, minorityLabel)
		}
		return outX, outY
	}

	neighbours := nearestNeighbours(x, minority, r.neighbors())
	for i := 0; i < need; i++ {
		a := rng.IntN(len(minority))
		b := neighbours[a][rng.IntN(len(neighbours[a]))]
		gap := rng.Float64()
		base, other := x[minority[a]], x[minority[b]]
		row := make([]float64, len(base))
		for j := range row {
			row[j] = base[j] + gap*(other[j]-base[j])
		}
		outX = append(outX, row)
		outY = append(outY, minorityLabel)
	}
	return outX, outY
}

// nearestNeighbours returns, for each minority row, the positions (within
// minority) of its k nearest minority rows on standardised features.
func nearestNeighbours(x [][]float64, minority []int, k int) [][]int {
	m := len(minority)
	if k > m-1 {
		k = m - 1
	}
	nf := len(x[0])
	scale := make([]float64, nf)
	col := make([]float64, m)
	for j := 0; j < nf; j++ {
		for i, r := range minority {
			col[i] = x[r][j]
		}
		_, sd := stat.PopMeanStdDev(col, nil)
		if sd == 0 {
			sd = 1
		}
		scale[j] = sd
	}

	type cand struct {
		pos  int
		dist float64
	}
	out := make([][]int, m)
	cands := make([]cand, 0, m-1)
	for a := 0; a < m; a++ {
		cands = cands[:0]
		for b := 0; b < m; b++ {
			if a == b {
				continue
			}
			d := 0.0
			for j := 0; j < nf; j++ {
				diff := (x[minority[a]][j] - x[minority[b]][j]) / scale[j]
				d += diff * diff
			}
			cands = append(cands, cand{b, d})
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
		nn := make([]int, k)
		for i := 0; i < k; i++ {
			nn[i] = cands[i].pos
		}
		out[a] = nn
	}
	return out
}
