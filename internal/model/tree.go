package model

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

// Node is one node of a binary regression tree stored in a flat slice. Leaves
// have Left == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Tree is a CART regression tree. Rows with x[Feature] <= Threshold go left.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree from the root.
func (t Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// validate checks the structure of a tree read from a bundle. Children always
// follow their parent in the slice, which also rules out cycles.
func (t Tree) validate(features int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if n.Left < 0 || n.Right < 0 {
			if n.Left != -1 || n.Right != -1 {
				return fmt.Errorf("node %d: leaf must have left and right set to -1, got %d and %d", i, n.Left, n.Right)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= features {
			return fmt.Errorf("node %d: feature %d outside [0, %d)", i, n.Feature, features)
		}
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: children %d and %d must lie in (%d, %d)", i, n.Left, n.Right, i, len(t.Nodes))
		}
	}
	return nil
}

type treeConfig struct {
	maxDepth    int
	minLeaf     int
	maxFeatures int // 0 means all
	leaf        func(rows []int) float64
}

type grower struct {
	x      [][]float64
	target []float64
	cfg    treeConfig
	rng    *rand.Rand
	nodes  []Node
	right  []bool
	nf     int
}

// presort returns, per feature, the row indices 0..n-1 ordered by that
// feature's value. Ties keep row order.
func presort(x [][]float64) [][]int {
	n, nf := len(x), len(x[0])
	sorted := make([][]int, nf)
	for f := 0; f < nf; f++ {
		s := make([]int, n)
		for i := range s {
			s[i] = i
		}
		sort.SliceStable(s, func(a, b int) bool { return x[s[a]][f] < x[s[b]][f] })
		sorted[f] = s
	}
	return sorted
}

// expand repeats every row of the presorted lists counts[row] times, which
// yields sorted lists for a bootstrap sample without sorting again.
func expand(sorted [][]int, counts []int) [][]int {
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([][]int, len(sorted))
	for f, list := range sorted {
		s := make([]int, 0, total)
		for _, r := range list {
			for k := 0; k < counts[r]; k++ {
				s = append(s, r)
			}
		}
		out[f] = s
	}
	return out
}

// growTree fits a regression tree on target. sorted holds the training rows
// (possibly repeated) ordered per feature. Splits minimise squared error;
// leaf values come from cfg.leaf.
func growTree(x [][]float64, target []float64, sorted [][]int, cfg treeConfig, rng *rand.Rand) Tree {
	if cfg.minLeaf < 1 {
		cfg.minLeaf = 1
	}
	g := &grower{
		x:      x,
		target: target,
		cfg:    cfg,
		rng:    rng,
		right:  make([]bool, len(x)),
		nf:     len(sorted),
	}
	g.build(sorted, 0)
	return Tree{Nodes: g.nodes}
}

func (g *grower) build(sorted [][]int, depth int) int {
	rows := sorted[0]
	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{Feature: -1, Left: -1, Right: -1, Value: g.cfg.leaf(rows)})

	if depth >= g.cfg.maxDepth || len(rows) < 2*g.cfg.minLeaf {
		return idx
	}
	feat, thr, ok := g.bestSplit(sorted)
	if !ok {
		return idx
	}

	for _, r := range rows {
		g.right[r] = g.x[r][feat] > thr
	}
	left := make([][]int, g.nf)
	right := make([][]int, g.nf)
	for f, list := range sorted {
		l := make([]int, 0, len(list))
		rr := make([]int, 0, len(list))
		for _, r := range list {
			if g.right[r] {
				rr = append(rr, r)
			} else {
				l = append(l, r)
			}
		}
		left[f], right[f] = l, rr
	}

	li := g.build(left, depth+1)
	ri := g.build(right, depth+1)
	g.nodes[idx].Feature = feat
	g.nodes[idx].Threshold = thr
	g.nodes[idx].Left = li
	g.nodes[idx].Right = ri
	return idx
}

func (g *grower) candidates() []int {
	if g.cfg.maxFeatures <= 0 || g.cfg.maxFeatures >= g.nf {
		all := make([]int, g.nf)
		for i := range all {
			all[i] = i
		}
		return all
	}
	picked := g.rng.Perm(g.nf)[:g.cfg.maxFeatures]
	sort.Ints(picked)
	return picked
}

func (g *grower) bestSplit(sorted [][]int) (int, float64, bool) {
	const minGain = 1e-12

	rows := sorted[0]
	n := float64(len(rows))
	total := 0.0
	for _, r := range rows {
		total += g.target[r]
	}
	parent := total * total / n

	bestGain := minGain
	bestFeat, bestThr, found := -1, 0.0, false
	for _, f := range g.candidates() {
		list := sorted[f]
		leftSum := 0.0
		for i := 0; i < len(list)-1; i++ {
			leftSum += g.target[list[i]]
			nl := i + 1
			nr := len(list) - nl
			cur, next := g.x[list[i]][f], g.x[list[i+1]][f]
			if cur == next || nl < g.cfg.minLeaf || nr < g.cfg.minLeaf {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr) - parent
			if gain > bestGain {
				bestGain = gain
				bestFeat = f
				bestThr = cur + (next-cur)/2
				if bestThr >= next {
					bestThr = cur
				}
				found = true
			}
		}
	}
	return bestFeat, bestThr, found
}
