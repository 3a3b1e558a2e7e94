// Package tree implements the depth-indexed ternary partition of the unit
// hypercube. Every node is an axis-aligned box carrying the index of its
// representative sample in the surrogate table; leaves form the frontier
// still eligible for refinement. Splitting replaces a leaf by three equal
// thirds along its longest side, and the middle child inherits the parent's
// sample so the center point is never duplicated.
package tree

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Parallel node arrays for one depth of the partition.
type level struct {
	lower  [][]float64
	upper  [][]float64
	sample []int
	leaf   *bitset.BitSet
}

type Tree struct {
	dim    int
	levels []*level // levels[h-1] holds depth h
	splits int      // total splits performed
}

// New creates a partition of the d-dimensional unit box whose single depth-1
// leaf holds the given sample index (the initial center evaluation).
func New(dim, kCenter int) *Tree {
	if dim < 1 {
		panic(fmt.Sprintf("dimension must be positive, got %d", dim))
	}
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := range dim {
		upper[i] = 1
	}
	root := &level{
		lower:  [][]float64{lower},
		upper:  [][]float64{upper},
		sample: []int{kCenter},
		leaf:   bitset.New(1),
	}
	root.leaf.Set(0)
	return &Tree{dim: dim, levels: []*level{root}}
}

func (t *Tree) Dim() int    { return t.dim }
func (t *Tree) Depth() int  { return len(t.levels) }
func (t *Tree) Splits() int { return t.splits }

// Width returns the number of nodes at depth h.
func (t *Tree) Width(h int) int {
	return len(t.level(h).sample)
}

func (t *Tree) level(h int) *level {
	if h < 1 || h > len(t.levels) {
		panic(fmt.Sprintf("depth %d out of range [1, %d]", h, len(t.levels)))
	}
	return t.levels[h-1]
}

// IsLeaf reports whether node i at depth h has never been split.
func (t *Tree) IsLeaf(h, i int) bool {
	return t.level(h).leaf.Test(uint(i))
}

// Sample returns the surrogate row index of the node's representative point.
func (t *Tree) Sample(h, i int) int {
	return t.level(h).sample[i]
}

// Box returns the extents of node i at depth h. The slices are owned by the
// tree and must not be modified.
func (t *Tree) Box(h, i int) (lower, upper []float64) {
	lv := t.level(h)
	return lv.lower[i], lv.upper[i]
}

// Split marks node (h, i) as a non-leaf and appends its three children at
// depth h+1 in lo/mid/hi order with the given extents and sample indices.
func (t *Tree) Split(h, i int, lower, upper [3][]float64, sample [3]int) {
	lv := t.level(h)
	if !lv.leaf.Test(uint(i)) {
		panic(fmt.Sprintf("node (%d, %d) is not a leaf", h, i))
	}
	lv.leaf.Clear(uint(i))
	if h == len(t.levels) {
		t.levels = append(t.levels, &level{leaf: bitset.New(3)})
	}
	next := t.levels[h]
	for c := range 3 {
		if len(lower[c]) != t.dim || len(upper[c]) != t.dim {
			panic(fmt.Sprintf("child %d has dimension %d, partition has %d", c, len(lower[c]), t.dim))
		}
		next.leaf.Set(uint(len(next.sample)))
		next.lower = append(next.lower, lower[c])
		next.upper = append(next.upper, upper[c])
		next.sample = append(next.sample, sample[c])
	}
	t.splits++
}

// Trisect returns the three child boxes of the given box, tiling it along
// its longest side (ties broken by the lowest index), and the split axis.
func Trisect(lower, upper []float64) (childLower, childUpper [3][]float64, axis int) {
	width := upper[0] - lower[0]
	for i := 1; i < len(lower); i++ {
		if w := upper[i] - lower[i]; w > width {
			width, axis = w, i
		}
	}
	for c := range 3 {
		childLower[c] = append([]float64(nil), lower...)
		childUpper[c] = append([]float64(nil), upper...)
	}
	lo, hi := lower[axis], upper[axis]
	third := (hi - lo) / 3
	childUpper[0][axis] = lo + third
	childLower[1][axis] = lo + third
	childUpper[1][axis] = lo + 2*third
	childLower[2][axis] = lo + 2*third
	return childLower, childUpper, axis
}

// OuterCenters returns the centers of the lo and hi children of a box split
// along the given axis. Off-axis coordinates are the parent's center.
func OuterCenters(lower, upper []float64, axis int) (g, d []float64) {
	g = make([]float64, len(lower))
	d = make([]float64, len(lower))
	for i := range lower {
		g[i] = (lower[i] + upper[i]) / 2
		d[i] = g[i]
	}
	g[axis] = (5*lower[axis] + upper[axis]) / 6
	d[axis] = (lower[axis] + 5*upper[axis]) / 6
	return g, d
}
