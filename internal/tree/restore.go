package tree

import "github.com/bits-and-blooms/bitset"

// LevelData is the persisted form of one depth of the partition.
type LevelData struct {
	Lower  [][]float64 `json:"lower"`
	Upper  [][]float64 `json:"upper"`
	Sample []int       `json:"sample_idx"`
	Leaf   []bool      `json:"leaf_flag"`
}

// Export returns the per-depth node arrays in persistable form.
func (t *Tree) Export() []LevelData {
	out := make([]LevelData, len(t.levels))
	for h, lv := range t.levels {
		data := LevelData{
			Lower:  make([][]float64, len(lv.sample)),
			Upper:  make([][]float64, len(lv.sample)),
			Sample: append([]int(nil), lv.sample...),
			Leaf:   make([]bool, len(lv.sample)),
		}
		for i := range lv.sample {
			data.Lower[i] = append([]float64(nil), lv.lower[i]...)
			data.Upper[i] = append([]float64(nil), lv.upper[i]...)
			data.Leaf[i] = lv.leaf.Test(uint(i))
		}
		out[h] = data
	}
	return out
}

// Restore rebuilds a partition from persisted level data. The split count
// is recomputed from the non-leaf flags.
func Restore(dim int, data []LevelData) *Tree {
	t := &Tree{dim: dim}
	for _, ld := range data {
		lv := &level{leaf: bitset.New(uint(len(ld.Sample)))}
		for i := range ld.Sample {
			lv.lower = append(lv.lower, append([]float64(nil), ld.Lower[i]...))
			lv.upper = append(lv.upper, append([]float64(nil), ld.Upper[i]...))
			lv.sample = append(lv.sample, ld.Sample[i])
			if ld.Leaf[i] {
				lv.leaf.Set(uint(i))
			} else {
				t.splits++
			}
		}
		t.levels = append(t.levels, lv)
	}
	return t
}
