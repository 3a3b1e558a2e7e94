// Package opt implements the GPSO optimization engine. We use the following
// naming convention throughout. h is a depth in the partition tree and i a
// node index within that depth. k is a row index in the surrogate table. lb
// is the best truly evaluated score, and xi the adaptive bound on how many
// depths the look-ahead of step 3 may descend.
package opt

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/Motorfan/gpso/internal/gp"
	"github.com/Motorfan/gpso/internal/surrogate"
	"github.com/Motorfan/gpso/internal/tree"
)

var (
	ErrBadBudget      = errors.New("bad evaluation budget")
	ErrNotInitialised = errors.New("optimizer not initialised")
)

// initial length scale for the Matern kernel, in unit-box coordinates
const initLengthScale = 0.25

// Objective evaluates the function being maximized at a point in the
// original (non-normalized) domain.
type Objective func(x []float64) float64

// Per-iteration record kept for persistence and reporting.
type IterRecord struct {
	XI        float64 `json:"xi"`
	NSelected int     `json:"n_selected"`
	LB        float64 `json:"lb"`
}

// Sample is an evaluated point in original coordinates.
type Sample struct {
	X []float64
	F float64
}

type Result struct {
	Samples     []Sample // every truly evaluated point
	Solution    Sample   // argmax over Samples
	Iterations  int
	Evaluations int
	Exhausted   bool // true when step 2 ran out of eligible leaves
}

// A leaf chosen by step 2: node i at depth h, its surrogate row, and its
// bound at selection time.
type selection struct {
	depth  int
	node   int
	sample int
	ucb    float64
}

type Optimizer struct {
	opts   Options
	events Events

	surr *surrogate.Surrogate
	tree *tree.Tree
	obj  Objective

	nmax      int
	upc       float64
	xi, xiMax float64
	lb        float64
	retrain   int // counter n of the quadratic retrain schedule
	iters     []IterRecord
	exhausted bool
}

func New(opts Options) *Optimizer {
	return &Optimizer{opts: opts, xi: 1, retrain: 1}
}

func (o *Optimizer) SetEvents(ev Events) { o.events = ev }

func (o *Optimizer) Surrogate() *surrogate.Surrogate { return o.surr }
func (o *Optimizer) Tree() *tree.Tree                { return o.tree }
func (o *Optimizer) LB() float64                     { return o.lb }
func (o *Optimizer) XI() float64                     { return o.xi }
func (o *Optimizer) Exhausted() bool                 { return o.exhausted }
func (o *Optimizer) Iterations() []IterRecord        { return o.iters }

func (o *Optimizer) schedule() surrogate.Schedule {
	if o.opts.Varsigma > 0 {
		return surrogate.Fixed(o.opts.Varsigma)
	}
	return surrogate.Eta(o.opts.Eta)
}

// Init normalizes the domain, evaluates the center point, trains the first
// hyperparameters, and roots the partition at the unit box.
func (o *Optimizer) Init(objective Objective, lower, upper []float64, nmax int) error {
	if objective == nil {
		panic("nil objective")
	}
	if nmax < 1 {
		return fmt.Errorf("%w, budget is %d but the initialization already evaluates once", ErrBadBudget, nmax)
	}
	hyp := gp.Hyper{
		Mean: []float64{0},
		Cov:  []float64{math.Log(initLengthScale), 0},
		Lik:  math.Log(o.opts.Sigma),
	}
	surr, err := surrogate.New(lower, upper, hyp, gp.ConstMean{}, gp.MaternIso{}, o.schedule())
	if err != nil {
		return err
	}
	o.surr = surr
	o.obj = objective
	o.nmax = nmax
	dim := surr.Dim()
	o.upc = o.opts.UpC
	if o.upc == 0 {
		o.upc = float64(2 * dim)
	}
	o.xi, o.xiMax = 1, ximax(dim)
	o.retrain = 1
	o.iters = nil
	o.exhausted = false
	center := make([]float64, dim)
	for i := range center {
		center[i] = 0.5
	}
	f := objective(surr.Denormalize(center))
	k := surr.Append(center, f, 0, true)
	o.lb = f
	log.Printf("initialized with center score %g", f)
	if err := surr.Train(o.opts.MaxIter); err != nil {
		return err
	}
	o.tree = tree.New(dim, k)
	return o.events.postInitialise(o)
}

// Step runs one four-step iteration. It returns false when the evaluation
// budget is reached or the tree has no eligible frontier left.
func (o *Optimizer) Step() (bool, error) {
	if o.surr == nil {
		return false, ErrNotInitialised
	}
	if o.exhausted || o.surr.Evaluated() >= o.nmax {
		return false, nil
	}
	lbEntry := o.lb
	if err := o.stepEvaluate(); err != nil {
		return false, err
	}
	sels, err := o.stepSelect()
	if err != nil {
		return false, err
	}
	if len(sels) == 0 {
		o.exhausted = true
		o.iters = append(o.iters, IterRecord{XI: o.xi, NSelected: 0, LB: o.lb})
		log.Printf("warning: no eligible leaf at any depth, stopping after %d evaluations", o.surr.Evaluated())
		return false, o.events.postIteration(o)
	}
	sels, err = o.stepPrune(sels)
	if err != nil {
		return false, err
	}
	if err := o.stepSplit(sels); err != nil {
		return false, err
	}
	o.iters = append(o.iters, IterRecord{XI: o.xi, NSelected: len(sels), LB: o.lb})
	if o.lb > lbEntry {
		o.xi = math.Min(o.xiMax, o.xi+4)
	} else {
		o.xi = math.Max(1, o.xi-0.5)
	}
	ns := float64(o.tree.Splits())
	if 2*ns >= o.upc*float64(o.retrain)*float64(o.retrain+1) {
		if err := o.surr.Train(o.opts.MaxIter); err != nil {
			return false, err
		}
		o.retrain = int(math.Ceil((math.Sqrt(1+8*ns/o.upc) - 1) / 2))
	}
	if o.opts.Verbose {
		n := len(o.iters)
		log.Printf("iteration %d: %d evaluated, %d splits, best %g, xi %g",
			n, o.surr.Evaluated(), o.tree.Splits(), o.lb, o.xi)
	}
	return true, o.events.postIteration(o)
}

// Run is Init followed by stepping until done and Finalise.
func (o *Optimizer) Run(objective Objective, lower, upper []float64, nmax int) (*Result, error) {
	if err := o.Init(objective, lower, upper, nmax); err != nil {
		return nil, err
	}
	for {
		more, err := o.Step()
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	return o.Finalise()
}

// Finalise assembles the evaluated samples in original coordinates and the
// best among them.
func (o *Optimizer) Finalise() (*Result, error) {
	if o.surr == nil {
		return nil, ErrNotInitialised
	}
	if err := o.events.preFinalise(o); err != nil {
		return nil, err
	}
	res := &Result{
		Iterations:  len(o.iters),
		Evaluations: o.surr.Evaluated(),
		Exhausted:   o.exhausted,
	}
	best := -1
	for k := range o.surr.Len() {
		if o.surr.IsGPBased(k) {
			continue
		}
		s := Sample{X: o.surr.Denormalize(o.surr.X(k)), F: o.surr.Mu(k)}
		res.Samples = append(res.Samples, s)
		if best < 0 || s.F > res.Solution.F {
			res.Solution = s
			best = k
		}
	}
	return res, nil
}

func (o *Optimizer) refreshLB() {
	_, f, _, err := o.surr.BestEvaluated()
	if err != nil {
		panic("no evaluated samples after initialization")
	}
	o.lb = f
}

// promote evaluates the objective at row k and marks the row evaluated.
func (o *Optimizer) promote(k int) error {
	f := o.obj(o.surr.Denormalize(o.surr.X(k)))
	o.surr.Update(k, f, 0)
	o.surr.UCBRefresh()
	o.refreshLB()
	return o.events.postUpdate(o)
}

// stepEvaluate is step 1: every row whose bound exceeds the best evaluated
// score is a credible candidate, so evaluate them all. Only GP-based rows
// can qualify since evaluated rows keep ucb == mu <= lb.
func (o *Optimizer) stepEvaluate() error {
	o.surr.UCBRefresh()
	picks := make([]int, 0)
	for k := range o.surr.Len() {
		if o.surr.UCB(k) > o.lb {
			picks = append(picks, k)
		}
	}
	for _, k := range picks {
		if err := o.promote(k); err != nil {
			return err
		}
	}
	return nil
}

// stepSelect is step 2: scan depths shallow to deep keeping a monotone
// threshold, selecting at each depth the leaf with the highest bound
// strictly above it. A GP-based winner is evaluated on the spot and the
// depth rescanned with the threshold reset to its value at entry, so that
// no selected leaf is GP-based at the end.
func (o *Optimizer) stepSelect() ([]selection, error) {
	sels := make([]selection, 0, o.tree.Depth())
	vmax := math.Inf(-1)
	for h := 1; h <= o.tree.Depth(); h++ {
		entry := vmax
		for {
			i, ok := o.bestLeaf(h, entry)
			if !ok {
				break
			}
			k := o.tree.Sample(h, i)
			if !o.surr.IsGPBased(k) {
				u := o.surr.UCB(k)
				sels = append(sels, selection{depth: h, node: i, sample: k, ucb: u})
				vmax = u
				break
			}
			if err := o.promote(k); err != nil {
				return nil, err
			}
		}
	}
	return sels, nil
}

// bestLeaf returns the leaf at depth h with the highest cached bound
// strictly above v; ties keep the lowest index.
func (o *Optimizer) bestLeaf(h int, v float64) (int, bool) {
	best, bestU, found := -1, v, false
	for i := range o.tree.Width(h) {
		if !o.tree.IsLeaf(h, i) {
			continue
		}
		if u := o.surr.UCB(o.tree.Sample(h, i)); u > bestU {
			best, bestU, found = i, u, true
		}
	}
	return best, found
}

// stepPrune is step 3: each selection (except the deepest) is kept only if
// a bounded virtual refinement of its box can still beat the bound selected
// at the target depth.
func (o *Optimizer) stepPrune(sels []selection) ([]selection, error) {
	keep := make([]selection, 0, len(sels))
	for idx, sel := range sels {
		if idx == len(sels)-1 {
			keep = append(keep, sel) // no later selected depth to compete with
			continue
		}
		sdepth := sels[idx+1].depth - sel.depth
		capped := min(o.tree.Depth(), int(math.Ceil(float64(sel.depth)+o.xi))) - sel.depth
		if capped < sdepth {
			sdepth = capped
		}
		if sdepth < 1 {
			keep = append(keep, sel)
			continue
		}
		threshold := math.Inf(-1)
		for _, other := range sels {
			if other.depth == sel.depth+sdepth {
				threshold = other.ucb
			}
		}
		if math.IsInf(threshold, -1) {
			keep = append(keep, sel) // capped onto an unselected depth, nothing to beat
			continue
		}
		ok, err := o.lookahead(sel, sdepth, threshold, len(sels))
		if err != nil {
			return nil, err
		}
		if ok {
			keep = append(keep, sel)
		}
	}
	return keep, nil
}

// lookahead virtually trisects the selected box down sdepth levels, scoring
// both outer-child centers of every virtual node (the middle child keeps
// its parent's value). It reports whether the best optimistic score reaches
// the threshold, returning early as soon as it does.
func (o *Optimizer) lookahead(sel selection, sdepth int, threshold float64, nsel int) (bool, error) {
	type box struct{ lower, upper []float64 }
	lo, up := o.tree.Box(sel.depth, sel.node)
	frontier := []box{{lo, up}}
	zmax := math.Inf(-1)
	for hp := 1; hp <= sdepth; hp++ {
		vs := o.surr.Varsigma(o.surr.GPBased() + 2*(nsel+hp-1))
		next := make([]box, 0, 3*len(frontier))
		for _, b := range frontier {
			childLo, childUp, axis := tree.Trisect(b.lower, b.upper)
			g, d := tree.OuterCenters(b.lower, b.upper, axis)
			mu, sd, err := o.surr.Predict([][]float64{g, d})
			if err != nil {
				return false, err
			}
			for j := range 2 {
				if z := mu[j] + vs*sd[j]; z > zmax {
					zmax = z
					if zmax >= threshold {
						return true, nil
					}
				}
			}
			for c := range 3 {
				next = append(next, box{childLo[c], childUp[c]})
			}
		}
		frontier = next
	}
	return zmax >= threshold, nil
}

// stepSplit is step 4: commit every surviving selection, appending the two
// outer-child centers as GP-based rows and reusing the parent's sample for
// the middle child.
func (o *Optimizer) stepSplit(sels []selection) error {
	for _, sel := range sels {
		lo, up := o.tree.Box(sel.depth, sel.node)
		childLo, childUp, axis := tree.Trisect(lo, up)
		g, d := tree.OuterCenters(lo, up, axis)
		mu, sd, err := o.surr.Predict([][]float64{g, d})
		if err != nil {
			return err
		}
		kg := o.surr.Append(g, mu[0], sd[0], true)
		kd := o.surr.Append(d, mu[1], sd[1], true)
		o.tree.Split(sel.depth, sel.node, childLo, childUp, [3]int{kg, sel.sample, kd})
	}
	o.surr.UCBRefresh()
	return nil
}
