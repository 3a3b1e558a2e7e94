package opt

import (
	"errors"
	"math"
	"testing"
)

func quadratic(x []float64) float64 {
	dx, dy := x[0]-0.3, x[1]+0.4
	return -(dx*dx + dy*dy)
}

func makeOptions(t *testing.T, varsigma float64) Options {
	t.Helper()
	opts, err := MakeOptions(0, 0, varsigma, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	return *opts
}

func TestMakeOptions(t *testing.T) {
	testCases := []struct {
		name     string
		sigma    float64
		eta      float64
		varsigma float64
		upc      float64
		maxIter  int
		wantErr  bool
	}{
		{name: "defaults", wantErr: false},
		{name: "fixed varsigma", varsigma: 3},
		{name: "negative sigma", sigma: -1, wantErr: true},
		{name: "eta too large", eta: 1.5, wantErr: true},
		{name: "negative varsigma", varsigma: -2, wantErr: true},
		{name: "negative cadence", upc: -1, wantErr: true},
		{name: "negative iterations", maxIter: -5, wantErr: true},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			opts, err := MakeOptions(test.sigma, test.eta, test.varsigma, test.upc, test.maxIter, false)
			if test.wantErr {
				if !errors.Is(err, ErrBadOption) {
					t.Errorf("expected ErrBadOption, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if opts.Sigma != DefaultSigma || opts.Eta != DefaultEta || opts.MaxIter != DefaultMaxIter {
				t.Errorf("defaults were not filled in: %+v", opts)
			}
		})
	}
}

func TestBadBudget(t *testing.T) {
	o := New(makeOptions(t, 3))
	if err := o.Init(quadratic, []float64{-1, -1}, []float64{1, 1}, 0); !errors.Is(err, ErrBadBudget) {
		t.Errorf("expected ErrBadBudget, got %v", err)
	}
}

func TestUninitialised(t *testing.T) {
	o := New(makeOptions(t, 3))
	if _, err := o.Step(); !errors.Is(err, ErrNotInitialised) {
		t.Errorf("Step: expected ErrNotInitialised, got %v", err)
	}
	if _, err := o.Finalise(); !errors.Is(err, ErrNotInitialised) {
		t.Errorf("Finalise: expected ErrNotInitialised, got %v", err)
	}
}

// A budget equal to the initial center evaluation performs zero iterations
// and returns the center as the solution.
func TestZeroIterations(t *testing.T) {
	o := New(makeOptions(t, 3))
	result, err := o.Run(quadratic, []float64{-1, -1}, []float64{1, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if result.Iterations != 0 || result.Evaluations != 1 {
		t.Fatalf("ran %d iterations with %d evaluations, want 0 and 1", result.Iterations, result.Evaluations)
	}
	if result.Solution.X[0] != 0 || result.Solution.X[1] != 0 {
		t.Errorf("solution is %v, want the domain midpoint", result.Solution.X)
	}
	if result.Solution.F != quadratic([]float64{0, 0}) {
		t.Errorf("solution score is %g, want %g", result.Solution.F, quadratic([]float64{0, 0}))
	}
}

// A synthetic GP-based row whose bound exceeds the best evaluated score
// must be evaluated and promoted by step 1.
func TestStepOnePromotion(t *testing.T) {
	o := New(makeOptions(t, 3))
	flat9 := func(x []float64) float64 { return 9 }
	if err := o.Init(flat9, []float64{0}, []float64{1}, 10); err != nil {
		t.Fatal(err)
	}
	if o.LB() != 9 {
		t.Fatalf("lb after initialization is %g, want 9", o.LB())
	}
	k := o.surr.Append([]float64{0.9}, 10, 0.1, true) // ucb = 10.3 > lb
	if err := o.stepEvaluate(); err != nil {
		t.Fatal(err)
	}
	if o.surr.IsGPBased(k) {
		t.Error("the injected row was not promoted to evaluated")
	}
	if got := o.surr.Mu(k); got != 9 {
		t.Errorf("promoted row holds %g, want the true objective value 9", got)
	}
	if o.surr.Evaluated() != 2 {
		t.Errorf("evaluated count is %d, want 2", o.surr.Evaluated())
	}
}

// On a perfectly flat objective no iteration improves the best score, so
// the look-ahead bound must never rise and every iteration still selects
// at least one leaf.
func TestFlatObjective(t *testing.T) {
	o := New(makeOptions(t, 3))
	flat := func(x []float64) float64 { return 2 }
	if err := o.Init(flat, []float64{0, 0}, []float64{1, 1}, 12); err != nil {
		t.Fatal(err)
	}
	for {
		more, err := o.Step()
		if err != nil {
			t.Fatal(err)
		}
		if !more {
			break
		}
	}
	for i, rec := range o.Iterations() {
		if rec.LB != 2 {
			t.Errorf("iteration %d reports lb %g on a flat objective", i, rec.LB)
		}
		if rec.XI != 1 {
			t.Errorf("iteration %d reports xi %g, want it pinned at the floor", i, rec.XI)
		}
		if rec.NSelected < 1 {
			t.Errorf("iteration %d selected no leaves", i)
		}
	}
}

func TestQuadraticConverges(t *testing.T) {
	o := New(makeOptions(t, 3))
	result, err := o.Run(quadratic, []float64{-1, -1}, []float64{1, 1}, 50)
	if err != nil {
		t.Fatal(err)
	}
	dx, dy := result.Solution.X[0]-0.3, result.Solution.X[1]+0.4
	if dist := math.Sqrt(dx*dx + dy*dy); dist > 0.05 {
		t.Errorf("solution %v is %g away from the optimum (0.3, -0.4)", result.Solution.X, dist)
	}
	if result.Solution.F < -0.01 {
		t.Errorf("solution score is %g, want at least -0.01", result.Solution.F)
	}
	if result.Evaluations < 50 {
		t.Errorf("run stopped after %d evaluations with budget 50", result.Evaluations)
	}
}

func TestSineConverges(t *testing.T) {
	opts, err := MakeOptions(0, 0, 0, 0, 0, false) // adaptive schedule
	if err != nil {
		t.Fatal(err)
	}
	o := New(*opts)
	sine := func(x []float64) float64 { return math.Sin(5 * x[0]) }
	result, err := o.Run(sine, []float64{0}, []float64{math.Pi}, 30)
	if err != nil {
		t.Fatal(err)
	}
	if result.Solution.F < 0.999 {
		t.Errorf("solution score is %g, want at least 0.999", result.Solution.F)
	}
	// sin(5x) attains 1 at pi/10, pi/2, and 9pi/10 inside the domain
	best := math.Inf(1)
	for _, m := range []float64{math.Pi / 10, math.Pi / 2, 9 * math.Pi / 10} {
		if d := math.Abs(result.Solution.X[0] - m); d < best {
			best = d
		}
	}
	if best > 0.02 {
		t.Errorf("solution %g is %g away from the nearest maximum", result.Solution.X[0], best)
	}
}

// The best evaluated score may never decrease across iterations.
func TestMonotoneLB(t *testing.T) {
	o := New(makeOptions(t, 3))
	if _, err := o.Run(quadratic, []float64{-1, -1}, []float64{1, 1}, 40); err != nil {
		t.Fatal(err)
	}
	records := o.Iterations()
	for i := 1; i < len(records); i++ {
		if records[i].LB < records[i-1].LB {
			t.Fatalf("lb decreased from %g to %g at iteration %d", records[i-1].LB, records[i].LB, i)
		}
	}
	if len(records) == 0 {
		t.Fatal("run recorded no iterations")
	}
}

func TestEvents(t *testing.T) {
	o := New(makeOptions(t, 3))
	var inits, iters, updates, finals int
	o.SetEvents(Events{
		PostInitialise: func(*Optimizer) error { inits++; return nil },
		PostIteration:  func(*Optimizer) error { iters++; return nil },
		PostUpdate:     func(*Optimizer) error { updates++; return nil },
		PreFinalise:    func(*Optimizer) error { finals++; return nil },
	})
	if _, err := o.Run(quadratic, []float64{-1, -1}, []float64{1, 1}, 15); err != nil {
		t.Fatal(err)
	}
	if inits != 1 || finals != 1 {
		t.Errorf("initialise/finalise hooks fired %d and %d times", inits, finals)
	}
	if iters != len(o.Iterations()) {
		t.Errorf("iteration hook fired %d times over %d iterations", iters, len(o.Iterations()))
	}
	if updates == 0 {
		t.Error("update hook never fired")
	}
}

func TestEventErrorPropagates(t *testing.T) {
	o := New(makeOptions(t, 3))
	boom := errors.New("observer failed")
	o.SetEvents(Events{PostIteration: func(*Optimizer) error { return boom }})
	if err := o.Init(quadratic, []float64{-1, -1}, []float64{1, 1}, 20); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Step(); !errors.Is(err, boom) {
		t.Errorf("expected the observer error, got %v", err)
	}
	// state stays consistent: the surrogate invariant still holds
	if o.surr.Evaluated()+o.surr.GPBased() != o.surr.Len() {
		t.Error("surrogate counts are inconsistent after a handler error")
	}
}

// After step 2 no selected depth may point at a GP-based sample.
func TestSelectionsAreEvaluated(t *testing.T) {
	o := New(makeOptions(t, 3))
	if err := o.Init(quadratic, []float64{-1, -1}, []float64{1, 1}, 100); err != nil {
		t.Fatal(err)
	}
	for range 6 {
		if err := o.stepEvaluate(); err != nil {
			t.Fatal(err)
		}
		sels, err := o.stepSelect()
		if err != nil {
			t.Fatal(err)
		}
		if len(sels) == 0 {
			t.Fatal("no selections on a live frontier")
		}
		prev := math.Inf(-1)
		for _, sel := range sels {
			if o.surr.IsGPBased(sel.sample) {
				t.Errorf("selected leaf at depth %d is still GP-based", sel.depth)
			}
			if sel.ucb <= prev {
				t.Errorf("selected bounds are not strictly increasing across depths: %g after %g", sel.ucb, prev)
			}
			prev = sel.ucb
		}
		if err := o.stepSplit(sels); err != nil {
			t.Fatal(err)
		}
	}
}
