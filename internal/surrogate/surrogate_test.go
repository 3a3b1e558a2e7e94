package surrogate

import (
	"errors"
	"math"
	"testing"

	"github.com/Motorfan/gpso/internal/gp"
)

func defaultHyper() gp.Hyper {
	return gp.Hyper{Mean: []float64{0}, Cov: []float64{math.Log(0.25), 0}, Lik: math.Log(1e-4)}
}

func makeSurrogate(t *testing.T, lower, upper []float64, varsigma Schedule) *Surrogate {
	t.Helper()
	s, err := New(lower, upper, defaultHyper(), gp.ConstMean{}, gp.MaternIso{}, varsigma)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewValidatesDomain(t *testing.T) {
	testCases := []struct {
		name  string
		lower []float64
		upper []float64
	}{
		{name: "empty", lower: []float64{}, upper: []float64{}},
		{name: "mismatched", lower: []float64{0, 0}, upper: []float64{1}},
		{name: "zero width", lower: []float64{0, 1}, upper: []float64{1, 1}},
		{name: "inverted", lower: []float64{2}, upper: []float64{1}},
		{name: "nan bound", lower: []float64{math.NaN()}, upper: []float64{1}},
		{name: "infinite bound", lower: []float64{0}, upper: []float64{math.Inf(1)}},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			if _, err := New(test.lower, test.upper, defaultHyper(), gp.ConstMean{}, gp.MaternIso{}, Fixed(3)); !errors.Is(err, ErrBadDomain) {
				t.Errorf("expected ErrBadDomain, got %v", err)
			}
		})
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	s := makeSurrogate(t, []float64{-1, 0, 10}, []float64{1, 5, 30}, Fixed(3))
	points := [][]float64{
		{-1, 0, 10},
		{1, 5, 30},
		{0.3, 2.2, 17.5},
	}
	for _, x := range points {
		back := s.Denormalize(s.Normalize(x))
		for i := range x {
			if math.Abs(back[i]-x[i]) > 1e-12 {
				t.Errorf("round trip of %v gave %v", x, back)
			}
		}
	}
	z := s.Normalize([]float64{0, 2.5, 20})
	want := []float64{0.5, 0.5, 0.5}
	for i := range z {
		if math.Abs(z[i]-want[i]) > 1e-12 {
			t.Errorf("normalized midpoint is %v, want %v", z, want)
		}
	}
}

func TestAppendUpdateCounts(t *testing.T) {
	s := makeSurrogate(t, []float64{0}, []float64{1}, Fixed(3))
	k0 := s.Append([]float64{0.5}, 1, 0, true)
	k1 := s.Append([]float64{0.2}, 0.5, 0.1, true)
	k2 := s.Append([]float64{0.8}, 0.7, 0.2, true)
	if s.Len() != 3 || s.Evaluated() != 1 || s.GPBased() != 2 {
		t.Fatalf("counts after appends: len %d, ne %d, ng %d", s.Len(), s.Evaluated(), s.GPBased())
	}
	if s.IsGPBased(k0) || !s.IsGPBased(k1) || !s.IsGPBased(k2) {
		t.Fatal("population flags disagree with appended sigmas")
	}
	// promote a GP-based row
	s.Update(k1, 0.4, 0)
	if s.Evaluated() != 2 || s.GPBased() != 1 {
		t.Errorf("counts after promotion: ne %d, ng %d", s.Evaluated(), s.GPBased())
	}
	// demote an evaluated row
	s.Update(k0, 1, 0.3)
	if s.Evaluated() != 1 || s.GPBased() != 2 {
		t.Errorf("counts after demotion: ne %d, ng %d", s.Evaluated(), s.GPBased())
	}
	// same-population update leaves counts alone
	s.Update(k2, 0.9, 0.1)
	if s.Evaluated()+s.GPBased() != s.Len() {
		t.Errorf("ne + ng = %d, want %d", s.Evaluated()+s.GPBased(), s.Len())
	}
}

func TestAppendNegativeSigmaPanics(t *testing.T) {
	s := makeSurrogate(t, []float64{0}, []float64{1}, Fixed(3))
	defer func() {
		if recover() == nil {
			t.Error("expected panic on negative sigma")
		}
	}()
	s.Append([]float64{0.5}, 1, -0.1, true)
}

func TestUCBRefresh(t *testing.T) {
	s := makeSurrogate(t, []float64{0}, []float64{1}, Fixed(3))
	ke := s.Append([]float64{0.5}, 2, 0, true)
	kg := s.Append([]float64{0.2}, 1, 0.5, true)
	s.UCBRefresh()
	if u := s.UCB(ke); u != 2 {
		t.Errorf("evaluated row has ucb %g, want mu", u)
	}
	if u, want := s.UCB(kg), 1+3*0.5; math.Abs(u-want) > 1e-12 {
		t.Errorf("gp-based row has ucb %g, want %g", u, want)
	}
}

func TestEtaSchedule(t *testing.T) {
	eta := 0.05
	vs := Eta(eta)
	if v := vs(0); v != 0 {
		t.Errorf("schedule at M=0 is %g, want 0", v)
	}
	for _, m := range []int{1, 2, 10, 100} {
		want := math.Sqrt(math.Max(0, 4*math.Log(math.Pi*float64(m))-2*math.Log(12*eta)))
		if v := vs(m); math.Abs(v-want) > 1e-12 {
			t.Errorf("schedule at M=%d is %g, want %g", m, v, want)
		}
	}
	if vs(10) <= vs(2) {
		t.Error("schedule should grow with the number of gp-based samples")
	}
}

func TestBestEvaluated(t *testing.T) {
	s := makeSurrogate(t, []float64{0}, []float64{1}, Fixed(3))
	if _, _, _, err := s.BestEvaluated(); !errors.Is(err, ErrNoSamples) {
		t.Errorf("expected ErrNoSamples on empty table, got %v", err)
	}
	s.Append([]float64{0.1}, 1, 0, true)
	s.Append([]float64{0.9}, 5, 0.5, true) // gp-based rows never win
	k := s.Append([]float64{0.5}, 3, 0, true)
	x, f, got, err := s.BestEvaluated()
	if err != nil {
		t.Fatal(err)
	}
	if got != k || f != 3 || x[0] != 0.5 {
		t.Errorf("best evaluated is row %d with f %g at %v", got, f, x)
	}
}

func TestPredictUsesOnlyEvaluatedRows(t *testing.T) {
	s := makeSurrogate(t, []float64{0}, []float64{1}, Fixed(3))
	s.Append([]float64{0.25}, 1, 0, true)
	s.Append([]float64{0.75}, -1, 0, true)
	// a wildly wrong GP-based row must not influence predictions
	s.Append([]float64{0.25}, 1000, 0.5, true)
	mu, sd, err := s.Predict([][]float64{{0.25}})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mu[0]-1) > 0.01 {
		t.Errorf("posterior mean at an evaluated point is %g, want about 1", mu[0])
	}
	if sd[0] <= 0 {
		t.Errorf("predicted std is %g, want positive", sd[0])
	}
}

func TestPredictRampsNoise(t *testing.T) {
	s := makeSurrogate(t, []float64{0}, []float64{1}, Fixed(3))
	s.SetHyper(gp.Hyper{Mean: []float64{0}, Cov: []float64{math.Log(0.25), 0}, Lik: -30})
	// duplicated evaluated points keep the covariance singular until the
	// noise has been bumped far enough
	s.Append([]float64{0.5}, 1, 0, true)
	s.Append([]float64{0.5}, 1, 0, true)
	if _, _, err := s.Predict([][]float64{{0.2}}); err != nil {
		t.Fatalf("expected the noise ramp to recover, got %v", err)
	}
	if got := s.Hyper().Lik; got <= -30 {
		t.Errorf("log noise was not raised, still %g", got)
	}
}

func TestPredictFatalAfterRamp(t *testing.T) {
	s := makeSurrogate(t, []float64{0}, []float64{1}, Fixed(3))
	s.Append([]float64{math.NaN()}, 1, 0, false)
	if _, _, err := s.Predict([][]float64{{0.2}}); !errors.Is(err, ErrNumerical) {
		t.Errorf("expected ErrNumerical, got %v", err)
	}
}

func TestTrainClampsLik(t *testing.T) {
	s := makeSurrogate(t, []float64{0}, []float64{1}, Fixed(3))
	// residual-free targets push the optimal noise toward zero
	s.SetHyper(gp.Hyper{Mean: []float64{0}, Cov: []float64{math.Log(0.25), 0}, Lik: -20})
	for _, x := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		s.Append([]float64{x}, 0, 0, true)
	}
	if err := s.Train(50); err != nil {
		t.Fatal(err)
	}
	if got := s.Hyper().Lik; got != LikLo {
		t.Errorf("log noise after training is %g, want the bound %d", got, LikLo)
	}
}

func TestTrainRefreshesGPRows(t *testing.T) {
	s := makeSurrogate(t, []float64{0}, []float64{1}, Fixed(3))
	s.Append([]float64{0.2}, 1, 0, true)
	s.Append([]float64{0.8}, 2, 0, true)
	kg := s.Append([]float64{0.5}, -50, 0.9, true) // stale prediction
	if err := s.Train(50); err != nil {
		t.Fatal(err)
	}
	if mu := s.Mu(kg); mu < 0 || mu > 3 {
		t.Errorf("gp-based row was not re-predicted, mu is %g", mu)
	}
	if sd := s.Sigma(kg); sd <= 0 {
		t.Errorf("gp-based row lost its positive sigma: %g", sd)
	}
	if u, want := s.UCB(kg), s.Mu(kg)+3*s.Sigma(kg); math.Abs(u-want) > 1e-12 {
		t.Errorf("ucb cache is stale: %g, want %g", u, want)
	}
}
