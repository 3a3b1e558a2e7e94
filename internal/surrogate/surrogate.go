// Package surrogate maintains the growing sample table used as a cheap
// proxy for the objective: points in normalized coordinates together with
// their score estimate, posterior standard deviation, and cached upper
// confidence bound. Rows with zero standard deviation hold true objective
// values; rows with positive standard deviation are GP predictions only.
package surrogate

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/Motorfan/gpso/internal/gp"
)

var (
	ErrBadDomain = errors.New("bad domain")
	ErrNumerical = errors.New("gp prediction failed")
	ErrNoSamples = errors.New("no evaluated samples")
)

const (
	// likelihood bound for the log noise hyperparameter after training
	LikLo = -12
	LikHi = -1

	// floor for predicted standard deviations so predicted rows never
	// collide with the sigma == 0 convention for evaluated rows
	sigmaMin = 1e-10
)

// Schedule maps the number of GP-based samples to the exploration constant
// used in the upper confidence bound.
type Schedule func(m int) float64

// Fixed returns a constant exploration schedule.
func Fixed(varsigma float64) Schedule {
	if varsigma < 0 {
		panic(fmt.Sprintf("negative exploration constant %g", varsigma))
	}
	return func(int) float64 { return varsigma }
}

// Eta returns the schedule varsigma(M) = sqrt(max(0, 4 ln(pi M) - 2 ln(12 eta)))
// so that the bound mu + varsigma*sigma holds with probability 1-eta.
func Eta(eta float64) Schedule {
	if eta <= 0 || eta >= 1 {
		panic(fmt.Sprintf("eta must be in (0,1), got %g", eta))
	}
	return func(m int) float64 {
		if m < 1 {
			return 0
		}
		return math.Sqrt(math.Max(0, 4*math.Log(math.Pi*float64(m))-2*math.Log(12*eta)))
	}
}

type Surrogate struct {
	lower, upper, delta []float64

	x     [][]float64 // sample points, normalized to the unit box
	mu    []float64   // estimated score
	sigma []float64   // posterior std; zero iff truly evaluated
	ucb   []float64   // cached mu + varsigma*sigma

	ne, ng int // evaluated / GP-based row counts

	hyp      gp.Hyper
	mean     gp.Mean
	cov      gp.Cov
	varsigma Schedule
}

// New validates the domain and returns an empty surrogate over it.
func New(lower, upper []float64, hyp gp.Hyper, mean gp.Mean, cov gp.Cov, varsigma Schedule) (*Surrogate, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, fmt.Errorf("%w, bounds have sizes %d and %d", ErrBadDomain, len(lower), len(upper))
	}
	if mean == nil || cov == nil {
		panic("surrogate requires mean and covariance functions")
	}
	if varsigma == nil {
		panic("surrogate requires an exploration schedule")
	}
	delta := make([]float64, len(lower))
	for i := range lower {
		if math.IsNaN(lower[i]) || math.IsNaN(upper[i]) || math.IsInf(lower[i], 0) || math.IsInf(upper[i], 0) {
			return nil, fmt.Errorf("%w, bounds must be finite", ErrBadDomain)
		}
		if upper[i] <= lower[i] {
			return nil, fmt.Errorf("%w, dimension %d has width %g", ErrBadDomain, i, upper[i]-lower[i])
		}
		delta[i] = upper[i] - lower[i]
	}
	return &Surrogate{
		lower:    append([]float64(nil), lower...),
		upper:    append([]float64(nil), upper...),
		delta:    delta,
		hyp:      hyp.Clone(),
		mean:     mean,
		cov:      cov,
		varsigma: varsigma,
	}, nil
}

func (s *Surrogate) Dim() int       { return len(s.lower) }
func (s *Surrogate) Len() int       { return len(s.x) }
func (s *Surrogate) Evaluated() int { return s.ne }
func (s *Surrogate) GPBased() int   { return s.ng }

func (s *Surrogate) Lower() []float64 { return s.lower }
func (s *Surrogate) Upper() []float64 { return s.upper }

func (s *Surrogate) X(k int) []float64    { return s.x[k] }
func (s *Surrogate) Mu(k int) float64     { return s.mu[k] }
func (s *Surrogate) Sigma(k int) float64  { return s.sigma[k] }
func (s *Surrogate) UCB(k int) float64    { return s.ucb[k] }
func (s *Surrogate) IsGPBased(k int) bool { return s.sigma[k] > 0 }

func (s *Surrogate) Hyper() gp.Hyper     { return s.hyp.Clone() }
func (s *Surrogate) SetHyper(h gp.Hyper) { s.hyp = h.Clone() }

// Varsigma evaluates the exploration schedule at m GP-based samples.
func (s *Surrogate) Varsigma(m int) float64 { return s.varsigma(m) }

// Normalize maps a point from the original domain to the unit box.
func (s *Surrogate) Normalize(x []float64) []float64 {
	s.checkDim(x)
	z := make([]float64, len(x))
	for i := range x {
		z[i] = (x[i] - s.lower[i]) / s.delta[i]
	}
	return z
}

// Denormalize maps a point from the unit box back to the original domain.
func (s *Surrogate) Denormalize(z []float64) []float64 {
	s.checkDim(z)
	x := make([]float64, len(z))
	for i := range z {
		x[i] = s.lower[i] + z[i]*s.delta[i]
	}
	return x
}

func (s *Surrogate) checkDim(x []float64) {
	if len(x) != len(s.lower) {
		panic(fmt.Sprintf("point has dimension %d, domain has %d", len(x), len(s.lower)))
	}
}

// Append adds a row and returns its index. When normalized is false the
// point is first mapped to the unit box. A zero sigma marks the row as
// evaluated, a positive sigma as GP-based.
func (s *Surrogate) Append(x []float64, mu, sigma float64, normalized bool) int {
	if sigma < 0 {
		panic(fmt.Sprintf("negative sigma %g", sigma))
	}
	z := x
	if !normalized {
		z = s.Normalize(x)
	} else {
		s.checkDim(z)
		z = append([]float64(nil), z...)
	}
	for i, v := range z {
		z[i] = math.Min(1, math.Max(0, v))
	}
	s.x = append(s.x, z)
	s.mu = append(s.mu, mu)
	s.sigma = append(s.sigma, sigma)
	if sigma == 0 {
		s.ucb = append(s.ucb, mu)
		s.ne++
	} else {
		s.ucb = append(s.ucb, mu+s.varsigma(s.ng+1)*sigma)
		s.ng++
	}
	return len(s.x) - 1
}

// Update overwrites the estimate of row k, moving it between the evaluated
// and GP-based populations when the sigma transition demands it.
func (s *Surrogate) Update(k int, mu, sigma float64) {
	if sigma < 0 {
		panic(fmt.Sprintf("negative sigma %g", sigma))
	}
	was, is := s.sigma[k] > 0, sigma > 0
	switch {
	case was && !is:
		s.ng--
		s.ne++
	case !was && is:
		s.ne--
		s.ng++
	}
	s.mu[k] = mu
	s.sigma[k] = sigma
	if is {
		s.ucb[k] = mu + s.varsigma(s.ng)*sigma
	} else {
		s.ucb[k] = mu
	}
}

// UCBRefresh recomputes the cached bound for every GP-based row with the
// current schedule value; evaluated rows keep ucb == mu.
func (s *Surrogate) UCBRefresh() {
	vs := s.varsigma(s.ng)
	for k := range s.x {
		if s.sigma[k] > 0 {
			s.ucb[k] = s.mu[k] + vs*s.sigma[k]
		} else {
			s.ucb[k] = s.mu[k]
		}
	}
}

// trainingSet gathers the evaluated rows; they are the only conditioning
// data for predictions.
func (s *Surrogate) trainingSet() (x [][]float64, y []float64) {
	x = make([][]float64, 0, s.ne)
	y = make([]float64, 0, s.ne)
	for k := range s.x {
		if s.sigma[k] == 0 {
			x = append(x, s.x[k])
			y = append(y, s.mu[k])
		}
	}
	return x, y
}

// Predict returns the posterior mean and standard deviation at the given
// normalized query points. On factorization failure the log noise is bumped
// by one and the prediction retried while it stays below zero; persistent
// failure is a fatal numerical error.
func (s *Surrogate) Predict(xq [][]float64) (mu, sd []float64, err error) {
	x, y := s.trainingSet()
	if len(x) == 0 {
		return nil, nil, ErrNoSamples
	}
	for {
		mu, s2, err := gp.Predict(s.hyp, s.mean, s.cov, x, y, xq)
		if err == nil {
			sd := make([]float64, len(s2))
			for i, v := range s2 {
				sd[i] = math.Max(sigmaMin, math.Sqrt(v))
			}
			return mu, sd, nil
		}
		if s.hyp.Lik+1 >= 0 {
			return nil, nil, fmt.Errorf("%w, log noise reached %g: %s", ErrNumerical, s.hyp.Lik, err)
		}
		s.hyp.Lik++
		log.Printf("gp prediction failed, raising log noise to %g", s.hyp.Lik)
	}
}

// Train optimizes the hyperparameters on the evaluated rows, clamps the log
// noise into the likelihood bound, and re-predicts every GP-based row under
// the new hyperparameters. Training failures keep the previous
// hyperparameters and are not fatal.
func (s *Surrogate) Train(maxIter int) error {
	x, y := s.trainingSet()
	if len(x) == 0 {
		return ErrNoSamples
	}
	if len(x) < 2 {
		// the marginal likelihood of a single observation is unbounded
		// below; anchor the prior mean at it and wait for more data
		s.hyp.Mean[0] = y[0]
	} else {
		hyp, err := gp.Train(s.hyp, s.mean, s.cov, x, y, maxIter)
		if err != nil {
			log.Printf("keeping previous hyperparameters, %s", err)
		} else {
			s.hyp = hyp
		}
	}
	s.hyp.Lik = math.Min(LikHi, math.Max(LikLo, s.hyp.Lik))
	if s.ng == 0 {
		return nil
	}
	idx := make([]int, 0, s.ng)
	xq := make([][]float64, 0, s.ng)
	for k := range s.x {
		if s.sigma[k] > 0 {
			idx = append(idx, k)
			xq = append(xq, s.x[k])
		}
	}
	mu, sd, err := s.Predict(xq)
	if err != nil {
		return err
	}
	for i, k := range idx {
		s.mu[k] = mu[i]
		s.sigma[k] = sd[i]
	}
	s.UCBRefresh()
	return nil
}

// BestEvaluated returns the highest-scoring evaluated row.
func (s *Surrogate) BestEvaluated() (x []float64, f float64, k int, err error) {
	k = -1
	f = math.Inf(-1)
	for i := range s.x {
		if s.sigma[i] == 0 && s.mu[i] > f {
			f = s.mu[i]
			k = i
		}
	}
	if k < 0 {
		return nil, 0, -1, ErrNoSamples
	}
	return s.x[k], f, k, nil
}
