// Package gp implements the Gaussian-process primitives consumed by the
// surrogate: tagged mean/covariance functions with Gaussian observation
// noise, exact posterior
// prediction through a Cholesky factorization, and hyperparameter training
// by conjugate-gradient minimization of the negative log marginal
// likelihood.
package gp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

var (
	ErrNoData        = errors.New("no training data")
	ErrFactorization = errors.New("covariance factorization failed")
)

const log2pi = 1.8378770664093454835606594728112

// Hyperparameters of the process. Mean and Cov are consumed by the
// corresponding function variants; Lik is the log standard deviation of the
// Gaussian observation noise.
type Hyper struct {
	Mean []float64
	Cov  []float64
	Lik  float64
}

func (h Hyper) Clone() Hyper {
	c := Hyper{
		Mean: make([]float64, len(h.Mean)),
		Cov:  make([]float64, len(h.Cov)),
		Lik:  h.Lik,
	}
	copy(c.Mean, h.Mean)
	copy(c.Cov, h.Cov)
	return c
}

// factorize builds the noisy training covariance K + sn2*I and returns its
// Cholesky factorization along with the centered targets and alpha =
// K^-1 (y - m).
func factorize(hyp Hyper, mean Mean, cov Cov, x [][]float64, y []float64) (*mat.Cholesky, *mat.VecDense, *mat.VecDense, error) {
	n := len(x)
	if n == 0 {
		return nil, nil, nil, ErrNoData
	}
	if len(y) != n {
		panic(fmt.Sprintf("input size mismatch: %d points, %d targets", n, len(y)))
	}
	noise := NoiseVariance(hyp.Lik)
	k := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			v := cov.Eval(hyp.Cov, x[i], x[j])
			if i == j {
				v += noise
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, nil, fmt.Errorf("%w, covariance of rows %d and %d is not finite", ErrFactorization, i, j)
			}
			k.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return nil, nil, nil, fmt.Errorf("%w, noise variance %g", ErrFactorization, noise)
	}
	yc := mat.NewVecDense(n, nil)
	for i := range n {
		yc.SetVec(i, y[i]-mean.Eval(hyp.Mean, x[i]))
	}
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, yc); err != nil {
		return nil, nil, nil, fmt.Errorf("%w, %s", ErrFactorization, err)
	}
	return &chol, yc, alpha, nil
}

// Predict returns the posterior mean and variance of the latent function at
// every query point, conditioned on the given training set. The caller owns
// recovery from factorization failures (e.g. by bumping the noise level).
func Predict(hyp Hyper, mean Mean, cov Cov, x [][]float64, y []float64, xq [][]float64) (mu, s2 []float64, err error) {
	chol, _, alpha, err := factorize(hyp, mean, cov, x, y)
	if err != nil {
		return nil, nil, err
	}
	n := len(x)
	mu = make([]float64, len(xq))
	s2 = make([]float64, len(xq))
	ks := mat.NewVecDense(n, nil)
	v := mat.NewVecDense(n, nil)
	for q, xs := range xq {
		for i := range n {
			ks.SetVec(i, cov.Eval(hyp.Cov, x[i], xs))
		}
		mu[q] = mean.Eval(hyp.Mean, xs) + mat.Dot(ks, alpha)
		if err := chol.SolveVecTo(v, ks); err != nil {
			return nil, nil, fmt.Errorf("%w, %s", ErrFactorization, err)
		}
		s2[q] = math.Max(0, cov.Eval(hyp.Cov, xs, xs)-mat.Dot(ks, v))
	}
	return mu, s2, nil
}

// NLML returns the negative log marginal likelihood of the training set
// under the given hyperparameters.
func NLML(hyp Hyper, mean Mean, cov Cov, x [][]float64, y []float64) (float64, error) {
	chol, yc, alpha, err := factorize(hyp, mean, cov, x, y)
	if err != nil {
		return math.Inf(1), err
	}
	n := float64(len(x))
	return 0.5*mat.Dot(yc, alpha) + 0.5*chol.LogDet() + 0.5*n*log2pi, nil
}

// nlmlGrad fills grad with the partial derivatives of the negative log
// marginal likelihood with respect to the packed hyperparameter vector
// [mean..., cov..., lik].
func nlmlGrad(grad []float64, hyp Hyper, mean Mean, cov Cov, x [][]float64, y []float64) error {
	chol, _, alpha, err := factorize(hyp, mean, cov, x, y)
	if err != nil {
		return err
	}
	n := len(x)
	var kinv mat.SymDense
	if err := chol.InverseTo(&kinv); err != nil {
		return fmt.Errorf("%w, %s", ErrFactorization, err)
	}
	// W = K^-1 - alpha alpha^T; d nlml / d theta = 0.5 tr(W dK/dtheta)
	w := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			w.SetSym(i, j, kinv.At(i, j)-alpha.AtVec(i)*alpha.AtVec(j))
		}
	}
	g := 0
	for p := range mean.NumHyper() {
		var s float64
		for i := range n {
			s -= mean.DEval(hyp.Mean, p, x[i]) * alpha.AtVec(i)
		}
		grad[g] = s
		g++
	}
	for p := range cov.NumHyper() {
		var s float64
		for i := range n {
			for j := range n {
				s += w.At(i, j) * cov.DEval(hyp.Cov, p, x[i], x[j])
			}
		}
		grad[g] = 0.5 * s
		g++
	}
	var tr float64
	for i := range n {
		tr += w.At(i, i)
	}
	grad[g] = NoiseVariance(hyp.Lik) * tr
	return nil
}

// Train minimizes the negative log marginal likelihood over all
// hyperparameters with at most maxIter conjugate-gradient iterations. The
// best point found is returned even when the line search stalls before the
// iteration limit; the input hyperparameters are returned unchanged when
// the optimizer cannot make a single step.
func Train(hyp Hyper, mean Mean, cov Cov, x [][]float64, y []float64, maxIter int) (Hyper, error) {
	if len(x) == 0 {
		return hyp, ErrNoData
	}
	nm, nc := mean.NumHyper(), cov.NumHyper()
	pack := func(h Hyper) []float64 {
		theta := make([]float64, 0, nm+nc+1)
		theta = append(theta, h.Mean...)
		theta = append(theta, h.Cov...)
		return append(theta, h.Lik)
	}
	unpack := func(theta []float64) Hyper {
		h := hyp.Clone()
		copy(h.Mean, theta[:nm])
		copy(h.Cov, theta[nm:nm+nc])
		h.Lik = theta[nm+nc]
		return h
	}
	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			v, err := NLML(unpack(theta), mean, cov, x, y)
			if err != nil {
				return math.Inf(1)
			}
			return v
		},
		Grad: func(grad, theta []float64) {
			if err := nlmlGrad(grad, unpack(theta), mean, cov, x, y); err != nil {
				for i := range grad {
					grad[i] = 0
				}
			}
		},
	}
	settings := &optimize.Settings{MajorIterations: maxIter}
	result, err := optimize.Minimize(problem, pack(hyp), settings, &optimize.CG{})
	if result == nil {
		return hyp, fmt.Errorf("hyperparameter training failed, %w", err)
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return hyp, fmt.Errorf("hyperparameter training diverged, %w", ErrFactorization)
		}
	}
	// Line-search stalls still yield the best point visited; accept it
	// whenever it improves on the starting hyperparameters.
	if err != nil && result.F >= problem.Func(pack(hyp)) {
		return hyp, fmt.Errorf("hyperparameter training failed, %w", err)
	}
	return unpack(result.X), nil
}
