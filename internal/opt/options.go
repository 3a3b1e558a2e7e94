package opt

import (
	"errors"
	"fmt"
)

var ErrBadOption = errors.New("invalid option")

const (
	DefaultSigma   = 1e-4
	DefaultEta     = 0.05
	DefaultMaxIter = 100
)

// Options carries the optimizer configuration. Varsigma > 0 selects a fixed
// exploration constant; otherwise Eta drives the confidence schedule. UpC
// is the retrain cadence constant; zero means twice the dimension. MaxIter
// bounds every conjugate-gradient hyperparameter training.
type Options struct {
	Sigma    float64 `json:"sigma"`
	Eta      float64 `json:"eta"`
	Varsigma float64 `json:"varsigma"`
	UpC      float64 `json:"upc"`
	MaxIter  int     `json:"max_iter"`
	Verbose  bool    `json:"verbose"`
}

// MakeOptions validates and fills in defaults.
func MakeOptions(sigma, eta, varsigma, upc float64, maxIter int, verbose bool) (*Options, error) {
	if sigma == 0 {
		sigma = DefaultSigma
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("%w, initial noise must be positive, got %g", ErrBadOption, sigma)
	}
	if eta == 0 {
		eta = DefaultEta
	}
	if eta <= 0 || eta >= 1 {
		return nil, fmt.Errorf("%w, eta must be in (0,1), got %g", ErrBadOption, eta)
	}
	if varsigma < 0 {
		return nil, fmt.Errorf("%w, exploration constant must be non-negative, got %g", ErrBadOption, varsigma)
	}
	if upc < 0 {
		return nil, fmt.Errorf("%w, retrain cadence must be non-negative, got %g", ErrBadOption, upc)
	}
	if maxIter == 0 {
		maxIter = DefaultMaxIter
	}
	if maxIter < 0 {
		return nil, fmt.Errorf("%w, training iterations must be positive, got %d", ErrBadOption, maxIter)
	}
	return &Options{
		Sigma:    sigma,
		Eta:      eta,
		Varsigma: varsigma,
		UpC:      upc,
		MaxIter:  maxIter,
		Verbose:  verbose,
	}, nil
}

// ximax is the cap on the adaptive look-ahead bound for a given dimension.
func ximax(dim int) float64 {
	switch {
	case dim < 10:
		return 8
	case dim < 20:
		return 5
	default:
		return 3
	}
}
