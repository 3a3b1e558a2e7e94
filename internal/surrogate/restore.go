package surrogate

import (
	"fmt"

	"github.com/Motorfan/gpso/internal/gp"
)

// Restore rebuilds a surrogate from persisted table rows. The evaluated and
// GP-based counts are recomputed from the sigma column.
func Restore(lower, upper []float64, x [][]float64, mu, sigma, ucb []float64,
	hyp gp.Hyper, mean gp.Mean, cov gp.Cov, varsigma Schedule,
) (*Surrogate, error) {
	s, err := New(lower, upper, hyp, mean, cov, varsigma)
	if err != nil {
		return nil, err
	}
	n := len(x)
	if len(mu) != n || len(sigma) != n || len(ucb) != n {
		return nil, fmt.Errorf("%w, table columns have lengths %d, %d, %d, %d",
			ErrBadDomain, n, len(mu), len(sigma), len(ucb))
	}
	for k := range n {
		if sigma[k] < 0 {
			return nil, fmt.Errorf("%w, row %d has negative sigma %g", ErrBadDomain, k, sigma[k])
		}
		s.x = append(s.x, append([]float64(nil), x[k]...))
		s.mu = append(s.mu, mu[k])
		s.sigma = append(s.sigma, sigma[k])
		s.ucb = append(s.ucb, ucb[k])
		if sigma[k] == 0 {
			s.ne++
		} else {
			s.ng++
		}
	}
	return s, nil
}
