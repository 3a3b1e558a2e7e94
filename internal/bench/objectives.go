// Package bench provides the synthetic objective functions driven by the
// command line, all framed for maximization, together with the CSV and plot
// writers for run results.
package bench

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Function is a named benchmark objective. Dim is zero when the function
// accepts any dimension; Domain returns the box for a requested dimension.
type Function struct {
	Eval   func(x []float64) float64
	Domain func(dim int) (lower, upper []float64)
	Dim    int
}

var Parse = map[string]Function{
	"sphere": {
		Eval:   func(x []float64) float64 { return -floats.Dot(x, x) },
		Domain: box(-5, 5),
	},
	"quadratic": {
		// smooth bowl with an off-center optimum at (0.3, -0.4, 0.3, ...)
		Eval: func(x []float64) float64 {
			var s float64
			for i, v := range x {
				c := 0.3
				if i%2 == 1 {
					c = -0.4
				}
				s += (v - c) * (v - c)
			}
			return -s
		},
		Domain: box(-1, 1),
	},
	"sin5": {
		Eval:   func(x []float64) float64 { return math.Sin(5 * x[0]) },
		Domain: box(0, math.Pi),
		Dim:    1,
	},
	"rastrigin": {
		Eval: func(x []float64) float64 {
			s := 10 * float64(len(x))
			for _, v := range x {
				s += v*v - 10*math.Cos(2*math.Pi*v)
			}
			return -s
		},
		Domain: box(-5.12, 5.12),
	},
	"rosenbrock": {
		Eval: func(x []float64) float64 {
			var s float64
			for i := 0; i+1 < len(x); i++ {
				a := x[i+1] - x[i]*x[i]
				b := 1 - x[i]
				s += 100*a*a + b*b
			}
			return -s
		},
		Domain: box(-2, 2),
	},
	"branin": {
		Eval: func(x []float64) float64 {
			const (
				a = 1
				b = 5.1 / (4 * math.Pi * math.Pi)
				c = 5 / math.Pi
				r = 6
				s = 10
				t = 1 / (8 * math.Pi)
			)
			u := x[1] - b*x[0]*x[0] + c*x[0] - r
			return -(a*u*u + s*(1-t)*math.Cos(x[0]) + s)
		},
		Domain: func(int) (lower, upper []float64) {
			return []float64{-5, 0}, []float64{10, 15}
		},
		Dim: 2,
	},
}

func box(lo, hi float64) func(int) ([]float64, []float64) {
	return func(dim int) (lower, upper []float64) {
		lower = make([]float64, dim)
		upper = make([]float64, dim)
		for i := range dim {
			lower[i] = lo
			upper[i] = hi
		}
		return lower, upper
	}
}

// Lookup resolves a function by name, fixing the dimension when the
// function demands one.
func Lookup(name string, dim int) (Function, int, error) {
	fn, ok := Parse[name]
	if !ok {
		return Function{}, 0, fmt.Errorf("\"%s\" is not a known benchmark function", name)
	}
	if fn.Dim != 0 && dim != 0 && dim != fn.Dim {
		return Function{}, 0, fmt.Errorf("%s is %d-dimensional, requested %d", name, fn.Dim, dim)
	}
	if fn.Dim != 0 {
		dim = fn.Dim
	}
	if dim == 0 {
		dim = 2
	}
	return fn, dim, nil
}

// Names returns every benchmark name in map order; callers sort as needed.
func Names() []string {
	names := make([]string, 0, len(Parse))
	for name := range Parse {
		names = append(names, name)
	}
	return names
}
