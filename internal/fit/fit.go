package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Result is a converged fit.
type Result struct {
	Model  *Model
	Params []float64
	// RMSE is the root mean squared residual at the optimum.
	RMSE float64
}

// Eval evaluates the fitted curve at x.
func (r *Result) Eval(x float64) float64 {
	return r.Model.Eval(r.Params, x)
}

// String renders the fitted parameters for report headers.
func (r *Result) String() string {
	s := r.Model.Name + ":"
	for i, name := range r.Model.ParamNames {
		s += fmt.Sprintf(" %s=%.6g", name, r.Params[i])
	}
	return s
}

// Curve samples the fitted model at each x.
func (r *Result) Curve(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = r.Eval(x)
	}
	return out
}

// Fit runs nonlinear least squares of the model against (xs, ys) starting
// from the model's data-driven guess. Nelder-Mead is used so models need no
// analytic gradient.
func Fit(m *Model, xs, ys []float64) (*Result, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("x/y length mismatch: %d vs %d", len(xs), len(ys))
	}
	if len(xs) < len(m.ParamNames) {
		return nil, fmt.Errorf("%d points cannot constrain %d parameters", len(xs), len(m.ParamNames))
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			var ss float64
			for i, x := range xs {
				d := m.Eval(p, x) - ys[i]
				ss += d * d
			}
			return ss
		},
	}

	guess := m.Guess(xs, ys)
	result, err := optimize.Minimize(problem, guess, &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-15,
			Relative:   1e-10,
			Iterations: 100,
		},
	}, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", m.Name, err)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, fmt.Errorf("fit %s diverged", m.Name)
	}

	// canonicalize sign-insensitive parameters: the models evaluate decay
	// times and widths through their magnitude, so Nelder-Mead may converge
	// on the negative branch
	params := make([]float64, len(result.X))
	copy(params, result.X)
	for _, i := range m.SignFree {
		params[i] = math.Abs(params[i])
	}

	return &Result{
		Model:  m,
		Params: params,
		RMSE:   math.Sqrt(result.F / float64(len(xs))),
	}, nil
}
