// Package fit estimates the physical parameters behind a sweep: Rabi
// frequency, relaxation and coherence times, resonance position. Models are
// fitted by nonlinear least squares over gonum's optimizer; a failed fit is
// reported, never fatal, since the raw data is always persisted.
package fit

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Model is a parametric curve y = Eval(params, x) with a data-driven
// starting point for the optimizer.
type Model struct {
	Name       string
	ParamNames []string
	Eval       func(params []float64, x float64) float64
	Guess      func(xs, ys []float64) []float64
	// SignFree lists parameter indices whose sign the model ignores
	// (decay times, widths, frequencies under cosine). Fit reports their
	// magnitude so a converged negative decay never leaks into results.
	SignFree []int
}

// DampedCosine models Rabi oscillations: A*cos(2*pi*f*x)*exp(-x/T) + C.
func DampedCosine() *Model {
	return &Model{
		Name:       "damped_cosine",
		ParamNames: []string{"amplitude", "frequency_hz", "decay_s", "offset"},
		SignFree:   []int{1, 2},
		Eval: func(p []float64, x float64) float64 {
			a, f, tDecay, c := p[0], p[1], p[2], p[3]
			return a*math.Cos(2*math.Pi*f*x)*math.Exp(-x/math.Abs(tDecay)) + c
		},
		Guess: func(xs, ys []float64) []float64 {
			span := xs[len(xs)-1] - xs[0]
			return []float64{
				(floats.Max(ys) - floats.Min(ys)) / 2,
				oscillationFrequency(xs, ys),
				span, // assume visible decay over the window
				stat.Mean(ys, nil),
			}
		},
	}
}

// ExpDecay models longitudinal relaxation: A*exp(-x/T1) + C.
func ExpDecay() *Model {
	return &Model{
		Name:       "exp_decay",
		ParamNames: []string{"amplitude", "t1_s", "offset"},
		SignFree:   []int{1},
		Eval: func(p []float64, x float64) float64 {
			a, t1, c := p[0], p[1], p[2]
			return a*math.Exp(-x/math.Abs(t1)) + c
		},
		Guess: func(xs, ys []float64) []float64 {
			span := xs[len(xs)-1] - xs[0]
			return []float64{
				ys[0] - ys[len(ys)-1],
				span / 3,
				ys[len(ys)-1],
			}
		},
	}
}

// StretchedExp models Hahn echo decay: A*exp(-(x/T2)^n) + C.
func StretchedExp() *Model {
	return &Model{
		Name:       "stretched_exp",
		ParamNames: []string{"amplitude", "t2_s", "exponent", "offset"},
		SignFree:   []int{1, 2},
		Eval: func(p []float64, x float64) float64 {
			a, t2, n, c := p[0], p[1], p[2], p[3]
			if x < 0 {
				x = 0
			}
			return a*math.Exp(-math.Pow(x/math.Abs(t2), math.Abs(n))) + c
		},
		Guess: func(xs, ys []float64) []float64 {
			span := xs[len(xs)-1] - xs[0]
			return []float64{
				ys[0] - ys[len(ys)-1],
				span / 3,
				1.5,
				ys[len(ys)-1],
			}
		},
	}
}

// DetunedCosine models Ramsey fringes: A*exp(-x/T2s)*cos(2*pi*d*x) + C,
// where d is the detuning from resonance.
func DetunedCosine() *Model {
	m := DampedCosine()
	m.Name = "detuned_cosine"
	m.ParamNames = []string{"amplitude", "detuning_hz", "t2star_s", "offset"}
	return m
}

// LorentzianDip models a cw or pulsed ODMR resonance:
// C - A*g^2/((x-x0)^2 + g^2) with g the half width at half maximum.
func LorentzianDip() *Model {
	return &Model{
		Name:       "lorentzian_dip",
		ParamNames: []string{"contrast", "center_hz", "hwhm_hz", "offset"},
		SignFree:   []int{2},
		Eval: func(p []float64, x float64) float64 {
			a, x0, g, c := p[0], p[1], p[2], p[3]
			g = math.Abs(g)
			if g == 0 {
				g = 1
			}
			return c - a*g*g/((x-x0)*(x-x0)+g*g)
		},
		Guess: func(xs, ys []float64) []float64 {
			minIdx := 0
			for i, y := range ys {
				if y < ys[minIdx] {
					minIdx = i
				}
			}
			span := xs[len(xs)-1] - xs[0]
			return []float64{
				floats.Max(ys) - floats.Min(ys),
				xs[minIdx],
				span / 10,
				floats.Max(ys),
			}
		},
	}
}

// ModelFor maps a pulse pattern name to the model fitted to its normalised
// signal.
func ModelFor(pattern string) (*Model, error) {
	switch pattern {
	case "rabi":
		return DampedCosine(), nil
	case "t1":
		return ExpDecay(), nil
	case "hahn_echo", "hahn", "xy4", "xy8", "xy16":
		return StretchedExp(), nil
	case "ramsey":
		return DetunedCosine(), nil
	case "odmr":
		return LorentzianDip(), nil
	}
	// cpmg patterns carry the pulse count in the name
	if strings.HasPrefix(pattern, "cpmg") {
		return StretchedExp(), nil
	}
	return nil, fmt.Errorf("no fit model for pattern %q", pattern)
}

// oscillationFrequency estimates a dominant frequency by counting zero
// crossings of the mean-subtracted signal.
func oscillationFrequency(xs, ys []float64) float64 {
	mean := stat.Mean(ys, nil)
	crossings := 0
	for i := 1; i < len(ys); i++ {
		if (ys[i-1]-mean)*(ys[i]-mean) < 0 {
			crossings++
		}
	}
	span := xs[len(xs)-1] - xs[0]
	if span <= 0 || crossings == 0 {
		return 1 / math.Max(span, 1e-12)
	}
	return float64(crossings) / (2 * span)
}
