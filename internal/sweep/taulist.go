// Package sweep drives a parameter sweep over tau values: per value it
// uploads a pulse pattern, programs the microwave source, acquires camera
// frames, and accumulates per-value means and standard errors.
package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tau axes are built the way the analysis notebooks expect them, so saved
// x arrays line up bit for bit with numpy-generated ones.

// Arange generates values from start up to but not including stop, stepping
// by step. The count is ceil((stop-start)/step) and each value is computed
// as start+i*step, matching numpy.arange. Returns nil when the range is
// empty or step has the wrong sign.
func Arange(start, stop, step float64) []float64 {
	if step == 0 {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Linspace generates num evenly spaced values from start to stop inclusive.
func Linspace(start, stop float64, num int) []float64 {
	if num <= 0 {
		return nil
	}
	if num == 1 {
		return []float64{start}
	}
	out := make([]float64, num)
	step := (stop - start) / float64(num-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[num-1] = stop
	return out
}

// Logspace generates num logarithmically spaced values from start to stop
// inclusive. Both endpoints must be positive. Used for relaxation sweeps
// where tau spans several decades.
func Logspace(start, stop float64, num int) []float64 {
	if num <= 0 || start <= 0 || stop <= 0 {
		return nil
	}
	exps := Linspace(math.Log10(start), math.Log10(stop), num)
	out := make([]float64, len(exps))
	for i, e := range exps {
		out[i] = math.Pow(10, e)
	}
	out[len(out)-1] = stop
	return out
}

// ParseRange parses a "start:stop:step" string into its three components.
func ParseRange(s string) (start, stop, step float64, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid range format %q: expected start:stop:step", s)
	}
	start, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start value %q: %w", parts[0], err)
	}
	stop, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid stop value %q: %w", parts[1], err)
	}
	step, err = strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}
	if step <= 0 {
		return 0, 0, 0, fmt.Errorf("step must be positive, got %g", step)
	}
	return start, stop, step, nil
}

// ParseList parses a comma-separated list of tau values.
func ParseList(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tau value %q: %w", p, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tau values in %q", s)
	}
	return out, nil
}
